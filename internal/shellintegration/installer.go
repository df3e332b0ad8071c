package shellintegration

import (
	"fmt"
	"os"
	"path/filepath"
)

// Integration is a polymorphic capability for a recognized shell, replacing
// the teacher's string-matched dispatch with an explicit {bash, zsh, none}
// variant selected by shell basename.
type Integration interface {
	// Name identifies the variant, for logging.
	Name() string
	// Script returns the rc-file contents to inject, or "" for none.
	Script() string
	// Args returns the extra argv to pass to the shell binary to make it
	// load Script via a temp rc file at rcPath. env is any additional
	// environment variables the shell needs to find that file.
	Args(rcPath string) (args []string, env []string)
}

// For selects the Integration for the given shell executable path.
func For(shellPath string) Integration {
	switch filepath.Base(shellPath) {
	case "bash":
		return bashIntegration{}
	case "zsh":
		return zshIntegration{}
	default:
		return noneIntegration{}
	}
}

// Installed materializes the rc file (if any) for shell and returns the
// final argv to spawn it with, plus a cleanup function that removes any
// temp files created. cleanup is always non-nil and safe to call even when
// nothing was written. sessionID is embedded in every temp file/dir name
// created, per §6's "rc files live in the OS temp dir under names
// containing the session id".
func Installed(shellPath, sessionID string) (args []string, env []string, cleanup func(), err error) {
	integ := For(shellPath)
	script := integ.Script()
	if script == "" {
		return nil, nil, func() {}, nil
	}

	rcFile, err := os.CreateTemp("", "tabminal-"+sessionID+"-"+integ.Name()+"-rc-*")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("shellintegration: create rc file: %w", err)
	}
	if _, err := rcFile.WriteString(script); err != nil {
		rcFile.Close()
		os.Remove(rcFile.Name())
		return nil, nil, nil, fmt.Errorf("shellintegration: write rc file: %w", err)
	}
	rcFile.Close()
	rcPath := rcFile.Name()

	args, env = integ.Args(rcPath)
	cleanups := []string{rcPath}

	// zsh needs its rc staged as .zshrc inside a dedicated ZDOTDIR, since
	// zsh (unlike bash's --rcfile) has no "use this exact file" flag.
	if zdotdir, ok := zdotdirFor(integ, rcPath, sessionID); ok {
		env = append(env, "ZDOTDIR="+zdotdir)
		cleanups = append(cleanups, zdotdir)
	}

	cleanup = func() {
		for _, p := range cleanups {
			os.RemoveAll(p)
		}
	}
	return args, env, cleanup, nil
}

// zdotdirFor stages rcPath as .zshrc inside a fresh temp directory when
// integ is the zsh variant, returning that directory.
func zdotdirFor(integ Integration, rcPath, sessionID string) (string, bool) {
	if _, ok := integ.(zshIntegration); !ok {
		return "", false
	}
	dir, err := os.MkdirTemp("", "tabminal-"+sessionID+"-zdotdir-*")
	if err != nil {
		return "", false
	}
	content, err := os.ReadFile(rcPath)
	if err != nil {
		os.RemoveAll(dir)
		return "", false
	}
	if err := os.WriteFile(filepath.Join(dir, ".zshrc"), content, 0o600); err != nil {
		os.RemoveAll(dir)
		return "", false
	}
	return dir, true
}
