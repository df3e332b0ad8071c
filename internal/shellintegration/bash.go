package shellintegration

import "fmt"

// bashIntegration injects tabminal's hooks via the DEBUG trap (pre-exec)
// and PROMPT_COMMAND (post-exec / pre-prompt), per spec §4.2.
type bashIntegration struct{}

func (bashIntegration) Name() string { return "bash" }

func (bashIntegration) Args(rcPath string) ([]string, []string) {
	// --rcfile replaces the normal ~/.bashrc lookup; our script sources
	// the user's ~/.bashrc itself so customizations still apply.
	return []string{"--rcfile", rcPath}, nil
}

func (bashIntegration) Script() string {
	return fmt.Sprintf(bashScriptTemplate, ExitBodyPrefix, PromptBody, CommandB64Prefix)
}

const bashScriptTemplate = `# tabminal shell integration (bash)
[[ -f ~/.bashrc ]] && source ~/.bashrc

__tabminal_cmd=""
__tabminal_started=0

# Pre-exec: fires via the DEBUG trap before every simple command. Guarded
# so a pipeline of several commands only emits one start, and so our own
# PROMPT_COMMAND invocation never re-enters.
__tabminal_preexec() {
  [[ "$BASH_COMMAND" == __tabminal_* ]] && return
  [[ "$__tabminal_started" == "1" ]] && return
  __tabminal_started=1
  __tabminal_cmd="$BASH_COMMAND"
}
trap '__tabminal_preexec' DEBUG

# Post-exec / pre-prompt: fires from PROMPT_COMMAND right before bash
# redraws the prompt. Captures $? first so nothing else can clobber it.
__tabminal_precmd() {
  local __tm_exit=$?
  if [[ "$__tabminal_started" == "1" ]]; then
    local __tm_b64
    __tm_b64=$(printf '%%s' "$__tabminal_cmd" | base64 | tr -d '\n')
    printf '\e]1337;%[1]s%%d;%[3]s%%s\a' "$__tm_exit" "$__tm_b64"
    __tabminal_started=0
    __tabminal_cmd=""
  fi
  printf '\e]7;file://%%s%%s\e\\' "$(hostname 2>/dev/null)" "$PWD"
}
case "$PROMPT_COMMAND" in
  *__tabminal_precmd*) ;;
  *) PROMPT_COMMAND="__tabminal_precmd${PROMPT_COMMAND:+;$PROMPT_COMMAND}" ;;
esac

# Prompt marker: appended to the end of PS1 itself so it is emitted exactly
# once the prompt has finished rendering. Guarded by substring check so
# re-sourcing this file never double-appends it.
case "$PS1" in
  *'\[\e]1337;%[2]s\a\]'*) ;;
  *) PS1="${PS1}\[\e]1337;%[2]s\a\]" ;;
esac
`
