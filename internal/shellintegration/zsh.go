package shellintegration

import "fmt"

// zshIntegration injects tabminal's hooks via preexec_functions (pre-exec)
// and precmd_functions (post-exec / pre-prompt), per spec §4.2.
type zshIntegration struct{}

func (zshIntegration) Name() string { return "zsh" }

func (zshIntegration) Args(rcPath string) ([]string, []string) {
	// The rc file is staged as .zshrc inside a dedicated ZDOTDIR by
	// Installed; zsh -i picks it up on its own.
	return []string{"-i"}, nil
}

func (zshIntegration) Script() string {
	return fmt.Sprintf(zshScriptTemplate, ExitBodyPrefix, PromptBody, CommandB64Prefix)
}

const zshScriptTemplate = `# tabminal shell integration (zsh)
[[ -f ~/.zshrc ]] && source ~/.zshrc

__tabminal_cmd=""
__tabminal_started=0

__tabminal_preexec() {
  __tabminal_started=1
  __tabminal_cmd="$1"
}

__tabminal_precmd() {
  local __tm_exit=$?
  if [[ "$__tabminal_started" == "1" ]]; then
    local __tm_b64
    __tm_b64=$(printf '%%s' "$__tabminal_cmd" | base64 | tr -d '\n')
    printf '\e]1337;%[1]s%%d;%[3]s%%s\a' "$__tm_exit" "$__tm_b64"
    __tabminal_started=0
    __tabminal_cmd=""
  fi
  printf '\e]7;file://%%s%%s\e\\' "${HOST:-$(hostname 2>/dev/null)}" "$PWD"
}

autoload -Uz add-zsh-hook
add-zsh-hook preexec __tabminal_preexec
add-zsh-hook precmd  __tabminal_precmd

case "$PROMPT" in
  *'%%{'$'\e'']1337;%[2]s'$'\a''%%}'*) ;;
  *) PROMPT="${PROMPT}%%{"$'\e'"]1337;%[2]s"$'\a'"%%}" ;;
esac
`
