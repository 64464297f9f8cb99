package acp

import (
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
)

// TTYPrompter implements tools.UserPrompter by asking a human on the
// controlling terminal, backing the `interactive` permission mode. It
// reuses a single readline.Instance across prompts the way
// internal/repl keeps one instance for the life of the session.
type TTYPrompter struct {
	rl *readline.Instance
}

// NewTTYPrompter opens a readline instance against the controlling
// terminal. Returns an error if there is no TTY to prompt on.
func NewTTYPrompter() (*TTYPrompter, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "permission> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "deny",
	})
	if err != nil {
		return nil, fmt.Errorf("opening readline for permission prompts: %w", err)
	}
	return &TTYPrompter{rl: rl}, nil
}

// Prompt asks the human to allow or deny operation, returning (false, err)
// on interrupt, EOF, or any other readline failure so the caller treats it
// as a deny.
func (p *TTYPrompter) Prompt(operation string) (bool, error) {
	p.rl.SetPrompt(fmt.Sprintf("allow %q? [y/N] ", operation))
	line, err := p.rl.Readline()
	if err != nil {
		if err == readline.ErrInterrupt || err == io.EOF {
			return false, err
		}
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// Close releases the underlying readline instance.
func (p *TTYPrompter) Close() error {
	return p.rl.Close()
}
