package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/enkrypt/steam-redeemer/pkg/humble"
	"github.com/enkrypt/steam-redeemer/pkg/steam"
)

// terminalPrompter reads credentials from the controlling terminal.
// Secrets go through term.ReadPassword so they never echo.
type terminalPrompter struct {
	in *bufio.Reader
}

var _ humble.Prompter = (*terminalPrompter)(nil)
var _ steam.Prompter = (*terminalPrompter)(nil)

func newTerminalPrompter() *terminalPrompter {
	return &terminalPrompter{in: bufio.NewReader(os.Stdin)}
}

func (p *terminalPrompter) Ask(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	line, err := p.in.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (p *terminalPrompter) AskSecret(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return string(secret), nil
}

// confirm asks a yes/no question. Anything but an explicit yes is a no.
func (p *terminalPrompter) confirm(question string) bool {
	answer, err := p.Ask(question + " [y/N]")
	if err != nil {
		return false
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes"
}
