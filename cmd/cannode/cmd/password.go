package cmd

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"
)

const passwordEnv = "CANNODE_PASSWORD"

// getPassword retrieves the websocket password from the environment or
// prompts for it on the controlling terminal.
func getPassword() (string, error) {
	if pw := os.Getenv(passwordEnv); pw != "" {
		return pw, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal to prompt for a password, set " + passwordEnv)
	}
	fmt.Fprint(os.Stderr, "Password: ")
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(pw), nil
}
