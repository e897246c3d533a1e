package cmd

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// resolvePin returns the flag value when set, otherwise prompts on the
// terminal without echo.
func resolvePin(flagValue, prompt string) ([]byte, error) {
	if flagValue != "" {
		return []byte(flagValue), nil
	}
	fmt.Fprint(os.Stderr, prompt)
	pin, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to read pin: %w", err)
	}
	return pin, nil
}
