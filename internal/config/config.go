package config

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// ClientSecret resolves the OAuth client secret.
// Precedence: the configured value, then GITHUB_CLIENT_SECRET, then an
// interactive prompt when stdin is a terminal.
func ClientSecret(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if secret := os.Getenv("GITHUB_CLIENT_SECRET"); secret != "" {
		return secret, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("github client secret not configured and stdin is not a terminal")
	}

	// Prompt user for the secret (hidden input)
	fmt.Fprint(os.Stderr, "Enter GitHub OAuth client secret: ")
	secretBytes, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read client secret: %w", err)
	}

	secret := strings.TrimSpace(string(secretBytes))
	if secret == "" {
		return "", fmt.Errorf("client secret cannot be empty")
	}
	return secret, nil
}
