package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrNoPassphrase is returned when no wrap passphrase source yields a value.
var ErrNoPassphrase = errors.New("wrap passphrase is required (use --passphrase-file, $" + DefaultPassphraseEnv + " or a terminal prompt)")

// PassphraseSource describes where the wrap passphrase may come from, in
// order of precedence: file, environment variable, interactive prompt.
type PassphraseSource struct {
	File   string
	Env    string
	Prompt bool

	// Stdin and Stderr are used for the prompt; they default to os.Stdin
	// and os.Stderr.
	Stdin  *os.File
	Stderr io.Writer
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// ResolvePassphrase returns the wrap passphrase. There is no built-in default.
func ResolvePassphrase(src PassphraseSource) (string, error) {
	if src.File != "" {
		data, err := os.ReadFile(src.File)
		if err != nil {
			return "", fmt.Errorf("reading passphrase file: %w", err)
		}
		p := strings.TrimRight(string(data), "\r\n")
		if p == "" {
			return "", fmt.Errorf("passphrase file %s is empty", src.File)
		}
		return p, nil
	}

	getenv := src.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	env := src.Env
	if env == "" {
		env = DefaultPassphraseEnv
	}
	if p := getenv(env); p != "" {
		return p, nil
	}

	if !src.Prompt {
		return "", ErrNoPassphrase
	}
	stdin := src.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stderr := src.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	if !term.IsTerminal(int(stdin.Fd())) {
		return "", ErrNoPassphrase
	}

	fmt.Fprint(stderr, "Enter wrap passphrase: ")
	b, err := term.ReadPassword(int(stdin.Fd()))
	fmt.Fprintln(stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if len(b) == 0 {
		return "", ErrNoPassphrase
	}
	return string(b), nil
}
