// Package token resolves API bearer tokens for command line tools.
package token

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves a bearer token from an environment variable or by
// prompting on the terminal. The first result is cached.
type Source struct {
	envVar string
	prompt func() (string, error)

	once  sync.Once
	value string
	err   error
}

// NewSource checks envVar before prompting on stderr.
func NewSource(envVar string) *Source {
	return &Source{envVar: strings.TrimSpace(envVar), prompt: promptTerminal}
}

// Lookup returns the token from the environment without prompting.
func (s *Source) Lookup() (string, bool) {
	if s.envVar == "" {
		return "", false
	}
	value, ok := os.LookupEnv(s.envVar)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

// Get returns the token, prompting when the environment does not carry it.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := os.LookupEnv(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = strings.TrimSpace(value)
				return
			}
		}
		value, err := s.prompt()
		if err != nil {
			if s.envVar != "" {
				s.err = fmt.Errorf("api token required; set %s or run interactively: %w", s.envVar, err)
			} else {
				s.err = err
			}
			return
		}
		value = strings.TrimSpace(value)
		if value == "" {
			s.err = errors.New("api token cannot be empty")
			return
		}
		s.value = value
	})
	return s.value, s.err
}

func promptTerminal() (string, error) {
	return readSecret(os.Stdin, os.Stderr)
}

func readSecret(in *os.File, out io.Writer) (string, error) {
	if !term.IsTerminal(int(in.Fd())) {
		return "", errors.New("no terminal available")
	}
	fmt.Fprint(out, "Enter API token: ")
	raw, err := term.ReadPassword(int(in.Fd()))
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return string(raw), nil
}
