// Package secret resolves operator secrets for the command line tools.
package secret

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source returns a secret from, in order, a configured value, an environment
// variable or an interactive prompt. The first result is cached.
type Source struct {
	label      string
	configured string
	envVar     string

	// prompt is replaced in tests.
	prompt func(label string) (string, error)

	once  sync.Once
	value string
	err   error
}

func NewSource(label, configured, envVar string) *Source {
	return &Source{
		label:      strings.TrimSpace(label),
		configured: configured,
		envVar:     strings.TrimSpace(envVar),
		prompt:     promptTerminal(os.Stdin, os.Stderr),
	}
}

func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if strings.TrimSpace(s.configured) != "" {
			s.value = strings.TrimSpace(s.configured)
			return
		}
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
		value, err := s.prompt(s.label)
		if err != nil {
			s.err = err
			return
		}
		if strings.TrimSpace(value) == "" {
			s.err = fmt.Errorf("%s cannot be empty", s.label)
			return
		}
		s.value = strings.TrimSpace(value)
	})
	return s.value, s.err
}

func promptTerminal(in *os.File, out io.Writer) func(string) (string, error) {
	return func(label string) (string, error) {
		if !term.IsTerminal(int(in.Fd())) {
			return "", errors.New(label + " required and no terminal available")
		}
		fmt.Fprintf(out, "Enter %s: ", label)
		raw, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", label, err)
		}
		return string(raw), nil
	}
}
