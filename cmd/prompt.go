package cmd

import (
	"errors"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
)

// interactive reports whether prompts can be shown.
func interactive() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func required(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errors.New(field + " is required")
		}
		return nil
	}
}

// askString prompts for a value, keeping def when the user just hits enter.
// Without a terminal def is returned unchanged.
func askString(title, def string, validate func(string) error) (string, error) {
	if !interactive() {
		return def, nil
	}
	val := def
	in := huh.NewInput().Title(title).Value(&val)
	if validate != nil {
		in = in.Validate(validate)
	}
	if err := in.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(val), nil
}

// confirm asks a yes/no question. Without a terminal def is returned.
func confirm(title string, def bool) (bool, error) {
	if !interactive() {
		return def, nil
	}
	ok := def
	if err := huh.NewConfirm().Title(title).Affirmative("Yes").Negative("No").Value(&ok).Run(); err != nil {
		return false, err
	}
	return ok, nil
}

// choose asks the user to pick one of options. Without a terminal the
// first option is returned.
func choose(title string, options []string, labels map[string]string) (string, error) {
	if len(options) == 0 {
		return "", errors.New("nothing to choose from")
	}
	if !interactive() || len(options) == 1 {
		return options[0], nil
	}
	opts := make([]huh.Option[string], 0, len(options))
	for _, o := range options {
		label := o
		if l, ok := labels[o]; ok {
			label = l
		}
		opts = append(opts, huh.NewOption(label, o))
	}
	choice := options[0]
	if err := huh.NewSelect[string]().Title(title).Options(opts...).Value(&choice).Run(); err != nil {
		return "", err
	}
	return choice, nil
}
