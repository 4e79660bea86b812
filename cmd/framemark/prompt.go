package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// promptConfirmer asks on a terminal. Enter and end of input mean no.
type promptConfirmer struct {
	in  *bufio.Reader
	out io.Writer
}

func newPromptConfirmer(in io.Reader, out io.Writer) *promptConfirmer {
	return &promptConfirmer{in: bufio.NewReader(in), out: out}
}

func (p *promptConfirmer) Confirm(prompt string) (bool, error) {
	for {
		fmt.Fprintf(p.out, "%s [y/N]: ", prompt)
		line, err := p.in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, err
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		case "n", "no", "":
			return false, nil
		}
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		fmt.Fprintln(p.out, "Please answer y or n.")
	}
}
