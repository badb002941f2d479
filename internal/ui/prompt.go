package ui

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrInvalidChoice is returned when a menu answer names no option.
var ErrInvalidChoice = errors.New("invalid")

// Prompter reads line-oriented answers from the user.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewPrompter creates a Prompter reading from in and prompting on out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out}
}

// Ask prints label and returns the trimmed line typed in reply. A final
// line without a newline is accepted; EOF with no input is an error.
func (p *Prompter) Ask(label string) (string, error) {
	fmt.Fprint(p.out, label)
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// Choose prints a numbered menu and returns the zero-based index picked.
func (p *Prompter) Choose(label string, options []string) (int, error) {
	for i, opt := range options {
		fmt.Fprintf(p.out, "  (%d) %s\n", i+1, opt)
	}
	answer, err := p.Ask(label)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(answer)
	if err != nil || n < 1 || n > len(options) {
		return 0, ErrInvalidChoice
	}
	return n - 1, nil
}
