package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/thruflo/devloop/internal/config"
)

// ErrCancelled is returned when the operator declines to start a session.
var ErrCancelled = errors.New("development session cancelled")

// prompter asks questions on out and reads one answer per line from in.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out}
}

// ask prints question and returns the trimmed answer.
func (p *prompter) ask(question string) (string, error) {
	fmt.Fprint(p.out, question)
	line, err := p.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimSpace(line), nil
		}
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("failed to read input: %w", io.ErrUnexpectedEOF)
		}
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// askPositiveInt asks until the answer is blank (def is kept) or a positive
// whole number.
func (p *prompter) askPositiveInt(question string, def int) (int, error) {
	for {
		answer, err := p.ask(fmt.Sprintf("%s (default: %d): ", question, def))
		if err != nil {
			return 0, err
		}
		if answer == "" {
			return def, nil
		}
		n, err := strconv.Atoi(answer)
		if err == nil && n > 0 {
			return n, nil
		}
		fmt.Fprintf(p.out, "Please enter a positive whole number.\n")
	}
}

// confirm asks a yes/no question that defaults to no.
func (p *prompter) confirm(question string) (bool, error) {
	answer, err := p.ask(question + " (y/N): ")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// promptSessionSettings asks for the session budgets, prints the resulting
// configuration and asks for confirmation. It returns ErrCancelled when the
// operator declines.
func promptSessionSettings(p *prompter, s config.SessionSettings) (config.SessionSettings, error) {
	fmt.Fprintln(p.out, "Development Session Configuration")
	fmt.Fprintln(p.out, "=================================")

	var err error
	if s.DurationMinutes, err = p.askPositiveInt("How long should this development session run? (in minutes)", s.DurationMinutes); err != nil {
		return s, err
	}
	if s.MaxIterations, err = p.askPositiveInt("Maximum number of development iterations?", s.MaxIterations); err != nil {
		return s, err
	}
	if s.CommitFrequency, err = p.askPositiveInt("Commit changes every X iterations?", s.CommitFrequency); err != nil {
		return s, err
	}
	if s.IterationDelayMinutes, err = p.askPositiveInt("Minutes to wait between iterations?", s.IterationDelayMinutes); err != nil {
		return s, err
	}

	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, "Session Configuration:")
	fmt.Fprintf(p.out, "  Duration: %d minutes\n", s.DurationMinutes)
	fmt.Fprintf(p.out, "  Max iterations: %d\n", s.MaxIterations)
	fmt.Fprintf(p.out, "  Commit frequency: every %d iterations\n", s.CommitFrequency)
	fmt.Fprintf(p.out, "  Iteration delay: %d minutes\n", s.IterationDelayMinutes)
	fmt.Fprintln(p.out)

	ok, err := p.confirm("Start development session?")
	if err != nil {
		return s, err
	}
	if !ok {
		return s, ErrCancelled
	}
	return s, nil
}
