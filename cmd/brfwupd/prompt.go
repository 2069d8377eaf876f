package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nmasdoufi/brfwupd/pkg/discovery"
)

// prompter asks the user on a terminal. One buffered reader is shared by
// every prompt so that piped answers are not lost between questions.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out}
}

func (p *prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// confirm defaults to yes on an empty answer and to no when input ends.
func (p *prompter) confirm(question string) bool {
	fmt.Fprintf(p.out, "%s [Y/n] ", question)
	line, err := p.readLine()
	if err != nil {
		fmt.Fprintln(p.out)
		return false
	}
	switch strings.ToLower(line) {
	case "", "y", "yes":
		return true
	}
	return false
}

// selectCandidate lists the candidates and reads the chosen number. A single
// candidate is chosen without asking.
func (p *prompter) selectCandidate(candidates []discovery.Candidate) (discovery.Candidate, error) {
	switch len(candidates) {
	case 0:
		return discovery.Candidate{}, fmt.Errorf("no printer found, pass --ip")
	case 1:
		fmt.Fprintf(p.out, "using %s\n", candidates[0].Label())
		return candidates[0], nil
	}
	for i, c := range candidates {
		fmt.Fprintf(p.out, "[%d] %s\n", i+1, c.Label())
	}
	fmt.Fprintf(p.out, "Select a printer [1-%d]: ", len(candidates))
	line, err := p.readLine()
	if err != nil {
		return discovery.Candidate{}, fmt.Errorf("read selection: %w", err)
	}
	n, err := strconv.Atoi(line)
	if err != nil || n < 1 || n > len(candidates) {
		return discovery.Candidate{}, fmt.Errorf("invalid selection %q", line)
	}
	return candidates[n-1], nil
}
