// Package confirm asks the operator before destructive work. Every
// implementation defaults to "no".
package confirm

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
)

// Confirmer answers a yes/no question.
type Confirmer interface {
	Confirm(prompt string) (bool, error)
}

// Always confirms without asking (--force).
type Always struct{}

func (Always) Confirm(string) (bool, error) { return true, nil }

// Never declines without asking.
type Never struct{}

func (Never) Confirm(string) (bool, error) { return false, nil }

// Terminal prompts on In/Out. On a TTY it runs an interactive y/N prompt,
// otherwise it reads a single line.
type Terminal struct {
	In  io.Reader
	Out io.Writer
}

// Stdio returns a Terminal on the process's stdin and stderr.
func Stdio() *Terminal {
	return &Terminal{In: os.Stdin, Out: os.Stderr}
}

func (t *Terminal) Confirm(prompt string) (bool, error) {
	if isTerminal(t.In) {
		return t.interactive(prompt)
	}
	return t.line(prompt)
}

// line accepts "y" or "yes" in any case. Anything else, EOF included, is no.
func (t *Terminal) line(prompt string) (bool, error) {
	fmt.Fprintf(t.Out, "%s [y/N] ", prompt)

	answer, err := bufio.NewReader(t.In).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func (t *Terminal) interactive(prompt string) (bool, error) {
	p := tea.NewProgram(confirmModel{prompt: prompt}, tea.WithInput(t.In), tea.WithOutput(t.Out))
	final, err := p.Run()
	if err != nil {
		return false, err
	}
	m := final.(confirmModel)
	return m.confirmed && !m.cancelled, nil
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type confirmModel struct {
	prompt    string
	confirmed bool
	done      bool
	cancelled bool
}

func (m confirmModel) Init() tea.Cmd {
	return nil
}

func (m confirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "y", "Y":
		m.confirmed = true
		m.done = true
		return m, tea.Quit
	case "n", "N", "enter":
		m.done = true
		return m, tea.Quit
	case "ctrl+c", "q", "esc":
		m.cancelled = true
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m confirmModel) View() string {
	if m.done {
		return ""
	}
	return fmt.Sprintf("%s [y/N] ", m.prompt)
}
