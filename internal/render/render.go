// Package render shows script output on the terminal. Persisted lines are
// printed as they arrive; progress markers drive a single status line that is
// redrawn in place on a TTY and dropped elsewhere.
package render

import (
	"fmt"
	"io"
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Renderer receives the output of one run.
type Renderer interface {
	Line(line string)
	Progress(text string)
	Close() error
}

// New picks a live renderer when out is a terminal, a plain one otherwise.
func New(out *os.File) Renderer {
	if out == nil {
		return NewPlain(nil)
	}
	if term.IsTerminal(int(out.Fd())) {
		return NewLive(out)
	}
	return NewPlain(out)
}

// Plain writes lines verbatim and ignores progress.
type Plain struct {
	w io.Writer
}

func NewPlain(w io.Writer) *Plain {
	return &Plain{w: w}
}

func (p *Plain) Line(line string) {
	if p.w != nil {
		fmt.Fprintln(p.w, line)
	}
}

func (p *Plain) Progress(string) {}

func (p *Plain) Close() error { return nil }

var (
	progressLabel = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	progressValue = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
)

type (
	progressMsg string
	clearMsg    struct{}
	closeMsg    struct{}
)

// model holds the current progress text; lines are printed above it.
type model struct {
	progress string
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case progressMsg:
		m.progress = string(msg)
	case clearMsg:
		m.progress = ""
	case closeMsg:
		m.progress = ""
		return m, tea.Quit
	}
	return m, nil
}

func (m model) View() string {
	if m.progress == "" {
		return ""
	}
	return progressLabel.Render("    ⏱  Progress: ") + progressValue.Render(m.progress)
}

// Live renders through a bubbletea program. Input is not read and signals
// are left to the caller.
type Live struct {
	program *tea.Program
	done    chan struct{}
	err     error
	once    sync.Once
}

func NewLive(out io.Writer) *Live {
	l := &Live{done: make(chan struct{})}
	l.program = tea.NewProgram(model{},
		tea.WithOutput(out),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)
	go func() {
		defer close(l.done)
		_, l.err = l.program.Run()
	}()
	return l
}

// Line clears the progress line and prints line above the view.
func (l *Live) Line(line string) {
	l.program.Send(clearMsg{})
	l.program.Println(line)
}

func (l *Live) Progress(text string) {
	l.program.Send(progressMsg(text))
}

// Close removes the progress line and waits for pending output.
func (l *Live) Close() error {
	l.once.Do(func() {
		l.program.Send(closeMsg{})
		<-l.done
	})
	return l.err
}
