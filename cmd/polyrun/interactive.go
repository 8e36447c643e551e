package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/polyglot-runtime/polyglot"
	"github.com/wippyai/polyglot-runtime/schema"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	fieldStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type formState int

const (
	stateEdit formState = iota
	stateRunning
	stateResult
)

type runFunc func(context.Context, *schema.Record) (string, error)

// formModel edits the scalar and enum fields of a context record and runs
// the function on submit.
type formModel struct {
	err      error
	rec      *schema.Record
	run      runFunc
	filename string
	result   string
	fields   []*schema.FieldDef
	inputs   []textinput.Model
	focusIdx int
	state    formState
}

type runResultMsg struct {
	err    error
	result string
}

func newFormModel(filename string, rec *schema.Record, run runFunc) *formModel {
	m := &formModel{filename: filename, rec: rec, run: run}
	for _, f := range rec.Model().Fields {
		if editable(f) {
			m.fields = append(m.fields, f)
		}
	}
	m.resetInputs()
	return m
}

func editable(f *schema.FieldDef) bool {
	return f.Kind.IsScalar()
}

// resetInputs fills the inputs from the record's current values.
func (m *formModel) resetInputs() {
	view := m.rec.Map()
	m.inputs = make([]textinput.Model, len(m.fields))
	for i, f := range m.fields {
		ti := textinput.New()
		ti.Prompt = f.Name + ": "
		ti.Placeholder = fieldType(f)
		ti.Width = 40
		if v, ok := view.Get(f.Name); ok {
			ti.SetValue(valueText(v))
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
	if len(m.inputs) > 0 {
		m.inputs[0].Focus()
	}
}

func valueText(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

func fieldType(f *schema.FieldDef) string {
	if f.Kind == polyglot.EnumKind {
		return f.Enum
	}
	return f.Kind.String()
}

func (m *formModel) Init() tea.Cmd {
	return textinput.Blink
}

// apply stores the inputs into the record, stopping at the first invalid
// value.
func (m *formModel) apply() error {
	for i, f := range m.fields {
		var v any = m.inputs[i].Value()
		if v == "" && f.Optional {
			v = nil
		}
		if err := m.rec.Set(f.Name, v); err != nil {
			return err
		}
	}
	return nil
}

func (m *formModel) submit() tea.Msg {
	out, err := m.run(context.Background(), m.rec)
	return runResultMsg{result: out, err: err}
}

func (m *formModel) focus(delta int) {
	if len(m.inputs) < 2 {
		return
	}
	m.inputs[m.focusIdx].Blur()
	m.focusIdx = (m.focusIdx + delta + len(m.inputs)) % len(m.inputs)
	m.inputs[m.focusIdx].Focus()
}

func (m *formModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		}

		switch m.state {
		case stateEdit:
			switch msg.String() {
			case "esc":
				return m, tea.Quit
			case "tab", "down":
				m.focus(1)
				return m, nil
			case "shift+tab", "up":
				m.focus(-1)
				return m, nil
			case "enter":
				if err := m.apply(); err != nil {
					m.err = err
					return m, nil
				}
				m.err = nil
				m.state = stateRunning
				return m, m.submit
			}

		case stateResult:
			switch msg.String() {
			case "q", "esc":
				return m, tea.Quit
			case "enter":
				m.state = stateEdit
				m.err = nil
				m.resetInputs()
			}
			return m, nil

		case stateRunning:
			return m, nil
		}

	case runResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateResult
		return m, nil
	}

	if m.state == stateEdit && len(m.inputs) > 0 {
		var cmd tea.Cmd
		m.inputs[m.focusIdx], cmd = m.inputs[m.focusIdx].Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *formModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("polyrun"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n\n")

	switch m.state {
	case stateEdit:
		fmt.Fprintf(&b, "Context %s\n\n", fieldStyle.Render(m.rec.Model().Name))
		if len(m.inputs) == 0 {
			b.WriteString("(no editable fields)\n")
		}
		for i, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString(" ")
			b.WriteString(typeStyle.Render(fieldType(m.fields[i])))
			b.WriteString("\n")
		}
		if m.err != nil {
			b.WriteString("\n")
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab/↓ next field • shift+tab/↑ previous • enter run • esc quit"))

	case stateRunning:
		b.WriteString("Running...\n")

	case stateResult:
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter edit again • q quit"))
	}

	return b.String()
}

// runInteractive runs the form and prints the last result once the
// terminal is restored.
func runInteractive(filename string, rec *schema.Record, rn *runner) error {
	p := tea.NewProgram(newFormModel(filename, rec, rn.run), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return err
	}
	m := final.(*formModel)
	if m.state != stateResult {
		return nil
	}
	if m.err != nil {
		return m.err
	}
	_, err = fmt.Fprintln(os.Stdout, m.result)
	return err
}
