package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/js-bridge/bridge"
	"github.com/wippyai/js-bridge/dispatch"
	"github.com/wippyai/js-bridge/value"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	targetStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD700"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type interactiveModel struct {
	ctx      context.Context
	err      error
	b        *bridge.Bridge
	result   string
	funcs    []*dispatch.Signature
	inputs   []textinput.Model
	selected int
	focusIdx int
	state    modelState
}

type modelState int

const (
	stateSelectFunc modelState = iota
	stateInputArgs
	stateShowResult
)

func newInteractiveModel(ctx context.Context, b *bridge.Bridge) *interactiveModel {
	return &interactiveModel{
		ctx:   ctx,
		b:     b,
		funcs: b.Signatures(),
		state: stateSelectFunc,
	}
}

type callResultMsg struct {
	err    error
	result string
}

func (m *interactiveModel) Init() tea.Cmd {
	return nil
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case callResultMsg:
		m.result, m.err = msg.result, msg.err
		m.state = stateShowResult
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		switch m.state {
		case stateSelectFunc:
			return m, m.selectKey(msg)
		case stateInputArgs:
			return m, m.inputKey(msg)
		case stateShowResult:
			return m, m.resultKey(msg)
		}
	}
	return m, nil
}

// selectKey moves through the declared functions and starts a call.
func (m *interactiveModel) selectKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "q":
		return tea.Quit
	case "up", "k":
		m.selected = max(m.selected-1, 0)
	case "down", "j":
		m.selected = min(m.selected+1, max(len(m.funcs)-1, 0))
	case "enter":
		if len(m.funcs) == 0 {
			return nil
		}
		m.prepareInputs()
		if len(m.inputs) == 0 {
			return m.callFunction
		}
		m.state = stateInputArgs
	}
	return nil
}

// inputKey edits the argument fields. Keys not bound here go to the focused
// field, so q and j are ordinary text.
func (m *interactiveModel) inputKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.Type {
	case tea.KeyEnter:
		return m.callFunction
	case tea.KeyEsc:
		m.state = stateSelectFunc
		m.inputs = nil
		return nil
	case tea.KeyTab:
		if len(m.inputs) > 1 {
			m.inputs[m.focusIdx].Blur()
			m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
			return m.inputs[m.focusIdx].Focus()
		}
		return nil
	}
	var cmd tea.Cmd
	m.inputs[m.focusIdx], cmd = m.inputs[m.focusIdx].Update(msg)
	return cmd
}

func (m *interactiveModel) resultKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "q":
		return tea.Quit
	case "enter", "esc":
		m.state = stateSelectFunc
		m.result = ""
		m.err = nil
	}
	return nil
}

func (m *interactiveModel) prepareInputs() {
	sig := m.funcs[m.selected]
	m.inputs = make([]textinput.Model, len(sig.Params))
	for i, p := range sig.Params {
		ti := textinput.New()
		ti.Placeholder = p.String()
		ti.Prompt = argLabel(i) + ": "
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func (m *interactiveModel) callFunction() tea.Msg {
	sig := m.funcs[m.selected]
	args := make([]value.Value, len(m.inputs))
	for i, input := range m.inputs {
		v, err := parseArg(input.Value(), sig.Param(i))
		if err != nil {
			return callResultMsg{err: fmt.Errorf("%s: %w", argLabel(i), err)}
		}
		args[i] = v
	}

	result, err := callAndAwait(m.ctx, m.b, sig, args)
	if err != nil {
		return callResultMsg{err: err}
	}
	if result.IsAbsent() {
		return callResultMsg{result: "(no result)"}
	}
	return callResultMsg{result: result.String()}
}

func (m *interactiveModel) View() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n\n", titleStyle.Render("JS Bridge"), m.b.ID())

	if len(m.funcs) == 0 {
		b.WriteString("No functions declared. Pass -decl or load a .wasm module.\n\n")
		b.WriteString(helpStyle.Render("q quit"))
		return b.String()
	}

	switch m.state {
	case stateSelectFunc:
		m.viewSelect(&b)
	case stateInputArgs:
		m.viewInputs(&b)
	case stateShowResult:
		m.viewResult(&b)
	}
	return b.String()
}

func (m *interactiveModel) viewSelect(b *strings.Builder) {
	b.WriteString("Select a function to call:\n\n")
	for i, f := range m.funcs {
		line := "  " + formatFunc(f)
		if i == m.selected {
			line = selectedStyle.Render("> " + formatFunc(f))
		}
		fmt.Fprintln(b, line)
	}
	fmt.Fprintf(b, "\n%s", helpStyle.Render("↑/↓ select • enter call • q quit"))
}

func (m *interactiveModel) viewInputs(b *strings.Builder) {
	sig := m.funcs[m.selected]
	fmt.Fprintf(b, "Calling %s\n\n", funcStyle.Render(sig.Key()))
	for i, input := range m.inputs {
		fmt.Fprintf(b, "%s %s\n", input.View(), typeStyle.Render(sig.Params[i].String()))
	}
	fmt.Fprintf(b, "\n%s", helpStyle.Render("tab next field • enter call • esc back"))
}

func (m *interactiveModel) viewResult(b *strings.Builder) {
	sig := m.funcs[m.selected]
	fmt.Fprintf(b, "Result of %s:\n\n", funcStyle.Render(sig.Key()))
	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	} else {
		b.WriteString(resultStyle.Render(m.result))
	}
	fmt.Fprintf(b, "\n\n%s", helpStyle.Render("enter continue • q quit"))
}

func formatFunc(sig *dispatch.Signature) string {
	params := make([]string, len(sig.Params))
	for i, p := range sig.Params {
		t := p.String()
		if sig.Variadic && i == len(sig.Params)-1 {
			t = "..." + t
		}
		params[i] = argLabel(i) + ": " + typeStyle.Render(t)
	}
	result := ""
	if sig.Result.Kind != value.KindVoid {
		result = " -> " + typeStyle.Render(sig.Result.String())
	}
	return targetStyle.Render(sig.Target.String()) + " " +
		funcStyle.Render(sig.Module+"."+sig.Name) + "(" + strings.Join(params, ", ") + ")" + result
}

func argLabel(i int) string { return fmt.Sprintf("arg%d", i) }

func runInteractive(ctx context.Context, b *bridge.Bridge) error {
	p := tea.NewProgram(newInteractiveModel(ctx, b), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
