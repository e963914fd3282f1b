// Package tui implements the first-run configuration wizard (§10.4), shown
// when the process is started with no mode argument and stdout is a
// terminal. Grounded on the teacher's presentation/bubble_tea components
// (Selector's cursor-driven list, TextArea's bubbles wrapping) generalized
// into a single multi-step Bubble Tea program instead of the teacher's
// bufio.Scanner prompt, per §10.4's expansion of main.go's promptForMode.
package tui

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"tunnelcore/domain/mode"
	"tunnelcore/infrastructure/settings"
)

var (
	cursorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	titleStyle  = lipgloss.NewStyle().Bold(true)
	hintStyle   = lipgloss.NewStyle().Faint(true)
)

// Result is what the wizard collects: enough to build either a ClientConfig
// or a ServerConfig (§6).
type Result struct {
	Mode              mode.Mode
	Host              string // client only
	Port              int
	Protocol          settings.Protocol
	SetDefaultGateway bool // client only
}

type step int

const (
	stepMode step = iota
	stepHost
	stepPort
	stepProtocol
	stepGateway
	stepDone
)

// model drives the wizard. Each step either renders a cursor list (mode,
// protocol, gateway) or a bubbles/textinput field (host, port), mirroring
// the teacher's Selector vs TextArea split.
type model struct {
	step   step
	result Result

	listOptions []string
	listCursor  int

	input textinput.Model

	quit bool
}

// Run blocks until the wizard completes or the user quits ("q" or Ctrl+C),
// returning ok=false on quit.
func Run() (Result, bool, error) {
	m := newModel()
	prog := tea.NewProgram(m)
	final, err := prog.Run()
	if err != nil {
		return Result{}, false, err
	}
	fm := final.(model)
	return fm.result, !fm.quit, nil
}

func newModel() model {
	return model{
		step:        stepMode,
		listOptions: []string{"client", "server"},
	}
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, isKey := msg.(tea.KeyMsg)
	if isKey {
		switch keyMsg.String() {
		case "ctrl+c", "q":
			if m.step != stepHost && m.step != stepPort {
				m.quit = true
				return m, tea.Quit
			}
		}
	}

	switch m.step {
	case stepMode, stepProtocol, stepGateway:
		return m.updateList(keyMsg, isKey)
	case stepHost, stepPort:
		return m.updateInput(msg)
	default:
		return m, tea.Quit
	}
}

func (m model) updateList(keyMsg tea.KeyMsg, isKey bool) (tea.Model, tea.Cmd) {
	if !isKey {
		return m, nil
	}
	switch keyMsg.String() {
	case "up", "k":
		if m.listCursor > 0 {
			m.listCursor--
		}
	case "down", "j":
		if m.listCursor < len(m.listOptions)-1 {
			m.listCursor++
		}
	case "enter":
		return m.commitList()
	}
	return m, nil
}

func (m model) commitList() (tea.Model, tea.Cmd) {
	choice := m.listOptions[m.listCursor]
	switch m.step {
	case stepMode:
		parsed, _ := mode.Parse(choice)
		m.result.Mode = parsed
		if parsed == mode.Client {
			m.step = stepHost
			m.input = textinput.New()
			m.input.Placeholder = "server host (e.g. 203.0.113.7)"
			m.input.Focus()
			return m, textinput.Blink
		}
		m.step = stepPort
		m.input = textinput.New()
		m.input.Placeholder = "port (e.g. 9090)"
		m.input.Focus()
		return m, textinput.Blink
	case stepProtocol:
		if choice == "tcp" {
			m.result.Protocol = settings.TCP
		} else {
			m.result.Protocol = settings.UDP
		}
		if m.result.Mode == mode.Client {
			m.step = stepGateway
			m.listOptions = []string{"yes", "no"}
			m.listCursor = 0
			return m, nil
		}
		m.step = stepDone
		return m, tea.Quit
	case stepGateway:
		m.result.SetDefaultGateway = choice == "yes"
		m.step = stepDone
		return m, tea.Quit
	}
	return m, nil
}

func (m model) updateInput(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok && keyMsg.String() == "enter" {
		value := m.input.Value()
		switch m.step {
		case stepHost:
			m.result.Host = value
			m.step = stepPort
			m.input = textinput.New()
			m.input.Placeholder = "port (e.g. 9090)"
			m.input.Focus()
			return m, textinput.Blink
		case stepPort:
			port, err := strconv.Atoi(value)
			if err != nil || port <= 0 || port > 65535 {
				m.input.SetValue("")
				m.input.Placeholder = "invalid port, try again (e.g. 9090)"
				return m, nil
			}
			m.result.Port = port
			m.step = stepProtocol
			m.listOptions = []string{"udp", "tcp"}
			m.listCursor = 0
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) View() string {
	switch m.step {
	case stepMode, stepProtocol, stepGateway:
		return m.viewList()
	case stepHost, stepPort:
		return fmt.Sprintf("%s\n\n%s\n", titleStyle.Render(m.stepTitle()), m.input.View())
	default:
		return ""
	}
}

func (m model) stepTitle() string {
	switch m.step {
	case stepMode:
		return "select mode"
	case stepHost:
		return "server host"
	case stepPort:
		return "port"
	case stepProtocol:
		return "transport protocol"
	case stepGateway:
		return "divert default route through the tunnel?"
	default:
		return ""
	}
}

func (m model) viewList() string {
	out := titleStyle.Render(m.stepTitle()) + "\n\n"
	for i, opt := range m.listOptions {
		line := fmt.Sprintf("  %s", opt)
		if i == m.listCursor {
			line = cursorStyle.Render(fmt.Sprintf("> %s", opt))
		}
		out += line + "\n"
	}
	out += "\n" + hintStyle.Render("enter to select, q to quit") + "\n"
	return out
}
