// Package console is the operator terminal UI. It owns focus, blur, save
// and refresh; everything else it shows comes from published session views.
package console

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/timzifer/parkgate/presenter"
	"github.com/timzifer/parkgate/session"
)

// Controller is the session surface the console drives.
type Controller interface {
	Subscribe() (<-chan session.View, func())
	Focus(name string)
	Blur(name string)
	SetField(name, text string)
	Save()
	Refresh()
}

type viewMsg session.View

type closedMsg struct{}

type model struct {
	ctrl  Controller
	views <-chan session.View
	view  session.View

	inputs map[string]*textinput.Model
	order  []string

	// focused is the field holding local focus. The session releases it
	// when a save is accepted: that shows either as a view without the
	// focus after one with it (acked), or as a view counting more saves
	// than when the focus was taken (focusSaves).
	focused    string
	acked      bool
	focusSaves uint64

	quitting bool
}

func newModel(ctrl Controller, views <-chan session.View) *model {
	return &model{
		ctrl:   ctrl,
		views:  views,
		view:   session.View{Display: presenter.Blank()},
		inputs: make(map[string]*textinput.Model),
	}
}

// Run shows the console until the operator quits or ctx is done.
func Run(ctx context.Context, ctrl Controller) error {
	views, cancel := ctrl.Subscribe()
	defer cancel()
	p := tea.NewProgram(newModel(ctrl, views), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("console: %w", err)
	}
	return nil
}

func waitForView(views <-chan session.View) tea.Cmd {
	return func() tea.Msg {
		view, ok := <-views
		if !ok {
			return closedMsg{}
		}
		return viewMsg(view)
	}
}

func (m *model) Init() tea.Cmd {
	return waitForView(m.views)
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case viewMsg:
		m.apply(session.View(msg))
		return m, waitForView(m.views)
	case closedMsg:
		m.quitting = true
		return m, tea.Quit
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

// apply takes a published view. The input holding local focus is never
// overwritten; every other input shows the buffer text.
func (m *model) apply(view session.View) {
	m.view = view
	if m.focused != "" {
		field, ok := view.Field(m.focused)
		switch {
		case ok && field.Focused:
			m.acked = true
		case m.acked, view.Saves > m.focusSaves:
			m.releaseLocal()
		}
	}
	// The session may still hold a field the console already let go of.
	for _, field := range view.Fields {
		if field.Focused && field.Name != m.focused {
			m.ctrl.Blur(field.Name)
		}
	}

	order := make([]string, 0, len(view.Fields))
	seen := make(map[string]struct{}, len(view.Fields))
	for _, field := range view.Fields {
		order = append(order, field.Name)
		seen[field.Name] = struct{}{}
		input, ok := m.inputs[field.Name]
		if !ok {
			ti := textinput.New()
			ti.CharLimit = 9
			ti.Width = 10
			input = &ti
			m.inputs[field.Name] = input
		}
		if field.Name != m.focused {
			input.SetValue(field.Text)
		}
	}
	for name := range m.inputs {
		if _, ok := seen[name]; !ok && name != m.focused {
			delete(m.inputs, name)
		}
	}
	m.order = order
}

func (m *model) releaseLocal() {
	if input, ok := m.inputs[m.focused]; ok {
		input.Blur()
	}
	m.focused = ""
	m.acked = false
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "tab", "down":
		return m, m.moveFocus(1)
	case "shift+tab", "up":
		return m, m.moveFocus(-1)
	case "esc":
		m.blur()
		return m, nil
	case "ctrl+s", "enter":
		m.ctrl.Save()
		return m, nil
	case "ctrl+r":
		m.ctrl.Refresh()
		return m, nil
	}

	if m.focused == "" {
		switch msg.String() {
		case "q":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.ctrl.Refresh()
		case "s":
			m.ctrl.Save()
		}
		return m, nil
	}

	input := m.inputs[m.focused]
	if input == nil {
		return m, nil
	}
	before := input.Value()
	updated, cmd := input.Update(msg)
	*input = updated
	if value := input.Value(); value != before {
		m.ctrl.SetField(m.focused, value)
	}
	return m, cmd
}

func (m *model) blur() {
	if m.focused == "" {
		return
	}
	m.ctrl.Blur(m.focused)
	m.releaseLocal()
}

func (m *model) moveFocus(delta int) tea.Cmd {
	if len(m.order) == 0 {
		return nil
	}
	next := 0
	if m.focused != "" {
		current := -1
		for i, name := range m.order {
			if name == m.focused {
				current = i
				break
			}
		}
		next = (current + delta + len(m.order)) % len(m.order)
		m.blur()
	} else if delta < 0 {
		next = len(m.order) - 1
	}
	name := m.order[next]
	input := m.inputs[name]
	if input == nil {
		return nil
	}
	m.focused = name
	m.acked = false
	m.focusSaves = m.view.Saves
	m.ctrl.Focus(name)
	return input.Focus()
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)
	headerStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	labelStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	valueStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warningStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	connectedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("10")).Padding(0, 1)
	offlineStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("9")).Padding(0, 1)
	unknownStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("11")).Padding(0, 1)
	boxStyle        = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
	focusedBoxStyle = boxStyle.BorderForeground(lipgloss.Color("12"))
)

func (m *model) View() string {
	if m.quitting {
		return "Cerrando...\n"
	}
	var s strings.Builder
	d := m.view.Display

	s.WriteString(titleStyle.Render("ESTACIONAMIENTO"))
	s.WriteString(" ")
	s.WriteString(badge(d.Connectivity))
	s.WriteString(" ")
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | cada %s", m.view.Device, m.view.Scheduler.IntervalText)))
	s.WriteString("\n\n")

	status := m.renderStatus(d)
	paramsBox := boxStyle
	if m.focused != "" {
		paramsBox = focusedBoxStyle
	}
	parameters := paramsBox.Render(m.renderParams())
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxStyle.Render(status), " ", parameters))
	s.WriteString("\n")

	for _, alert := range d.Alerts {
		style := warningStyle
		if alert.Level == "critical" {
			style = errorStyle
		}
		s.WriteString(style.Render("⚠ " + alert.Message))
		s.WriteString("\n")
	}
	if d.LastError != "" && d.Connectivity == presenter.ConnectivityDisconnected {
		s.WriteString(errorStyle.Render(d.LastError))
		s.WriteString("\n")
	}
	if n := m.view.Notice; n != nil {
		style := valueStyle
		if n.Kind == session.NoticeError {
			style = errorStyle
		}
		s.WriteString(style.Render(n.Text))
		s.WriteString("\n")
	}

	s.WriteString("\n")
	s.WriteString(headerStyle.Render(m.help()))
	s.WriteString("\n")
	return s.String()
}

func badge(c presenter.Connectivity) string {
	switch c {
	case presenter.ConnectivityConnected:
		return connectedStyle.Render(c.Label())
	case presenter.ConnectivityDisconnected:
		return offlineStyle.Render(c.Label())
	default:
		return unknownStyle.Render(c.Label())
	}
}

func (m *model) renderStatus(d presenter.Display) string {
	rows := [][2]string{
		{"RFID", d.RFID},
		{"Distancia", d.Distance},
		{"Pluma entrada", d.EntranceBarrier},
		{"Pluma salida", d.ExitBarrier},
		{"Cajón 1", d.Slot1},
		{"Cajón 2", d.Slot2},
		{"Disponibles", d.Available},
		{"Entrada 1 / Salida 1", d.EntryTime1 + " / " + d.ExitTime1},
		{"Entrada 2 / Salida 2", d.EntryTime2 + " / " + d.ExitTime2},
		{"Temperatura", d.Temperature},
		{"Uptime", d.Uptime},
		{"Firmware", d.Firmware},
	}
	var s strings.Builder
	for _, row := range rows {
		s.WriteString(fmt.Sprintf("%-22s %s\n", labelStyle.Render(row[0]), valueStyle.Render(row[1])))
	}
	if !d.UpdatedAt.IsZero() {
		s.WriteString(headerStyle.Render("Actualizado " + d.UpdatedAt.Format("15:04:05")))
	}
	return s.String()
}

func (m *model) renderParams() string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("Parámetros"))
	s.WriteString("\n")
	if !m.view.ParamsReady {
		s.WriteString(headerStyle.Render("Cargando..."))
		if m.view.ParamsError != "" {
			s.WriteString("\n")
			s.WriteString(errorStyle.Render(m.view.ParamsError))
		}
		return s.String()
	}
	for _, field := range m.view.Fields {
		input := m.inputs[field.Name]
		var value string
		if field.Name == m.focused && input != nil {
			value = input.View()
		} else {
			value = fmt.Sprintf("[%s]", field.Text)
		}
		marker := " "
		if field.Dirty {
			marker = warningStyle.Render("*")
		}
		s.WriteString(fmt.Sprintf("%s %-30s %s\n", marker, field.Label, value))
	}
	if m.view.Saving {
		s.WriteString(warningStyle.Render("Guardando..."))
	}
	return s.String()
}

func (m *model) help() string {
	if m.focused != "" {
		return "Tab=siguiente Esc=salir del campo Enter/Ctrl+S=guardar Ctrl+R=actualizar Ctrl+C=salir"
	}
	return "Tab=editar s=guardar r=actualizar q=salir"
}
