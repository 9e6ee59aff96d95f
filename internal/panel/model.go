package panel

import (
	"strings"

	"cncpanel/internal/channel"
	"cncpanel/internal/widget"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// DefaultStep is how much +/- changes a number widget
const DefaultStep = 1.0

// refreshMsg asks the model to redraw after a widget changed
type refreshMsg struct{}

// waitForChange blocks until the panel reports a change
func waitForChange(changes <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return nil
		}
		return refreshMsg{}
	}
}

// Model is the bubbletea model for a panel. Operator actions are handed to
// post so they run on the event loop.
type Model struct {
	panel  *Panel
	post   func(func())
	styles Styles

	selected int
	step     float64
	width    int
}

// NewModel creates the model. A nil post runs actions inline.
func NewModel(p *Panel, post func(func())) Model {
	if post == nil {
		post = func(fn func()) { fn() }
	}
	return Model{
		panel:  p,
		post:   post,
		styles: DefaultStyles(),
		step:   DefaultStep,
	}
}

// Init starts listening for widget changes
func (m Model) Init() tea.Cmd {
	return waitForChange(m.panel.Changes())
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case refreshMsg:
		return m, waitForChange(m.panel.Changes())

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "up", "k":
		m.move(-1)
	case "down", "j":
		m.move(1)
	case "enter", " ":
		m.activate()
	case "+", "=":
		m.adjust(m.step)
	case "-":
		m.adjust(-m.step)
	}
	return m, nil
}

// visible returns the indexes of the items currently shown
func (m Model) visible() []int {
	var idx []int
	for i, item := range m.panel.Items {
		if item.Control.Snapshot().Visible {
			idx = append(idx, i)
		}
	}
	return idx
}

// current returns the selected item, or nil when nothing is shown
func (m Model) current() *Item {
	idx := m.visible()
	if len(idx) == 0 {
		return nil
	}
	pos := clampIndex(m.selected, len(idx))
	return m.panel.Items[idx[pos]]
}

func (m *Model) move(delta int) {
	n := len(m.visible())
	if n == 0 {
		return
	}
	m.selected = clampIndex(clampIndex(m.selected, n)+delta, n)
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// activate presses the selected button
func (m *Model) activate() {
	item := m.current()
	if item == nil {
		return
	}
	if b, ok := item.Control.(*widget.Button); ok {
		m.post(b.Toggle)
	}
}

// adjust steps the selected number
func (m *Model) adjust(delta float64) {
	item := m.current()
	if item == nil {
		return
	}
	if n, ok := item.Control.(*widget.Number); ok {
		m.post(func() { n.Enter(n.Snapshot().Value + delta) })
	}
}

// View renders the panel
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.styles.Title.Render(m.panel.Title))
	b.WriteString("\n")

	sel := m.current()
	for _, i := range m.visible() {
		item := m.panel.Items[i]
		b.WriteString(m.renderItem(item, item == sel))
		b.WriteString("\n")
	}

	b.WriteString(m.styles.Help.Render("↑/↓ select • enter toggle • +/- adjust • q quit"))
	if m.width > 0 {
		return lipgloss.NewStyle().MaxWidth(m.width).Render(b.String())
	}
	return b.String()
}

func (m Model) renderItem(item *Item, selected bool) string {
	snap := item.Control.Snapshot()

	cursor := "  "
	name := m.styles.Name
	if selected {
		cursor = "▸ "
		name = m.styles.Selected.Width(name.GetWidth())
	}

	style := m.styles.Value
	var text string
	switch snap.Type {
	case "button":
		text = "[ ] " + snap.Text
		if snap.Checked {
			text = "[x] " + snap.Text
		}
	case "led":
		text, style = "○", m.styles.LEDOff
		if snap.On {
			text, style = "●", m.styles.LEDOn
		}
	case "number":
		text = channel.FormatValue(snap.Value)
	default:
		text = snap.Text
	}
	style = m.styles.class(snap.StyleClass, style)

	if !snap.Enabled {
		name = m.styles.Disabled.Width(name.GetWidth())
		style = m.styles.Disabled
	}
	return cursor + name.Render(snap.Name) + " " + style.Render(text)
}
