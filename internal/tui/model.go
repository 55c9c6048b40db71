package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/specflow/specflow/internal/questions"
)

const (
	maxWidth    = 90
	customLabel = "Type something..."
	listHeight  = 14
)

// optionItem is one row of the picker list.
type optionItem struct {
	label       string
	description string
	custom      bool
	checked     bool
}

func (i optionItem) Title() string {
	if i.checked {
		return "[x] " + i.label
	}
	return i.label
}

func (i optionItem) Description() string { return i.description }
func (i optionItem) FilterValue() string { return i.label }

// AnswerModel walks through pending questions one at a time. Each question
// offers its options plus a free-text entry; multi-select questions toggle
// options with space.
type AnswerModel struct {
	questions []questions.Question
	index     int
	list      list.Model
	input     textinput.Model
	typing    bool
	answers   map[string]string
	cancelled bool
	width     int
}

// NewAnswerModel returns a picker for qs.
func NewAnswerModel(qs []questions.Question) AnswerModel {
	ti := textinput.New()
	ti.Placeholder = "Type your answer here..."
	ti.CharLimit = 500
	ti.Width = maxWidth - 12

	m := AnswerModel{
		questions: qs,
		input:     ti,
		answers:   map[string]string{},
		width:     maxWidth + 4,
	}
	if len(qs) > 0 {
		m.list = newOptionList(qs[0], maxWidth-6)
	}
	return m
}

func newOptionList(q questions.Question, width int) list.Model {
	items := make([]list.Item, 0, len(q.Options)+1)
	for _, o := range q.Options {
		items = append(items, optionItem{label: o.Label, description: o.Description})
	}
	items = append(items, optionItem{label: customLabel, custom: true})

	l := list.New(items, list.NewDefaultDelegate(), width, listHeight)
	l.SetShowTitle(false)
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	return l
}

// Answers returns the answers collected so far, keyed by question id.
func (m AnswerModel) Answers() map[string]string { return m.answers }

// Cancelled reports whether the user quit before finishing.
func (m AnswerModel) Cancelled() bool { return m.cancelled }

// Done reports whether every question has been answered or skipped.
func (m AnswerModel) Done() bool { return m.index >= len(m.questions) }

// Init implements tea.Model.
func (m AnswerModel) Init() tea.Cmd {
	if m.Done() {
		return tea.Quit
	}
	return nil
}

// Update implements tea.Model.
func (m AnswerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		if !m.Done() {
			m.list.SetWidth(min(msg.Width, maxWidth) - 6)
		}
		return m, nil

	case AnswerMsg:
		if msg.Value != "" {
			m.answers[msg.QuestionID] = msg.Value
		}
		return m.advance()

	case SkipMsg:
		return m.advance()

	case tea.KeyMsg:
		if key.Matches(msg, DefaultKeyMap.CtrlC) {
			m.cancelled = true
			return m, tea.Quit
		}
		if m.Done() {
			return m, nil
		}
		if m.typing {
			return m.updateTyping(msg)
		}
		return m.updateList(msg)
	}
	return m, nil
}

func (m AnswerModel) updateTyping(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, DefaultKeyMap.Enter):
		value := strings.TrimSpace(m.input.Value())
		if value == "" {
			return m, nil
		}
		m.input.Blur()
		return m, answer(m.current().ID, value)
	case key.Matches(msg, DefaultKeyMap.Escape):
		m.typing = false
		m.input.Blur()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m AnswerModel) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	q := m.current()
	switch {
	case key.Matches(msg, DefaultKeyMap.Escape):
		m.cancelled = true
		return m, tea.Quit

	case key.Matches(msg, DefaultKeyMap.Skip):
		return m, func() tea.Msg { return SkipMsg{} }

	case key.Matches(msg, DefaultKeyMap.Toggle):
		item, ok := m.list.SelectedItem().(optionItem)
		if q.MultiSelect && ok && !item.custom {
			item.checked = !item.checked
			cmd := m.list.SetItem(m.list.Index(), item)
			return m, cmd
		}
		return m, nil

	case key.Matches(msg, DefaultKeyMap.Enter):
		item, ok := m.list.SelectedItem().(optionItem)
		if !ok {
			return m, nil
		}
		if item.custom {
			m.typing = true
			return m, m.input.Focus()
		}
		if q.MultiSelect {
			if checked := m.checkedLabels(); len(checked) > 0 {
				return m, answer(q.ID, strings.Join(checked, ", "))
			}
		}
		return m, answer(q.ID, item.label)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m AnswerModel) checkedLabels() []string {
	var out []string
	for _, it := range m.list.Items() {
		if o, ok := it.(optionItem); ok && o.checked {
			out = append(out, o.label)
		}
	}
	return out
}

func (m AnswerModel) current() questions.Question {
	return m.questions[m.index]
}

func (m AnswerModel) advance() (tea.Model, tea.Cmd) {
	m.index++
	m.typing = false
	m.input.Reset()
	m.input.Blur()
	if m.Done() {
		return m, tea.Quit
	}
	m.list = newOptionList(m.current(), min(m.width, maxWidth)-6)
	return m, nil
}

func answer(id, value string) tea.Cmd {
	return func() tea.Msg { return AnswerMsg{QuestionID: id, Value: value} }
}

// View implements tea.Model.
func (m AnswerModel) View() string {
	if m.Done() {
		return ""
	}
	q := m.current()

	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("Question %d of %d", m.index+1, len(m.questions))))
	if q.Header != "" {
		b.WriteString(DimStyle.Render("  [" + q.Header + "]"))
	}
	b.WriteString("\n\n")
	b.WriteString(QuestionStyle.Render(q.Content))
	b.WriteString("\n\n")

	if m.typing {
		b.WriteString(SelectedStyle.Render("❯ "))
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(DimStyle.Render("Enter to submit · Esc: back to options"))
	} else {
		b.WriteString(m.list.View())
		b.WriteString("\n")
		hint := "Enter to select · ↑↓ to navigate · Tab: skip · Esc: quit"
		if q.MultiSelect {
			hint = "Space to toggle · " + hint
		}
		b.WriteString(DimStyle.Render(hint))
	}

	width := maxWidth
	if m.width-4 < width {
		width = m.width - 4
	}
	return BoxStyle.Width(width).Render(b.String())
}
