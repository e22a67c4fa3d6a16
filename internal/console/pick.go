package console

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/streambill/streambill/internal/billing"
)

// picker is a bubbletea model for selecting one entry from a short list
type picker struct {
	title     string
	entries   []string // display lines
	current   int      // index marked as active, -1 for none
	cursor    int
	selected  int // selected index, -1 if cancelled
	cancelled bool
}

func newPicker(title string, entries []string, current int) *picker {
	cursor := 0
	if current >= 0 && current < len(entries) {
		cursor = current
	}
	return &picker{
		title:    title,
		entries:  entries,
		current:  current,
		cursor:   cursor,
		selected: -1,
	}
}

// Init implements tea.Model
func (m *picker) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model
func (m *picker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.entries)-1 {
				m.cursor++
			}
		case "enter":
			m.selected = m.cursor
			return m, tea.Quit
		case "esc", "ctrl+c":
			m.cancelled = true
			return m, tea.Quit
		}
	}
	return m, nil
}

// View implements tea.Model
func (m *picker) View() string {
	var b strings.Builder

	headerStyle := lipgloss.NewStyle().Bold(true)
	b.WriteString(headerStyle.Render(m.title))
	b.WriteString("\n")

	for i, entry := range m.entries {
		cursor := "  "
		if i == m.cursor {
			cursor = "> "
		}

		marker := " "
		suffix := ""
		if i == m.current {
			marker = "•"
			suffix = " (current)"
		}

		line := fmt.Sprintf("%s %s %s%s", cursor, marker, entry, suffix)

		if i == m.cursor {
			highlightStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("cyan"))
			line = highlightStyle.Render(line)
		}

		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	hintStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	b.WriteString(hintStyle.Render("Use ↑/↓ to navigate, Enter to select, Esc to cancel"))

	return b.String()
}

// runPicker runs the selector and returns the chosen index, -1 if cancelled.
func runPicker(title string, entries []string, current int) (int, error) {
	if len(entries) == 0 {
		return -1, fmt.Errorf("nothing to select")
	}

	p := tea.NewProgram(newPicker(title, entries, current))
	finalModel, err := p.Run()
	if err != nil {
		return -1, fmt.Errorf("error running selector: %w", err)
	}

	m := finalModel.(*picker)
	if m.cancelled {
		return -1, nil
	}
	return m.selected, nil
}

// RunProfilePicker selects a vendor profile name. Returns empty string if
// cancelled.
func RunProfilePicker(profiles []string, current string) (string, error) {
	currentIdx := -1
	for i, p := range profiles {
		if p == current {
			currentIdx = i
			break
		}
	}
	idx, err := runPicker("Select vendor profile:", profiles, currentIdx)
	if err != nil || idx < 0 {
		return "", err
	}
	return profiles[idx], nil
}

// RunProductPicker selects a product from the given descriptors. Returns
// nil if cancelled.
func RunProductPicker(products []billing.Product) (*billing.Product, error) {
	entries := make([]string, 0, len(products))
	for _, p := range products {
		entries = append(entries, fmt.Sprintf("%s — %s  %s", p.ID, p.Title, formatPrice(p)))
	}
	idx, err := runPicker("Select product:", entries, -1)
	if err != nil || idx < 0 {
		return nil, err
	}
	return &products[idx], nil
}
