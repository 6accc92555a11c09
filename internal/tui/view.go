package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kalambet/pdfqa/internal/flow"
	"github.com/kalambet/pdfqa/internal/status"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")).
			Bold(true)

	botStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("141")).
			Bold(true)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	strongStyle = lipgloss.NewStyle().Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	cursorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205"))

	spinnerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205"))
)

const (
	promptSatisfied = "Are you satisfied with the given answer? [y/n]"
	promptScholar   = "Would you like to search Google Scholar for more information? [y/n]"
	promptRephrase  = "Would you like to rephrase your query for Google Scholar? [y/n]"
	promptRephrased = "Type the rephrased query and press enter (esc to cancel)."
	candidateHelp   = "↑/↓ move · space select · enter embed · m more · esc close"
)

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.header())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	if s := m.footer(); s != "" {
		b.WriteString(s)
		b.WriteString("\n")
	}
	b.WriteString(m.textarea.View())
	return b.String()
}

func (m Model) header() string {
	s := m.snap.Settings
	meta := fmt.Sprintf("model %s · scholar %s ×%d", s.Model, s.Source, s.NumPDFs)
	if f := describeFilters(m.filters); f != "" {
		meta += " · " + f
	}
	return titleStyle.Render("pdfqa") + " " + helpStyle.Render(meta)
}

// footer holds everything between the transcript and the input.
func (m Model) footer() string {
	var lines []string
	if p := m.prompt(); p != "" {
		lines = append(lines, p)
	}
	if s := m.statusLine(); s != "" {
		lines = append(lines, s)
	}
	if m.info != "" {
		lines = append(lines, helpStyle.Render(m.info))
	}
	if m.err != nil {
		lines = append(lines, errorStyle.Render(m.err.Error()))
	}
	return strings.Join(lines, "\n")
}

func (m Model) chromeHeight() int {
	h := 2 + m.textarea.Height()
	if f := m.footer(); f != "" {
		h += strings.Count(f, "\n") + 1
	}
	return h
}

func (m Model) prompt() string {
	switch m.snap.State {
	case flow.AwaitingSatisfaction:
		return promptStyle.Render(promptSatisfied)
	case flow.AwaitingScholarConsent:
		return promptStyle.Render(promptScholar)
	case flow.AwaitingRephraseConsent:
		return promptStyle.Render(promptRephrase)
	case flow.AwaitingRephraseText:
		return promptStyle.Render(promptRephrased)
	case flow.ShowingCandidates:
		return m.candidateList()
	}
	return ""
}

func (m Model) candidateList() string {
	var b strings.Builder
	query := ""
	if a := m.snap.Acquisition; a != nil {
		query = a.Query
	}
	b.WriteString(promptStyle.Render(fmt.Sprintf("Select which PDF to Embed for Query: %q:", query)))
	for i, name := range m.snap.Candidates {
		pointer := "  "
		if i == m.cursor {
			pointer = cursorStyle.Render("> ")
		}
		box := "[ ]"
		if m.snap.IsSelected(name) {
			box = "[x]"
		}
		fmt.Fprintf(&b, "\n%s%s %s", pointer, box, name)
	}
	if m.snap.Notice != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(m.snap.Notice))
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(candidateHelp))
	return b.String()
}

// statusLine renders the progress line, or the latest result when idle.
func (m Model) statusLine() string {
	st := m.snap.Status
	if len(st.Line) > 0 {
		return m.spinner.View() + " " + renderSpans(st.Line)
	}
	if m.inFlight > 0 {
		return m.spinner.View() + " Working..."
	}
	if r := st.Result; r != nil {
		if r.Kind == status.Error {
			return errorStyle.Render(r.Text)
		}
		return successStyle.Render(r.Text)
	}
	return ""
}

func renderSpans(line status.Line) string {
	var b strings.Builder
	for _, sp := range line {
		if sp.Strong {
			b.WriteString(strongStyle.Render(sp.Text))
		} else {
			b.WriteString(sp.Text)
		}
	}
	return b.String()
}

func (m Model) renderTranscript() string {
	if len(m.snap.Messages) == 0 {
		return helpStyle.Render("Ask a question about your PDFs. /help lists commands.")
	}
	var b strings.Builder
	for i, msg := range m.snap.Messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.renderMessage(msg))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderMessage(msg flow.Message) string {
	if msg.Sender == flow.SenderUser {
		return userStyle.Render("You") + "\n" + msg.Text
	}

	label := "Bot"
	if msg.Model != "" {
		label += " · " + msg.Model
	}
	out := botStyle.Render(label) + "\n" + m.markdown(msg.Content())
	// Source file names are full of double underscores; keep them out of
	// the markdown renderer.
	if msg.Answer != nil && msg.Answer.Source != "" {
		out += "\n" + strongStyle.Render("Sources: ") + msg.Answer.Source
	}
	return out
}

func (m Model) markdown(s string) string {
	if m.renderer == nil {
		return s
	}
	out, err := m.renderer.Render(s)
	if err != nil {
		return s
	}
	return strings.TrimRight(out, "\n")
}

func describeFilters(f flow.Filters) string {
	var parts []string
	if f.Alpha != nil {
		parts = append(parts, fmt.Sprintf("alpha %.2f", *f.Alpha))
	}
	if y := f.Year; y != nil {
		switch y.Shape {
		case flow.SingleYearShape:
			parts = append(parts, fmt.Sprintf("year %d", y.Year))
		case flow.YearRangeShape:
			parts = append(parts, fmt.Sprintf("years %d-%d", y.Start, y.End))
		case flow.PastYearsShape:
			parts = append(parts, fmt.Sprintf("past %d years", y.Past))
		}
	}
	return strings.Join(parts, ", ")
}
