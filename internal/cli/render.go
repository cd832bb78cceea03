package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/cloudwego/eino/schema"

	"github.com/zjregee/convo/internal/app"
	"github.com/zjregee/convo/internal/models"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	dateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	userStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42"))

	assistantStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("135"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))
)

// streamPrinter writes a running turn to w: reply chunks as they arrive and
// error bubbles once appended.
type streamPrinter struct {
	w         io.Writer
	streaming bool
}

func newStreamPrinter(w io.Writer) *streamPrinter {
	return &streamPrinter{w: w}
}

func (p *streamPrinter) Emit(ev models.TurnEvent) {
	switch e := ev.(type) {
	case models.TurnMessageAppended:
		switch e.Message.Role {
		case schema.Assistant:
			fmt.Fprint(p.w, assistantStyle.Render(roleLabel(e.Message))+" ")
			p.streaming = true
		case models.RoleError:
			p.endLine()
			fmt.Fprintln(p.w, errorStyle.Render(e.Message.Content))
		}
	case models.TurnContentUpdated:
		fmt.Fprint(p.w, e.Chunk)
	case models.TurnFinished:
		p.endLine()
		if e.State == models.TurnStateCancelled {
			fmt.Fprintln(p.w, warnStyle.Render("(cancelled)"))
		}
	}
}

func (p *streamPrinter) endLine() {
	if p.streaming {
		fmt.Fprintln(p.w)
		p.streaming = false
	}
}

var _ app.Emitter = (*streamPrinter)(nil)

func roleLabel(m models.Message) string {
	switch m.Role {
	case schema.User:
		return "you:"
	case schema.Assistant:
		if m.Provider != "" {
			return string(m.Provider) + ":"
		}
		return "assistant:"
	default:
		return string(m.Role) + ":"
	}
}

func printMessage(w io.Writer, m models.Message) {
	label := roleLabel(m)
	switch m.Role {
	case schema.User:
		label = userStyle.Render(label)
	case schema.Assistant:
		label = assistantStyle.Render(label)
	default:
		label = errorStyle.Render(label)
	}

	ref := m.ID
	if ref == "" {
		ref = m.LocalID
	}
	meta := idStyle.Render(ref)
	if m.SyncState == models.SyncStateSyncFailed {
		meta += " " + warnStyle.Render("(not saved)")
	}

	fmt.Fprintf(w, "%s %s %s\n", label, dateStyle.Render(m.Timestamp.Format(time.DateTime)), meta)
	content := app.FormatMessage(m.Content)
	if m.Role == models.RoleError {
		content = errorStyle.Render(content)
	}
	fmt.Fprintln(w, indent(content, "  "))
	fmt.Fprintln(w)
}

func printSession(w io.Writer, s models.SessionInfo, current bool) {
	marker := "  "
	if current {
		marker = "* "
	}
	line := marker + titleStyle.Render(s.Title) + "  " + idStyle.Render(s.ID)
	if s.ModelUsed != "" {
		line += "  " + s.ModelUsed
	}
	line += "  " + dateStyle.Render(s.LastActivity.Format(time.DateTime))
	if s.SyncState == models.SyncStateSyncFailed {
		line += "  " + warnStyle.Render("(local only)")
	}
	fmt.Fprintln(w, line)
}

func indent(text, prefix string) string {
	if text == "" {
		return prefix
	}
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
