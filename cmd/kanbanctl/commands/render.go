package commands

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/shuvam773/kanban/domain"
)

var (
	bold   = color.New(color.Bold)
	cyan   = color.New(color.FgCyan, color.Bold)
	faint  = color.New(color.Faint)
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
)

func priorityColor(p domain.Priority) *color.Color {
	switch p {
	case domain.PriorityHigh:
		return red
	case domain.PriorityMedium:
		return yellow
	case domain.PriorityLow:
		return green
	}
	return faint
}

// renderBoard prints every section with its tasks in board order.
func renderBoard(w io.Writer, boardID string, version int64, sections []domain.BoardSection) {
	bold.Fprintf(w, "%s", boardID)
	faint.Fprintf(w, "  v%d\n", version)
	if len(sections) == 0 {
		faint.Fprintln(w, "(no sections)")
		return
	}
	for _, s := range sections {
		cyan.Fprintf(w, "\n%s", s.Name)
		faint.Fprintf(w, " (%d)  %s\n", len(s.Tasks), s.ID)
		for _, t := range s.Tasks {
			renderTask(w, t)
		}
	}
}

func renderTask(w io.Writer, t domain.Task) {
	fmt.Fprintf(w, "  - %s", t.Name)
	if t.Priority != "" {
		priorityColor(t.Priority).Fprintf(w, "  [%s]", t.Priority)
	}
	fmt.Fprintf(w, "  due %s  @%s", t.DueDate.Format(dateLayout), t.Assignee)
	faint.Fprintf(w, "  %s\n", t.ID)
}
