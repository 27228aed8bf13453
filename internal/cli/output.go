package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"github.com/Dicklesworthstone/dcmsg/internal/inbox"
	"github.com/Dicklesworthstone/dcmsg/internal/robot"
	"github.com/Dicklesworthstone/dcmsg/internal/util"
)

// isTTY reports whether stdout is an interactive terminal.
func isTTY() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// termWidth returns the terminal column count, with a sane fallback for
// pipes and dumb terminals.
func termWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 20 {
		return w
	}
	return 100
}

func printJSON(v any) error {
	return robot.WriteJSON(os.Stdout, v)
}

// renderMessages prints a fixed-column message table sized to the
// terminal, widest column (the text) last.
func renderMessages(recs []inbox.Record) {
	if len(recs) == 0 {
		fmt.Println("No messages.")
		return
	}
	width := termWidth()
	idW, fromW, statusW, timeW := 28, 10, 7, 16
	textW := width - idW - fromW - statusW - timeW - 8
	if textW < 16 {
		textW = 16
	}

	fmt.Printf("%s  %s  %s  %s  %s\n",
		util.PadCell("ID", idW),
		util.PadCell("FROM", fromW),
		util.PadCell("STATUS", statusW),
		util.PadCell("TIME", timeW),
		"TEXT")
	for i := range recs {
		r := &recs[i]
		status := string(r.Status)
		if r.TaskStatus != "" {
			status += "/" + r.TaskStatus
		}
		ts := ""
		if !r.Time.IsZero() {
			ts = r.Time.Format("2006-01-02 15:04")
		}
		mark := " "
		if r.Priority == inbox.PriorityHigh {
			mark = "!"
		}
		fmt.Printf("%s  %s  %s  %s %s%s\n",
			util.PadCell(r.ID, idW),
			util.PadCell(r.From, fromW),
			util.PadCell(status, statusW),
			util.PadCell(ts, timeW),
			mark,
			util.Truncate(util.FirstLine(r.Text), textW))
	}
}

// summarizeRoutes renders the one-line side-channel outcomes.
func summarizeRoutes(routes []robot.RouteInfo) string {
	lines := make([]string, 0, len(routes))
	for _, r := range routes {
		mark := "ok"
		if !r.OK {
			mark = "FAILED"
		}
		lines = append(lines, fmt.Sprintf("  %-20s %s  %s", r.Target, mark, r.Summary))
	}
	return strings.Join(lines, "\n")
}
