// Package inbox implements the on-disk message store: append-only
// org-mode files under <root>/<space>/org/inboxes/<handle>.org. Records
// are separated by "* MESSAGE" headers at column 0, carry their metadata
// in a :PROPERTIES: block, and are mutated by line-wise rewrites that
// leave every untouched byte of the file as it was.
package inbox

import (
	"regexp"
	"strings"
	"time"
)

// Status is the user-facing state carried as a header tag. StatusRead is
// the absence of a tag.
type Status string

const (
	StatusUnread Status = "unread"
	StatusTodo   Status = "todo"
	StatusDone   Status = "done"
	StatusRead   Status = "read"
)

// ParseStatus maps a CLI argument to a Status. "clear" is accepted as an
// alias for read.
func ParseStatus(s string) (Status, bool) {
	switch strings.ToLower(s) {
	case "unread":
		return StatusUnread, true
	case "todo":
		return StatusTodo, true
	case "done":
		return StatusDone, true
	case "read", "clear":
		return StatusRead, true
	}
	return "", false
}

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Task statuses set by the agent queue.
const (
	TaskWorking = "working"
	TaskDone    = "done"
)

// HeaderTimeLayout is the org timestamp used in headers and in the
// STARTED_AT / COMPLETED_AT properties. Minute precision.
const HeaderTimeLayout = "[2006-01-02 Mon 15:04]"

// headerPrefix marks the start of a record at column 0.
const headerPrefix = "* MESSAGE "

// Record is one parsed message. The unexported fields locate the record
// inside its file so mutations can splice exactly the lines they own.
type Record struct {
	ID          string
	From        string
	To          string
	Time        time.Time
	Text        string
	Priority    Priority
	Status      Status
	Thread      string
	ReplyTo     string
	TaskStatus  string
	StartedAt   string
	CompletedAt string
	Source      string

	// Path is the inbox file the record was parsed from. Empty on
	// records built for appending.
	Path string

	headerLine int
	propsEnd   int // line index of :END:
	endLine    int // exclusive; start of the next record or EOF
}

var statusTagRe = regexp.MustCompile(`[ \t]*:(?:unread|todo|done):`)

func statusTag(s Status) string {
	switch s {
	case StatusUnread, StatusTodo, StatusDone:
		return ":" + string(s) + ":"
	}
	return ""
}

// headerStatus reads the status tag off a header line.
func headerStatus(header string) Status {
	switch {
	case strings.Contains(header, ":unread:"):
		return StatusUnread
	case strings.Contains(header, ":todo:"):
		return StatusTodo
	case strings.Contains(header, ":done:"):
		return StatusDone
	}
	return StatusRead
}

// setHeaderTag strips any status tag from a header line and appends the
// tag for the new status, if any. Applying it twice is a no-op.
func setHeaderTag(header string, status Status) string {
	h := statusTagRe.ReplaceAllString(header, "")
	h = strings.TrimRight(h, " \t")
	if tag := statusTag(status); tag != "" {
		h += " " + tag
	}
	return h
}

// headerTime extracts the [..] timestamp from a header line. The zero
// time is returned when the header carries none.
func headerTime(header string) time.Time {
	open := strings.IndexByte(header, '[')
	closing := strings.IndexByte(header, ']')
	if open < 0 || closing < open {
		return time.Time{}
	}
	t, err := time.ParseInLocation(HeaderTimeLayout, header[open:closing+1], time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Format renders the record as a complete org entry: a blank separator
// line, the header, the property block, then the body. The result is
// written with a single write call so concurrent appenders cannot
// interleave inside a record.
func (r *Record) Format() string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(headerPrefix)
	b.WriteString(r.Time.Format(HeaderTimeLayout))
	if tag := statusTag(r.Status); tag != "" {
		b.WriteString(" ")
		b.WriteString(tag)
	}
	b.WriteString("\n:PROPERTIES:\n")
	writeProp(&b, "ID", r.ID)
	writeProp(&b, "FROM", r.From)
	writeProp(&b, "TO", r.To)
	writeProp(&b, "PRIORITY", string(r.Priority))
	if r.Thread != "" {
		writeProp(&b, "THREAD", r.Thread)
	}
	if r.ReplyTo != "" {
		writeProp(&b, "REPLY_TO", r.ReplyTo)
	}
	if r.Source != "" {
		writeProp(&b, "SOURCE", r.Source)
	}
	b.WriteString(":END:\n")
	if r.Text != "" {
		b.WriteString(r.Text)
		b.WriteString("\n")
	}
	return b.String()
}

func writeProp(b *strings.Builder, key, value string) {
	b.WriteString(":")
	b.WriteString(key)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\n")
}

// parseRecords walks the file line-wise. A record is the span from a
// header line to the next header or EOF. Records with an unterminated
// property block or a missing id are dropped, as is the final record of
// a file that does not end in a newline (a writer may still be mid
// append).
func parseRecords(path string, lines []string) []Record {
	truncated := len(lines) > 0 && lines[len(lines)-1] != ""

	var headers []int
	for i, line := range lines {
		if strings.HasPrefix(line, headerPrefix) {
			headers = append(headers, i)
		}
	}

	var recs []Record
	for n, start := range headers {
		end := len(lines)
		last := n == len(headers)-1
		if !last {
			end = headers[n+1]
		}
		if last && truncated {
			continue
		}
		if rec, ok := parseRecord(path, lines, start, end); ok {
			recs = append(recs, rec)
		}
	}
	return recs
}

func parseRecord(path string, lines []string, start, end int) (Record, bool) {
	rec := Record{
		Path:       path,
		headerLine: start,
		endLine:    end,
		Priority:   PriorityNormal,
	}

	header := lines[start]
	rec.Status = headerStatus(header)
	rec.Time = headerTime(header)

	// Property block: the first non-blank line after the header must
	// open it, and it must close before the record ends.
	i := start + 1
	for i < end && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	if i >= end || strings.TrimSpace(lines[i]) != ":PROPERTIES:" {
		return Record{}, false
	}
	i++
	props := map[string]string{}
	closed := false
	for ; i < end; i++ {
		line := strings.TrimSpace(lines[i])
		if line == ":END:" {
			rec.propsEnd = i
			closed = true
			i++
			break
		}
		if key, value, ok := parseProp(line); ok {
			props[key] = value
		}
	}
	if !closed {
		return Record{}, false
	}

	rec.ID = props["id"]
	if rec.ID == "" {
		return Record{}, false
	}
	rec.From = props["from"]
	rec.To = props["to"]
	if props["priority"] == string(PriorityHigh) {
		rec.Priority = PriorityHigh
	}
	rec.Thread = props["thread"]
	rec.ReplyTo = props["reply_to"]
	rec.TaskStatus = props["task_status"]
	rec.StartedAt = props["started_at"]
	rec.CompletedAt = props["completed_at"]
	rec.Source = props["source"]

	rec.Text = bodyText(lines[i:end])
	return rec, true
}

// parseProp splits a ":KEY: VALUE" line. Property names are
// case-insensitive; lines without the separator are ignored.
func parseProp(line string) (string, string, bool) {
	if !strings.HasPrefix(line, ":") {
		return "", "", false
	}
	rest := line[1:]
	idx := strings.Index(rest, ": ")
	if idx <= 0 {
		return "", "", false
	}
	return strings.ToLower(rest[:idx]), rest[idx+2:], true
}

// bodyText joins the body lines, dropping blank lines at either end but
// keeping interior ones and all per-line whitespace.
func bodyText(lines []string) string {
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return strings.Join(lines[start:end], "\n")
}
