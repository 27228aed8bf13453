// Package robot provides machine-readable output for AI agents. Every
// read-only command can emit one JSON document built from these views;
// arrays agents iterate are always present, never null.
package robot

import (
	"encoding/json"
	"io"
	"time"

	"github.com/Dicklesworthstone/dcmsg/internal/inbox"
	"github.com/Dicklesworthstone/dcmsg/internal/queue"
	"github.com/Dicklesworthstone/dcmsg/internal/util"
)

// Response is the envelope embedded by every robot output. Agents check
// success first.
type Response struct {
	Success   bool   `json:"success"`
	Timestamp string `json:"timestamp"`
	Error     string `json:"error,omitempty"`
}

// NewResponse builds the envelope with the current UTC timestamp.
func NewResponse(success bool) Response {
	return Response{
		Success:   success,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// ErrorResponse builds a failed envelope carrying the error text.
func ErrorResponse(err error) Response {
	r := NewResponse(false)
	r.Error = err.Error()
	return r
}

// MessageInfo is the JSON view of one inbox record.
type MessageInfo struct {
	ID         string `json:"id"`
	From       string `json:"from"`
	To         string `json:"to,omitempty"`
	Time       string `json:"time,omitempty"`
	Priority   string `json:"priority"`
	Status     string `json:"status"`
	Thread     string `json:"thread,omitempty"`
	ReplyTo    string `json:"reply_to,omitempty"`
	TaskStatus string `json:"task_status,omitempty"`
	Text       string `json:"text"`
}

func NewMessageInfo(rec *inbox.Record) MessageInfo {
	info := MessageInfo{
		ID:         rec.ID,
		From:       rec.From,
		To:         rec.To,
		Priority:   string(rec.Priority),
		Status:     string(rec.Status),
		Thread:     rec.Thread,
		ReplyTo:    rec.ReplyTo,
		TaskStatus: rec.TaskStatus,
		Text:       rec.Text,
	}
	if !rec.Time.IsZero() {
		info.Time = rec.Time.Format("2006-01-02 15:04")
	}
	return info
}

// InboxOutput is the robot view of one handle's inbox.
type InboxOutput struct {
	Response
	Handle   string         `json:"handle"`
	Messages []MessageInfo  `json:"messages"`
	Counts   map[string]int `json:"counts"`
}

// BuildInbox renders a scan result. The counts cover the full scan even
// when limit truncates the message list.
func BuildInbox(handle string, recs []inbox.Record, limit int) InboxOutput {
	out := InboxOutput{
		Response: NewResponse(true),
		Handle:   handle,
		Messages: []MessageInfo{},
		Counts: map[string]int{
			"unread": 0, "todo": 0, "done": 0, "read": 0,
		},
	}
	for i := range recs {
		out.Counts[string(recs[i].Status)]++
	}
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	for i := range recs {
		out.Messages = append(out.Messages, NewMessageInfo(&recs[i]))
	}
	return out
}

// TaskInfo is the queue view of one task record.
type TaskInfo struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Priority  string `json:"priority"`
	StartedAt string `json:"started_at,omitempty"`
	Summary   string `json:"summary"`
}

func newTaskInfo(rec *inbox.Record) TaskInfo {
	return TaskInfo{
		ID:        rec.ID,
		From:      rec.From,
		Priority:  string(rec.Priority),
		StartedAt: rec.StartedAt,
		Summary:   util.Truncate(util.FirstLine(rec.Text), 80),
	}
}

// QueueOutput is the robot view of the agent task queue.
type QueueOutput struct {
	Response
	Handle       string     `json:"handle"`
	Busy         bool       `json:"busy"`
	Working      *TaskInfo  `json:"working,omitempty"`
	Task         *TaskInfo  `json:"task,omitempty"` // the task a dispatch just selected
	Pending      []TaskInfo `json:"pending"`
	PendingCount int        `json:"pending_count"`
	Completed    int        `json:"completed"`
}

// BuildQueue renders a queue status. task is non-nil when a dispatch
// just selected it.
func BuildQueue(handle string, status *queue.Status, task *inbox.Record) QueueOutput {
	out := QueueOutput{
		Response:     NewResponse(true),
		Handle:       handle,
		Busy:         status.WorkingCount > 0,
		Pending:      []TaskInfo{},
		PendingCount: status.PendingCount,
		Completed:    status.Completed,
	}
	if status.Working != nil {
		info := newTaskInfo(status.Working)
		out.Working = &info
	}
	if task != nil {
		info := newTaskInfo(task)
		out.Task = &info
		out.Busy = true
	}
	for i := range status.Pending {
		// A status snapshotted before the dispatch still lists the
		// claimed task as pending; it belongs to task now.
		if task != nil && status.Pending[i].ID == task.ID {
			out.PendingCount--
			continue
		}
		out.Pending = append(out.Pending, newTaskInfo(&status.Pending[i]))
	}
	return out
}

// RouteInfo is the outcome of one side-channel target.
type RouteInfo struct {
	Target  string `json:"target"`
	OK      bool   `json:"ok"`
	Summary string `json:"summary"`
}

// SendOutput reports a send: the local append plus the relay ack.
type SendOutput struct {
	Response
	To          string      `json:"to"`
	MsgID       string      `json:"msg_id"`
	Thread      string      `json:"thread,omitempty"`
	Delivered   bool        `json:"delivered"`
	AutoReplied bool        `json:"auto_replied,omitempty"`
	Queued      bool        `json:"queued,omitempty"`
	Routes      []RouteInfo `json:"routes,omitempty"`
}

// RelayStatusOutput mirrors the relay's HTTP /status endpoint.
type RelayStatusOutput struct {
	Response
	URL         string   `json:"url"`
	Status      string   `json:"status"`
	UsersOnline int      `json:"users_online"`
	Users       []string `json:"users"`
}

// WriteJSON emits one indented JSON document.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
