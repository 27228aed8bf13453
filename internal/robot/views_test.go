package robot

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Dicklesworthstone/dcmsg/internal/inbox"
	"github.com/Dicklesworthstone/dcmsg/internal/queue"
)

func TestBuildInboxCountsAndLimit(t *testing.T) {
	recs := []inbox.Record{
		{ID: "msg-1", From: "bob", Status: inbox.StatusUnread, Priority: inbox.PriorityNormal, Text: "a"},
		{ID: "msg-2", From: "bob", Status: inbox.StatusDone, Priority: inbox.PriorityNormal, Text: "b"},
		{ID: "msg-3", From: "carol", Status: inbox.StatusUnread, Priority: inbox.PriorityHigh, Text: "c"},
	}
	out := BuildInbox("alice", recs, 2)
	if !out.Success {
		t.Error("success = false")
	}
	if out.Counts["unread"] != 2 || out.Counts["done"] != 1 {
		t.Errorf("counts = %v", out.Counts)
	}
	// Limit keeps the newest records.
	if len(out.Messages) != 2 || out.Messages[0].ID != "msg-2" || out.Messages[1].ID != "msg-3" {
		t.Errorf("messages = %+v", out.Messages)
	}
}

func TestBuildInboxEmptyArrays(t *testing.T) {
	out := BuildInbox("alice", nil, 0)
	data, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(data), `"messages":null`) {
		t.Errorf("messages serialized as null: %s", data)
	}
}

func TestBuildQueueBusy(t *testing.T) {
	working := inbox.Record{ID: "msg-1", From: "alice", Priority: inbox.PriorityNormal,
		TaskStatus: inbox.TaskWorking, StartedAt: "[2026-08-25 Tue 10:00]", Text: "long task"}
	status := &queue.Status{
		Working:      &working,
		WorkingCount: 1,
		Pending:      []inbox.Record{{ID: "msg-2", From: "bob", Priority: inbox.PriorityHigh, Text: "next"}},
		PendingCount: 3,
		Completed:    7,
	}
	out := BuildQueue("alice-claude", status, nil)
	if !out.Busy || out.Working == nil || out.Working.ID != "msg-1" {
		t.Errorf("out = %+v", out)
	}
	if out.PendingCount != 3 || out.Completed != 7 || len(out.Pending) != 1 {
		t.Errorf("counts = %d/%d/%d", out.PendingCount, out.Completed, len(out.Pending))
	}
	if out.Working.StartedAt == "" {
		t.Error("working task missing started_at")
	}
}

func TestBuildQueueDispatched(t *testing.T) {
	task := inbox.Record{ID: "msg-9", From: "bob", Priority: inbox.PriorityNormal,
		Text: "first line\nsecond line"}
	out := BuildQueue("alice-claude", &queue.Status{}, &task)
	if out.Task == nil || out.Task.ID != "msg-9" {
		t.Fatalf("out = %+v", out)
	}
	if !out.Busy {
		t.Error("a fresh dispatch must report busy")
	}
	if out.Task.Summary != "first line" {
		t.Errorf("summary = %q", out.Task.Summary)
	}
}

func TestBuildQueueDispatchedNotDoubleCounted(t *testing.T) {
	task := inbox.Record{ID: "msg-5", From: "bob", Priority: inbox.PriorityHigh, Text: "urgent"}
	status := &queue.Status{
		Pending: []inbox.Record{
			task,
			{ID: "msg-6", From: "carol", Priority: inbox.PriorityNormal, Text: "later"},
		},
		PendingCount: 2,
	}
	out := BuildQueue("alice-claude", status, &task)
	if out.Task == nil || out.Task.ID != "msg-5" {
		t.Fatalf("out = %+v", out)
	}
	if len(out.Pending) != 1 || out.Pending[0].ID != "msg-6" {
		t.Errorf("pending = %+v, want only msg-6", out.Pending)
	}
	if out.PendingCount != 1 {
		t.Errorf("pending_count = %d, want 1", out.PendingCount)
	}
}

func TestWriteJSONIndented(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, ErrorResponse(errors.New("boom"))); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	s := buf.String()
	if !strings.Contains(s, "  \"success\": false") || !strings.Contains(s, `"error": "boom"`) {
		t.Errorf("output = %s", s)
	}
	if !strings.HasSuffix(s, "\n") {
		t.Error("output not newline-terminated")
	}
}

func TestNewResponseTimestamp(t *testing.T) {
	r := NewResponse(true)
	if _, err := time.Parse(time.RFC3339, r.Timestamp); err != nil {
		t.Errorf("timestamp %q not RFC3339: %v", r.Timestamp, err)
	}
}
