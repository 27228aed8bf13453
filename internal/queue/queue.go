// Package queue implements the agent's single-in-flight task discipline
// over an agent inbox. Dispatch hands the agent at most one task at a
// time; everything else stays pending until the working task completes.
package queue

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Dicklesworthstone/dcmsg/internal/inbox"
)

// DefaultPendingLimit is how many pending tasks a status report shows.
const DefaultPendingLimit = 5

// ErrBusy reports a dispatch attempted while a task is already working.
var ErrBusy = errors.New("queue: a task is already in flight")

// Queue drives one agent inbox. Dispatches and completions on the same
// queue are serialized by the internal mutex; the inbox store's advisory
// file lock covers concurrent processes.
type Queue struct {
	store        *inbox.Store
	handle       string // the agent handle, e.g. alice-claude
	pendingLimit int

	mu sync.Mutex
}

func New(store *inbox.Store, handle string, pendingLimit int) *Queue {
	if pendingLimit <= 0 {
		pendingLimit = DefaultPendingLimit
	}
	return &Queue{store: store, handle: handle, pendingLimit: pendingLimit}
}

func (q *Queue) Handle() string { return q.handle }

// Status is the read-only queue view: the working task if any, the first
// few pending, and how many have completed.
type Status struct {
	Working      *inbox.Record
	WorkingCount int
	Pending      []inbox.Record
	PendingCount int
	Completed    int
}

// scan splits the agent inbox into working and pending, with pending in
// dispatch order: high priority first, then id ascending.
func (q *Queue) scan() (working, pending []inbox.Record, completed int, err error) {
	recs, err := q.store.Scan(q.handle, inbox.Filter{})
	if err != nil {
		return nil, nil, 0, err
	}
	for _, r := range recs {
		switch {
		case r.TaskStatus == inbox.TaskWorking:
			working = append(working, r)
		case r.TaskStatus == inbox.TaskDone:
			completed++
		case r.Status == inbox.StatusUnread:
			pending = append(pending, r)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].Priority != pending[j].Priority {
			return pending[i].Priority == inbox.PriorityHigh
		}
		return pending[i].ID < pending[j].ID
	})
	return working, pending, completed, nil
}

// Status reconciles the inbox records with the state file. The records
// win; the state file contributes completions the inbox no longer holds
// (e.g. deleted records).
func (q *Queue) Status() (*Status, error) {
	working, pending, completed, err := q.scan()
	if err != nil {
		return nil, err
	}
	st, err := loadState(q.store.Root(), q.store.Space())
	if err != nil {
		return nil, err
	}
	if len(st.Completed) > completed {
		completed = len(st.Completed)
	}

	out := &Status{
		WorkingCount: len(working),
		PendingCount: len(pending),
		Completed:    completed,
	}
	if len(working) > 0 {
		out.Working = &working[0]
	}
	if len(pending) > q.pendingLimit {
		pending = pending[:q.pendingLimit]
	}
	out.Pending = pending
	return out, nil
}

// Dispatch selects the next task. When a task is already working it
// returns ErrBusy together with the current status; otherwise the head
// pending record is marked working and returned. No pending work returns
// (nil, status, nil).
func (q *Queue) Dispatch(now time.Time) (*inbox.Record, *Status, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	status, err := q.Status()
	if err != nil {
		return nil, nil, err
	}
	if status.WorkingCount > 0 {
		return nil, status, ErrBusy
	}
	if len(status.Pending) == 0 {
		return nil, status, nil
	}

	task := status.Pending[0]
	if err := q.store.MarkWorking(q.handle, task.ID, now); err != nil {
		return nil, nil, fmt.Errorf("queue: dispatch %s: %w", task.ID, err)
	}

	st, err := loadState(q.store.Root(), q.store.Space())
	if err != nil {
		return nil, nil, err
	}
	id := task.ID
	st.CurrentTask = &id
	if err := saveState(q.store.Root(), q.store.Space(), st); err != nil {
		return nil, nil, err
	}

	task.Status = inbox.StatusRead
	task.TaskStatus = inbox.TaskWorking
	return &task, status, nil
}

// Complete finishes the task with the given id: the record gains :done:,
// TASK_STATUS done and a COMPLETED_AT stamp, and the state file records
// the completion.
func (q *Queue) Complete(id string, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.CompleteTask(q.handle, id, now); err != nil {
		return err
	}
	st, err := loadState(q.store.Root(), q.store.Space())
	if err != nil {
		return err
	}
	st.markCompleted(id)
	return saveState(q.store.Root(), q.store.Space(), st)
}

// Clear abandons the working task, if any: the record goes back to
// :unread: with its task properties removed, and the in-flight slot is
// freed. Returns the cleared id, empty when nothing was working.
func (q *Queue) Clear() (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	working, _, _, err := q.scan()
	if err != nil {
		return "", err
	}
	cleared := ""
	for _, rec := range working {
		if err := q.store.ResetTask(q.handle, rec.ID); err != nil {
			return cleared, err
		}
		cleared = rec.ID
	}
	st, err := loadState(q.store.Root(), q.store.Space())
	if err != nil {
		return cleared, err
	}
	st.CurrentTask = nil
	return cleared, saveState(q.store.Root(), q.store.Space(), st)
}
