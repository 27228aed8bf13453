package inbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Dicklesworthstone/dcmsg/internal/util"
)

// ErrNotFound reports that no record with the requested id exists.
var ErrNotFound = errors.New("message not found")

// Store reads and writes org inboxes under a data root. New messages go
// to the default space; reads and mutations cover every space under the
// root, because a handle may have inboxes in several of them.
type Store struct {
	root  string
	space string
	ids   *IDGen

	mu sync.Mutex // serializes rewrites within this process
}

func NewStore(root, space string) *Store {
	return &Store{root: root, space: space, ids: NewIDGen()}
}

func (s *Store) Root() string  { return s.root }
func (s *Store) Space() string { return s.space }

// Dir returns the inbox directory of the default space.
func (s *Store) Dir() string {
	return filepath.Join(s.root, s.space, "org", "inboxes")
}

// PathFor returns the default-space inbox file for a handle.
func (s *Store) PathFor(handle string) string {
	return filepath.Join(s.Dir(), handle+".org")
}

// Files returns every existing inbox file for the handle across all
// spaces under the root, in sorted order.
func (s *Store) Files(handle string) ([]string, error) {
	pattern := filepath.Join(s.root, "*", "org", "inboxes", handle+".org")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("inbox: glob %s: %w", pattern, err)
	}
	sort.Strings(matches)
	return matches, nil
}

// Append writes the record to the recipient's inbox in the default
// space, creating directories as needed. ID, Time, Priority and Status
// are filled with defaults when unset. The entry goes out in one write
// call on an O_APPEND handle under the advisory lock, so records from
// concurrent writers never interleave. Returns the assigned id.
func (s *Store) Append(rec *Record) (string, error) {
	if rec.To == "" {
		return "", fmt.Errorf("inbox: recipient required")
	}
	if !util.ValidHandle(rec.To) {
		return "", fmt.Errorf("inbox: invalid recipient %q", rec.To)
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	if rec.ID == "" {
		rec.ID = s.ids.Next(rec.From, rec.Time)
	}
	if rec.Priority == "" {
		rec.Priority = PriorityNormal
	}
	if rec.Status == "" {
		rec.Status = StatusUnread
	}

	if err := os.MkdirAll(s.Dir(), 0o755); err != nil {
		return "", fmt.Errorf("inbox: create directory: %w", err)
	}
	path := s.PathFor(rec.To)

	lock, err := lockFile(path)
	if err != nil {
		return "", err
	}
	defer lock.unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("inbox: open %s: %w", path, err)
	}
	if _, err := f.Write([]byte(rec.Format())); err != nil {
		f.Close()
		return "", fmt.Errorf("inbox: append to %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("inbox: close %s: %w", path, err)
	}
	return rec.ID, nil
}

// ScanFile parses one inbox file. A missing file yields no records and
// no error.
func ScanFile(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("inbox: read %s: %w", path, err)
	}
	return parseRecords(path, strings.Split(string(data), "\n")), nil
}

// Filter narrows a Scan. The zero value matches every record.
type Filter struct {
	Status Status
}

func (f Filter) matches(r *Record) bool {
	return f.Status == "" || r.Status == f.Status
}

// Scan returns the handle's records across all spaces, sorted by id
// ascending, which is chronological order.
func (s *Store) Scan(handle string, filter Filter) ([]Record, error) {
	files, err := s.Files(handle)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, path := range files {
		recs, err := ScanFile(path)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			if filter.matches(&r) {
				out = append(out, r)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// HasID reports whether any of the handle's inboxes already holds a
// record with the exact id.
func (s *Store) HasID(handle, id string) (bool, error) {
	recs, err := s.Scan(handle, Filter{})
	if err != nil {
		return false, err
	}
	for i := range recs {
		if recs[i].ID == id {
			return true, nil
		}
	}
	return false, nil
}

// Mark sets the status tag on every record matching id in every inbox
// file for the handle. StatusRead clears the tag. Returns ErrNotFound
// when no record matched; the files are left untouched in that case.
func (s *Store) Mark(handle, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.Files(handle)
	if err != nil {
		return err
	}
	total := 0
	for _, path := range files {
		n, err := mutateFile(path, func(rec *Record, span []string) ([]string, bool) {
			if rec.ID != id {
				return nil, false
			}
			span[0] = setHeaderTag(span[0], status)
			return span, true
		})
		if err != nil {
			return err
		}
		total += n
	}
	if total == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete rewrites the handle's inboxes with the identified record
// removed. Deleting an absent id is not an error; the returned bool
// reports whether anything was removed.
func (s *Store) Delete(handle, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.Files(handle)
	if err != nil {
		return false, err
	}
	total := 0
	for _, path := range files {
		n, err := mutateFile(path, func(rec *Record, span []string) ([]string, bool) {
			if rec.ID != id {
				return nil, false
			}
			return []string{}, true
		})
		if err != nil {
			return false, err
		}
		total += n
	}
	return total > 0, nil
}

// MarkWorking dispatches a task: the :unread: tag comes off the header
// and the property block gains TASK_STATUS working plus a STARTED_AT
// stamp.
func (s *Store) MarkWorking(handle, id string, now time.Time) error {
	return s.setTask(handle, id, StatusRead, TaskWorking, "STARTED_AT", now)
}

// CompleteTask finishes a task: the header gains :done: and the
// property block gets TASK_STATUS done plus a COMPLETED_AT stamp.
func (s *Store) CompleteTask(handle, id string, now time.Time) error {
	return s.setTask(handle, id, StatusDone, TaskDone, "COMPLETED_AT", now)
}

func (s *Store) setTask(handle, id string, status Status, task, stampKey string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.Files(handle)
	if err != nil {
		return err
	}
	stamp := now.Format(HeaderTimeLayout)
	total := 0
	for _, path := range files {
		n, err := mutateFile(path, func(rec *Record, span []string) ([]string, bool) {
			if rec.ID != id {
				return nil, false
			}
			span[0] = setHeaderTag(span[0], status)
			rel := rec.propsEnd - rec.headerLine
			span, rel = setSpanProp(span, rel, "TASK_STATUS", task)
			span, _ = setSpanProp(span, rel, stampKey, stamp)
			return span, true
		})
		if err != nil {
			return err
		}
		total += n
	}
	if total == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetTask returns a dispatched task to the pending pool: the header
// regains :unread: and the TASK_STATUS and STARTED_AT properties are
// removed.
func (s *Store) ResetTask(handle, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.Files(handle)
	if err != nil {
		return err
	}
	total := 0
	for _, path := range files {
		n, err := mutateFile(path, func(rec *Record, span []string) ([]string, bool) {
			if rec.ID != id {
				return nil, false
			}
			span[0] = setHeaderTag(span[0], StatusUnread)
			rel := rec.propsEnd - rec.headerLine
			span, rel = removeSpanProp(span, rel, "TASK_STATUS")
			span, _ = removeSpanProp(span, rel, "STARTED_AT")
			return span, true
		})
		if err != nil {
			return err
		}
		total += n
	}
	if total == 0 {
		return ErrNotFound
	}
	return nil
}

// Locate finds the record with the exact id in any inbox file under the
// root. Used for thread resolution, where the parent may live in anyone's
// inbox.
func (s *Store) Locate(id string) (*Record, error) {
	pattern := filepath.Join(s.root, "*", "org", "inboxes", "*.org")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("inbox: glob %s: %w", pattern, err)
	}
	sort.Strings(matches)
	for _, path := range matches {
		recs, err := ScanFile(path)
		if err != nil {
			continue
		}
		for i := range recs {
			if recs[i].ID == id {
				return &recs[i], nil
			}
		}
	}
	return nil, ErrNotFound
}

// Match returns records whose id contains idPart, searching the inbox
// files of each given handle. Supports marking by the short id suffix.
func (s *Store) Match(handles []string, idPart string) ([]Record, error) {
	var out []Record
	for _, handle := range handles {
		recs, err := s.Scan(handle, Filter{})
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			if strings.Contains(r.ID, idPart) {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

// mutateFile rewrites one inbox file under its advisory lock. fn sees
// each record together with a copy of its line span and returns the
// replacement span (nil, false to leave the record alone). Untouched
// lines are carried over byte for byte; the file is only replaced when
// at least one record changed. Returns how many records changed.
func mutateFile(path string, fn func(rec *Record, span []string) ([]string, bool)) (int, error) {
	lock, err := lockFile(path)
	if err != nil {
		return 0, err
	}
	defer lock.unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("inbox: read %s: %w", path, err)
	}
	lines := strings.Split(string(data), "\n")
	recs := parseRecords(path, lines)

	changed := 0
	// Back to front so earlier spans keep their line numbers when a
	// rewrite changes a record's length.
	for i := len(recs) - 1; i >= 0; i-- {
		rec := &recs[i]
		span := make([]string, rec.endLine-rec.headerLine)
		copy(span, lines[rec.headerLine:rec.endLine])
		newSpan, ok := fn(rec, span)
		if !ok {
			continue
		}
		out := make([]string, 0, len(lines)-len(span)+len(newSpan))
		out = append(out, lines[:rec.headerLine]...)
		out = append(out, newSpan...)
		out = append(out, lines[rec.endLine:]...)
		lines = out
		changed++
	}
	if changed == 0 {
		return 0, nil
	}
	if err := util.AtomicWriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return 0, fmt.Errorf("inbox: rewrite %s: %w", path, err)
	}
	return changed, nil
}

// setSpanProp replaces the value of key inside the record's property
// block, or inserts the property just above :END: when absent. propsEnd
// is the span-relative index of the :END: line; the possibly shifted
// index is returned.
func setSpanProp(span []string, propsEnd int, key, value string) ([]string, int) {
	needle := ":" + key + ":"
	for i := 1; i < propsEnd; i++ {
		trimmed := strings.TrimSpace(span[i])
		if len(trimmed) >= len(needle) && strings.EqualFold(trimmed[:len(needle)], needle) {
			span[i] = needle + " " + value
			return span, propsEnd
		}
	}
	out := make([]string, 0, len(span)+1)
	out = append(out, span[:propsEnd]...)
	out = append(out, needle+" "+value)
	out = append(out, span[propsEnd:]...)
	return out, propsEnd + 1
}

// removeSpanProp drops the property line for key from the record's
// property block if present. propsEnd is the span-relative index of the
// :END: line; the possibly shifted index is returned.
func removeSpanProp(span []string, propsEnd int, key string) ([]string, int) {
	needle := ":" + key + ":"
	for i := 1; i < propsEnd; i++ {
		trimmed := strings.TrimSpace(span[i])
		if len(trimmed) >= len(needle) && strings.EqualFold(trimmed[:len(needle)], needle) {
			out := make([]string, 0, len(span)-1)
			out = append(out, span[:i]...)
			out = append(out, span[i+1:]...)
			return out, propsEnd - 1
		}
	}
	return span, propsEnd
}

// fileLock is an advisory lock serializing writers of one inbox file
// across processes. It lives on a sidecar file so the rename inside
// AtomicWriteFile cannot swap the locked inode out from under a waiter.
type fileLock struct {
	f *os.File
}

func lockFile(path string) (*fileLock, error) {
	f, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("inbox: open lock for %s: %w", path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("inbox: lock %s: %w", path, err)
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) unlock() {
	syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	l.f.Close()
}
