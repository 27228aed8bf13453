// Package watch surfaces new inbox records to the client. A coarse poll
// is the source of truth; an fsnotify subscription on the inbox
// directory only accelerates the next poll. A TTL cache of seen ids
// keeps the full-file rescans from re-surfacing old records.
package watch

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	gocache "github.com/patrickmn/go-cache"

	"github.com/Dicklesworthstone/dcmsg/internal/inbox"
)

const (
	// MinInterval floors the poll period; the inbox is small but a
	// sub-second poll is pure waste.
	MinInterval = time.Second

	seenTTL   = 24 * time.Hour
	seenSweep = 10 * time.Minute
)

// Notifier receives a callback per newly surfaced message. The desktop
// notification subsystem stays external; the default is a no-op.
type Notifier interface {
	Notify(title, body string) error
}

// NopNotifier ignores every notification.
type NopNotifier struct{}

func (NopNotifier) Notify(string, string) error { return nil }

// Watcher polls one handle's inboxes and emits records it has not
// surfaced before.
type Watcher struct {
	store    *inbox.Store
	handle   string
	interval time.Duration
	notifier Notifier

	seen *gocache.Cache
	out  chan inbox.Record
}

func New(store *inbox.Store, handle string, interval time.Duration, notifier Notifier) *Watcher {
	if interval < MinInterval {
		interval = MinInterval
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Watcher{
		store:    store,
		handle:   handle,
		interval: interval,
		notifier: notifier,
		seen:     gocache.New(seenTTL, seenSweep),
		out:      make(chan inbox.Record, 64),
	}
}

// Records returns the stream of newly surfaced records. Closed when Run
// exits.
func (w *Watcher) Records() <-chan inbox.Record { return w.out }

// MarkSeen pre-seeds an id so the next poll does not re-surface it.
// Used for records the client itself just appended.
func (w *Watcher) MarkSeen(id string) {
	w.seen.SetDefault(id, struct{}{})
}

// Run polls until ctx is cancelled. The first poll runs immediately and
// seeds the seen cache without emitting, so a restart does not replay
// the whole inbox.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.out)

	w.poll(ctx, false)

	wake := make(chan struct{}, 1)
	if err := os.MkdirAll(w.store.Dir(), 0o755); err == nil {
		if fw, err := fsnotify.NewWatcher(); err == nil {
			defer fw.Close()
			if err := fw.Add(w.store.Dir()); err == nil {
				go func() {
					for {
						select {
						case <-ctx.Done():
							return
						case _, ok := <-fw.Events:
							if !ok {
								return
							}
							select {
							case wake <- struct{}{}:
							default:
							}
						case _, ok := <-fw.Errors:
							if !ok {
								return
							}
						}
					}
				}()
			}
		} else {
			slog.Debug("inbox watcher running without fsnotify", "err", err)
		}
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx, true)
		case <-wake:
			w.poll(ctx, true)
			ticker.Reset(w.interval)
		}
	}
}

// poll rescans the handle's inboxes and emits unseen unread records.
func (w *Watcher) poll(ctx context.Context, emit bool) {
	recs, err := w.store.Scan(w.handle, inbox.Filter{})
	if err != nil {
		slog.Warn("inbox poll failed", "handle", w.handle, "err", err)
		return
	}
	for _, rec := range recs {
		if _, ok := w.seen.Get(rec.ID); ok {
			continue
		}
		w.seen.SetDefault(rec.ID, struct{}{})
		if !emit || rec.Status != inbox.StatusUnread {
			continue
		}
		select {
		case w.out <- rec:
			if err := w.notifier.Notify("Message from "+rec.From, rec.Text); err != nil {
				slog.Debug("notify failed", "err", err)
			}
		case <-ctx.Done():
			return
		default:
			slog.Debug("watcher consumer behind, dropping record", "id", rec.ID)
		}
	}
}
