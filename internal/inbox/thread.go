package inbox

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

const threadCacheSize = 512

// ThreadResolver computes the thread id a reply belongs to. A reply
// adopts its parent's THREAD when the parent record is on disk and has
// one; otherwise the thread is synthesized as thread-<parent-id>, so
// replies to an unlocatable parent still converge on one identifier.
// Resolution is never transitive: each record stores the thread of its
// immediate parent.
type ThreadResolver struct {
	store *Store
	cache *lru.Cache[string, string]
}

func NewThreadResolver(store *Store) *ThreadResolver {
	cache, _ := lru.New[string, string](threadCacheSize)
	return &ThreadResolver{store: store, cache: cache}
}

// Resolve returns the thread id for a reply to parentID.
func (r *ThreadResolver) Resolve(parentID string) string {
	if t, ok := r.cache.Get(parentID); ok {
		return t
	}
	thread := "thread-" + parentID
	if rec, err := r.store.Locate(parentID); err == nil && rec.Thread != "" {
		thread = rec.Thread
	}
	r.cache.Add(parentID, thread)
	return thread
}
