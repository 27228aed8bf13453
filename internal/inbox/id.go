package inbox

import (
	"fmt"
	"sync"
	"time"
)

// IDGen issues message ids of the form msg-YYYYMMDD-HHMMSS-<author>,
// always from the UTC clock. Two ids minted within the same second for
// the same author get a monotonic numeric suffix so ids stay unique per
// process and keep sorting chronologically.
type IDGen struct {
	mu   sync.Mutex
	last string
	seq  int
}

func NewIDGen() *IDGen {
	return &IDGen{}
}

// Next returns the id for a message authored by author at time t.
func (g *IDGen) Next(author string, t time.Time) string {
	u := t.UTC()
	base := fmt.Sprintf("msg-%s-%s", u.Format("20060102-150405"), author)

	g.mu.Lock()
	defer g.mu.Unlock()
	if base != g.last {
		g.last = base
		g.seq = 1
		return base
	}
	g.seq++
	return fmt.Sprintf("%s-%d", base, g.seq)
}
