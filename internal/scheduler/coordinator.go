package scheduler

import (
	"context"
	"sync"

	"github.com/resident-x/go-solarsight/internal/domain"
)

// Token identifies one computation request for a (site, view) pair.
type Token struct {
	SiteID string
	View   domain.View
	Seq    uint64
}

type pairKey struct {
	siteID string
	view   domain.View
}

func (t Token) key() pairKey {
	return pairKey{siteID: t.SiteID, view: t.View}
}

type inflight struct {
	seq    uint64
	cancel context.CancelFunc
}

// Coordinator keeps at most one in-flight computation per (site, view). Beginning a new request
// cancels the previous one, and only the most recently issued token may commit its result.
type Coordinator struct {
	mu       sync.Mutex
	latest   map[pairKey]uint64
	inflight map[pairKey]inflight
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		latest:   make(map[pairKey]uint64),
		inflight: make(map[pairKey]inflight),
	}
}

// Begin registers a new request, cancelling any older in-flight request for the same pair.
// The returned context is cancelled when a newer request begins or Done is called.
func (c *Coordinator) Begin(ctx context.Context, siteID string, view domain.View) (context.Context, Token) {
	key := pairKey{siteID: siteID, view: view}
	reqCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.inflight[key]; ok {
		prev.cancel()
	}

	c.latest[key]++
	seq := c.latest[key]
	c.inflight[key] = inflight{seq: seq, cancel: cancel}

	return reqCtx, Token{SiteID: siteID, View: view, Seq: seq}
}

// Commit reports whether the token is still the latest for its pair. A false result means the
// caller's result is stale and must be dropped.
func (c *Coordinator) Commit(tok Token) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest[tok.key()] == tok.Seq
}

// Done releases the request's context. It is safe to call after a newer request has begun.
func (c *Coordinator) Done(tok Token) {
	key := tok.key()

	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.inflight[key]; ok && cur.seq == tok.Seq {
		cur.cancel()
		delete(c.inflight, key)
	}
}

// InFlight returns the number of pairs with a running request.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

// Forget cancels and drops all state for a site.
func (c *Coordinator) Forget(siteID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, cur := range c.inflight {
		if key.siteID == siteID {
			cur.cancel()
			delete(c.inflight, key)
		}
	}
	for key := range c.latest {
		if key.siteID == siteID {
			delete(c.latest, key)
		}
	}
}
