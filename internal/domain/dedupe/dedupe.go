// Package dedupe guards against concurrent duplicate submissions.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

// Default guard configuration constants.
const (
	defaultMaxSize = 10000
)

// Guard tracks in-flight submissions by key. A submission is claimed
// at enqueue time and released when its job reaches a terminal state;
// resubmitting the same file afterwards is allowed and made harmless
// by the store's idempotent upsert.
type Guard interface {
	// Acquire atomically checks whether key is in flight and claims it
	// if not. Returns false when the key is already claimed.
	Acquire(ctx context.Context, key string) bool

	// Release frees a claimed key, allowing the same submission again.
	// Releasing an unclaimed key is a no-op.
	Release(ctx context.Context, key string)

	// Size returns the number of in-flight claims.
	Size() int64
}

// Key builds the in-flight identity of a submission from its owner and
// the SHA-256 of the file content.
func Key(userID, sourceHash string) string {
	return userID + ":" + sourceHash
}

// node is a single entry in the claim list.
type node struct {
	key  string
	next *node
}

// reset clears the node state for reuse.
func (n *node) reset() {
	n.key = ""
	n.next = nil
}

// inMemoryGuard implements Guard with a map for lookups and a linked
// list ordered newest-first so the oldest claim can be evicted when
// the guard is full. Eviction keeps a stuck job from blocking
// resubmission forever at the cost of letting its duplicate through.
// Nodes are pooled. A non-positive maxSize disables the bound.
type inMemoryGuard struct {
	mu       sync.RWMutex
	claims   map[string]*node
	head     *node
	maxSize  int
	size     atomic.Int64
	nodePool sync.Pool
}

// NewInMemoryGuard creates an in-flight guard with configuration
// options.
func NewInMemoryGuard(opts ...Option) Guard {
	g := &inMemoryGuard{
		maxSize: defaultMaxSize,
	}

	// Apply all options
	for _, opt := range opts {
		opt(g)
	}

	g.claims = make(map[string]*node)
	if g.maxSize > 0 {
		g.nodePool = sync.Pool{
			New: func() interface{} {
				return &node{}
			},
		}
	}

	return g
}

// Acquire atomically checks whether key is in flight and claims it if
// not.
func (g *inMemoryGuard) Acquire(ctx context.Context, key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.claims[key]; exists {
		return false
	}

	if g.maxSize > 0 {
		if len(g.claims) >= g.maxSize {
			g.evictOldest()
		}

		n := g.nodePool.Get().(*node)
		n.key = key
		n.next = g.head

		g.head = n
		g.claims[key] = n
	} else {
		g.claims[key] = nil
	}
	g.size.Add(1)
	return true
}

// Release frees a claimed key.
func (g *inMemoryGuard) Release(ctx context.Context, key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, exists := g.claims[key]
	if !exists {
		return
	}
	delete(g.claims, key)
	g.size.Add(-1)

	if g.maxSize <= 0 {
		return
	}

	// Unlink from the claim list
	if g.head == n {
		g.head = n.next
	} else {
		current := g.head
		for current != nil && current.next != n {
			current = current.next
		}
		if current != nil {
			current.next = n.next
		}
	}

	n.reset()
	g.nodePool.Put(n)
}

// evictOldest drops the tail of the claim list. Must be called with
// g.mu held.
func (g *inMemoryGuard) evictOldest() {
	if len(g.claims) == 0 || g.head == nil {
		return
	}

	current := g.head
	if current.next == nil {
		delete(g.claims, current.key)
		current.reset()
		g.nodePool.Put(current)
		g.head = nil
		g.size.Add(-1)
		return
	}

	var prev *node
	for current.next != nil {
		prev = current
		current = current.next
	}

	prev.next = nil
	delete(g.claims, current.key)
	current.reset()
	g.nodePool.Put(current)
	g.size.Add(-1)
}

// Size returns the number of in-flight claims.
func (g *inMemoryGuard) Size() int64 {
	return g.size.Load()
}
