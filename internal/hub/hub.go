package hub

import (
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"lectern/pkg/interfaces"
)

// Hub tracks live connections per session and fans messages out to them.
// ARCHITECTURAL DISCOVERY: The global map only hands out per-session buckets;
// membership changes and broadcasts lock the bucket, so a busy session never
// stalls traffic in another one.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*bucket
	onEmpty  func(sessionID string)
}

type bucket struct {
	mu      sync.Mutex
	conns   map[string]interfaces.Connection
	sendMu  sync.Mutex // serializes broadcasts so each connection sees call order
	removed atomic.Bool
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		sessions: make(map[string]*bucket),
	}
}

// SetEmptyHandler registers the callback invoked when a session's last
// connection goes away. It runs after all hub locks are released.
func (h *Hub) SetEmptyHandler(fn func(sessionID string)) {
	h.mu.Lock()
	h.onEmpty = fn
	h.mu.Unlock()
}

// bucketFor returns the live bucket for sessionID, creating it if asked.
func (h *Hub) bucketFor(sessionID string, create bool) *bucket {
	if !create {
		h.mu.RLock()
		b := h.sessions[sessionID]
		h.mu.RUnlock()
		if b == nil || b.removed.Load() {
			return nil
		}
		return b
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	b := h.sessions[sessionID]
	if b == nil || b.removed.Load() {
		b = &bucket{conns: make(map[string]interfaces.Connection)}
		h.sessions[sessionID] = b
	}
	return b
}

func (h *Hub) removeBucket(sessionID string, b *bucket) {
	h.mu.Lock()
	if h.sessions[sessionID] == b {
		delete(h.sessions, sessionID)
	}
	h.mu.Unlock()
}

func (h *Hub) notifyEmpty(sessionID string) {
	h.mu.RLock()
	fn := h.onEmpty
	h.mu.RUnlock()
	if fn != nil {
		fn(sessionID)
	}
}

// Connect adds conn to its session, creating the set on first use.
func (h *Hub) Connect(sessionID string, conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if sessionID == "" {
		return ErrEmptySessionID
	}

	for {
		b := h.bucketFor(sessionID, true)
		b.mu.Lock()
		// A bucket emptied between lookup and lock must not take new members
		if b.removed.Load() {
			b.mu.Unlock()
			continue
		}
		if _, exists := b.conns[conn.ID()]; exists {
			b.mu.Unlock()
			return ErrDuplicateID
		}
		b.conns[conn.ID()] = conn
		b.mu.Unlock()
		return nil
	}
}

// Disconnect removes conn. Unknown connections are ignored, so repeated
// calls are harmless and the empty handler fires once per emptying.
func (h *Hub) Disconnect(sessionID string, conn interfaces.Connection) {
	if conn == nil {
		return
	}
	b := h.bucketFor(sessionID, false)
	if b == nil {
		return
	}

	b.mu.Lock()
	if current, ok := b.conns[conn.ID()]; !ok || current != conn {
		b.mu.Unlock()
		return
	}
	delete(b.conns, conn.ID())
	empty := len(b.conns) == 0
	if empty {
		b.removed.Store(true)
	}
	b.mu.Unlock()

	if empty {
		h.removeBucket(sessionID, b)
		h.notifyEmpty(sessionID)
	}
}

// Broadcast sends msg to every connection of the session and returns how
// many sends succeeded. Failing connections are pruned and closed after the
// pass; the rest of the session still receives the message.
func (h *Hub) Broadcast(sessionID string, msg interface{}) int {
	b := h.bucketFor(sessionID, false)
	if b == nil {
		return 0
	}

	delivered, emptied := h.broadcast(sessionID, b, msg)
	if emptied {
		h.removeBucket(sessionID, b)
		h.notifyEmpty(sessionID)
	}
	return delivered
}

func (h *Hub) broadcast(sessionID string, b *bucket, msg interface{}) (int, bool) {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	b.mu.Lock()
	targets := make([]interfaces.Connection, 0, len(b.conns))
	for _, c := range b.conns {
		targets = append(targets, c)
	}
	b.mu.Unlock()

	var failed []interfaces.Connection
	delivered := 0
	for _, c := range targets {
		if err := c.WriteJSON(msg); err != nil {
			log.Printf("[hub] send to %s in session %s failed: %v", c.ID(), sessionID, err)
			failed = append(failed, c)
			continue
		}
		delivered++
	}

	if len(failed) == 0 {
		return delivered, false
	}

	b.mu.Lock()
	pruned := failed[:0]
	for _, c := range failed {
		if current, ok := b.conns[c.ID()]; ok && current == c {
			delete(b.conns, c.ID())
			pruned = append(pruned, c)
		}
	}
	emptied := len(pruned) > 0 && len(b.conns) == 0
	if emptied {
		b.removed.Store(true)
	}
	b.mu.Unlock()

	for _, c := range pruned {
		_ = c.Close()
	}

	return delivered, emptied
}

// DropSession removes and closes every connection of a session without
// invoking the empty handler. Used when the lifecycle closes a session itself.
func (h *Hub) DropSession(sessionID string) int {
	b := h.bucketFor(sessionID, false)
	if b == nil {
		return 0
	}

	b.mu.Lock()
	b.removed.Store(true)
	conns := b.conns
	b.conns = make(map[string]interfaces.Connection)
	b.mu.Unlock()
	h.removeBucket(sessionID, b)

	for _, c := range conns {
		_ = c.Close()
	}
	return len(conns)
}

// Count returns the number of connections in a session
func (h *Hub) Count(sessionID string) int {
	b := h.bucketFor(sessionID, false)
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// CountRole returns the number of connections with the given role
func (h *Hub) CountRole(sessionID, role string) int {
	b := h.bucketFor(sessionID, false)
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, c := range b.conns {
		if c.Role() == role {
			n++
		}
	}
	return n
}

// ConnectionIDs returns the sorted ids connected to a session
func (h *Hub) ConnectionIDs(sessionID string) []string {
	b := h.bucketFor(sessionID, false)
	if b == nil {
		return nil
	}
	b.mu.Lock()
	ids := make([]string, 0, len(b.conns))
	for id := range b.conns {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// Stats returns hub statistics for monitoring
func (h *Hub) Stats() map[string]int {
	h.mu.RLock()
	buckets := make([]*bucket, 0, len(h.sessions))
	for _, b := range h.sessions {
		buckets = append(buckets, b)
	}
	h.mu.RUnlock()

	total := 0
	for _, b := range buckets {
		b.mu.Lock()
		total += len(b.conns)
		b.mu.Unlock()
	}

	return map[string]int{
		"total_connections": total,
		"active_sessions":   len(buckets),
	}
}
