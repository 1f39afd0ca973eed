// ABOUTME: Thread-safe TTL session cache for MCP clients.
// ABOUTME: Size-limited with O(1) oldest-first eviction and periodic expiry cleanup.

package mcp

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yubingjiaocn/mcp-gateway-registry-sub003/internal/auth"
)

// Session cache bounds.
const (
	defaultSessionTTL = 8 * time.Hour
	maxSessions       = 10_000
)

// session tracks an initialized MCP client.
type session struct {
	id        string
	principal *auth.Principal
	createdAt time.Time

	lastSeen time.Time
	element  *list.Element
}

// sessionStore holds active sessions with a sliding TTL. At capacity
// the least-recently-used session is evicted. Uses a doubly-linked
// list to maintain recency order for O(1) eviction.
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*session
	order    *list.List // session ids, least recently seen at front
	ttl      time.Duration
	maxSize  int
	done     chan struct{}
	closed   bool
}

// newSessionStore creates a store and starts its cleanup goroutine.
func newSessionStore(ttl time.Duration) *sessionStore {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	s := &sessionStore{
		sessions: make(map[string]*session),
		order:    list.New(),
		ttl:      ttl,
		maxSize:  maxSessions,
		done:     make(chan struct{}),
	}
	go s.cleanup()
	return s
}

// create opens a session for the principal and returns it.
func (s *sessionStore) create(principal *auth.Principal) *session {
	now := time.Now()
	sess := &session{
		id:        uuid.New().String(),
		principal: principal,
		createdAt: now,
		lastSeen:  now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.sessions) >= s.maxSize {
		s.evictOldest()
	}
	sess.element = s.order.PushBack(sess.id)
	s.sessions[sess.id] = sess
	return sess
}

// get returns a live session and refreshes its TTL. Expired sessions
// are removed and reported as missing.
func (s *sessionStore) get(id string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	if time.Since(sess.lastSeen) > s.ttl {
		s.removeLocked(sess)
		return nil, false
	}

	sess.lastSeen = time.Now()
	s.order.MoveToBack(sess.element)
	return sess, true
}

// delete terminates a session. Returns false if it did not exist.
func (s *sessionStore) delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	s.removeLocked(sess)
	return true
}

// removeLocked drops a session. Must be called with mu held.
func (s *sessionStore) removeLocked(sess *session) {
	s.order.Remove(sess.element)
	delete(s.sessions, sess.id)
}

// evictOldest removes the least recently seen session. Must be called
// with mu held.
func (s *sessionStore) evictOldest() {
	front := s.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(string)
	if sess, ok := s.sessions[id]; ok {
		s.removeLocked(sess)
	}
}

// cleanup periodically removes expired sessions.
func (s *sessionStore) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runCleanup()
		case <-s.done:
			return
		}
	}
}

func (s *sessionStore) runCleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, sess := range s.sessions {
		if now.Sub(sess.lastSeen) > s.ttl {
			s.removeLocked(sess)
		}
	}
}

// close stops the cleanup goroutine. Safe to call multiple times.
func (s *sessionStore) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		close(s.done)
		s.closed = true
	}
}
