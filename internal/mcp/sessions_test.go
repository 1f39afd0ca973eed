package mcp

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yubingjiaocn/mcp-gateway-registry-sub003/internal/auth"
)

func principalFor(subject string) *auth.Principal {
	return &auth.Principal{Subject: subject, Method: auth.MethodIngressToken}
}

func TestSessionStore_CreateAndGet(t *testing.T) {
	s := newSessionStore(time.Minute)
	defer s.close()

	sess := s.create(principalFor("alice"))
	require.NotEmpty(t, sess.id)

	got, ok := s.get(sess.id)
	require.True(t, ok)
	assert.Equal(t, "alice", got.principal.Subject)

	_, ok = s.get("nope")
	assert.False(t, ok)
}

func TestSessionStore_Delete(t *testing.T) {
	s := newSessionStore(time.Minute)
	defer s.close()

	sess := s.create(principalFor("alice"))
	assert.True(t, s.delete(sess.id))
	assert.False(t, s.delete(sess.id))

	_, ok := s.get(sess.id)
	assert.False(t, ok)
}

func TestSessionStore_Expiry(t *testing.T) {
	s := newSessionStore(50 * time.Millisecond)
	defer s.close()

	sess := s.create(principalFor("alice"))
	time.Sleep(80 * time.Millisecond)

	_, ok := s.get(sess.id)
	assert.False(t, ok)
}

func TestSessionStore_GetRefreshesTTL(t *testing.T) {
	s := newSessionStore(100 * time.Millisecond)
	defer s.close()

	sess := s.create(principalFor("alice"))

	// Keep touching the session past its original TTL.
	for i := 0; i < 3; i++ {
		time.Sleep(60 * time.Millisecond)
		_, ok := s.get(sess.id)
		require.True(t, ok, "touch %d", i)
	}
}

func TestSessionStore_EvictsOldestAtCapacity(t *testing.T) {
	s := newSessionStore(time.Minute)
	defer s.close()
	s.maxSize = 3

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, s.create(principalFor(fmt.Sprintf("u%d", i))).id)
	}

	// Touch the oldest so the second-oldest becomes the eviction victim.
	_, ok := s.get(ids[0])
	require.True(t, ok)

	s.create(principalFor("u3"))

	_, ok = s.get(ids[0])
	assert.True(t, ok)
	_, ok = s.get(ids[1])
	assert.False(t, ok)
	_, ok = s.get(ids[2])
	assert.True(t, ok)
}

func TestSessionStore_CloseIdempotent(t *testing.T) {
	s := newSessionStore(time.Minute)
	s.close()
	s.close()
}
