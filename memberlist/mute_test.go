package memberlist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func seconds(n int64) *int64 {
	return &n
}

func TestMuteRegistrySetExpiry(t *testing.T) {
	r := NewMuteRegistry()
	now := time.UnixMilli(1_700_000_000_000)

	r.SetExpiry("alice", seconds(60), now)

	assert.True(t, r.IsMuted("alice", now))
	assert.True(t, r.IsMuted("alice", now.Add(59*time.Second)))
	assert.False(t, r.IsMuted("alice", now.Add(60*time.Second)))
	assert.False(t, r.IsMuted("alice", now.Add(61*time.Second)))
	assert.False(t, r.IsMuted("bob", now))

	r.SetExpiry("alice", nil, now)
	assert.False(t, r.IsMuted("alice", now))
	assert.Equal(t, 0, r.Len())
}

func TestMuteRegistryReplaceAll(t *testing.T) {
	r := NewMuteRegistry()
	now := time.UnixMilli(1_700_000_000_000)

	r.Mute("alice", time.Minute, now)

	mapping := map[string]int64{
		"bob":   now.Add(time.Hour).UnixMilli(),
		"carol": now.Add(-time.Hour).UnixMilli(),
	}
	r.ReplaceAll(mapping)

	assert.False(t, r.IsMuted("alice", now))
	assert.True(t, r.IsMuted("bob", now))
	assert.False(t, r.IsMuted("carol", now))

	// the registry owns its copy
	delete(mapping, "bob")
	assert.True(t, r.IsMuted("bob", now))

	r.ReplaceAll(nil)
	assert.Equal(t, 0, r.Len())
}

func TestMuteRegistryExpiry(t *testing.T) {
	r := NewMuteRegistry()
	now := time.UnixMilli(1_700_000_000_000)

	_, ok := r.NextExpiry(now)
	assert.False(t, ok)

	r.Mute("alice", 30*time.Second, now)
	r.Mute("bob", 10*time.Second, now)
	r.Mute("carol", 10*time.Second, now)
	r.Mute("dave", -time.Second, now)

	next, ok := r.NextExpiry(now)
	assert.True(t, ok)
	assert.Equal(t, now.Add(10*time.Second), next)

	assert.Equal(t, []string{"bob", "carol"}, r.ExpiredBetween(now, now.Add(10*time.Second)))
	assert.Equal(t, []string{"alice"}, r.ExpiredBetween(now.Add(10*time.Second), now.Add(time.Minute)))
	assert.Empty(t, r.ExpiredBetween(now.Add(time.Minute), now.Add(time.Hour)))

	next, ok = r.NextExpiry(now.Add(10 * time.Second))
	assert.True(t, ok)
	assert.Equal(t, now.Add(30*time.Second), next)
}
