package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	sync.Mutex
	statuses map[string]string
	asked    [][]string
	err      error
}

func (f *fakeSource) Statuses(ctx context.Context, ids []string) (map[string]string, error) {
	f.Lock()
	defer f.Unlock()

	f.asked = append(f.asked, ids)
	if f.err != nil {
		return nil, f.err
	}

	res := make(map[string]string)
	for _, id := range ids {
		if s, ok := f.statuses[id]; ok {
			res[id] = s
		}
	}

	return res, nil
}

func TestRefreshPresence(t *testing.T) {
	src := &fakeSource{statuses: map[string]string{"alice": StatusOnline, "bob": StatusAway}}
	now := time.Unix(1_700_000_000, 0)

	c := New(src, 30*time.Second)
	c.clock = func() time.Time { return now }

	assert.Equal(t, StatusOffline, c.Status("alice"))

	require.NoError(t, c.RefreshPresence(context.Background(), []string{"alice", "bob", "carol"}))
	assert.Equal(t, StatusOnline, c.Status("alice"))
	assert.Equal(t, StatusAway, c.Status("bob"))
	assert.Equal(t, StatusOffline, c.Status("carol"))
	assert.Equal(t, 3, c.Len())

	// fresh entries are not asked for again
	now = now.Add(10 * time.Second)
	require.NoError(t, c.RefreshPresence(context.Background(), []string{"alice", "dave"}))
	assert.Equal(t, [][]string{{"alice", "bob", "carol"}, {"dave"}}, src.asked)

	require.NoError(t, c.RefreshPresence(context.Background(), []string{"alice"}))
	assert.Len(t, src.asked, 2)

	// stale entries are
	now = now.Add(30 * time.Second)
	src.statuses["alice"] = StatusAway
	require.NoError(t, c.RefreshPresence(context.Background(), []string{"alice"}))
	assert.Equal(t, StatusAway, c.Status("alice"))
}

func TestRefreshPresenceError(t *testing.T) {
	boom := errors.New("boom")
	src := &fakeSource{err: boom}

	c := New(src, time.Minute)

	assert.ErrorIs(t, c.RefreshPresence(context.Background(), []string{"alice"}), boom)
	assert.Equal(t, StatusOffline, c.Status("alice"))
	assert.Equal(t, 0, c.Len())
}
