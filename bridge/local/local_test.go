package local

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/42wim/membersync/bridge"
	"github.com/42wim/membersync/pkg/presence"
	"github.com/42wim/membersync/pkg/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	serverS   = bridge.ServerScope("S")
	channelSC = bridge.ChannelScope("S", "C")
)

func openLocal(t *testing.T) *Local {
	t.Helper()

	l, err := Open(filepath.Join(t.TempDir(), "membersync.db"), "me")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	return l
}

func subscribe(t *testing.T, l *Local) chan *bridge.Event {
	t.Helper()

	ch := make(chan *bridge.Event, 10)
	l.Subscribe(ch)
	t.Cleanup(func() { l.Unsubscribe(ch) })

	return ch
}

func expectEvent(t *testing.T, ch chan *bridge.Event, eventType string) *bridge.Event {
	t.Helper()

	select {
	case event := <-ch:
		require.Equal(t, eventType, event.Type)
		return event
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for %s", eventType)
	}

	return nil
}

func addMembers(t *testing.T, l *Local, scope bridge.Scope, ids ...string) {
	t.Helper()

	for _, id := range ids {
		require.NoError(t, l.AddMember(scope, id, bridge.RoleMember))
	}
}

func TestFetchMembersPages(t *testing.T) {
	l := openLocal(t)
	ctx := context.Background()

	var want []string

	require.NoError(t, l.AddMember(serverS, "me", bridge.RoleOwner))
	want = append(want, "me")

	for i := 0; i < 44; i++ {
		id := fmt.Sprintf("u%02d", i)
		addMembers(t, l, serverS, id)
		want = append(want, id)
	}

	var (
		got    []string
		cursor string
		sizes  []int
	)

	for {
		page, err := l.FetchMembers(ctx, serverS, cursor, 20)
		require.NoError(t, err)

		sizes = append(sizes, len(page.Members))
		got = append(got, page.UserIDs()...)
		cursor = page.Cursor

		if len(page.Members) < 20 {
			break
		}
	}

	assert.Equal(t, []int{20, 20, 5}, sizes)
	assert.Equal(t, want, got)

	page, err := l.FetchMembers(ctx, serverS, "", 1)
	require.NoError(t, err)
	assert.Equal(t, bridge.RoleOwner, page.Members[0].Role)
}

func TestFetchMembersUnknownScope(t *testing.T) {
	l := openLocal(t)

	_, err := l.FetchMembers(context.Background(), serverS, "", 20)
	assert.ErrorIs(t, err, ErrNotFound)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = l.FetchMembers(ctx, serverS, "", 20)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAddMemberIsIdempotent(t *testing.T) {
	l := openLocal(t)

	addMembers(t, l, channelSC, "alice", "bob", "alice")
	require.NoError(t, l.AddMember(channelSC, "bob", bridge.RoleOwner))

	for _, scope := range []bridge.Scope{serverS, channelSC} {
		page, err := l.FetchMembers(context.Background(), scope, "", 20)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice", "bob"}, page.UserIDs(), scope.String())
		assert.Equal(t, bridge.RoleMember, page.Members[1].Role, scope.String())
	}
}

func TestResolveRole(t *testing.T) {
	l := openLocal(t)
	ctx := context.Background()

	_, err := l.ResolveRole(ctx, "S")
	assert.ErrorIs(t, err, ErrNotMember)

	require.NoError(t, l.AddMember(serverS, "me", bridge.RoleModerator))

	role, err := l.ResolveRole(ctx, "S")
	require.NoError(t, err)
	assert.Equal(t, bridge.RoleModerator, role)

	require.NoError(t, l.SetRole("S", "me", bridge.RoleOwner))

	role, err = l.ResolveRole(ctx, "S")
	require.NoError(t, err)
	assert.Equal(t, bridge.RoleOwner, role)

	assert.ErrorIs(t, l.SetRole("S", "nobody", bridge.RoleOwner), ErrNotMember)
}

func TestKick(t *testing.T) {
	l := openLocal(t)
	ch := subscribe(t, l)
	ctx := context.Background()

	addMembers(t, l, channelSC, "alice", "bob")
	addMembers(t, l, bridge.ChannelScope("S", "D"), "bob")

	require.NoError(t, l.Kick(channelSC, "alice", "me"))

	event := expectEvent(t, ch, bridge.EventChannelMemberRemoved)
	assert.Equal(t, &bridge.ChannelMemberRemovedEvent{ServerID: "S", ChannelID: "C", Member: "alice", Initiator: "me"}, event.Data)

	page, err := l.FetchMembers(ctx, channelSC, "", 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, page.UserIDs())

	// still on the server
	page, err = l.FetchMembers(ctx, serverS, "", 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, page.UserIDs())

	// kicking from the server empties every channel
	require.NoError(t, l.Kick(serverS, "bob", "me"))

	event = expectEvent(t, ch, bridge.EventServerMembersRemoved)
	assert.Equal(t, []string{"bob"}, event.Data.(*bridge.ServerMembersRemovedEvent).Members)

	for _, scope := range []bridge.Scope{channelSC, bridge.ChannelScope("S", "D")} {
		page, err = l.FetchMembers(ctx, scope, "", 20)
		require.NoError(t, err)
		assert.Empty(t, page.Members, scope.String())
	}

	assert.ErrorIs(t, l.Kick(serverS, "bob", "me"), ErrNotMember)
}

func TestLeave(t *testing.T) {
	l := openLocal(t)
	ch := subscribe(t, l)

	addMembers(t, l, channelSC, "alice")

	require.NoError(t, l.Leave(channelSC, "alice"))
	event := expectEvent(t, ch, bridge.EventChannelMemberLeft)
	assert.Equal(t, "alice", event.Data.(*bridge.ChannelMemberLeftEvent).Member)

	require.NoError(t, l.Leave(serverS, "alice"))
	event = expectEvent(t, ch, bridge.EventServerMemberLeft)
	assert.Equal(t, &bridge.ServerMemberLeftEvent{ServerID: "S", Member: "alice"}, event.Data)
}

func TestDestroy(t *testing.T) {
	l := openLocal(t)
	ch := subscribe(t, l)
	ctx := context.Background()

	addMembers(t, l, channelSC, "alice")
	require.NoError(t, l.Mute(channelSC, "alice", time.Hour))
	expectEvent(t, ch, bridge.EventChannelMuteChanged)

	require.NoError(t, l.Destroy(channelSC, "me"))
	event := expectEvent(t, ch, bridge.EventChannelDestroyed)
	assert.Equal(t, "me", event.Data.(*bridge.ChannelDestroyedEvent).Initiator)

	_, err := l.FetchMembers(ctx, channelSC, "", 20)
	assert.ErrorIs(t, err, ErrNotFound)

	mutes, err := l.FetchMuteList(ctx, channelSC)
	require.NoError(t, err)
	assert.Empty(t, mutes)

	require.NoError(t, l.Destroy(serverS, "me"))
	expectEvent(t, ch, bridge.EventServerDestroyed)

	_, err = l.ResolveRole(ctx, "S")
	assert.ErrorIs(t, err, ErrNotMember)

	assert.ErrorIs(t, l.Destroy(serverS, "me"), ErrNotFound)
}

func TestMuteList(t *testing.T) {
	l := openLocal(t)
	ch := subscribe(t, l)
	ctx := context.Background()

	now := time.UnixMilli(1_700_000_000_000)
	l.clock = func() time.Time { return now }

	addMembers(t, l, channelSC, "alice", "bob")

	require.NoError(t, l.Mute(channelSC, "alice", time.Minute))
	event := expectEvent(t, ch, bridge.EventChannelMuteChanged)
	assert.Equal(t, &bridge.ChannelMuteChangeEvent{ServerID: "S", ChannelID: "C", Muted: true, Members: []string{"alice"}}, event.Data)

	require.NoError(t, l.Mute(channelSC, "bob", time.Hour))
	expectEvent(t, ch, bridge.EventChannelMuteChanged)

	mutes, err := l.FetchMuteList(ctx, channelSC)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{
		"alice": now.Add(time.Minute).UnixMilli(),
		"bob":   now.Add(time.Hour).UnixMilli(),
	}, mutes)

	now = now.Add(2 * time.Minute)

	mutes, err = l.FetchMuteList(ctx, channelSC)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, keys(mutes))

	require.NoError(t, l.Unmute(channelSC, "bob"))
	event = expectEvent(t, ch, bridge.EventChannelMuteChanged)
	assert.False(t, event.Data.(*bridge.ChannelMuteChangeEvent).Muted)

	mutes, err = l.FetchMuteList(ctx, channelSC)
	require.NoError(t, err)
	assert.Empty(t, mutes)

	assert.ErrorIs(t, l.Mute(channelSC, "carol", time.Minute), ErrNotMember)
	assert.ErrorIs(t, l.Mute(serverS, "alice", time.Minute), ErrNotChannel)

	_, err = l.FetchMuteList(ctx, serverS)
	assert.ErrorIs(t, err, ErrNotChannel)
}

func keys(m map[string]int64) []string {
	res := make([]string, 0, len(m))
	for k := range m {
		res = append(res, k)
	}

	return res
}

func TestSeed(t *testing.T) {
	l := openLocal(t)
	ctx := context.Background()

	ids, err := l.Seed(channelSC, 5)
	require.NoError(t, err)
	require.Len(t, ids, 5)

	page, err := l.FetchMembers(ctx, channelSC, "", 20)
	require.NoError(t, err)
	assert.Equal(t, append([]string{"me"}, ids...), page.UserIDs())

	role, err := l.ResolveRole(ctx, "S")
	require.NoError(t, err)
	assert.Equal(t, bridge.RoleOwner, role)

	statuses, err := l.Statuses(ctx, ids[:3])
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		ids[0]: presence.StatusOnline,
		ids[1]: presence.StatusAway,
		ids[2]: presence.StatusOffline,
	}, statuses)

	profiles, err := l.Profiles(ctx, []string{ids[0], "nobody"})
	require.NoError(t, err)
	assert.Equal(t, map[string]*profile.Profile{
		ids[0]: {UserID: ids[0], DisplayName: "member 1"},
	}, profiles)
}

func TestScopeIDsWithSlash(t *testing.T) {
	l := openLocal(t)
	ctx := context.Background()

	addMembers(t, l, channelSC, "alice")

	// "S/C" as a server id would address the bucket of channel C
	slashed := bridge.ServerScope("S/C")

	assert.ErrorIs(t, l.AddMember(slashed, "bob", bridge.RoleMember), ErrInvalidID)
	assert.ErrorIs(t, l.Destroy(slashed, "me"), ErrInvalidID)
	assert.ErrorIs(t, l.Kick(slashed, "alice", "me"), ErrInvalidID)
	assert.ErrorIs(t, l.SetRole("S/C", "alice", bridge.RoleOwner), ErrInvalidID)
	assert.ErrorIs(t, l.Mute(bridge.ChannelScope("S", "C/D"), "alice", time.Minute), ErrInvalidID)

	_, err := l.FetchMembers(ctx, slashed, "", 20)
	assert.ErrorIs(t, err, ErrInvalidID)

	page, err := l.FetchMembers(ctx, channelSC, "", 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, page.UserIDs())
}
