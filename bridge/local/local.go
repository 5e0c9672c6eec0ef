package local

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/42wim/membersync/bridge"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrNotMember  = errors.New("not a member")
	ErrNotChannel = errors.New("mute lists only exist for channels")
	ErrInvalidID  = errors.New("ids may not contain a slash")
)

var (
	membersBucket  = []byte("members")
	rolesBucket    = []byte("roles")
	mutesBucket    = []byte("mutes")
	profilesBucket = []byte("profiles")
	presenceBucket = []byte("presence")

	orderBucket = []byte("order")
	indexBucket = []byte("index")
)

var logger = logrus.NewEntry(logrus.StandardLogger()).WithField("prefix", "bridge/local")

func SetLogger(l *logrus.Entry) {
	logger = l
}

// Local is a circle backend kept in a bbolt file. It serves the same
// calls as the remote SDK and publishes the matching events whenever it
// is changed.
type Local struct {
	db    *bolt.DB
	self  string
	clock func() time.Time

	subsMutex sync.RWMutex
	subs      map[chan<- *bridge.Event]struct{}
}

var _ bridge.Circler = (*Local)(nil)

func Open(path, self string) (*Local, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	l, err := New(db, self)
	if err != nil {
		db.Close()
		return nil, err
	}

	return l, nil
}

func New(db *bolt.DB, self string) (*Local, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{membersBucket, rolesBucket, mutesBucket, profilesBucket, presenceBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Local{
		db:    db,
		self:  self,
		clock: time.Now,
		subs:  make(map[chan<- *bridge.Event]struct{}),
	}, nil
}

func (l *Local) Close() error {
	return l.db.Close()
}

func (l *Local) Protocol() string {
	return "local"
}

func (l *Local) CurrentUser() string {
	return l.self
}

func (l *Local) Subscribe(ch chan<- *bridge.Event) {
	l.subsMutex.Lock()
	defer l.subsMutex.Unlock()

	l.subs[ch] = struct{}{}
}

func (l *Local) Unsubscribe(ch chan<- *bridge.Event) {
	l.subsMutex.Lock()
	defer l.subsMutex.Unlock()

	delete(l.subs, ch)
}

// Publish hands an event to every subscriber.
func (l *Local) Publish(event *bridge.Event) {
	l.subsMutex.RLock()
	defer l.subsMutex.RUnlock()

	logger.Debugf("publishing %s to %d subscribers", event.Type, len(l.subs))

	for ch := range l.subs {
		ch <- event
	}
}

// checkScope rejects ids that would collide with the "server/channel"
// bucket keys.
func checkScope(scope bridge.Scope) error {
	if strings.Contains(scope.ServerID, "/") || strings.Contains(scope.ChannelID, "/") {
		return fmt.Errorf("scope %q: %w", scope.String(), ErrInvalidID)
	}

	return nil
}

func scopeKey(scope bridge.Scope) []byte {
	return []byte(scope.String())
}

func seqKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%016d", seq))
}

func scopeBuckets(tx *bolt.Tx, scope bridge.Scope) (order, index *bolt.Bucket) {
	b := tx.Bucket(membersBucket).Bucket(scopeKey(scope))
	if b == nil {
		return nil, nil
	}

	return b.Bucket(orderBucket), b.Bucket(indexBucket)
}

func createScopeBuckets(tx *bolt.Tx, scope bridge.Scope) (order, index *bolt.Bucket, err error) {
	b, err := tx.Bucket(membersBucket).CreateBucketIfNotExists(scopeKey(scope))
	if err != nil {
		return nil, nil, err
	}

	if order, err = b.CreateBucketIfNotExists(orderBucket); err != nil {
		return nil, nil, err
	}

	if index, err = b.CreateBucketIfNotExists(indexBucket); err != nil {
		return nil, nil, err
	}

	return order, index, nil
}

func readRole(tx *bolt.Tx, serverID, userID string) bridge.Role {
	b := tx.Bucket(rolesBucket).Bucket([]byte(serverID))
	if b == nil {
		return bridge.RoleUnknown
	}

	v := b.Get([]byte(userID))
	if v == nil {
		return bridge.RoleUnknown
	}

	var role bridge.Role
	if err := role.UnmarshalText(v); err != nil {
		return bridge.RoleUnknown
	}

	return role
}

func writeRole(tx *bolt.Tx, serverID, userID string, role bridge.Role) error {
	b, err := tx.Bucket(rolesBucket).CreateBucketIfNotExists([]byte(serverID))
	if err != nil {
		return err
	}

	text, _ := role.MarshalText()

	return b.Put([]byte(userID), text)
}

// FetchMembers returns up to limit members following cursor, in join order.
// The cursor is the key of the last member handed out.
func (l *Local) FetchMembers(ctx context.Context, scope bridge.Scope, cursor string, limit int) (*bridge.MemberPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := checkScope(scope); err != nil {
		return nil, err
	}

	page := &bridge.MemberPage{Cursor: cursor}

	err := l.db.View(func(tx *bolt.Tx) error {
		order, _ := scopeBuckets(tx, scope)
		if order == nil {
			return fmt.Errorf("scope %s: %w", scope, ErrNotFound)
		}

		c := order.Cursor()

		k, v := c.First()
		if cursor != "" {
			k, v = c.Seek([]byte(cursor))
			if k != nil && string(k) == cursor {
				k, v = c.Next()
			}
		}

		for ; k != nil && len(page.Members) < limit; k, v = c.Next() {
			userID := string(v)

			role := readRole(tx, scope.ServerID, userID)
			if role == bridge.RoleUnknown {
				role = bridge.RoleMember
			}

			page.Members = append(page.Members, &bridge.Member{UserID: userID, Role: role})
			page.Cursor = string(k)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Debugf("FetchMembers %s cursor %q: %d members", scope, cursor, len(page.Members))

	return page, nil
}

// FetchMuteList returns the running mutes of a channel as expiry millis.
func (l *Local) FetchMuteList(ctx context.Context, scope bridge.Scope) (map[string]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !scope.IsChannel() {
		return nil, ErrNotChannel
	}

	if err := checkScope(scope); err != nil {
		return nil, err
	}

	now := l.clock().UnixMilli()
	mutes := make(map[string]int64)

	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(mutesBucket).Bucket(scopeKey(scope))
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			if len(v) != 8 {
				return nil
			}

			// expired mutes are dropped when read
			if expiry := int64(binary.LittleEndian.Uint64(v)); expiry > now {
				mutes[string(k)] = expiry
			}

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return mutes, nil
}

func (l *Local) ResolveRole(ctx context.Context, serverID string) (bridge.Role, error) {
	if err := ctx.Err(); err != nil {
		return bridge.RoleUnknown, err
	}

	var role bridge.Role

	err := l.db.View(func(tx *bolt.Tx) error {
		role = readRole(tx, serverID, l.self)
		return nil
	})
	if err != nil {
		return bridge.RoleUnknown, err
	}

	if role == bridge.RoleUnknown {
		return bridge.RoleUnknown, fmt.Errorf("%s on server %s: %w", l.self, serverID, ErrNotMember)
	}

	return role, nil
}

// AddMember adds userID to scope, joining the server first when needed.
// role only applies when the user is new to the server.
func (l *Local) AddMember(scope bridge.Scope, userID string, role bridge.Role) error {
	if err := checkScope(scope); err != nil {
		return err
	}

	return l.db.Update(func(tx *bolt.Tx) error {
		scopes := []bridge.Scope{bridge.ServerScope(scope.ServerID)}
		if scope.IsChannel() {
			scopes = append(scopes, scope)
		}

		for _, s := range scopes {
			order, index, err := createScopeBuckets(tx, s)
			if err != nil {
				return err
			}

			if index.Get([]byte(userID)) != nil {
				continue
			}

			seq, err := order.NextSequence()
			if err != nil {
				return err
			}

			if err := order.Put(seqKey(seq), []byte(userID)); err != nil {
				return err
			}

			if err := index.Put([]byte(userID), seqKey(seq)); err != nil {
				return err
			}
		}

		if readRole(tx, scope.ServerID, userID) == bridge.RoleUnknown {
			if role == bridge.RoleUnknown {
				role = bridge.RoleMember
			}

			return writeRole(tx, scope.ServerID, userID, role)
		}

		return nil
	})
}

func (l *Local) SetRole(serverID, userID string, role bridge.Role) error {
	if err := checkScope(bridge.ServerScope(serverID)); err != nil {
		return err
	}

	return l.db.Update(func(tx *bolt.Tx) error {
		_, index := scopeBuckets(tx, bridge.ServerScope(serverID))
		if index == nil || index.Get([]byte(userID)) == nil {
			return fmt.Errorf("%s on server %s: %w", userID, serverID, ErrNotMember)
		}

		return writeRole(tx, serverID, userID, role)
	})
}

// channelScopes lists the channels of serverID that have members.
func channelScopes(tx *bolt.Tx, serverID string) []bridge.Scope {
	var scopes []bridge.Scope

	prefix := serverID + "/"
	c := tx.Bucket(membersBucket).Cursor()

	for k, _ := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
		scopes = append(scopes, bridge.ChannelScope(serverID, strings.TrimPrefix(string(k), prefix)))
	}

	return scopes
}

func removeFromScope(tx *bolt.Tx, scope bridge.Scope, userID string) (bool, error) {
	order, index := scopeBuckets(tx, scope)
	if index == nil {
		return false, nil
	}

	seq := index.Get([]byte(userID))
	if seq == nil {
		return false, nil
	}

	if err := order.Delete(seq); err != nil {
		return false, err
	}

	if err := index.Delete([]byte(userID)); err != nil {
		return false, err
	}

	if b := tx.Bucket(mutesBucket).Bucket(scopeKey(scope)); b != nil {
		if err := b.Delete([]byte(userID)); err != nil {
			return false, err
		}
	}

	return true, nil
}

// removeMember drops userID from scope. Leaving a server also leaves all
// its channels.
func (l *Local) removeMember(scope bridge.Scope, userID string) error {
	if err := checkScope(scope); err != nil {
		return err
	}

	return l.db.Update(func(tx *bolt.Tx) error {
		ok, err := removeFromScope(tx, scope, userID)
		if err != nil {
			return err
		}

		if !ok {
			return fmt.Errorf("%s in %s: %w", userID, scope, ErrNotMember)
		}

		if scope.IsChannel() {
			return nil
		}

		for _, s := range channelScopes(tx, scope.ServerID) {
			if _, err := removeFromScope(tx, s, userID); err != nil {
				return err
			}
		}

		if b := tx.Bucket(rolesBucket).Bucket([]byte(scope.ServerID)); b != nil {
			return b.Delete([]byte(userID))
		}

		return nil
	})
}

// Kick removes userID from scope on behalf of initiator.
func (l *Local) Kick(scope bridge.Scope, userID, initiator string) error {
	if err := l.removeMember(scope, userID); err != nil {
		return err
	}

	logger.Infof("%s kicked %s from %s", initiator, userID, scope)

	if scope.IsChannel() {
		l.Publish(&bridge.Event{
			Type: bridge.EventChannelMemberRemoved,
			Data: &bridge.ChannelMemberRemovedEvent{
				ServerID:  scope.ServerID,
				ChannelID: scope.ChannelID,
				Member:    userID,
				Initiator: initiator,
			},
		})

		return nil
	}

	l.Publish(&bridge.Event{
		Type: bridge.EventServerMembersRemoved,
		Data: &bridge.ServerMembersRemovedEvent{
			ServerID: scope.ServerID,
			Members:  []string{userID},
		},
	})

	return nil
}

func (l *Local) Leave(scope bridge.Scope, userID string) error {
	if err := l.removeMember(scope, userID); err != nil {
		return err
	}

	logger.Infof("%s left %s", userID, scope)

	if scope.IsChannel() {
		l.Publish(&bridge.Event{
			Type: bridge.EventChannelMemberLeft,
			Data: &bridge.ChannelMemberLeftEvent{
				ServerID:  scope.ServerID,
				ChannelID: scope.ChannelID,
				Member:    userID,
			},
		})

		return nil
	}

	l.Publish(&bridge.Event{
		Type: bridge.EventServerMemberLeft,
		Data: &bridge.ServerMemberLeftEvent{
			ServerID: scope.ServerID,
			Member:   userID,
		},
	})

	return nil
}

// Destroy removes a server (with all its channels) or a single channel.
func (l *Local) Destroy(scope bridge.Scope, initiator string) error {
	if err := checkScope(scope); err != nil {
		return err
	}

	err := l.db.Update(func(tx *bolt.Tx) error {
		scopes := []bridge.Scope{scope}
		if !scope.IsChannel() {
			scopes = append(scopes, channelScopes(tx, scope.ServerID)...)
		}

		found := false

		for _, s := range scopes {
			if tx.Bucket(membersBucket).Bucket(scopeKey(s)) != nil {
				found = true

				if err := tx.Bucket(membersBucket).DeleteBucket(scopeKey(s)); err != nil {
					return err
				}
			}

			if tx.Bucket(mutesBucket).Bucket(scopeKey(s)) != nil {
				if err := tx.Bucket(mutesBucket).DeleteBucket(scopeKey(s)); err != nil {
					return err
				}
			}
		}

		if !found {
			return fmt.Errorf("scope %s: %w", scope, ErrNotFound)
		}

		if !scope.IsChannel() && tx.Bucket(rolesBucket).Bucket([]byte(scope.ServerID)) != nil {
			return tx.Bucket(rolesBucket).DeleteBucket([]byte(scope.ServerID))
		}

		return nil
	})
	if err != nil {
		return err
	}

	logger.Infof("%s destroyed %s", initiator, scope)

	if scope.IsChannel() {
		l.Publish(&bridge.Event{
			Type: bridge.EventChannelDestroyed,
			Data: &bridge.ChannelDestroyedEvent{
				ServerID:  scope.ServerID,
				ChannelID: scope.ChannelID,
				Initiator: initiator,
			},
		})

		return nil
	}

	l.Publish(&bridge.Event{
		Type: bridge.EventServerDestroyed,
		Data: &bridge.ServerDestroyedEvent{
			ServerID:  scope.ServerID,
			Initiator: initiator,
		},
	})

	return nil
}

// Mute silences userID in a channel for d.
func (l *Local) Mute(scope bridge.Scope, userID string, d time.Duration) error {
	if !scope.IsChannel() {
		return ErrNotChannel
	}

	if err := checkScope(scope); err != nil {
		return err
	}

	expiry := make([]byte, 8)
	binary.LittleEndian.PutUint64(expiry, uint64(l.clock().Add(d).UnixMilli()))

	err := l.db.Update(func(tx *bolt.Tx) error {
		_, index := scopeBuckets(tx, scope)
		if index == nil || index.Get([]byte(userID)) == nil {
			return fmt.Errorf("%s in %s: %w", userID, scope, ErrNotMember)
		}

		b, err := tx.Bucket(mutesBucket).CreateBucketIfNotExists(scopeKey(scope))
		if err != nil {
			return err
		}

		return b.Put([]byte(userID), expiry)
	})
	if err != nil {
		return err
	}

	l.publishMuteChange(scope, userID, true)

	return nil
}

func (l *Local) Unmute(scope bridge.Scope, userID string) error {
	if !scope.IsChannel() {
		return ErrNotChannel
	}

	if err := checkScope(scope); err != nil {
		return err
	}

	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(mutesBucket).Bucket(scopeKey(scope))
		if b == nil {
			return nil
		}

		return b.Delete([]byte(userID))
	})
	if err != nil {
		return err
	}

	l.publishMuteChange(scope, userID, false)

	return nil
}

func (l *Local) publishMuteChange(scope bridge.Scope, userID string, muted bool) {
	l.Publish(&bridge.Event{
		Type: bridge.EventChannelMuteChanged,
		Data: &bridge.ChannelMuteChangeEvent{
			ServerID:  scope.ServerID,
			ChannelID: scope.ChannelID,
			Muted:     muted,
			Members:   []string{userID},
		},
	})
}
