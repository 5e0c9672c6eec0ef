package local

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/42wim/membersync/bridge"
	"github.com/42wim/membersync/pkg/presence"
	"github.com/42wim/membersync/pkg/profile"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

func (l *Local) SetPresence(userID, status string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(presenceBucket).Put([]byte(userID), []byte(status))
	})
}

// Statuses implements presence.Source.
func (l *Local) Statuses(ctx context.Context, ids []string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := make(map[string]string)

	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(presenceBucket)
		for _, id := range ids {
			if v := b.Get([]byte(id)); v != nil {
				res[id] = string(v)
			}
		}
		return nil
	})

	return res, err
}

func (l *Local) SetProfile(p *profile.Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}

	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(profilesBucket).Put([]byte(p.UserID), data)
	})
}

// Profiles implements profile.Source.
func (l *Local) Profiles(ctx context.Context, ids []string) (map[string]*profile.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := make(map[string]*profile.Profile)

	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(profilesBucket)
		for _, id := range ids {
			v := b.Get([]byte(id))
			if v == nil {
				continue
			}

			p := &profile.Profile{}
			if err := json.Unmarshal(v, p); err != nil {
				return fmt.Errorf("profile %s: %w", id, err)
			}

			res[id] = p
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

var seedStatuses = []string{presence.StatusOnline, presence.StatusAway, presence.StatusOffline}

// Seed makes the current user owner of scope and adds n generated members.
func (l *Local) Seed(scope bridge.Scope, n int) ([]string, error) {
	if err := l.AddMember(scope, l.self, bridge.RoleOwner); err != nil {
		return nil, err
	}

	ids := make([]string, 0, n)

	for i := 0; i < n; i++ {
		id := uuid.NewString()

		if err := l.AddMember(scope, id, bridge.RoleMember); err != nil {
			return ids, err
		}

		if err := l.SetProfile(&profile.Profile{UserID: id, DisplayName: fmt.Sprintf("member %d", i+1)}); err != nil {
			return ids, err
		}

		if err := l.SetPresence(id, seedStatuses[i%len(seedStatuses)]); err != nil {
			return ids, err
		}

		ids = append(ids, id)
	}

	logger.Infof("seeded %s with %d members", scope, n)

	return ids, nil
}
