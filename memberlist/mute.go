package memberlist

import (
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// MuteRegistry maps user ids to the instant (unix millis) their mute ends.
type MuteRegistry struct {
	expiry map[string]int64
}

func NewMuteRegistry() *MuteRegistry {
	return &MuteRegistry{expiry: make(map[string]int64)}
}

// ReplaceAll swaps in a freshly fetched mute list.
func (r *MuteRegistry) ReplaceAll(mapping map[string]int64) {
	if mapping == nil {
		r.expiry = make(map[string]int64)
		return
	}

	r.expiry = maps.Clone(mapping)
}

// SetExpiry mutes userID for seconds starting at now, or unmutes when
// seconds is nil.
func (r *MuteRegistry) SetExpiry(userID string, seconds *int64, now time.Time) {
	if seconds == nil {
		r.Unmute(userID)
		return
	}

	r.Mute(userID, time.Duration(*seconds)*time.Second, now)
}

func (r *MuteRegistry) Mute(userID string, d time.Duration, now time.Time) {
	r.expiry[userID] = now.Add(d).UnixMilli()
}

func (r *MuteRegistry) Unmute(userID string) {
	delete(r.expiry, userID)
}

func (r *MuteRegistry) IsMuted(userID string, now time.Time) bool {
	expiry, ok := r.expiry[userID]

	return ok && expiry > now.UnixMilli()
}

// NextExpiry returns the earliest expiry of a mute still running at now.
func (r *MuteRegistry) NextExpiry(now time.Time) (time.Time, bool) {
	var next int64

	nowMillis := now.UnixMilli()

	for _, expiry := range r.expiry {
		if expiry > nowMillis && (next == 0 || expiry < next) {
			next = expiry
		}
	}

	if next == 0 {
		return time.Time{}, false
	}

	return time.UnixMilli(next), true
}

// ExpiredBetween lists, sorted, the users whose mute ended in (from, to].
func (r *MuteRegistry) ExpiredBetween(from, to time.Time) []string {
	var ids []string

	fromMillis, toMillis := from.UnixMilli(), to.UnixMilli()

	for id, expiry := range r.expiry {
		if expiry > fromMillis && expiry <= toMillis {
			ids = append(ids, id)
		}
	}

	slices.Sort(ids)

	return ids
}

func (r *MuteRegistry) Len() int {
	return len(r.expiry)
}
