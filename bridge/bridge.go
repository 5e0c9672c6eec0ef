package bridge

import (
	"context"
	"errors"
	"strings"
)

// Circler is the chat SDK as seen by a member list session.
type Circler interface {
	FetchMembers(ctx context.Context, scope Scope, cursor string, limit int) (*MemberPage, error)
	FetchMuteList(ctx context.Context, scope Scope) (map[string]int64, error)
	ResolveRole(ctx context.Context, serverID string) (Role, error)
	CurrentUser() string

	Subscribe(ch chan<- *Event)
	Unsubscribe(ch chan<- *Event)
}

type PresenceRefresher interface {
	RefreshPresence(ctx context.Context, userIDs []string) error
}

type ProfileEnricher interface {
	EnrichProfiles(ctx context.Context, userIDs []string) error
}

var ErrUnknownRole = errors.New("unknown role")

type Role int

const (
	RoleUnknown Role = iota
	RoleMember
	RoleModerator
	RoleOwner
)

func (r Role) String() string {
	switch r {
	case RoleMember:
		return "member"
	case RoleModerator:
		return "moderator"
	case RoleOwner:
		return "owner"
	}

	return "unknown"
}

// Privileged reports whether the role may see mute state and manage members.
func (r Role) Privileged() bool {
	return r == RoleOwner || r == RoleModerator
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	role, err := ParseRole(string(text))
	if err != nil {
		return err
	}

	*r = role

	return nil
}

func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "member", "user":
		return RoleMember, nil
	case "moderator", "mod":
		return RoleModerator, nil
	case "owner":
		return RoleOwner, nil
	}

	return RoleUnknown, ErrUnknownRole
}

// Scope is either a whole server or one channel inside it.
type Scope struct {
	ServerID  string
	ChannelID string
}

func ServerScope(serverID string) Scope {
	return Scope{ServerID: serverID}
}

func ChannelScope(serverID, channelID string) Scope {
	return Scope{ServerID: serverID, ChannelID: channelID}
}

func (s Scope) IsChannel() bool {
	return s.ChannelID != ""
}

func (s Scope) Title() string {
	if s.IsChannel() {
		return "Channel members"
	}

	return "Server members"
}

func (s Scope) String() string {
	if s.IsChannel() {
		return s.ServerID + "/" + s.ChannelID
	}

	return s.ServerID
}

type Member struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// MemberPage is one fetched page. Members are in server order.
type MemberPage struct {
	Members []*Member
	Cursor  string
}

func (p *MemberPage) UserIDs() []string {
	if p == nil {
		return nil
	}

	ids := make([]string, 0, len(p.Members))
	for _, m := range p.Members {
		ids = append(ids, m.UserID)
	}

	return ids
}
