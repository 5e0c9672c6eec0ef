package memberlist

import (
	"github.com/42wim/membersync/bridge"
	"golang.org/x/exp/slices"
)

const DefaultPageSize = 20

// Store holds the ordered member list of one session together with its
// pagination cursor. It is not safe for concurrent use; the Controller
// owning it serializes all access.
type Store struct {
	pageSize  int
	members   []*bridge.Member
	cursor    string
	exhausted bool
}

func NewStore(pageSize int) *Store {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	return &Store{pageSize: pageSize}
}

func (s *Store) PageSize() int {
	return s.pageSize
}

// IsExhausted reports whether page is the last one. The server has no
// explicit end marker: a short page means there is nothing left.
func (s *Store) IsExhausted(page *bridge.MemberPage) bool {
	if page == nil {
		return true
	}

	return len(page.Members) < s.pageSize
}

// Reset replaces the list with page.
func (s *Store) Reset(page *bridge.MemberPage) {
	s.members = nil
	s.cursor = ""

	s.Append(page)
}

// Append adds page to the tail. Duplicates across pages are not filtered.
func (s *Store) Append(page *bridge.MemberPage) {
	s.exhausted = s.IsExhausted(page)
	if page == nil {
		return
	}

	s.members = append(s.members, page.Members...)
	s.cursor = page.Cursor
}

// RemoveMembers drops every member whose id is in ids and returns the
// positions they occupied, highest first. Member ids are unique, so the
// scan ends as soon as every requested id was found.
func (s *Store) RemoveMembers(ids []string) []int {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	var removed []int

	for i := len(s.members) - 1; i >= 0 && len(removed) < len(want); i-- {
		if _, ok := want[s.members[i].UserID]; !ok {
			continue
		}

		s.members = slices.Delete(s.members, i, i+1)
		removed = append(removed, i)
	}

	return removed
}

// UpdateRole changes the role of userID in place. It returns the row
// position, or -1 when the member is not listed.
func (s *Store) UpdateRole(userID string, role bridge.Role) int {
	i := s.Index(userID)
	if i < 0 {
		return -1
	}

	s.members[i].Role = role

	return i
}

func (s *Store) Index(userID string) int {
	return slices.IndexFunc(s.members, func(m *bridge.Member) bool {
		return m.UserID == userID
	})
}

// Members returns a snapshot of the list; the Member values are copies too.
func (s *Store) Members() []bridge.Member {
	members := make([]bridge.Member, 0, len(s.members))
	for _, m := range s.members {
		members = append(members, *m)
	}

	return members
}

func (s *Store) Len() int {
	return len(s.members)
}

func (s *Store) Cursor() string {
	return s.cursor
}

func (s *Store) Exhausted() bool {
	return s.exhausted
}
