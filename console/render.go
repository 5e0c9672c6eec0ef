package console

import (
	"fmt"
	"strings"

	"github.com/42wim/membersync/bridge"
	"github.com/muesli/reflow/padding"
	"github.com/muesli/reflow/truncate"
)

const (
	DefaultWidth = 80

	roleWidth   = 10
	statusWidth = 8
	minName     = 8
)

func (c *Console) nameWidth() int {
	// index, role, status and the muted marker, each followed by a space
	fixed := 4 + 1 + roleWidth + 1 + statusWidth + 1 + len("muted") + 1
	if w := c.screenWidth() - fixed; w > minName {
		return w
	}

	return minName
}

func (c *Console) displayName(userID string) string {
	if c.names == nil {
		return userID
	}

	return c.names.DisplayName(userID)
}

func (c *Console) status(userID string) string {
	if c.presence == nil {
		return ""
	}

	return c.presence.Status(userID)
}

// row renders member m at position pos as a single line of at most width cells.
func (c *Console) row(pos int, m bridge.Member) string {
	nameWidth := uint(c.nameWidth())

	name := truncate.StringWithTail(c.displayName(m.UserID), nameWidth, "…")

	cols := []string{
		fmt.Sprintf("%4d", pos+1),
		padding.String(name, nameWidth),
		padding.String(m.Role.String(), roleWidth),
		padding.String(c.status(m.UserID), statusWidth),
	}

	if c.session.IsMuted(m.UserID) {
		cols = append(cols, "muted")
	}

	line := strings.TrimRight(strings.Join(cols, " "), " ")

	return truncate.String(line, uint(c.screenWidth()))
}

func (c *Console) render() {
	scope := c.session.Scope()
	members := c.session.Members()

	c.printf("%s (%s)", scope.Title(), scope)

	for i, m := range members {
		c.printf("%s", c.row(i, m))
	}

	if c.session.Exhausted() {
		c.printf("%d members", len(members))
	} else {
		c.printf("%d members loaded, more available", len(members))
	}
}
