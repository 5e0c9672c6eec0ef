package presence

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync"
	"github.com/sirupsen/logrus"
)

const (
	StatusOnline  = "online"
	StatusAway    = "away"
	StatusOffline = "offline"
)

var logger = logrus.NewEntry(logrus.StandardLogger()).WithField("prefix", "presence")

func SetLogger(l *logrus.Entry) {
	logger = l
}

// Source returns the current status of each user it knows about.
type Source interface {
	Statuses(ctx context.Context, ids []string) (map[string]string, error)
}

type entry struct {
	status  string
	fetched time.Time
}

// Cache keeps user statuses for ttl. It is safe for concurrent use.
type Cache struct {
	source  Source
	ttl     time.Duration
	clock   func() time.Time
	entries *xsync.MapOf[string, entry]
}

func New(source Source, ttl time.Duration) *Cache {
	return &Cache{
		source:  source,
		ttl:     ttl,
		clock:   time.Now,
		entries: xsync.NewMapOf[entry](),
	}
}

// RefreshPresence asks the source for the users whose status is missing
// or older than the ttl.
func (c *Cache) RefreshPresence(ctx context.Context, ids []string) error {
	now := c.clock()

	var stale []string

	for _, id := range ids {
		if e, ok := c.entries.Load(id); ok && now.Sub(e.fetched) < c.ttl {
			continue
		}
		stale = append(stale, id)
	}

	if len(stale) == 0 {
		return nil
	}

	statuses, err := c.source.Statuses(ctx, stale)
	if err != nil {
		return err
	}

	logger.Debugf("refreshed %d of %d statuses", len(stale), len(ids))

	for _, id := range stale {
		status, ok := statuses[id]
		if !ok {
			status = StatusOffline
		}

		c.entries.Store(id, entry{status: status, fetched: now})
	}

	return nil
}

// Status returns the cached status of id. Users never fetched are offline.
func (c *Cache) Status(id string) string {
	e, ok := c.entries.Load(id)
	if !ok {
		return StatusOffline
	}

	return e.status
}

func (c *Cache) Len() int {
	return c.entries.Size()
}
