package profile

import (
	"context"
	"strings"

	strip "github.com/grokify/html-strip-tags-go"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
)

const DefaultSize = 500

var logger = logrus.NewEntry(logrus.StandardLogger()).WithField("prefix", "profile")

func SetLogger(l *logrus.Entry) {
	logger = l
}

type Profile struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar,omitempty"`
}

type Source interface {
	Profiles(ctx context.Context, ids []string) (map[string]*Profile, error)
}

// Cache holds the most recently used profiles.
type Cache struct {
	source Source
	cache  *lru.Cache
}

func New(source Source, size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}

	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}

	return &Cache{
		source: source,
		cache:  cache,
	}, nil
}

// EnrichProfiles fetches the profiles of ids that are not cached yet.
func (c *Cache) EnrichProfiles(ctx context.Context, ids []string) error {
	var missing []string

	for _, id := range ids {
		if !c.cache.Contains(id) {
			missing = append(missing, id)
		}
	}

	if len(missing) == 0 {
		return nil
	}

	profiles, err := c.source.Profiles(ctx, missing)
	if err != nil {
		return err
	}

	logger.Debugf("fetched %d profiles, %d missing", len(profiles), len(missing))

	for _, id := range missing {
		p := profiles[id]
		if p == nil {
			continue
		}

		clean := *p
		clean.DisplayName = sanitize(p.DisplayName)
		c.cache.Add(id, &clean)
	}

	return nil
}

func (c *Cache) Get(id string) (*Profile, bool) {
	v, ok := c.cache.Get(id)
	if !ok {
		return nil, false
	}

	return v.(*Profile), true
}

// DisplayName returns the cached display name of id, falling back to id.
func (c *Cache) DisplayName(id string) string {
	if p, ok := c.Get(id); ok && p.DisplayName != "" {
		return p.DisplayName
	}

	return id
}

func sanitize(name string) string {
	name = strip.StripTags(name)
	return strings.Join(strings.Fields(name), " ")
}
