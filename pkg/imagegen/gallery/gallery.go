package gallery

import (
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultSize = 64
	DefaultTTL  = 15 * time.Minute
)

// Gallery keeps recently generated images so clients can fetch them again by
// id. It never deduplicates generations.
type Gallery struct {
	cache *expirable.LRU[string, []byte]
}

// New returns a gallery holding up to size images for ttl each. A size of
// zero disables storage.
func New(size int, ttl time.Duration) *Gallery {
	if size <= 0 {
		return &Gallery{}
	}

	return &Gallery{
		cache: expirable.NewLRU[string, []byte](size, nil, ttl),
	}
}

func (g *Gallery) Enabled() bool {
	return g.cache != nil
}

// Add stores image and returns its id, or "" when the gallery is disabled.
func (g *Gallery) Add(image []byte) string {
	if g.cache == nil {
		return ""
	}

	id := uuid.NewString()
	g.cache.Add(id, image)
	return id
}

func (g *Gallery) Get(id string) ([]byte, bool) {
	if g.cache == nil {
		return nil, false
	}
	return g.cache.Get(id)
}

func (g *Gallery) Len() int {
	if g.cache == nil {
		return 0
	}
	return g.cache.Len()
}
