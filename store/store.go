package store

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/replybridge/internal/cache"
	"github.com/hrygo/replybridge/internal/profile"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver
	cipher  *Cipher

	aiConfigCache *cache.LRUCache[string, *AIConfig]
	// aiConfigGen advances on every config write; a read only fills the cache
	// when no write happened since it started.
	aiConfigMu  sync.Mutex
	aiConfigGen uint64
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) (*Store, error) {
	c, err := NewCipher(profile.SecretKey)
	if err != nil {
		return nil, err
	}
	return &Store{
		driver:        driver,
		profile:       profile,
		cipher:        c,
		aiConfigCache: cache.NewLRUCache[string, *AIConfig](64, 10*time.Minute),
	}, nil
}

// Migrate creates the schema when missing.
func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	s.aiConfigCache.Clear()
	return s.driver.Close()
}
