package store

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// KeyGenerator mints store-unique opaque storeKeys.
// Implemented by UUIDv7Keys (production) and SerialKeys (tests).
type KeyGenerator interface {
	NextKey() string
}

// UUIDv7Keys generates time-sortable UUIDv7 storeKeys.
//
// UUIDv7 embeds a timestamp in the most significant bits, which keeps keys
// roughly creation-ordered and store dumps easy to scan.
//
// Thread-safety: stateless, safe for concurrent use.
type UUIDv7Keys struct{}

// NextKey returns a new UUIDv7 as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Keys) NextKey() string {
	return uuid.Must(uuid.NewV7()).String()
}

// SerialKeys generates deterministic "k1", "k2", ... keys for tests and
// golden trace comparison.
type SerialKeys struct {
	mu sync.Mutex
	n  int
}

// NextKey returns the next serial key.
func (g *SerialKeys) NextKey() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("k%d", g.n)
}
