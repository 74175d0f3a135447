package verify

import (
	"context"
	"log"
	"sync"
	"time"
)

// nonceRetention is how long a consumed nonce stays in the store before the
// sweeper may drop it.
const nonceRetention = 24 * time.Hour

// NonceStore remembers consumed nonces for the retention window. It is
// process-wide; a nonce accepted once is never accepted again while its
// record lives.
type NonceStore struct {
	mu   sync.Mutex
	used map[string]time.Time
}

// NewNonceStore creates an empty store.
func NewNonceStore() *NonceStore {
	return &NonceStore{used: make(map[string]time.Time)}
}

// Seen reports whether the nonce has already been consumed.
func (s *NonceStore) Seen(nonce string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.used[nonce]
	return ok
}

// Consume records the nonce and reports whether this caller won it. The
// check and the record are one atomic step so two concurrent verification
// attempts with the same nonce cannot both succeed.
func (s *NonceStore) Consume(nonce string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.used[nonce]; ok {
		return false
	}
	s.used[nonce] = time.Now().UTC()
	return true
}

// Sweep drops records older than the retention window and returns how many
// were removed.
func (s *NonceStore) Sweep() int {
	cutoff := time.Now().UTC().Add(-nonceRetention)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for nonce, usedAt := range s.used {
		if usedAt.Before(cutoff) {
			delete(s.used, nonce)
			removed++
		}
	}
	return removed
}

// StartSweeping runs Sweep on the given interval until the context ends.
func (s *NonceStore) StartSweeping(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := s.Sweep(); removed > 0 {
					log.Printf("[verify] swept %d expired nonce records", removed)
				}
			}
		}
	}()
}
