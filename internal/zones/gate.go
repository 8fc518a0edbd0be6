package zones

import (
	"context"
	"sync"
	"time"

	"example.com/nestlog/internal/domain"
)

// StoreGate answers "is this zone accepted?" for processes that do not host
// the coordinator (the sync worker). It reads the zone store and caches
// positive answers briefly so one gate check per message does not become
// one store round trip per message. Negative answers are never cached: a
// gated skip commits the message, so a zone accepted moments ago must be
// seen on the very next check or its records are dropped for good.
type StoreGate struct {
	store domain.ZoneStore
	ttl   time.Duration

	mu    sync.Mutex
	cache map[string]gateEntry
}

type gateEntry struct {
	fetchedAt time.Time
}

// NewStoreGate constructs a StoreGate with the given cache TTL.
func NewStoreGate(store domain.ZoneStore, ttl time.Duration) *StoreGate {
	return &StoreGate{
		store: store,
		ttl:   ttl,
		cache: make(map[string]gateEntry),
	}
}

// ActiveZone reports whether the zone is registered as accepted.
func (g *StoreGate) ActiveZone(ctx context.Context, zoneID string) (bool, error) {
	g.mu.Lock()
	entry, ok := g.cache[zoneID]
	g.mu.Unlock()
	if ok && time.Since(entry.fetchedAt) < g.ttl {
		return true, nil
	}

	zone, err := g.store.GetZone(ctx, zoneID)
	if err != nil {
		return false, err
	}
	active := zone != nil && zone.State == domain.AcceptanceAccepted

	g.mu.Lock()
	if active {
		g.cache[zoneID] = gateEntry{fetchedAt: time.Now()}
	} else {
		delete(g.cache, zoneID)
	}
	g.mu.Unlock()
	return active, nil
}
