// Package zones owns the mapping from shared-zone identifiers to local
// subscription state and mediates idempotent share registration.
package zones

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"example.com/nestlog/internal/canon"
	"example.com/nestlog/internal/domain"
	"example.com/nestlog/internal/observability"
	"example.com/nestlog/internal/share"
)

// ErrAcceptanceInFlight is returned when an invitation for a zone arrives
// while a previous acceptance for the same zone is still validating.
var ErrAcceptanceInFlight = errors.New("acceptance already in flight for zone")

// ErrCoordinatorClosed is returned once the coordinator has been torn down.
var ErrCoordinatorClosed = errors.New("sync coordinator is closed")

// AcceptanceResult is the terminal outcome of one invitation, surfaced once
// to the initiating flow.
type AcceptanceResult struct {
	Zone domain.SharedZone
	Err  error
}

// Validator performs the network-bound validating step of the acceptance
// protocol.
type Validator interface {
	Validate(ctx context.Context, inv share.Invitation) (*share.ZoneMetadata, error)
}

// SyncStarter kicks off record synchronization for a newly registered zone.
type SyncStarter interface {
	StartZoneSync(ctx context.Context, zone domain.SharedZone)
}

// Coordinator mediates share acceptance. Invitations enter through
// HandleInvitation, validation runs as independent goroutines, and all
// shared state mutates under a single mutex so a delayed completion can
// never race a fresh registration for the same zone.
type Coordinator struct {
	validator Validator
	store     domain.ZoneStore
	starter   SyncStarter
	logger    *zap.Logger

	mu      sync.Mutex
	zones   map[string]domain.SharedZone
	syncing map[string]bool
	closed  bool

	wg sync.WaitGroup
}

// NewCoordinator constructs a Coordinator. starter may be nil when no sync
// pipeline is attached (tests, read-only tooling).
func NewCoordinator(validator Validator, store domain.ZoneStore, starter SyncStarter, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		validator: validator,
		store:     store,
		starter:   starter,
		logger:    logger,
		zones:     make(map[string]domain.SharedZone),
		syncing:   make(map[string]bool),
	}
}

// HandleInvitation is the public entry point for platform-delivered share
// metadata. It never blocks on network work: validation runs as its own
// unit of work and the terminal result is delivered on the returned
// channel exactly once.
//
// Re-presenting an invitation for an already accepted zone succeeds
// immediately without re-registering.
func (c *Coordinator) HandleInvitation(ctx context.Context, inv share.Invitation) <-chan AcceptanceResult {
	results := make(chan AcceptanceResult, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		results <- AcceptanceResult{Err: ErrCoordinatorClosed}
		return results
	}
	if existing, ok := c.zones[inv.ZoneID]; ok {
		switch existing.State {
		case domain.AcceptanceAccepted:
			c.mu.Unlock()
			results <- AcceptanceResult{Zone: existing}
			return results
		case domain.AcceptancePending:
			c.mu.Unlock()
			results <- AcceptanceResult{Err: ErrAcceptanceInFlight}
			return results
		case domain.AcceptanceFailed:
			// A failed zone is retryable by re-presenting the invitation.
		}
	}
	c.zones[inv.ZoneID] = domain.SharedZone{
		ZoneID:           inv.ZoneID,
		FamilyID:         inv.FamilyID,
		Name:             inv.ZoneName,
		OwnerParticipant: inv.OwnerParticipant,
		State:            domain.AcceptancePending,
	}
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		meta, err := c.validator.Validate(ctx, inv)
		c.complete(ctx, inv, meta, err, results)
	}()

	return results
}

// complete applies the outcome of one validation. It holds only a
// non-owning view of the coordinator's liveness: after Close it discards
// the result instead of mutating state.
func (c *Coordinator) complete(ctx context.Context, inv share.Invitation, meta *share.ZoneMetadata, err error, results chan<- AcceptanceResult) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		results <- AcceptanceResult{Err: ErrCoordinatorClosed}
		return
	}

	if err != nil {
		c.markFailedLocked(inv.ZoneID)
		c.mu.Unlock()
		c.logger.Warn("share_accept_failed",
			zap.String("zone_id", inv.ZoneID),
			zap.String("zone_name", inv.ZoneName),
			zap.String("error", err.Error()),
		)
		observability.RecordShareFailed()
		results <- AcceptanceResult{Err: err}
		return
	}
	c.mu.Unlock()

	zone, regErr := c.registerValidated(ctx, *meta)
	if regErr != nil {
		results <- AcceptanceResult{Err: regErr}
		return
	}
	results <- AcceptanceResult{Zone: zone}
}

// RegisterAcceptedShare registers validated zone metadata. It is idempotent:
// a second call with the same zone id is a no-op — no duplicate store
// write, no duplicate sync kickoff, no error. Failures are zone-scoped and
// never disturb previously accepted zones.
func (c *Coordinator) RegisterAcceptedShare(ctx context.Context, meta share.ZoneMetadata) error {
	_, err := c.registerValidated(ctx, meta)
	return err
}

func (c *Coordinator) registerValidated(ctx context.Context, meta share.ZoneMetadata) (domain.SharedZone, error) {
	// Registration is serialized: acceptance runs on a single logical
	// coordination flow, and holding the lock across the store write keeps
	// a delayed duplicate completion from double-registering.
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return domain.SharedZone{}, ErrCoordinatorClosed
	}

	if existing, ok := c.zones[meta.ZoneID]; ok && existing.State == domain.AcceptanceAccepted {
		return existing, nil
	}

	acceptedAt := canon.Normalize(time.Now())
	zone := domain.SharedZone{
		ZoneID:           meta.ZoneID,
		FamilyID:         meta.FamilyID,
		Name:             meta.ZoneName,
		OwnerParticipant: meta.OwnerParticipant,
		State:            domain.AcceptanceAccepted,
		AcceptedAt:       &acceptedAt,
	}

	if err := c.store.UpsertZone(ctx, zone); err != nil {
		c.markFailedLocked(meta.ZoneID)
		storeErr := &domain.StoreError{ZoneID: meta.ZoneID, Op: "register zone", Err: err}
		c.logger.Warn("share_accept_failed",
			zap.String("zone_id", meta.ZoneID),
			zap.String("zone_name", meta.ZoneName),
			zap.String("error", storeErr.Error()),
		)
		observability.RecordShareFailed()
		return domain.SharedZone{}, storeErr
	}

	c.zones[zone.ZoneID] = zone
	if c.starter != nil && !c.syncing[zone.ZoneID] {
		c.starter.StartZoneSync(ctx, zone)
		c.syncing[zone.ZoneID] = true
	}

	c.logger.Info("share_accept_succeeded",
		zap.String("zone_id", zone.ZoneID),
		zap.String("zone_name", zone.Name),
	)
	observability.RecordShareAccepted()
	observability.SetActiveZoneCount(c.activeCountLocked())

	return zone, nil
}

// Hydrate loads previously accepted zones into the in-memory snapshot. It
// performs no store writes and no sync kickoff; the event pipeline resumes
// on its own. Zones that are not accepted are ignored.
func (c *Coordinator) Hydrate(zones []domain.SharedZone) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for _, zone := range zones {
		if zone.State != domain.AcceptanceAccepted {
			continue
		}
		if _, ok := c.zones[zone.ZoneID]; ok {
			continue
		}
		c.zones[zone.ZoneID] = zone
	}
	observability.SetActiveZoneCount(c.activeCountLocked())
}

// ActiveZones returns a read-only snapshot of accepted zones. Pending and
// failed zones never appear in it.
func (c *Coordinator) ActiveZones() []domain.SharedZone {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]domain.SharedZone, 0, len(c.zones))
	for _, zone := range c.zones {
		if zone.State == domain.AcceptanceAccepted {
			out = append(out, zone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ZoneID < out[j].ZoneID })
	return out
}

// ActiveZone reports whether records for the zone should be synchronized.
func (c *Coordinator) ActiveZone(_ context.Context, zoneID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	zone, ok := c.zones[zoneID]
	return ok && zone.State == domain.AcceptanceAccepted, nil
}

// markFailedLocked records the terminal failed state for a zone. Failed
// zones stay retryable by re-presenting the invitation and never appear in
// ActiveZones.
func (c *Coordinator) markFailedLocked(zoneID string) {
	if zone, ok := c.zones[zoneID]; ok {
		zone.State = domain.AcceptanceFailed
		c.zones[zoneID] = zone
	}
}

func (c *Coordinator) activeCountLocked() int {
	n := 0
	for _, zone := range c.zones {
		if zone.State == domain.AcceptanceAccepted {
			n++
		}
	}
	return n
}

// Close tears the coordinator down. In-flight validations still complete
// but their results no longer mutate state.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Wait blocks until all in-flight validations have finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
