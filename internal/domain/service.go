// Package domain defines the business logic for the nestlog service.
package domain

import (
	"context"
	"time"

	"github.com/google/uuid"

	"example.com/nestlog/internal/canon"
)

// Cursor models the pagination token for time-range queries.
type Cursor struct {
	StartAt time.Time
	ID      string
}

// TimeRange bounds a record query. From is inclusive, To exclusive.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// RecordStore captures the narrow persistence surface the core reads and
// writes through. Its internal storage format is not this package's concern.
type RecordStore interface {
	Fetch(ctx context.Context, familyID, recordID string) (*ActionRecord, error)
	FindByIdempotency(ctx context.Context, familyID, idempotencyKey string) (*ActionRecord, error)
	// Create persists a new record and remembers its idempotency key.
	Create(ctx context.Context, record ActionRecord, idempotencyKey string) error
	// Upsert writes a record unconditionally and emits the change to the
	// sync pipeline; used for local edits only.
	Upsert(ctx context.Context, record ActionRecord) error
	// Delete removes the record and emits the deletion to every zone
	// sharing it.
	Delete(ctx context.Context, familyID, recordID string) error
	QueryByTimeRange(ctx context.Context, familyID, zoneID string, tr TimeRange, cursor *Cursor, limit int) ([]ActionRecord, *Cursor, error)
}

// ZoneStore persists shared-zone registrations.
type ZoneStore interface {
	GetZone(ctx context.Context, zoneID string) (*SharedZone, error)
	UpsertZone(ctx context.Context, zone SharedZone) error
	ListZones(ctx context.Context, familyID string) ([]SharedZone, error)
}

// Service orchestrates record workflows.
type Service struct {
	store RecordStore
}

// NewService constructs a Service.
func NewService(store RecordStore) *Service {
	return &Service{store: store}
}

// LogActionInput captures the payload from the API layer.
type LogActionInput struct {
	FamilyID       string
	ZoneID         string
	Category       Category
	StartAt        time.Time
	EndAt          *time.Time
	DiaperType     *DiaperType
	FeedingType    *FeedingType
	BottleVolumeML *int
	IdempotencyKey string
}

// LogAction creates a record with idempotent replay semantics: posting the
// same idempotency key twice returns the original record unchanged.
// Timestamps are canonicalized before the record is written so every device
// stores the identical representation.
func (s *Service) LogAction(ctx context.Context, input LogActionInput) (*ActionRecord, bool, error) {
	if existing, err := s.store.FindByIdempotency(ctx, input.FamilyID, input.IdempotencyKey); err == nil && existing != nil {
		return existing, true, nil
	}

	now := canon.Normalize(time.Now())
	record := ActionRecord{
		ID:             uuid.NewString(),
		FamilyID:       input.FamilyID,
		ZoneID:         input.ZoneID,
		Category:       input.Category,
		StartAt:        canon.Normalize(input.StartAt),
		EndAt:          canon.NormalizePtr(input.EndAt),
		DiaperType:     input.DiaperType,
		FeedingType:    input.FeedingType,
		BottleVolumeML: input.BottleVolumeML,
		Version:        "v1",
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := record.Validate(); err != nil {
		return nil, false, err
	}

	if err := s.store.Create(ctx, record, input.IdempotencyKey); err != nil {
		return nil, false, &StoreError{ZoneID: record.ZoneID, Op: "create", Err: err}
	}

	return &record, false, nil
}

// CloseAction stamps an end time on an open record. Closing an already
// closed record is rejected.
func (s *Service) CloseAction(ctx context.Context, familyID, recordID string, endAt time.Time) (*ActionRecord, error) {
	record, err := s.GetAction(ctx, familyID, recordID)
	if err != nil {
		return nil, err
	}
	if !record.IsOpen() {
		return nil, &ValidationError{ZoneID: record.ZoneID, Reason: "record is already closed"}
	}

	end := canon.Normalize(endAt)
	if end.Before(record.StartAt) {
		return nil, &ValidationError{ZoneID: record.ZoneID, Reason: "end time precedes start time"}
	}

	record.EndAt = &end
	record.UpdatedAt = canon.Normalize(time.Now())
	if err := s.store.Upsert(ctx, *record); err != nil {
		return nil, &StoreError{ZoneID: record.ZoneID, Op: "upsert", Err: err}
	}
	return record, nil
}

// DeleteAction removes a record. The store propagates the deletion to all
// zones sharing it.
func (s *Service) DeleteAction(ctx context.Context, familyID, recordID string) error {
	record, err := s.GetAction(ctx, familyID, recordID)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, familyID, recordID); err != nil {
		return &StoreError{ZoneID: record.ZoneID, Op: "delete", Err: err}
	}
	return nil
}

// GetAction fetches by ID.
func (s *Service) GetAction(ctx context.Context, familyID, recordID string) (*ActionRecord, error) {
	record, err := s.store.Fetch(ctx, familyID, recordID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrRecordNotFound
	}
	return record, nil
}

// ListActionsByRange fetches records in a time window with cursor pagination.
// The range bounds are canonicalized so the query is identical on every
// device.
func (s *Service) ListActionsByRange(ctx context.Context, familyID, zoneID string, tr TimeRange, cursor *Cursor, limit int) ([]ActionRecord, *Cursor, error) {
	tr.From = canon.Normalize(tr.From)
	tr.To = canon.Normalize(tr.To)
	return s.store.QueryByTimeRange(ctx, familyID, zoneID, tr, cursor, limit)
}
