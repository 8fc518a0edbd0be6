package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"example.com/nestlog/internal/canon"
	"example.com/nestlog/internal/domain"
	"example.com/nestlog/internal/events"
	"example.com/nestlog/internal/observability"
)

// ZoneGate answers whether a zone is registered for synchronization on this
// device.
type ZoneGate interface {
	ActiveZone(ctx context.Context, zoneID string) (bool, error)
}

// RecordWriter is the slice of the record store the apply handler needs.
// Both writes are sync-terminal: they persist the remote change without
// emitting a new sync event, so applied changes cannot feed back onto the
// topic they arrived on.
type RecordWriter interface {
	ApplyRemote(ctx context.Context, record domain.ActionRecord) error
	ApplyRemoteDelete(ctx context.Context, familyID, recordID string) error
}

// ApplyHandler applies remote record changes to the local store. Every
// timestamp is canonicalized before the write so merge comparisons against
// locally written records are exact, regardless of the originating device's
// time zone.
type ApplyHandler struct {
	store  RecordWriter
	gate   ZoneGate
	logger *zap.Logger
}

// NewApplyHandler constructs an ApplyHandler.
func NewApplyHandler(store RecordWriter, gate ZoneGate, logger *zap.Logger) *ApplyHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApplyHandler{store: store, gate: gate, logger: logger}
}

// Handle routes one decoded sync message.
func (h *ApplyHandler) Handle(ctx context.Context, msg Message) error {
	switch msg.EventType {
	case "record.upserted":
		var payload events.RecordUpserted
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("decode record.upserted: %w", err)
		}
		return h.applyUpsert(ctx, msg, payload)
	case "record.deleted":
		var payload events.RecordDeleted
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("decode record.deleted: %w", err)
		}
		return h.applyDelete(ctx, msg, payload)
	default:
		// Unknown event types are skipped, not failed: the topic may gain
		// new types before this worker is updated.
		h.logger.Debug("skipping unknown event type", zap.String("event_type", msg.EventType))
		return nil
	}
}

func (h *ApplyHandler) applyUpsert(ctx context.Context, msg Message, payload events.RecordUpserted) error {
	active, err := h.gate.ActiveZone(ctx, payload.ZoneID)
	if err != nil {
		return &domain.StoreError{ZoneID: payload.ZoneID, Op: "zone gate", Err: err}
	}
	if !active {
		recordSkippedZone(msg.Topic)
		return nil
	}

	record := domain.ActionRecord{
		ID:             payload.RecordID,
		FamilyID:       payload.FamilyID,
		ZoneID:         payload.ZoneID,
		Category:       domain.Category(payload.Category),
		StartAt:        canon.Normalize(payload.StartAt),
		EndAt:          canon.NormalizePtr(payload.EndAt),
		BottleVolumeML: payload.BottleVolumeML,
		Version:        payload.Version,
		CreatedAt:      canon.Normalize(payload.UpdatedAt),
		UpdatedAt:      canon.Normalize(payload.UpdatedAt),
	}
	if payload.DiaperType != nil {
		t := domain.DiaperType(*payload.DiaperType)
		record.DiaperType = &t
	}
	if payload.FeedingType != nil {
		t := domain.FeedingType(*payload.FeedingType)
		record.FeedingType = &t
	}

	if err := record.Validate(); err != nil {
		return err
	}

	if err := h.store.ApplyRemote(ctx, record); err != nil {
		return &domain.StoreError{ZoneID: record.ZoneID, Op: "apply remote upsert", Err: err}
	}
	observability.RecordRemoteChangeApplied(record.UpdatedAt)
	return nil
}

func (h *ApplyHandler) applyDelete(ctx context.Context, msg Message, payload events.RecordDeleted) error {
	active, err := h.gate.ActiveZone(ctx, payload.ZoneID)
	if err != nil {
		return &domain.StoreError{ZoneID: payload.ZoneID, Op: "zone gate", Err: err}
	}
	if !active {
		recordSkippedZone(msg.Topic)
		return nil
	}

	if err := h.store.ApplyRemoteDelete(ctx, payload.FamilyID, payload.RecordID); err != nil {
		// A record deleted on two devices concurrently is already gone
		// here; that is success, not failure.
		if errors.Is(err, domain.ErrRecordNotFound) {
			return nil
		}
		return &domain.StoreError{ZoneID: payload.ZoneID, Op: "apply remote delete", Err: err}
	}
	observability.RecordRemoteChangeApplied(canon.Normalize(payload.DeletedAt))
	return nil
}
