package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/nestlog/internal/domain"
	"example.com/nestlog/internal/events"
)

// Repository provides Postgres-backed persistence for care records, shared
// zones, and the sync outbox.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const recordColumns = `record_id, family_id, zone_id, category, start_at, end_at, diaper_type, feeding_type, bottle_volume_ml, version, created_at, updated_at`

// Fetch retrieves a record by ID.
func (r *Repository) Fetch(ctx context.Context, familyID, recordID string) (*domain.ActionRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM care_records WHERE family_id=$1 AND record_id=$2`, recordColumns)

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.family_id', $1, true)", familyID); err != nil {
		return nil, err
	}

	record, err := scanRecord(tx.QueryRow(ctx, query, familyID, recordID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if err := tx.Commit(ctx); err != nil {
				return nil, err
			}
			return nil, nil
		}
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return record, nil
}

// FindByIdempotency checks if a record already exists for the supplied
// idempotency key.
func (r *Repository) FindByIdempotency(ctx context.Context, familyID, idempotencyKey string) (*domain.ActionRecord, error) {
	if idempotencyKey == "" {
		return nil, nil
	}

	query := fmt.Sprintf(`SELECT %s FROM care_records WHERE family_id=$1 AND idempotency_key=$2`, recordColumns)

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.family_id', $1, true)", familyID); err != nil {
		return nil, err
	}

	record, err := scanRecord(tx.QueryRow(ctx, query, familyID, idempotencyKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tx.Commit(ctx)
		}
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return record, nil
}

// Create persists a new record and emits record.upserted inside a single
// transaction.
func (r *Repository) Create(ctx context.Context, record domain.ActionRecord, idempotencyKey string) error {
	return r.writeRecord(ctx, record, &idempotencyKey, true)
}

// Upsert writes a record unconditionally and emits record.upserted. Used by
// local edit flows.
func (r *Repository) Upsert(ctx context.Context, record domain.ActionRecord) error {
	return r.writeRecord(ctx, record, nil, true)
}

// ApplyRemote persists a change that arrived over the sync topic. It emits
// no outbox event: an applied remote change must never echo back onto the
// topic it came from, or every upsert would republish itself forever.
func (r *Repository) ApplyRemote(ctx context.Context, record domain.ActionRecord) error {
	return r.writeRecord(ctx, record, nil, false)
}

func (r *Repository) writeRecord(ctx context.Context, record domain.ActionRecord, idempotencyKey *string, emitEvent bool) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, "SELECT set_config('app.family_id', $1, true)", record.FamilyID); err != nil {
		return err
	}

	const stmt = `INSERT INTO care_records (record_id, family_id, zone_id, category, start_at, end_at, diaper_type, feeding_type, bottle_volume_ml, idempotency_key, version, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
        ON CONFLICT (record_id) DO UPDATE SET
            start_at=EXCLUDED.start_at,
            end_at=EXCLUDED.end_at,
            diaper_type=EXCLUDED.diaper_type,
            feeding_type=EXCLUDED.feeding_type,
            bottle_volume_ml=EXCLUDED.bottle_volume_ml,
            version=EXCLUDED.version,
            updated_at=EXCLUDED.updated_at`

	var key interface{}
	if idempotencyKey != nil && *idempotencyKey != "" {
		key = *idempotencyKey
	}

	_, err = tx.Exec(ctx, stmt,
		record.ID,
		record.FamilyID,
		record.ZoneID,
		string(record.Category),
		record.StartAt,
		record.EndAt,
		diaperTypeValue(record.DiaperType),
		feedingTypeValue(record.FeedingType),
		record.BottleVolumeML,
		key,
		record.Version,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if emitEvent {
		if err = r.insertOutbox(ctx, tx, record.FamilyID, record.ZoneID, record.ID, "record.upserted", upsertedPayload(record)); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// Delete removes the record and emits record.deleted so the deletion
// propagates to every zone sharing it.
func (r *Repository) Delete(ctx context.Context, familyID, recordID string) error {
	return r.deleteRecord(ctx, familyID, recordID, true)
}

// ApplyRemoteDelete removes a record in response to a sync event, without
// re-emitting the deletion.
func (r *Repository) ApplyRemoteDelete(ctx context.Context, familyID, recordID string) error {
	return r.deleteRecord(ctx, familyID, recordID, false)
}

func (r *Repository) deleteRecord(ctx context.Context, familyID, recordID string, emitEvent bool) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, "SELECT set_config('app.family_id', $1, true)", familyID); err != nil {
		return err
	}

	var zoneID string
	err = tx.QueryRow(ctx, `DELETE FROM care_records WHERE family_id=$1 AND record_id=$2 RETURNING zone_id`, familyID, recordID).Scan(&zoneID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrRecordNotFound
		}
		return err
	}

	if emitEvent {
		payload := events.RecordDeleted{
			RecordID:  recordID,
			FamilyID:  familyID,
			ZoneID:    zoneID,
			DeletedAt: time.Now().UTC(),
		}
		if err = r.insertOutbox(ctx, tx, familyID, zoneID, recordID, "record.deleted", payload); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// QueryByTimeRange returns records in [From, To) for a zone, newest first,
// with cursor pagination. One pass per call.
func (r *Repository) QueryByTimeRange(ctx context.Context, familyID, zoneID string, tr domain.TimeRange, cursor *domain.Cursor, limit int) ([]domain.ActionRecord, *domain.Cursor, error) {
	args := []interface{}{familyID, zoneID, tr.From, tr.To, limit}
	query := fmt.Sprintf(`SELECT %s FROM care_records
        WHERE family_id=$1 AND zone_id=$2 AND start_at >= $3 AND start_at < $4`, recordColumns)

	if cursor != nil {
		query += ` AND (start_at, record_id) < ($6, $7)`
		args = append(args, cursor.StartAt, cursor.ID)
	}

	query += ` ORDER BY start_at DESC, record_id DESC LIMIT $5`

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.family_id', $1, true)", familyID); err != nil {
		return nil, nil, err
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.ActionRecord, 0, limit)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{StartAt: last.StartAt, ID: last.ID}
	}

	return results, nextCursor, nil
}

// GetZone retrieves a shared zone by id.
func (r *Repository) GetZone(ctx context.Context, zoneID string) (*domain.SharedZone, error) {
	const query = `SELECT zone_id, family_id, zone_name, owner_participant, acceptance_state, accepted_at
        FROM shared_zones WHERE zone_id=$1`

	row := r.pool.QueryRow(ctx, query, zoneID)
	var zone domain.SharedZone
	var state string
	if err := row.Scan(&zone.ZoneID, &zone.FamilyID, &zone.Name, &zone.OwnerParticipant, &state, &zone.AcceptedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	zone.State = domain.AcceptanceState(state)
	return &zone, nil
}

// UpsertZone creates or updates a shared-zone registration. A zone id maps
// to at most one row.
func (r *Repository) UpsertZone(ctx context.Context, zone domain.SharedZone) error {
	const stmt = `INSERT INTO shared_zones (zone_id, family_id, zone_name, owner_participant, acceptance_state, accepted_at)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (zone_id) DO UPDATE SET
            zone_name=EXCLUDED.zone_name,
            owner_participant=EXCLUDED.owner_participant,
            acceptance_state=EXCLUDED.acceptance_state,
            accepted_at=EXCLUDED.accepted_at`

	_, err := r.pool.Exec(ctx, stmt,
		zone.ZoneID,
		zone.FamilyID,
		zone.Name,
		zone.OwnerParticipant,
		string(zone.State),
		zone.AcceptedAt,
	)
	return err
}

// ListZones returns the zones registered for a family.
func (r *Repository) ListZones(ctx context.Context, familyID string) ([]domain.SharedZone, error) {
	const query = `SELECT zone_id, family_id, zone_name, owner_participant, acceptance_state, accepted_at
        FROM shared_zones WHERE family_id=$1 ORDER BY zone_id`

	rows, err := r.pool.Query(ctx, query, familyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var zones []domain.SharedZone
	for rows.Next() {
		var zone domain.SharedZone
		var state string
		if err := rows.Scan(&zone.ZoneID, &zone.FamilyID, &zone.Name, &zone.OwnerParticipant, &state, &zone.AcceptedAt); err != nil {
			return nil, err
		}
		zone.State = domain.AcceptanceState(state)
		zones = append(zones, zone)
	}
	return zones, rows.Err()
}

// ListAcceptedZones returns every accepted zone across families. Used to
// rebuild the coordinator's registration snapshot at startup.
func (r *Repository) ListAcceptedZones(ctx context.Context) ([]domain.SharedZone, error) {
	const query = `SELECT zone_id, family_id, zone_name, owner_participant, acceptance_state, accepted_at
        FROM shared_zones WHERE acceptance_state='accepted' ORDER BY zone_id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var zones []domain.SharedZone
	for rows.Next() {
		var zone domain.SharedZone
		var state string
		if err := rows.Scan(&zone.ZoneID, &zone.FamilyID, &zone.Name, &zone.OwnerParticipant, &state, &zone.AcceptedAt); err != nil {
			return nil, err
		}
		zone.State = domain.AcceptanceState(state)
		zones = append(zones, zone)
	}
	return zones, rows.Err()
}

func (r *Repository) insertOutbox(ctx context.Context, tx pgx.Tx, familyID, zoneID, recordID, eventType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	dedupeKey := fmt.Sprintf("%s:%s:%d", recordID, eventType, time.Now().UnixNano())

	const stmt = `INSERT INTO outbox (family_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = tx.Exec(ctx, stmt,
		familyID,
		"care_record",
		recordID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		zoneID,
		body,
		dedupeKey,
	)
	return err
}

func upsertedPayload(record domain.ActionRecord) events.RecordUpserted {
	return events.RecordUpserted{
		RecordID:       record.ID,
		FamilyID:       record.FamilyID,
		ZoneID:         record.ZoneID,
		Category:       string(record.Category),
		StartAt:        record.StartAt,
		EndAt:          record.EndAt,
		DiaperType:     diaperTypeValue(record.DiaperType),
		FeedingType:    feedingTypeValue(record.FeedingType),
		BottleVolumeML: record.BottleVolumeML,
		Version:        record.Version,
		UpdatedAt:      record.UpdatedAt,
	}
}

func diaperTypeValue(t *domain.DiaperType) *string {
	if t == nil {
		return nil
	}
	s := string(*t)
	return &s
}

func feedingTypeValue(t *domain.FeedingType) *string {
	if t == nil {
		return nil
	}
	s := string(*t)
	return &s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.ActionRecord, error) {
	var record domain.ActionRecord
	var category string
	var diaperType, feedingType *string

	if err := row.Scan(
		&record.ID,
		&record.FamilyID,
		&record.ZoneID,
		&category,
		&record.StartAt,
		&record.EndAt,
		&diaperType,
		&feedingType,
		&record.BottleVolumeML,
		&record.Version,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return nil, err
	}

	record.Category = domain.Category(category)
	if diaperType != nil {
		t := domain.DiaperType(*diaperType)
		record.DiaperType = &t
	}
	if feedingType != nil {
		t := domain.FeedingType(*feedingType)
		record.FeedingType = &t
	}
	return &record, nil
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic         string
	SchemaSubject string
}

var eventCatalog = map[string]EventMetadata{
	"record.upserted": {
		Topic:         "care_record_events",
		SchemaSubject: "care_record_events-value",
	},
	"record.deleted": {
		Topic:         "care_record_events",
		SchemaSubject: "care_record_events-value",
	},
}
