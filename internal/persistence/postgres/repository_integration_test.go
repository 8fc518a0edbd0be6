//go:build integration

package postgres

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/nestlog/internal/canon"
	"example.com/nestlog/internal/domain"
)

func setupRepository(t *testing.T, ctx context.Context) (*Repository, *pgxpool.Pool) {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("nestlog"),
		postgrescontainer.WithUsername("nestlog"),
		postgrescontainer.WithPassword("nestlog"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, waitForDatabase(ctx, connStr))
	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return NewRepository(pool), pool
}

func sampleRecord(familyID, zoneID string, startAt time.Time) domain.ActionRecord {
	now := canon.Normalize(time.Now())
	return domain.ActionRecord{
		ID:        uuid.NewString(),
		FamilyID:  familyID,
		ZoneID:    zoneID,
		Category:  domain.CategorySleep,
		StartAt:   canon.Normalize(startAt),
		Version:   "v1",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestRepositoryRespectsFamilyIsolation(t *testing.T) {
	ctx := context.Background()
	repo, _ := setupRepository(t, ctx)

	record := sampleRecord(uuid.NewString(), "Z1", time.Now())
	require.NoError(t, repo.Create(ctx, record, "key-1"))

	stored, err := repo.Fetch(ctx, record.FamilyID, record.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, record.ID, stored.ID)

	otherFamily := uuid.NewString()
	storedOther, err := repo.Fetch(ctx, otherFamily, record.ID)
	require.NoError(t, err)
	require.Nil(t, storedOther, "RLS should prevent cross-family access")
}

func TestRepositoryIdempotencyLookup(t *testing.T) {
	ctx := context.Background()
	repo, _ := setupRepository(t, ctx)

	record := sampleRecord(uuid.NewString(), "Z1", time.Now())
	require.NoError(t, repo.Create(ctx, record, "key-1"))

	found, err := repo.FindByIdempotency(ctx, record.FamilyID, "key-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, record.ID, found.ID)

	missing, err := repo.FindByIdempotency(ctx, record.FamilyID, "key-2")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestRepositoryWritesOutboxRows(t *testing.T) {
	ctx := context.Background()
	repo, pool := setupRepository(t, ctx)

	record := sampleRecord(uuid.NewString(), "Z1", time.Now())
	require.NoError(t, repo.Create(ctx, record, ""))
	require.NoError(t, repo.Delete(ctx, record.FamilyID, record.ID))

	rows, err := pool.Query(ctx,
		`SELECT event_type, partition_key FROM outbox WHERE aggregate_id=$1 ORDER BY event_id`, record.ID)
	require.NoError(t, err)
	defer rows.Close()

	var eventTypes, partitionKeys []string
	for rows.Next() {
		var eventType, partitionKey string
		require.NoError(t, rows.Scan(&eventType, &partitionKey))
		eventTypes = append(eventTypes, eventType)
		partitionKeys = append(partitionKeys, partitionKey)
	}
	require.NoError(t, rows.Err())

	require.Equal(t, []string{"record.upserted", "record.deleted"}, eventTypes)
	require.Equal(t, []string{"Z1", "Z1"}, partitionKeys)
}

func TestApplyRemoteDoesNotEchoSyncEvents(t *testing.T) {
	ctx := context.Background()
	repo, pool := setupRepository(t, ctx)

	record := sampleRecord(uuid.NewString(), "Z1", time.Now())
	require.NoError(t, repo.ApplyRemote(ctx, record))

	stored, err := repo.Fetch(ctx, record.FamilyID, record.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)

	require.NoError(t, repo.ApplyRemoteDelete(ctx, record.FamilyID, record.ID))

	gone, err := repo.Fetch(ctx, record.FamilyID, record.ID)
	require.NoError(t, err)
	require.Nil(t, gone)

	// A change applied from the sync topic must not be republished to it.
	var outboxRows int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox WHERE aggregate_id=$1`, record.ID).Scan(&outboxRows))
	require.Zero(t, outboxRows)
}

func TestRepositoryDeleteMissingRecord(t *testing.T) {
	ctx := context.Background()
	repo, _ := setupRepository(t, ctx)

	err := repo.Delete(ctx, uuid.NewString(), uuid.NewString())
	require.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestRepositoryQueryByTimeRangePaginates(t *testing.T) {
	ctx := context.Background()
	repo, _ := setupRepository(t, ctx)

	familyID := uuid.NewString()
	base := canon.Normalize(time.Date(2024, time.March, 5, 8, 0, 0, 0, time.UTC))
	for i := 0; i < 5; i++ {
		record := sampleRecord(familyID, "Z1", base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, repo.Create(ctx, record, ""))
	}

	tr := domain.TimeRange{From: base, To: base.Add(24 * time.Hour)}

	first, cursor, err := repo.QueryByTimeRange(ctx, familyID, "Z1", tr, nil, 3)
	require.NoError(t, err)
	require.Len(t, first, 3)
	require.NotNil(t, cursor)
	require.True(t, first[0].StartAt.After(first[1].StartAt), "expected newest first")

	second, _, err := repo.QueryByTimeRange(ctx, familyID, "Z1", tr, cursor, 3)
	require.NoError(t, err)
	require.Len(t, second, 2)
	for _, record := range second {
		require.True(t, record.StartAt.Before(first[2].StartAt))
	}
}

func TestRepositoryZoneRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo, _ := setupRepository(t, ctx)

	acceptedAt := canon.Normalize(time.Now())
	zone := domain.SharedZone{
		ZoneID:           uuid.NewString(),
		FamilyID:         uuid.NewString(),
		Name:             "Nursery",
		OwnerParticipant: "owner-1",
		State:            domain.AcceptanceAccepted,
		AcceptedAt:       &acceptedAt,
	}
	require.NoError(t, repo.UpsertZone(ctx, zone))
	// Re-registering the same zone id must not create a second row.
	require.NoError(t, repo.UpsertZone(ctx, zone))

	stored, err := repo.GetZone(ctx, zone.ZoneID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, domain.AcceptanceAccepted, stored.State)

	listed, err := repo.ListZones(ctx, zone.FamilyID)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	accepted, err := repo.ListAcceptedZones(ctx)
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	require.Equal(t, zone.ZoneID, accepted[0].ZoneID)
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	files := []string{
		"../../../db/postgres/migrations/0001_init.up.sql",
	}

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	for _, rel := range files {
		path := resolvePath(t, rel)
		contents, readErr := os.ReadFile(path)
		require.NoError(t, readErr)

		_, execErr := pool.Exec(ctx, string(contents))
		require.NoError(t, execErr)
	}
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
