package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"example.com/nestlog/internal/auth"
	"example.com/nestlog/internal/domain"
	"example.com/nestlog/internal/share"
	"example.com/nestlog/internal/zones"
)

func writerClaims() *auth.Claims {
	return &auth.Claims{
		Subject:  "parent-1",
		FamilyID: "fam-1",
		Scopes: map[string]struct{}{
			auth.ScopeRecordsRead:  {},
			auth.ScopeRecordsWrite: {},
			auth.ScopeSharesManage: {},
		},
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func newTestHandler(store *mockStore, validator zones.Validator) *Handler {
	coordinator := zones.NewCoordinator(validator, &mockZoneStore{}, nil, zap.NewNop())
	return NewHandler(domain.NewService(store), coordinator)
}

func TestCreateRecord(t *testing.T) {
	store := &mockStore{records: map[string]domain.ActionRecord{}, keys: map[string]string{}}
	handler := newTestHandler(store, &okValidator{})

	body := `{"zone_id":"Z1","category":"sleep","start_at":"2024-03-05T21:15:00+11:00"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/records", strings.NewReader(body))
	req.Header.Set("Idempotency-Key", "key-1")
	req = req.WithContext(auth.WithClaims(req.Context(), writerClaims()))

	rr := httptest.NewRecorder()
	handler.createRecord(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp CreateRecordResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Replay {
		t.Fatalf("unexpected replay on first create")
	}
	if !resp.Record.Open {
		t.Fatalf("expected open record")
	}
	if _, offset := resp.Record.StartAt.Zone(); offset != 0 {
		t.Fatalf("expected UTC start_at, got offset %d", offset)
	}
}

func TestCreateRecordReplaysIdempotencyKey(t *testing.T) {
	store := &mockStore{records: map[string]domain.ActionRecord{}, keys: map[string]string{}}
	handler := newTestHandler(store, &okValidator{})

	body := `{"zone_id":"Z1","category":"diaper","diaper_type":"wet","start_at":"2024-03-05T10:00:00Z"}`
	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/records", strings.NewReader(body))
		req.Header.Set("Idempotency-Key", "key-1")
		req = req.WithContext(auth.WithClaims(req.Context(), writerClaims()))
		rr := httptest.NewRecorder()
		handler.createRecord(rr, req)
		return rr
	}

	first := post()
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", first.Code)
	}
	second := post()
	if second.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay got %d", second.Code)
	}

	var firstResp, secondResp CreateRecordResponse
	if err := json.Unmarshal(first.Body.Bytes(), &firstResp); err != nil {
		t.Fatalf("failed to decode first response: %v", err)
	}
	if err := json.Unmarshal(second.Body.Bytes(), &secondResp); err != nil {
		t.Fatalf("failed to decode second response: %v", err)
	}
	if !secondResp.Replay {
		t.Fatalf("expected replay flag on second create")
	}
	if firstResp.Record.RecordID != secondResp.Record.RecordID {
		t.Fatalf("replay returned a different record id")
	}
	if len(store.records) != 1 {
		t.Fatalf("expected a single stored record, got %d", len(store.records))
	}
}

func TestCreateRecordRejectsUnknownCategory(t *testing.T) {
	handler := newTestHandler(&mockStore{records: map[string]domain.ActionRecord{}, keys: map[string]string{}}, &okValidator{})

	body := `{"zone_id":"Z1","category":"bath","start_at":"2024-03-05T10:00:00Z"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/records", strings.NewReader(body))
	req = req.WithContext(auth.WithClaims(req.Context(), writerClaims()))

	rr := httptest.NewRecorder()
	handler.createRecord(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestCreateRecordRequiresWriteScope(t *testing.T) {
	handler := newTestHandler(&mockStore{records: map[string]domain.ActionRecord{}, keys: map[string]string{}}, &okValidator{})

	body := `{"zone_id":"Z1","category":"sleep","start_at":"2024-03-05T10:00:00Z"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/records", strings.NewReader(body))
	req = req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{
		Subject:  "parent-1",
		FamilyID: "fam-1",
		Scopes: map[string]struct{}{
			auth.ScopeRecordsRead: {},
		},
		ExpiresAt: time.Now().Add(time.Hour),
	}))

	rr := httptest.NewRecorder()
	handler.createRecord(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}
}

func TestCloseRecord(t *testing.T) {
	start := time.Date(2024, time.March, 5, 10, 0, 0, 0, time.UTC)
	store := &mockStore{
		records: map[string]domain.ActionRecord{
			"rec-1": {
				ID:        "rec-1",
				FamilyID:  "fam-1",
				ZoneID:    "Z1",
				Category:  domain.CategorySleep,
				StartAt:   start,
				Version:   "v1",
				CreatedAt: start,
				UpdatedAt: start,
			},
		},
		keys: map[string]string{},
	}
	handler := newTestHandler(store, &okValidator{})

	body := `{"end_at":"2024-03-05T11:30:00Z"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/records/rec-1/close", strings.NewReader(body))
	req = req.WithContext(auth.WithClaims(req.Context(), writerClaims()))

	rr := httptest.NewRecorder()
	handler.recordByID(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp RecordView
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Open {
		t.Fatalf("expected closed record")
	}
	if resp.EndAt == nil || !resp.EndAt.Equal(start.Add(90*time.Minute)) {
		t.Fatalf("unexpected end_at %v", resp.EndAt)
	}
}

func TestGetRecordNotFound(t *testing.T) {
	handler := newTestHandler(&mockStore{records: map[string]domain.ActionRecord{}, keys: map[string]string{}}, &okValidator{})

	req := httptest.NewRequest(http.MethodGet, "/v1/records/missing", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), writerClaims()))

	rr := httptest.NewRecorder()
	handler.recordByID(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

func TestListRecordsRequiresRange(t *testing.T) {
	handler := newTestHandler(&mockStore{records: map[string]domain.ActionRecord{}, keys: map[string]string{}}, &okValidator{})

	req := httptest.NewRequest(http.MethodGet, "/v1/records?zone_id=Z1", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), writerClaims()))

	rr := httptest.NewRecorder()
	handler.listRecords(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestAcceptShareSuccess(t *testing.T) {
	handler := newTestHandler(&mockStore{records: map[string]domain.ActionRecord{}, keys: map[string]string{}}, &okValidator{})

	body := `{"zone_id":"Z1","zone_name":"Nursery","owner_participant":"owner-1","root_record_id":"root-1"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/shares/accept", strings.NewReader(body))
	req = req.WithContext(auth.WithClaims(req.Context(), writerClaims()))

	rr := httptest.NewRecorder()
	handler.acceptShare(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp ZoneView
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.State != string(domain.AcceptanceAccepted) {
		t.Fatalf("expected accepted state got %s", resp.State)
	}

	zonesReq := httptest.NewRequest(http.MethodGet, "/v1/zones", nil)
	zonesReq = zonesReq.WithContext(auth.WithClaims(zonesReq.Context(), writerClaims()))
	zonesRR := httptest.NewRecorder()
	handler.listZones(zonesRR, zonesReq)

	var zonesResp ListZonesResponse
	if err := json.Unmarshal(zonesRR.Body.Bytes(), &zonesResp); err != nil {
		t.Fatalf("failed to decode zones response: %v", err)
	}
	if len(zonesResp.Items) != 1 || zonesResp.Items[0].ZoneID != "Z1" {
		t.Fatalf("unexpected zones snapshot: %+v", zonesResp.Items)
	}
}

func TestAcceptShareRejection(t *testing.T) {
	validator := &failingValidator{err: &domain.ValidationError{ZoneID: "Z1", Reason: "share revoked by owner"}}
	handler := newTestHandler(&mockStore{records: map[string]domain.ActionRecord{}, keys: map[string]string{}}, validator)

	body := `{"zone_id":"Z1","zone_name":"Nursery","owner_participant":"owner-1","root_record_id":"root-1"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/shares/accept", strings.NewReader(body))
	req = req.WithContext(auth.WithClaims(req.Context(), writerClaims()))

	rr := httptest.NewRecorder()
	handler.acceptShare(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d: %s", rr.Code, rr.Body.String())
	}
}

type okValidator struct{}

func (v *okValidator) Validate(_ context.Context, inv share.Invitation) (*share.ZoneMetadata, error) {
	return &share.ZoneMetadata{
		ZoneID:           inv.ZoneID,
		ZoneName:         inv.ZoneName,
		OwnerParticipant: inv.OwnerParticipant,
		FamilyID:         inv.FamilyID,
	}, nil
}

type failingValidator struct {
	err error
}

func (v *failingValidator) Validate(context.Context, share.Invitation) (*share.ZoneMetadata, error) {
	return nil, v.err
}

type mockStore struct {
	records map[string]domain.ActionRecord
	keys    map[string]string
}

func (m *mockStore) Fetch(_ context.Context, familyID, recordID string) (*domain.ActionRecord, error) {
	record, ok := m.records[recordID]
	if !ok || record.FamilyID != familyID {
		return nil, nil
	}
	return &record, nil
}

func (m *mockStore) FindByIdempotency(_ context.Context, familyID, idempotencyKey string) (*domain.ActionRecord, error) {
	if idempotencyKey == "" {
		return nil, nil
	}
	id, ok := m.keys[familyID+"|"+idempotencyKey]
	if !ok {
		return nil, nil
	}
	record := m.records[id]
	return &record, nil
}

func (m *mockStore) Create(_ context.Context, record domain.ActionRecord, idempotencyKey string) error {
	m.records[record.ID] = record
	if idempotencyKey != "" {
		m.keys[record.FamilyID+"|"+idempotencyKey] = record.ID
	}
	return nil
}

func (m *mockStore) Upsert(_ context.Context, record domain.ActionRecord) error {
	m.records[record.ID] = record
	return nil
}

func (m *mockStore) Delete(_ context.Context, _, recordID string) error {
	delete(m.records, recordID)
	return nil
}

func (m *mockStore) QueryByTimeRange(_ context.Context, familyID, zoneID string, tr domain.TimeRange, _ *domain.Cursor, limit int) ([]domain.ActionRecord, *domain.Cursor, error) {
	out := make([]domain.ActionRecord, 0)
	for _, record := range m.records {
		if record.FamilyID != familyID || record.ZoneID != zoneID {
			continue
		}
		if record.StartAt.Before(tr.From) || !record.StartAt.Before(tr.To) {
			continue
		}
		out = append(out, record)
		if len(out) == limit {
			break
		}
	}
	return out, nil, nil
}

type mockZoneStore struct{}

func (m *mockZoneStore) GetZone(context.Context, string) (*domain.SharedZone, error) {
	return nil, nil
}

func (m *mockZoneStore) UpsertZone(context.Context, domain.SharedZone) error { return nil }

func (m *mockZoneStore) ListZones(context.Context, string) ([]domain.SharedZone, error) {
	return nil, nil
}
