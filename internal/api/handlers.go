// Package api exposes HTTP handlers for the nestlog service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/nestlog/internal/auth"
	"example.com/nestlog/internal/domain"
	"example.com/nestlog/internal/persistence"
	"example.com/nestlog/internal/share"
	"example.com/nestlog/internal/zones"
)

// Handler coordinates HTTP requests with the domain service and the share
// coordinator.
type Handler struct {
	service     *domain.Service
	coordinator *zones.Coordinator
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, coordinator *zones.Coordinator) *Handler {
	return &Handler{service: service, coordinator: coordinator}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/records", h.records)
	mux.HandleFunc("/v1/records/", h.recordByID)
	mux.HandleFunc("/v1/shares/accept", h.acceptShare)
	mux.HandleFunc("/v1/zones", h.listZones)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) records(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createRecord(w, r)
	case http.MethodGet:
		h.listRecords(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) recordByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/records/")
	if rest == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing record id")
		return
	}

	if id, ok := strings.CutSuffix(rest, "/close"); ok {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
			return
		}
		h.closeRecord(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getRecord(w, r, rest)
	case http.MethodDelete:
		h.deleteRecord(w, r, rest)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) createRecord(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeRecordsWrite)
	if !ok {
		return
	}

	var req CreateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	category, err := domain.ParseCategory(req.Category)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	if strings.TrimSpace(req.ZoneID) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "zone_id is required")
		return
	}
	if req.StartAt.IsZero() {
		writeError(w, http.StatusBadRequest, "validation_failed", "start_at is required")
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")

	record, replay, err := h.service.LogAction(r.Context(), domain.LogActionInput{
		FamilyID:       claims.FamilyID,
		ZoneID:         req.ZoneID,
		Category:       category,
		StartAt:        req.StartAt,
		EndAt:          req.EndAt,
		DiaperType:     req.diaperType(),
		FeedingType:    req.feedingType(),
		BottleVolumeML: req.BottleVolumeML,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := CreateRecordResponse{
		Record: toRecordView(*record),
		Replay: replay,
	}

	status := http.StatusCreated
	if replay {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireScope(w, r, auth.ScopeRecordsRead, auth.ScopeRecordsWrite)
	if !ok {
		return
	}

	record, err := h.service.GetAction(r.Context(), claims.FamilyID, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordView(*record))
}

func (h *Handler) closeRecord(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireScope(w, r, auth.ScopeRecordsWrite)
	if !ok {
		return
	}

	var req CloseRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if req.EndAt.IsZero() {
		writeError(w, http.StatusBadRequest, "validation_failed", "end_at is required")
		return
	}

	record, err := h.service.CloseAction(r.Context(), claims.FamilyID, id, req.EndAt)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordView(*record))
}

func (h *Handler) deleteRecord(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireScope(w, r, auth.ScopeRecordsWrite)
	if !ok {
		return
	}

	if err := h.service.DeleteAction(r.Context(), claims.FamilyID, id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeRecordsRead, auth.ScopeRecordsWrite)
	if !ok {
		return
	}

	zoneID := r.URL.Query().Get("zone_id")
	if zoneID == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing zone_id parameter")
		return
	}

	tr, err := parseTimeRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > 200 {
				parsed = 200
			}
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	records, next, err := h.service.ListActionsByRange(r.Context(), claims.FamilyID, zoneID, tr, cursor, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]RecordView, 0, len(records))
	for _, record := range records {
		items = append(items, toRecordView(record))
	}

	writeJSON(w, http.StatusOK, ListRecordsResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) acceptShare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeSharesManage)
	if !ok {
		return
	}

	var req AcceptShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	results := h.coordinator.HandleInvitation(r.Context(), share.Invitation{
		ZoneID:           req.ZoneID,
		ZoneName:         req.ZoneName,
		OwnerParticipant: req.OwnerParticipant,
		RootRecordID:     req.RootRecordID,
		FamilyID:         claims.FamilyID,
	})

	select {
	case result := <-results:
		if result.Err != nil {
			writeShareError(w, result.Err)
			return
		}
		writeJSON(w, http.StatusOK, toZoneView(result.Zone))
	case <-r.Context().Done():
		writeError(w, http.StatusGatewayTimeout, "timeout", "share acceptance still validating")
	}
}

func (h *Handler) listZones(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := requireScope(w, r, auth.ScopeRecordsRead, auth.ScopeSharesManage); !ok {
		return
	}

	active := h.coordinator.ActiveZones()
	items := make([]ZoneView, 0, len(active))
	for _, zone := range active {
		items = append(items, toZoneView(zone))
	}
	writeJSON(w, http.StatusOK, ListZonesResponse{Items: items})
}

// requireScope extracts claims and enforces that at least one of the given
// scopes is present.
func requireScope(w http.ResponseWriter, r *http.Request, scopes ...string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	for _, scope := range scopes {
		if claims.HasScope(scope) {
			return claims, true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+scopes[0]+" required")
	return nil, false
}

func parseTimeRange(r *http.Request) (domain.TimeRange, error) {
	var tr domain.TimeRange

	from := r.URL.Query().Get("from")
	if from == "" {
		return tr, errors.New("missing from parameter")
	}
	parsed, err := time.Parse(time.RFC3339, from)
	if err != nil {
		return tr, errors.New("invalid from timestamp")
	}
	tr.From = parsed

	to := r.URL.Query().Get("to")
	if to == "" {
		return tr, errors.New("missing to parameter")
	}
	parsed, err = time.Parse(time.RFC3339, to)
	if err != nil {
		return tr, errors.New("invalid to timestamp")
	}
	tr.To = parsed

	if !tr.To.After(tr.From) {
		return tr, errors.New("to must be after from")
	}
	return tr, nil
}

// CreateRecordRequest is the payload for POST /v1/records.
type CreateRecordRequest struct {
	ZoneID         string     `json:"zone_id"`
	Category       string     `json:"category"`
	StartAt        time.Time  `json:"start_at"`
	EndAt          *time.Time `json:"end_at,omitempty"`
	DiaperType     *string    `json:"diaper_type,omitempty"`
	FeedingType    *string    `json:"feeding_type,omitempty"`
	BottleVolumeML *int       `json:"bottle_volume_ml,omitempty"`
}

func (r CreateRecordRequest) diaperType() *domain.DiaperType {
	if r.DiaperType == nil {
		return nil
	}
	dt := domain.DiaperType(*r.DiaperType)
	return &dt
}

func (r CreateRecordRequest) feedingType() *domain.FeedingType {
	if r.FeedingType == nil {
		return nil
	}
	ft := domain.FeedingType(*r.FeedingType)
	return &ft
}

// CloseRecordRequest stamps an end time on an open record.
type CloseRecordRequest struct {
	EndAt time.Time `json:"end_at"`
}

// AcceptShareRequest carries the platform-delivered invitation metadata.
type AcceptShareRequest struct {
	ZoneID           string `json:"zone_id"`
	ZoneName         string `json:"zone_name"`
	OwnerParticipant string `json:"owner_participant"`
	RootRecordID     string `json:"root_record_id"`
}

// CreateRecordResponse describes the response body for create.
type CreateRecordResponse struct {
	Record RecordView `json:"record"`
	Replay bool       `json:"idempotent_replay"`
}

// RecordView exposes full details about a care record.
type RecordView struct {
	RecordID       string     `json:"record_id"`
	FamilyID       string     `json:"family_id"`
	ZoneID         string     `json:"zone_id"`
	Category       string     `json:"category"`
	StartAt        time.Time  `json:"start_at"`
	EndAt          *time.Time `json:"end_at,omitempty"`
	Open           bool       `json:"open"`
	DiaperType     *string    `json:"diaper_type,omitempty"`
	FeedingType    *string    `json:"feeding_type,omitempty"`
	BottleVolumeML *int       `json:"bottle_volume_ml,omitempty"`
	Version        string     `json:"version"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ListRecordsResponse packages list results.
type ListRecordsResponse struct {
	Items      []RecordView `json:"items"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

// ZoneView exposes an accepted shared zone.
type ZoneView struct {
	ZoneID           string     `json:"zone_id"`
	Name             string     `json:"name"`
	OwnerParticipant string     `json:"owner_participant"`
	State            string     `json:"state"`
	AcceptedAt       *time.Time `json:"accepted_at,omitempty"`
}

// ListZonesResponse packages the active-zone snapshot.
type ListZonesResponse struct {
	Items []ZoneView `json:"items"`
}

func writeShareError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	var nerr *domain.NetworkError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusUnprocessableEntity, "share_rejected", verr.Error())
	case errors.As(err, &nerr):
		writeError(w, http.StatusBadGateway, "cloud_unreachable", nerr.Error())
	case errors.Is(err, zones.ErrAcceptanceInFlight):
		writeError(w, http.StatusConflict, "acceptance_in_flight", err.Error())
	case errors.Is(err, zones.ErrCoordinatorClosed):
		writeError(w, http.StatusServiceUnavailable, "shutting_down", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, "not_found", "record not found")
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, "validation_failed", verr.Error())
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toRecordView(record domain.ActionRecord) RecordView {
	view := RecordView{
		RecordID:       record.ID,
		FamilyID:       record.FamilyID,
		ZoneID:         record.ZoneID,
		Category:       string(record.Category),
		StartAt:        record.StartAt,
		EndAt:          record.EndAt,
		Open:           record.IsOpen(),
		BottleVolumeML: record.BottleVolumeML,
		Version:        record.Version,
		CreatedAt:      record.CreatedAt,
		UpdatedAt:      record.UpdatedAt,
	}
	if record.DiaperType != nil {
		dt := string(*record.DiaperType)
		view.DiaperType = &dt
	}
	if record.FeedingType != nil {
		ft := string(*record.FeedingType)
		view.FeedingType = &ft
	}
	return view
}

func toZoneView(zone domain.SharedZone) ZoneView {
	return ZoneView{
		ZoneID:           zone.ZoneID,
		Name:             zone.Name,
		OwnerParticipant: zone.OwnerParticipant,
		State:            string(zone.State),
		AcceptedAt:       zone.AcceptedAt,
	}
}
