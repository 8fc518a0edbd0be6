package share

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"example.com/nestlog/internal/domain"
)

// CloudService exposes the calls the acceptance protocol needs from the
// cloud zone provider.
type CloudService interface {
	FetchRootRecord(ctx context.Context, zoneID string) (*RootRecord, error)
	FetchParticipants(ctx context.Context, zoneID string) ([]Participant, error)
}

// CloudClient talks to the cloud zone service over HTTP. It performs no
// internal retries: transient failures surface once and retry is a
// user-initiated re-presentation of the invitation.
type CloudClient struct {
	http *resty.Client
}

// NewCloudClient constructs a client for the given base URL.
func NewCloudClient(baseURL string, timeout time.Duration) *CloudClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &CloudClient{http: client}
}

// FetchRootRecord retrieves the zone's root record. A missing or gone zone
// means the share is stale or revoked, which is terminal.
func (c *CloudClient) FetchRootRecord(ctx context.Context, zoneID string) (*RootRecord, error) {
	var root RootRecord
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&root).
		Get(fmt.Sprintf("/v1/zones/%s/root", zoneID))
	if err != nil {
		return nil, &domain.NetworkError{ZoneID: zoneID, Op: "fetch root record", Err: err}
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound || resp.StatusCode() == http.StatusGone:
		return nil, &domain.ValidationError{ZoneID: zoneID, Reason: "share no longer exists"}
	case resp.IsError():
		return nil, &domain.NetworkError{ZoneID: zoneID, Op: "fetch root record", Err: fmt.Errorf("status %d", resp.StatusCode())}
	}

	if root.Revoked {
		return nil, &domain.ValidationError{ZoneID: zoneID, Reason: "share has been revoked"}
	}
	return &root, nil
}

// FetchParticipants retrieves the zone's participant list.
func (c *CloudClient) FetchParticipants(ctx context.Context, zoneID string) ([]Participant, error) {
	var participants []Participant
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&participants).
		Get(fmt.Sprintf("/v1/zones/%s/participants", zoneID))
	if err != nil {
		return nil, &domain.NetworkError{ZoneID: zoneID, Op: "fetch participants", Err: err}
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, &domain.ValidationError{ZoneID: zoneID, Reason: "share no longer exists"}
	case resp.IsError():
		return nil, &domain.NetworkError{ZoneID: zoneID, Op: "fetch participants", Err: fmt.Errorf("status %d", resp.StatusCode())}
	}
	return participants, nil
}
