// Package share implements the acceptance protocol for zone invitations
// contributed by other family members.
package share

import (
	"strings"

	"example.com/nestlog/internal/domain"
)

// Invitation is the platform-delivered share metadata payload. The wire
// encoding belongs to the cloud provider; this package only consumes the
// decoded form.
type Invitation struct {
	ZoneID           string
	ZoneName         string
	OwnerParticipant string
	RootRecordID     string
	FamilyID         string
}

// Validate checks the invitation shape before any network work is spent on
// it. Malformed metadata is terminal.
func (inv Invitation) Validate() error {
	if strings.TrimSpace(inv.ZoneID) == "" {
		return &domain.ValidationError{Reason: "invitation missing zone id"}
	}
	if strings.TrimSpace(inv.OwnerParticipant) == "" {
		return &domain.ValidationError{ZoneID: inv.ZoneID, Reason: "invitation missing owner participant"}
	}
	if strings.TrimSpace(inv.RootRecordID) == "" {
		return &domain.ValidationError{ZoneID: inv.ZoneID, Reason: "invitation missing root record reference"}
	}
	return nil
}

// ZoneMetadata is the validated output of the acceptance protocol, ready
// for registration with the sync coordinator.
type ZoneMetadata struct {
	ZoneID           string
	ZoneName         string
	OwnerParticipant string
	FamilyID         string
	Participants     []Participant
}

// Participant identifies one member of a shared zone.
type Participant struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// RootRecord is the zone's root record as served by the cloud zone service.
type RootRecord struct {
	RecordID string `json:"record_id"`
	ZoneID   string `json:"zone_id"`
	ZoneName string `json:"zone_name"`
	OwnerID  string `json:"owner_id"`
	Revoked  bool   `json:"revoked"`
}
