package domain

import "time"

// AcceptanceState tracks where a shared zone sits in the acceptance flow.
type AcceptanceState string

const (
	AcceptancePending  AcceptanceState = "pending"
	AcceptanceAccepted AcceptanceState = "accepted"
	AcceptanceFailed   AcceptanceState = "failed"
)

// SharedZone is a cloud-hosted partition of records accessible to multiple
// family members once its share has been accepted. A zone id maps to at
// most one SharedZone; re-accepting an accepted zone is a no-op.
type SharedZone struct {
	ZoneID           string
	FamilyID         string
	Name             string
	OwnerParticipant string
	State            AcceptanceState
	AcceptedAt       *time.Time
}
