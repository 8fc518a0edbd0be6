package share

import (
	"context"

	"example.com/nestlog/internal/domain"
)

// Acceptor performs the validating step of the acceptance protocol: it
// confirms an invitation against the cloud zone service and assembles the
// metadata the coordinator registers. Validation is network-bound and is
// meant to run as an independent unit of work; Acceptor itself holds no
// mutable state.
type Acceptor struct {
	cloud CloudService
}

// NewAcceptor constructs an Acceptor.
func NewAcceptor(cloud CloudService) *Acceptor {
	return &Acceptor{cloud: cloud}
}

// Validate confirms the share with the cloud service. It returns
// ValidationError for stale, revoked, or inconsistent shares and
// NetworkError for transient transport failures. It never retries.
func (a *Acceptor) Validate(ctx context.Context, inv Invitation) (*ZoneMetadata, error) {
	if err := inv.Validate(); err != nil {
		return nil, err
	}

	root, err := a.cloud.FetchRootRecord(ctx, inv.ZoneID)
	if err != nil {
		return nil, err
	}
	if root.RecordID != inv.RootRecordID {
		return nil, &domain.ValidationError{ZoneID: inv.ZoneID, Reason: "root record reference does not match the zone"}
	}
	if root.OwnerID != inv.OwnerParticipant {
		return nil, &domain.ValidationError{ZoneID: inv.ZoneID, Reason: "invitation owner does not match the zone owner"}
	}

	participants, err := a.cloud.FetchParticipants(ctx, inv.ZoneID)
	if err != nil {
		return nil, err
	}

	ownerPresent := false
	for _, p := range participants {
		if p.ID == root.OwnerID {
			ownerPresent = true
			break
		}
	}
	if !ownerPresent {
		return nil, &domain.ValidationError{ZoneID: inv.ZoneID, Reason: "zone owner absent from participant list"}
	}

	name := inv.ZoneName
	if name == "" {
		name = root.ZoneName
	}

	return &ZoneMetadata{
		ZoneID:           inv.ZoneID,
		ZoneName:         name,
		OwnerParticipant: root.OwnerID,
		FamilyID:         inv.FamilyID,
		Participants:     participants,
	}, nil
}
