package share

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/nestlog/internal/domain"
)

func validInvitation() Invitation {
	return Invitation{
		ZoneID:           "Z1",
		ZoneName:         "Baby Log",
		OwnerParticipant: "P",
		RootRecordID:     "root-1",
		FamilyID:         "fam-1",
	}
}

func TestValidateSuccess(t *testing.T) {
	cloud := &stubCloud{
		root: &RootRecord{RecordID: "root-1", ZoneID: "Z1", ZoneName: "Baby Log", OwnerID: "P"},
		participants: []Participant{
			{ID: "P", Role: "owner"},
			{ID: "Q", Role: "member"},
		},
	}
	acceptor := NewAcceptor(cloud)

	meta, err := acceptor.Validate(context.Background(), validInvitation())
	require.NoError(t, err)
	require.Equal(t, "Z1", meta.ZoneID)
	require.Equal(t, "P", meta.OwnerParticipant)
	require.Len(t, meta.Participants, 2)
}

func TestValidateFallsBackToRootZoneName(t *testing.T) {
	cloud := &stubCloud{
		root:         &RootRecord{RecordID: "root-1", ZoneID: "Z1", ZoneName: "Nursery", OwnerID: "P"},
		participants: []Participant{{ID: "P", Role: "owner"}},
	}
	acceptor := NewAcceptor(cloud)

	inv := validInvitation()
	inv.ZoneName = ""
	meta, err := acceptor.Validate(context.Background(), inv)
	require.NoError(t, err)
	require.Equal(t, "Nursery", meta.ZoneName)
}

func TestValidateRejectsMalformedInvitation(t *testing.T) {
	acceptor := NewAcceptor(&stubCloud{})

	inv := validInvitation()
	inv.ZoneID = "  "
	_, err := acceptor.Validate(context.Background(), inv)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestValidateRejectsOwnerMismatch(t *testing.T) {
	cloud := &stubCloud{
		root:         &RootRecord{RecordID: "root-1", ZoneID: "Z1", OwnerID: "someone-else"},
		participants: []Participant{{ID: "someone-else", Role: "owner"}},
	}
	acceptor := NewAcceptor(cloud)

	_, err := acceptor.Validate(context.Background(), validInvitation())
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "Z1", verr.ZoneID)
}

func TestValidateRejectsRootRecordMismatch(t *testing.T) {
	cloud := &stubCloud{
		root: &RootRecord{RecordID: "other-root", ZoneID: "Z1", OwnerID: "P"},
	}
	acceptor := NewAcceptor(cloud)

	_, err := acceptor.Validate(context.Background(), validInvitation())
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestValidatePropagatesNetworkError(t *testing.T) {
	cloud := &stubCloud{rootErr: &domain.NetworkError{ZoneID: "Z1", Op: "fetch root record", Err: errors.New("connection refused")}}
	acceptor := NewAcceptor(cloud)

	_, err := acceptor.Validate(context.Background(), validInvitation())
	var nerr *domain.NetworkError
	require.ErrorAs(t, err, &nerr)
	require.Equal(t, 1, cloud.rootCalls, "no internal retry")
}

func TestValidateRejectsMissingOwnerParticipant(t *testing.T) {
	cloud := &stubCloud{
		root:         &RootRecord{RecordID: "root-1", ZoneID: "Z1", OwnerID: "P"},
		participants: []Participant{{ID: "Q", Role: "member"}},
	}
	acceptor := NewAcceptor(cloud)

	_, err := acceptor.Validate(context.Background(), validInvitation())
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}

type stubCloud struct {
	root             *RootRecord
	rootErr          error
	rootCalls        int
	participants     []Participant
	participantsErr  error
	participantCalls int
}

func (s *stubCloud) FetchRootRecord(_ context.Context, _ string) (*RootRecord, error) {
	s.rootCalls++
	if s.rootErr != nil {
		return nil, s.rootErr
	}
	return s.root, nil
}

func (s *stubCloud) FetchParticipants(_ context.Context, _ string) ([]Participant, error) {
	s.participantCalls++
	if s.participantsErr != nil {
		return nil, s.participantsErr
	}
	return s.participants, nil
}
