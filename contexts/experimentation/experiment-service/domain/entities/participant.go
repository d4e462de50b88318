package entities

import (
	"strings"
	"time"

	domainerrors "vivarium/contexts/experimentation/experiment-service/domain/errors"
)

type ParticipantStatus string

const (
	ParticipantWorking   ParticipantStatus = "working"
	ParticipantSubmitted ParticipantStatus = "submitted"
)

// Participant is one enrolled experimental subject.
type Participant struct {
	ParticipantID string
	Status        ParticipantStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func NewParticipant(participantID string, now time.Time) (Participant, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return Participant{}, domainerrors.ErrInvalidParticipant
	}
	return Participant{
		ParticipantID: participantID,
		Status:        ParticipantWorking,
		CreatedAt:     now.UTC(),
		UpdatedAt:     now.UTC(),
	}, nil
}

// Submit marks the participant done with their task. Only working
// participants can submit.
func (p *Participant) Submit(now time.Time) error {
	if p.Status != ParticipantWorking {
		return domainerrors.ErrParticipantNotWorking
	}
	p.Status = ParticipantSubmitted
	p.UpdatedAt = now.UTC()
	return nil
}
