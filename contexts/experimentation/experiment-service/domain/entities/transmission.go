package entities

import (
	"strings"
	"time"

	domainerrors "vivarium/contexts/experimentation/experiment-service/domain/errors"
)

type TransmissionStatus string

const (
	TransmissionPending  TransmissionStatus = "pending"
	TransmissionReceived TransmissionStatus = "received"
)

// Transmission is one message in flight between participants. It is
// created pending and marked received when the experiment steps.
type Transmission struct {
	TransmissionID string
	ParticipantID  string
	Status         TransmissionStatus
	Payload        []byte
	CreatedAt      time.Time
	ReceivedAt     *time.Time
}

func NewTransmission(transmissionID, participantID string, payload []byte, now time.Time) (Transmission, error) {
	transmissionID = strings.TrimSpace(transmissionID)
	participantID = strings.TrimSpace(participantID)
	if transmissionID == "" || participantID == "" {
		return Transmission{}, domainerrors.ErrInvalidTransmission
	}
	return Transmission{
		TransmissionID: transmissionID,
		ParticipantID:  participantID,
		Status:         TransmissionPending,
		Payload:        append([]byte(nil), payload...),
		CreatedAt:      now.UTC(),
	}, nil
}

// MarkReceived transitions a pending transmission to received.
func (t *Transmission) MarkReceived(now time.Time) error {
	if t.Status != TransmissionPending {
		return domainerrors.ErrTransmissionAlreadyReceived
	}
	ts := now.UTC()
	t.Status = TransmissionReceived
	t.ReceivedAt = &ts
	return nil
}
