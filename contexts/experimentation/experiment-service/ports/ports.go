// Package ports declares the interfaces the experiment service depends on.
package ports

import (
	"context"
	"time"

	"vivarium/contexts/experimentation/experiment-service/domain/entities"
	"vivarium/internal/platform/db"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces identifiers for new records and events.
type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

// ExperimentStore persists participants and transmissions. Every method
// runs on the caller's session so writes join the surrounding transaction.
type ExperimentStore interface {
	CreateParticipant(sess *db.Session, participant entities.Participant) error
	GetParticipant(sess *db.Session, participantID string) (entities.Participant, error)
	UpdateParticipant(sess *db.Session, participant entities.Participant) error
	CreateTransmission(sess *db.Session, transmission entities.Transmission) error
	ListPendingTransmissions(sess *db.Session, limit int) ([]entities.Transmission, error)
	UpdateTransmission(sess *db.Session, transmission entities.Transmission) error
}
