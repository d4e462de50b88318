package application

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"vivarium/contexts/experimentation/experiment-service/domain/entities"
	"vivarium/contexts/experimentation/experiment-service/ports"
	"vivarium/internal/platform/db"
	"vivarium/internal/platform/notify"
	"vivarium/internal/shared/events"
)

const (
	// ChannelParticipants carries participant lifecycle events.
	ChannelParticipants = "experiment.participants"
	// ChannelTransmissions carries transmission lifecycle events.
	ChannelTransmissions = "experiment.transmissions"

	sourceService        = "experiment-service"
	defaultStepBatchSize = 50
)

// Engine advances an experiment. Every operation runs inside a scoped
// session so state changes and their events commit or vanish together.
type Engine struct {
	Sessions      *db.Sessions
	Store         ports.ExperimentStore
	Notifier      notify.AdminNotifier
	Clock         ports.Clock
	IDGen         ports.IDGenerator
	StepBatchSize int
	Logger        *slog.Logger
}

func (e Engine) EnrollParticipant(ctx context.Context, participantID string) (entities.Participant, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		generated, err := e.IDGen.NewID(ctx)
		if err != nil {
			return entities.Participant{}, err
		}
		participantID = generated
	}

	var participant entities.Participant
	err := e.Sessions.Scoped(ctx, true, func(sess *db.Session) error {
		created, err := entities.NewParticipant(participantID, e.now())
		if err != nil {
			return err
		}
		if err := e.Store.CreateParticipant(sess, created); err != nil {
			return err
		}
		if err := queueEvent(sess, ChannelParticipants, "participant.joined", "participant", created.ParticipantID, map[string]any{
			"participant_id": created.ParticipantID,
			"status":         string(created.Status),
		}); err != nil {
			return err
		}
		participant = created
		return nil
	})
	if err != nil {
		return entities.Participant{}, err
	}

	ResolveLogger(e.Logger).Info("participant enrolled",
		"event", "participant_enrolled",
		"module", "experimentation/experiment-service",
		"layer", "application",
		"participant_id", participant.ParticipantID,
	)
	return participant, nil
}

func (e Engine) SubmitParticipant(ctx context.Context, participantID string) (entities.Participant, error) {
	var participant entities.Participant
	err := e.Sessions.Scoped(ctx, true, func(sess *db.Session) error {
		current, err := e.Store.GetParticipant(sess, participantID)
		if err != nil {
			return err
		}
		if err := current.Submit(e.now()); err != nil {
			return err
		}
		if err := e.Store.UpdateParticipant(sess, current); err != nil {
			return err
		}
		if err := queueEvent(sess, ChannelParticipants, "participant.submitted", "participant", current.ParticipantID, map[string]any{
			"participant_id": current.ParticipantID,
			"status":         string(current.Status),
		}); err != nil {
			return err
		}
		participant = current
		return nil
	})
	if err != nil {
		return entities.Participant{}, err
	}

	ResolveLogger(e.Logger).Info("participant submitted",
		"event", "participant_submitted",
		"module", "experimentation/experiment-service",
		"layer", "application",
		"participant_id", participant.ParticipantID,
	)
	return participant, nil
}

func (e Engine) RecordTransmission(ctx context.Context, participantID string, payload []byte) (entities.Transmission, error) {
	var transmission entities.Transmission
	err := e.Sessions.Scoped(ctx, true, func(sess *db.Session) error {
		participant, err := e.Store.GetParticipant(sess, participantID)
		if err != nil {
			return err
		}

		transmissionID, err := e.IDGen.NewID(ctx)
		if err != nil {
			return err
		}
		created, err := entities.NewTransmission(transmissionID, participant.ParticipantID, payload, e.now())
		if err != nil {
			return err
		}
		if err := e.Store.CreateTransmission(sess, created); err != nil {
			return err
		}
		if err := queueEvent(sess, ChannelTransmissions, "transmission.recorded", "transmission", created.TransmissionID, map[string]any{
			"transmission_id": created.TransmissionID,
			"participant_id":  created.ParticipantID,
			"status":          string(created.Status),
		}); err != nil {
			return err
		}
		transmission = created
		return nil
	})
	if err != nil {
		return entities.Transmission{}, err
	}

	ResolveLogger(e.Logger).Debug("transmission recorded",
		"event", "transmission_recorded",
		"module", "experimentation/experiment-service",
		"layer", "application",
		"transmission_id", transmission.TransmissionID,
		"participant_id", transmission.ParticipantID,
	)
	return transmission, nil
}

// Step receives every pending transmission in one serialized transaction.
// Concurrent steps conflict instead of double-receiving; the session layer
// retries the losing side.
func (e Engine) Step(ctx context.Context) (int, error) {
	limit := e.StepBatchSize
	if limit <= 0 {
		limit = defaultStepBatchSize
	}

	received := 0
	err := e.Sessions.Serialized(ctx, func(sess *db.Session) error {
		received = 0
		pending, err := e.Store.ListPendingTransmissions(sess, limit)
		if err != nil {
			return err
		}
		for _, transmission := range pending {
			if err := transmission.MarkReceived(e.now()); err != nil {
				return err
			}
			if err := e.Store.UpdateTransmission(sess, transmission); err != nil {
				return err
			}
			if err := queueEvent(sess, ChannelTransmissions, "transmission.received", "transmission", transmission.TransmissionID, map[string]any{
				"transmission_id": transmission.TransmissionID,
				"participant_id":  transmission.ParticipantID,
				"status":          string(transmission.Status),
			}); err != nil {
				return err
			}
			received++
		}
		return nil
	})
	if err != nil {
		ResolveLogger(e.Logger).Error("experiment step failed",
			"event", "experiment_step_failed",
			"module", "experimentation/experiment-service",
			"layer", "application",
			"error", err.Error(),
		)
		e.notifyAdmin(ctx, "experiment step failed", err)
		return 0, err
	}

	if received > 0 {
		ResolveLogger(e.Logger).Info("experiment step completed",
			"event", "experiment_step_completed",
			"module", "experimentation/experiment-service",
			"layer", "application",
			"received_count", received,
		)
	}
	return received, nil
}

func (e Engine) notifyAdmin(ctx context.Context, subject string, cause error) {
	if e.Notifier == nil {
		return
	}
	if err := e.Notifier.Notify(ctx, subject, cause.Error()); err != nil {
		ResolveLogger(e.Logger).Error("admin notification failed",
			"event", "admin_notification_failed",
			"module", "experimentation/experiment-service",
			"layer", "application",
			"error", err.Error(),
		)
	}
}

func (e Engine) now() time.Time {
	if e.Clock == nil {
		return time.Now().UTC()
	}
	return e.Clock.Now().UTC()
}

func queueEvent(sess *db.Session, channel, eventType, entityType, entityID string, data map[string]any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	envelope := events.New(eventType, sourceService, entityType, entityID, payload)
	encoded, err := envelope.Encode()
	if err != nil {
		return err
	}
	sess.QueueMessage(channel, encoded)
	return nil
}
