package postgresadapter

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"vivarium/contexts/experimentation/experiment-service/domain/entities"
	domainerrors "vivarium/contexts/experimentation/experiment-service/domain/errors"
	"vivarium/internal/platform/db"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const defaultListLimit = 50

// Repository persists experiment state through the caller's session so
// every write joins the surrounding transaction.
type Repository struct {
	logger *slog.Logger
}

func NewRepository(logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		logger: logger,
	}
}

func (r *Repository) CreateParticipant(sess *db.Session, participant entities.Participant) error {
	row := participantModelFromEntity(participant)
	if err := sess.DB().Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrParticipantExists
		}
		return err
	}
	return nil
}

func (r *Repository) GetParticipant(sess *db.Session, participantID string) (entities.Participant, error) {
	var row participantModel
	err := sess.DB().
		Where("participant_id = ?", strings.TrimSpace(participantID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Participant{}, domainerrors.ErrParticipantNotFound
		}
		return entities.Participant{}, err
	}
	return row.toEntity(), nil
}

func (r *Repository) UpdateParticipant(sess *db.Session, participant entities.Participant) error {
	result := sess.DB().
		Model(&participantModel{}).
		Where("participant_id = ?", strings.TrimSpace(participant.ParticipantID)).
		Updates(participantUpdatesFromEntity(participant))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrParticipantNotFound
	}
	return nil
}

func (r *Repository) CreateTransmission(sess *db.Session, transmission entities.Transmission) error {
	row := transmissionModelFromEntity(transmission)
	if err := sess.DB().Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrInvalidTransmission
		}
		return err
	}
	return nil
}

func (r *Repository) ListPendingTransmissions(sess *db.Session, limit int) ([]entities.Transmission, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	var rows []transmissionModel
	if err := sess.DB().
		Where("status = ?", string(entities.TransmissionPending)).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).
		Error; err != nil {
		return nil, err
	}

	items := make([]entities.Transmission, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) UpdateTransmission(sess *db.Session, transmission entities.Transmission) error {
	result := sess.DB().
		Model(&transmissionModel{}).
		Where("transmission_id = ?", strings.TrimSpace(transmission.TransmissionID)).
		Updates(transmissionUpdatesFromEntity(transmission))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrTransmissionNotFound
	}
	return nil
}

type participantModel struct {
	ParticipantID string    `gorm:"column:participant_id;primaryKey"`
	Status        string    `gorm:"column:status"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (participantModel) TableName() string {
	return "participants"
}

func participantModelFromEntity(item entities.Participant) participantModel {
	return participantModel{
		ParticipantID: strings.TrimSpace(item.ParticipantID),
		Status:        string(item.Status),
		CreatedAt:     item.CreatedAt.UTC(),
		UpdatedAt:     item.UpdatedAt.UTC(),
	}
}

func participantUpdatesFromEntity(item entities.Participant) map[string]any {
	row := participantModelFromEntity(item)
	return map[string]any{
		"status":     row.Status,
		"updated_at": row.UpdatedAt,
	}
}

func (m participantModel) toEntity() entities.Participant {
	return entities.Participant{
		ParticipantID: m.ParticipantID,
		Status:        entities.ParticipantStatus(m.Status),
		CreatedAt:     m.CreatedAt.UTC(),
		UpdatedAt:     m.UpdatedAt.UTC(),
	}
}

type transmissionModel struct {
	TransmissionID string     `gorm:"column:transmission_id;primaryKey"`
	ParticipantID  string     `gorm:"column:participant_id"`
	Status         string     `gorm:"column:status"`
	Payload        []byte     `gorm:"column:payload"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	ReceivedAt     *time.Time `gorm:"column:received_at"`
}

func (transmissionModel) TableName() string {
	return "transmissions"
}

func transmissionModelFromEntity(item entities.Transmission) transmissionModel {
	return transmissionModel{
		TransmissionID: strings.TrimSpace(item.TransmissionID),
		ParticipantID:  strings.TrimSpace(item.ParticipantID),
		Status:         string(item.Status),
		Payload:        append([]byte(nil), item.Payload...),
		CreatedAt:      item.CreatedAt.UTC(),
		ReceivedAt:     normalizeOptionalTime(item.ReceivedAt),
	}
}

func transmissionUpdatesFromEntity(item entities.Transmission) map[string]any {
	row := transmissionModelFromEntity(item)
	return map[string]any{
		"status":      row.Status,
		"received_at": row.ReceivedAt,
	}
}

func (m transmissionModel) toEntity() entities.Transmission {
	return entities.Transmission{
		TransmissionID: m.TransmissionID,
		ParticipantID:  m.ParticipantID,
		Status:         entities.TransmissionStatus(m.Status),
		Payload:        append([]byte(nil), m.Payload...),
		CreatedAt:      m.CreatedAt.UTC(),
		ReceivedAt:     normalizeOptionalTime(m.ReceivedAt),
	}
}

func normalizeOptionalTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	timestamp := value.UTC()
	return &timestamp
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
