package postgresadapter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"vivarium/contexts/experimentation/experiment-service/domain/entities"
	domainerrors "vivarium/contexts/experimentation/experiment-service/domain/errors"
	"vivarium/internal/platform/db"
)

// newRepoSession opens a sqlmock-backed session with its transaction
// already begun, the way the engine hands sessions to the store.
func newRepoSession(t *testing.T) (*db.Session, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("open sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = mockDB.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		t.Fatalf("open gorm: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sess := db.NewSessions(&db.Postgres{DB: gormDB}, nil, logger).Open()
	mock.ExpectBegin()
	if err := sess.Begin(context.Background()); err != nil {
		t.Fatalf("begin session: %v", err)
	}
	t.Cleanup(func() {
		mock.ExpectRollback()
		sess.Release()
	})
	return sess, mock
}

func testParticipant(t *testing.T, participantID string) entities.Participant {
	t.Helper()
	participant, err := entities.NewParticipant(participantID, time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("new participant: %v", err)
	}
	return participant
}

func testTransmission(t *testing.T, transmissionID string) entities.Transmission {
	t.Helper()
	transmission, err := entities.NewTransmission(transmissionID, "p-1", []byte("signal"), time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("new transmission: %v", err)
	}
	return transmission
}

func TestCreateParticipantInsertsRow(t *testing.T) {
	sess, mock := newRepoSession(t)
	repo := NewRepository(nil)

	mock.ExpectExec(`INSERT INTO "participants"`).WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.CreateParticipant(sess, testParticipant(t, "p-1")); err != nil {
		t.Fatalf("create participant: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestCreateParticipantMapsUniqueViolation(t *testing.T) {
	sess, mock := newRepoSession(t)
	repo := NewRepository(nil)

	mock.ExpectExec(`INSERT INTO "participants"`).WillReturnError(&pgconn.PgError{Code: "23505"})
	err := repo.CreateParticipant(sess, testParticipant(t, "p-1"))
	if !errors.Is(err, domainerrors.ErrParticipantExists) {
		t.Fatalf("expected ErrParticipantExists, got %v", err)
	}
}

func TestGetParticipantMapsRow(t *testing.T) {
	sess, mock := newRepoSession(t)
	repo := NewRepository(nil)

	createdAt := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	updatedAt := time.Date(2026, 4, 1, 11, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"participant_id", "status", "created_at", "updated_at"}).
		AddRow("p-1", "working", createdAt, updatedAt)
	mock.ExpectQuery(`SELECT (.+) FROM "participants" WHERE participant_id = (.+)`).WillReturnRows(rows)

	participant, err := repo.GetParticipant(sess, " p-1 ")
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}
	if participant.ParticipantID != "p-1" {
		t.Fatalf("unexpected participant id %q", participant.ParticipantID)
	}
	if participant.Status != entities.ParticipantWorking {
		t.Fatalf("unexpected status %q", participant.Status)
	}
	if !participant.CreatedAt.Equal(createdAt) || !participant.UpdatedAt.Equal(updatedAt) {
		t.Fatalf("unexpected timestamps %v %v", participant.CreatedAt, participant.UpdatedAt)
	}
}

func TestGetParticipantNotFound(t *testing.T) {
	sess, mock := newRepoSession(t)
	repo := NewRepository(nil)

	mock.ExpectQuery(`SELECT (.+) FROM "participants"`).
		WillReturnRows(sqlmock.NewRows([]string{"participant_id", "status", "created_at", "updated_at"}))

	_, err := repo.GetParticipant(sess, "ghost")
	if !errors.Is(err, domainerrors.ErrParticipantNotFound) {
		t.Fatalf("expected ErrParticipantNotFound, got %v", err)
	}
}

func TestUpdateParticipantRequiresRow(t *testing.T) {
	sess, mock := newRepoSession(t)
	repo := NewRepository(nil)

	mock.ExpectExec(`UPDATE "participants" SET`).WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.UpdateParticipant(sess, testParticipant(t, "ghost"))
	if !errors.Is(err, domainerrors.ErrParticipantNotFound) {
		t.Fatalf("expected ErrParticipantNotFound, got %v", err)
	}

	mock.ExpectExec(`UPDATE "participants" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.UpdateParticipant(sess, testParticipant(t, "p-1")); err != nil {
		t.Fatalf("update participant: %v", err)
	}
}

func TestCreateTransmissionMapsUniqueViolation(t *testing.T) {
	sess, mock := newRepoSession(t)
	repo := NewRepository(nil)

	mock.ExpectExec(`INSERT INTO "transmissions"`).WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.CreateTransmission(sess, testTransmission(t, "t-1")); err != nil {
		t.Fatalf("create transmission: %v", err)
	}

	mock.ExpectExec(`INSERT INTO "transmissions"`).WillReturnError(&pgconn.PgError{Code: "23505"})
	err := repo.CreateTransmission(sess, testTransmission(t, "t-1"))
	if !errors.Is(err, domainerrors.ErrInvalidTransmission) {
		t.Fatalf("expected ErrInvalidTransmission, got %v", err)
	}
}

func TestListPendingTransmissionsMapsRowsInOrder(t *testing.T) {
	sess, mock := newRepoSession(t)
	repo := NewRepository(nil)

	first := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	second := time.Date(2026, 4, 1, 9, 5, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"transmission_id", "participant_id", "status", "payload", "created_at", "received_at"}).
		AddRow("t-1", "p-1", "pending", []byte("one"), first, nil).
		AddRow("t-2", "p-1", "pending", []byte("two"), second, nil)
	mock.ExpectQuery(`SELECT (.+) FROM "transmissions" WHERE status = (.+) ORDER BY created_at ASC`).
		WillReturnRows(rows)

	items, err := repo.ListPendingTransmissions(sess, 2)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 transmissions, got %d", len(items))
	}
	if items[0].TransmissionID != "t-1" || items[1].TransmissionID != "t-2" {
		t.Fatalf("unexpected order %q %q", items[0].TransmissionID, items[1].TransmissionID)
	}
	if items[0].Status != entities.TransmissionPending {
		t.Fatalf("unexpected status %q", items[0].Status)
	}
	if string(items[0].Payload) != "one" {
		t.Fatalf("unexpected payload %q", items[0].Payload)
	}
	if items[0].ReceivedAt != nil {
		t.Fatal("pending transmission must not carry received_at")
	}
}

func TestUpdateTransmissionRequiresRow(t *testing.T) {
	sess, mock := newRepoSession(t)
	repo := NewRepository(nil)

	mock.ExpectExec(`UPDATE "transmissions" SET`).WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.UpdateTransmission(sess, testTransmission(t, "ghost"))
	if !errors.Is(err, domainerrors.ErrTransmissionNotFound) {
		t.Fatalf("expected ErrTransmissionNotFound, got %v", err)
	}

	received := testTransmission(t, "t-1")
	if err := received.MarkReceived(time.Date(2026, 4, 1, 12, 30, 0, 0, time.UTC)); err != nil {
		t.Fatalf("mark received: %v", err)
	}
	mock.ExpectExec(`UPDATE "transmissions" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.UpdateTransmission(sess, received); err != nil {
		t.Fatalf("update transmission: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
