package db

import (
	"context"
	"errors"
	"log/slog"
	"testing"
)

func TestScopedCommitsAndPublishes(t *testing.T) {
	f, mock, bus := newTestSessions(t)

	mock.ExpectBegin()
	mock.ExpectCommit()
	err := f.Scoped(context.Background(), true, func(sess *Session) error {
		sess.QueueMessage("chat", []byte("hello"))
		return nil
	})
	if err != nil {
		t.Fatalf("scoped failed: %v", err)
	}

	if len(bus.published) != 1 || bus.published[0].payload != "hello" {
		t.Fatalf("expected one published message, got %+v", bus.published)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestScopedWithoutCommitRollsBack(t *testing.T) {
	f, mock, bus := newTestSessions(t)

	mock.ExpectBegin()
	mock.ExpectRollback()
	err := f.Scoped(context.Background(), false, func(sess *Session) error {
		sess.QueueMessage("chat", []byte("hello"))
		return nil
	})
	if err != nil {
		t.Fatalf("scoped failed: %v", err)
	}

	if len(bus.published) != 0 {
		t.Fatalf("read-only scope must publish nothing, got %d", len(bus.published))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestScopedReturnsWorkErrorUnchanged(t *testing.T) {
	f, mock, bus := newTestSessions(t)
	errWork := errors.New("work exploded")

	mock.ExpectBegin()
	mock.ExpectRollback()
	err := f.Scoped(context.Background(), true, func(sess *Session) error {
		sess.QueueMessage("chat", []byte("hello"))
		return errWork
	})

	if err != errWork {
		t.Fatalf("expected the work error itself, got %v", err)
	}
	if len(bus.published) != 0 {
		t.Fatalf("failed scope must publish nothing, got %d", len(bus.published))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestScopedPreservesWorkErrorWhenRollbackFails(t *testing.T) {
	gdb, mock := newMockGorm(t)
	handler := &captureHandler{}
	f := NewSessions(&Postgres{DB: gdb}, &recordingBus{}, slog.New(handler))
	errWork := errors.New("work exploded")

	mock.ExpectBegin()
	mock.ExpectRollback().WillReturnError(errors.New("rollback exploded"))
	err := f.Scoped(context.Background(), false, func(*Session) error {
		return errWork
	})

	if err != errWork {
		t.Fatalf("rollback failure must not mask the work error, got %v", err)
	}

	var scopeFailedAt, rollbackFailedAt int
	for i, msg := range handler.messages {
		switch msg {
		case "scoped transaction failed, rolling back":
			scopeFailedAt = i + 1
		case "scoped rollback failed":
			rollbackFailedAt = i + 1
		}
	}
	if scopeFailedAt == 0 || rollbackFailedAt == 0 {
		t.Fatalf("expected both failure logs, got %v", handler.messages)
	}
	if scopeFailedAt > rollbackFailedAt {
		t.Fatalf("work error must be logged before rollback, got %v", handler.messages)
	}
}

func TestScopedReleasesOnPanic(t *testing.T) {
	f, mock, _ := newTestSessions(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	var recovered any
	func() {
		defer func() { recovered = recover() }()
		_ = f.Scoped(context.Background(), true, func(*Session) error {
			panic("boom")
		})
	}()

	if recovered != "boom" {
		t.Fatalf("expected panic to propagate, got %v", recovered)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("session was not released on panic: %v", err)
	}
}

func TestScopedUnitsAreIndependent(t *testing.T) {
	f, mock, _ := newTestSessions(t)

	for i := 0; i < 3; i++ {
		mock.ExpectBegin()
		mock.ExpectRollback()
		if err := f.Scoped(context.Background(), false, func(*Session) error { return nil }); err != nil {
			t.Fatalf("scope %d failed: %v", i, err)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestScopedReportsCommitError(t *testing.T) {
	f, mock, bus := newTestSessions(t)

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("commit refused"))
	err := f.Scoped(context.Background(), true, func(sess *Session) error {
		sess.QueueMessage("chat", []byte("hello"))
		return nil
	})
	if err == nil {
		t.Fatal("expected commit error")
	}
	if len(bus.published) != 0 {
		t.Fatalf("failed commit must publish nothing, got %d", len(bus.published))
	}
}

func TestScopedAllowsExplicitCommitInsideWork(t *testing.T) {
	f, mock, bus := newTestSessions(t)

	mock.ExpectBegin()
	mock.ExpectCommit()
	err := f.Scoped(context.Background(), true, func(sess *Session) error {
		sess.QueueMessage("chat", []byte("hello"))
		return sess.Commit(context.Background())
	})
	if err != nil {
		t.Fatalf("scoped failed: %v", err)
	}

	if len(bus.published) != 1 {
		t.Fatalf("expected exactly one published message, got %d", len(bus.published))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestWrapRunsWithoutCommit(t *testing.T) {
	f, mock, bus := newTestSessions(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	ran := false
	work := f.Wrap(func(sess *Session) error {
		ran = true
		sess.QueueMessage("chat", []byte("hello"))
		return nil
	})
	if err := work(context.Background()); err != nil {
		t.Fatalf("wrapped work failed: %v", err)
	}

	if !ran {
		t.Fatal("expected wrapped work to run")
	}
	if len(bus.published) != 0 {
		t.Fatalf("wrapped work must not publish without commit, got %d", len(bus.published))
	}
}
