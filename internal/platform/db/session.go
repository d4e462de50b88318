package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"vivarium/internal/platform/messaging"
	"vivarium/internal/shared/outbox"
)

// TxState describes where a session is in its transaction lifecycle.
type TxState int

const (
	TxInactive TxState = iota
	TxActive
	TxCommitted
	TxRolledBack
)

func (s TxState) String() string {
	switch s {
	case TxInactive:
		return "inactive"
	case TxActive:
		return "active"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled back"
	default:
		return "unknown"
	}
}

var (
	// ErrSessionActive is returned by Begin when the session already
	// has an open transaction.
	ErrSessionActive = errors.New("session transaction already active")
	// ErrSessionInactive is returned by operations that need an open
	// transaction when there is none.
	ErrSessionInactive = errors.New("session has no active transaction")
)

// Outbox publishing after commit is best effort: each entry gets a few
// attempts with a short backoff, then is logged and dropped. The commit
// itself is already durable and never reported as failed.
const (
	publishAttempts = 3
	publishBackoff  = 50 * time.Millisecond
)

// Sessions opens units of work against one postgres handle and fans
// committed outbox entries out through the bus.
type Sessions struct {
	pg     *Postgres
	bus    messaging.Publisher
	logger *slog.Logger
	sleep  func(context.Context, time.Duration) error
}

func NewSessions(pg *Postgres, bus messaging.Publisher, logger *slog.Logger) *Sessions {
	return &Sessions{
		pg:     pg,
		bus:    bus,
		logger: resolveLogger(logger),
		sleep:  sleepContext,
	}
}

// Open hands out a fresh session. Sessions are single-owner: each
// goroutine opens its own and releases it when the unit of work ends.
func (f *Sessions) Open() *Session {
	return &Session{
		root:   f.pg.DB,
		bus:    f.bus,
		logger: f.logger,
		sleep:  f.sleep,
	}
}

// Session is one unit of work: a single database transaction plus the
// outbox of messages queued while it ran. Not safe for concurrent use.
type Session struct {
	root   *gorm.DB
	tx     *gorm.DB
	state  TxState
	outbox outbox.Buffer
	bus    messaging.Publisher
	logger *slog.Logger
	sleep  func(context.Context, time.Duration) error
}

func (s *Session) State() TxState {
	return s.state
}

// DB returns the handle queries should run on: the open transaction
// when there is one, the root connection otherwise.
func (s *Session) DB() *gorm.DB {
	if s.tx != nil {
		return s.tx
	}
	return s.root
}

func (s *Session) Begin(ctx context.Context) error {
	return s.BeginTx(ctx, nil)
}

// BeginTx opens the session's transaction. The outbox is reset so the
// new transaction starts with no queued messages, whatever happened to
// the session before.
func (s *Session) BeginTx(ctx context.Context, opts *sql.TxOptions) error {
	if s.state == TxActive {
		return ErrSessionActive
	}

	tx := s.root.WithContext(ctx).Begin(opts)
	if tx.Error != nil {
		return fmt.Errorf("begin transaction: %w", tx.Error)
	}

	s.tx = tx
	s.state = TxActive
	s.outbox.Reset()
	return nil
}

// QueueMessage adds an entry to the session outbox. Nothing reaches
// the bus until the transaction commits.
func (s *Session) QueueMessage(channel string, payload []byte) {
	s.logger.Debug("message queued",
		"event", "session_message_queued",
		"module", "internal/platform/db",
		"layer", "platform",
		"channel", channel,
	)
	s.outbox.Queue(channel, payload)
}

// Commit makes the transaction durable, then publishes the queued
// outbox entries in insertion order. A failed commit discards the
// outbox and leaves nothing published.
func (s *Session) Commit(ctx context.Context) error {
	if s.state != TxActive {
		return ErrSessionInactive
	}

	err := s.tx.Commit().Error
	s.tx = nil
	if err != nil {
		s.state = TxRolledBack
		s.outbox.Reset()
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.state = TxCommitted
	s.publishOutbox(ctx)
	return nil
}

// Rollback ends the transaction and discards the outbox. Without an
// active transaction it only clears the outbox and reports nothing.
func (s *Session) Rollback() error {
	s.outbox.Reset()
	if s.state != TxActive {
		return nil
	}

	tx := s.tx
	s.tx = nil
	s.state = TxRolledBack
	if err := tx.Rollback().Error; err != nil {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}

// SavePoint marks a point the transaction can rewind to.
func (s *Session) SavePoint(name string) error {
	if s.state != TxActive {
		return ErrSessionInactive
	}
	if err := s.tx.SavePoint(name).Error; err != nil {
		return fmt.Errorf("savepoint %s: %w", name, err)
	}
	return nil
}

// RollbackTo rewinds the transaction to a savepoint. The transaction
// stays active, but the outbox is discarded: entries queued earlier may
// describe writes that no longer exist.
func (s *Session) RollbackTo(name string) error {
	if s.state != TxActive {
		return ErrSessionInactive
	}
	s.outbox.Reset()
	if err := s.tx.RollbackTo(name).Error; err != nil {
		return fmt.Errorf("rollback to savepoint %s: %w", name, err)
	}
	return nil
}

// Release ends the unit of work. A still-open transaction is rolled
// back and the outbox discarded. Safe to call on every exit path, any
// number of times.
func (s *Session) Release() {
	if s.state == TxActive && s.tx != nil {
		if err := s.tx.Rollback().Error; err != nil {
			s.logger.Error("session release rollback failed",
				"event", "session_release_rollback_failed",
				"module", "internal/platform/db",
				"layer", "platform",
				"error", err.Error(),
			)
		}
	}
	s.tx = nil
	s.outbox.Reset()
	s.state = TxInactive
	s.logger.Debug("session released",
		"event", "session_released",
		"module", "internal/platform/db",
		"layer", "platform",
	)
}

func (s *Session) publishOutbox(ctx context.Context) {
	entries := s.outbox.Drain()
	if s.bus == nil || len(entries) == 0 {
		return
	}
	for _, entry := range entries {
		if err := s.publishEntry(ctx, entry); err != nil {
			s.logger.Error("outbox publish failed, dropping entry",
				"event", "session_publish_failed",
				"module", "internal/platform/db",
				"layer", "platform",
				"channel", entry.Channel,
				"error", err.Error(),
			)
			continue
		}
		s.logger.Debug("outbox entry published",
			"event", "session_entry_published",
			"module", "internal/platform/db",
			"layer", "platform",
			"channel", entry.Channel,
		)
	}
}

func (s *Session) publishEntry(ctx context.Context, entry outbox.Entry) error {
	var err error
	for attempt := 0; attempt < publishAttempts; attempt++ {
		if attempt > 0 {
			if sleepErr := s.sleep(ctx, publishBackoff<<(attempt-1)); sleepErr != nil {
				return sleepErr
			}
		}
		if err = s.bus.Publish(ctx, entry.Channel, entry.Payload); err == nil {
			return nil
		}
	}
	return err
}

// sleepContext waits for d unless ctx ends first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func resolveLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}
