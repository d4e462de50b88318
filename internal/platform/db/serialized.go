package db

import (
	"context"
	"database/sql"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// serializedAttempts bounds how often a serialized unit of work is
// retried after the database aborts it with a serialization conflict.
const serializedAttempts = 100

// conflictBackoffRate is the rate of the exponential distribution the
// retry sleep is drawn from; the mean wait is 2 seconds.
const conflictBackoffRate = 0.5

// ErrRetriesExhausted is returned when a serialized unit of work still
// conflicts after the final attempt.
var ErrRetriesExhausted = errors.New("could not commit serialized transaction after 100 attempts")

// Serialized runs work at serializable isolation, committing it when it
// returns nil. Each attempt gets a fresh session. When the database
// aborts the transaction with a serialization conflict, the work is
// retried after a randomized sleep, up to serializedAttempts times in
// total; any other error is returned as is. Work must therefore be safe
// to run more than once, and must not commit on its own.
func (f *Sessions) Serialized(ctx context.Context, work func(*Session) error) error {
	opts := &sql.TxOptions{Isolation: sql.LevelSerializable}

	for attempt := 1; ; attempt++ {
		err := f.runSerializedOnce(ctx, opts, work)
		if err == nil {
			return nil
		}
		if !isSerializationConflict(err) {
			return err
		}
		if attempt >= serializedAttempts {
			return ErrRetriesExhausted
		}

		f.logger.Debug("serialization conflict, retrying",
			"event", "session_serialized_retry",
			"module", "internal/platform/db",
			"layer", "platform",
			"attempt", attempt,
		)
		if sleepErr := f.sleep(ctx, conflictBackoff()); sleepErr != nil {
			return sleepErr
		}
	}
}

func (f *Sessions) runSerializedOnce(ctx context.Context, opts *sql.TxOptions, work func(*Session) error) error {
	sess := f.Open()
	defer sess.Release()

	if err := sess.BeginTx(ctx, opts); err != nil {
		return err
	}
	if err := work(sess); err != nil {
		if rbErr := sess.Rollback(); rbErr != nil {
			f.logger.Error("serialized rollback failed",
				"event", "session_serialized_rollback_failed",
				"module", "internal/platform/db",
				"layer", "platform",
				"error", rbErr.Error(),
			)
		}
		return err
	}
	return sess.Commit(ctx)
}

// isSerializationConflict reports whether err is a transaction-rollback
// condition (SQLSTATE class 40): serialization_failure, deadlock
// detected, and kin. Only these are worth retrying.
func isSerializationConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "40")
}

// conflictBackoff draws the sleep before the next attempt from an
// exponential distribution so colliding workers spread out instead of
// conflicting again in lockstep.
func conflictBackoff() time.Duration {
	return time.Duration(rand.ExpFloat64() / conflictBackoffRate * float64(time.Second))
}
