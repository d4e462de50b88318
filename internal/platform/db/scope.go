package db

import "context"

// Scoped runs work in a fresh session with its own transaction and
// releases the session on every exit path, panics included. A work
// error is logged, the transaction rolled back, and the error returned
// unchanged; a rollback failure is logged but never replaces it. With
// commit set, a transaction the work left open is committed and the
// session outbox published.
func (f *Sessions) Scoped(ctx context.Context, commit bool, work func(*Session) error) error {
	sess := f.Open()
	defer sess.Release()

	if err := sess.Begin(ctx); err != nil {
		return err
	}

	if err := work(sess); err != nil {
		// Log before rolling back so a failing rollback cannot hide
		// the original cause.
		f.logger.Error("scoped transaction failed, rolling back",
			"event", "session_scope_failed",
			"module", "internal/platform/db",
			"layer", "platform",
			"error", err.Error(),
		)
		if rbErr := sess.Rollback(); rbErr != nil {
			f.logger.Error("scoped rollback failed",
				"event", "session_scope_rollback_failed",
				"module", "internal/platform/db",
				"layer", "platform",
				"error", rbErr.Error(),
			)
		}
		return err
	}

	if commit && sess.State() == TxActive {
		if err := sess.Commit(ctx); err != nil {
			f.logger.Error("scoped commit failed",
				"event", "session_scope_commit_failed",
				"module", "internal/platform/db",
				"layer", "platform",
				"error", err.Error(),
			)
			return err
		}
		f.logger.Debug("scoped transaction committed",
			"event", "session_scope_committed",
			"module", "internal/platform/db",
			"layer", "platform",
		)
	}
	return nil
}

// Wrap adapts work into a function that runs under Scoped without
// auto-commit. Work that needs persistence commits on its session.
func (f *Sessions) Wrap(work func(*Session) error) func(context.Context) error {
	return func(ctx context.Context) error {
		return f.Scoped(ctx, false, work)
	}
}
