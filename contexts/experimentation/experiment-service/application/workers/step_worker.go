package workers

import (
	"context"
	"log/slog"

	application "vivarium/contexts/experimentation/experiment-service/application"
)

// StepWorker drives the experiment forward on a schedule.
type StepWorker struct {
	Engine application.Engine
	Logger *slog.Logger
}

func (w StepWorker) RunOnce(ctx context.Context) error {
	received, err := w.Engine.Step(ctx)
	if err != nil {
		application.ResolveLogger(w.Logger).Error("experiment step sweep failed",
			"event", "experiment_step_sweep_failed",
			"module", "experimentation/experiment-service",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}
	if received > 0 {
		application.ResolveLogger(w.Logger).Info("experiment step sweep completed",
			"event", "experiment_step_sweep_completed",
			"module", "experimentation/experiment-service",
			"layer", "worker",
			"received_count", received,
		)
	}
	return nil
}
