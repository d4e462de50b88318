package experimentservice

import (
	"log/slog"

	"vivarium/contexts/experimentation/experiment-service/application"
	"vivarium/contexts/experimentation/experiment-service/application/workers"
	"vivarium/contexts/experimentation/experiment-service/ports"
	"vivarium/internal/platform/db"
	"vivarium/internal/platform/notify"
)

type Module struct {
	Engine     application.Engine
	StepWorker workers.StepWorker
}

type Dependencies struct {
	Sessions      *db.Sessions
	Store         ports.ExperimentStore
	Notifier      notify.AdminNotifier
	Clock         ports.Clock
	IDGenerator   ports.IDGenerator
	StepBatchSize int
	Logger        *slog.Logger
}

func NewModule(deps Dependencies) Module {
	engine := application.Engine{
		Sessions:      deps.Sessions,
		Store:         deps.Store,
		Notifier:      deps.Notifier,
		Clock:         deps.Clock,
		IDGen:         deps.IDGenerator,
		StepBatchSize: deps.StepBatchSize,
		Logger:        deps.Logger,
	}
	return Module{
		Engine: engine,
		StepWorker: workers.StepWorker{
			Engine: engine,
			Logger: deps.Logger,
		},
	}
}
