package server

import (
	"go.uber.org/zap"

	"github.com/faciam-dev/cssync/internal/api/handler"
)

// Deps holds what the API server exposes.
type Deps struct {
	Scheduler handler.Scheduler
	Sources   handler.SourceRepo
	Runs      handler.RunState
	Logger    *zap.SugaredLogger
	// APIToken, when set, is required as a bearer token on every operation.
	APIToken string
}
