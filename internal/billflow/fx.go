package billflow

import (
	"github.com/rentfold/rentfold/internal/billflow/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billflow.service",
	fx.Provide(service.NewService),
)
