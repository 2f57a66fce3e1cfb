package glaccount

import (
	"github.com/rentfold/rentfold/internal/glaccount/service"
	"go.uber.org/fx"
)

var Module = fx.Module("glaccount.service",
	fx.Provide(service.NewService),
)
