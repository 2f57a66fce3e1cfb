package paymentintent

import (
	"github.com/rentfold/rentfold/internal/paymentintent/failurecode"
	"github.com/rentfold/rentfold/internal/paymentintent/service"
	"go.uber.org/fx"
)

var Module = fx.Module("paymentintent.service",
	fx.Provide(failurecode.NewDefaultCache),
	fx.Provide(service.NewService),
)
