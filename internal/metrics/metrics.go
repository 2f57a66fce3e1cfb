package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rentfold/rentfold/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Metrics holds the counters shared by the ledger services and batch jobs.
type Metrics struct {
	TransactionsPosted  *prometheus.CounterVec
	IntentTransitions   *prometheus.CounterVec
	ApplicationsWritten prometheus.Counter
	JobRows             *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TransactionsPosted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentfold_transactions_posted_total",
			Help: "Ledger transactions posted, by transaction type.",
		}, []string{"type"}),
		IntentTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentfold_payment_intent_transitions_total",
			Help: "Payment intent state transitions, by target state.",
		}, []string{"state"}),
		ApplicationsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rentfold_bill_applications_total",
			Help: "Bill applications recorded.",
		}),
		JobRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentfold_reconcile_rows_total",
			Help: "Rows handled by reconciliation jobs, by job and outcome.",
		}, []string{"job", "outcome"}),
	}
	reg.MustRegister(
		m.TransactionsPosted,
		m.IntentTransitions,
		m.ApplicationsWritten,
		m.JobRows,
	)
	return m
}

func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	return reg
}

func provideRegisterer(reg *prometheus.Registry) prometheus.Registerer { return reg }

func serve(lc fx.Lifecycle, cfg config.Config, reg *prometheus.Registry, log *zap.Logger) {
	if cfg.MetricsAddr == "" {
		log.Info("metrics listener disabled")
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Warn("metrics listener stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

var Module = fx.Module("metrics",
	fx.Provide(NewRegistry, provideRegisterer, New),
	fx.Invoke(serve),
)
