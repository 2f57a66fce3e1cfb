package main

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rentfold/rentfold/internal/audit"
	"github.com/rentfold/rentfold/internal/billflow"
	"github.com/rentfold/rentfold/internal/clock"
	"github.com/rentfold/rentfold/internal/config"
	"github.com/rentfold/rentfold/internal/glaccount"
	"github.com/rentfold/rentfold/internal/idempotency"
	"github.com/rentfold/rentfold/internal/ledger"
	"github.com/rentfold/rentfold/internal/logger"
	"github.com/rentfold/rentfold/internal/metrics"
	"github.com/rentfold/rentfold/internal/migration"
	"github.com/rentfold/rentfold/internal/paymentintent"
	"github.com/rentfold/rentfold/internal/reconcile"
	"github.com/rentfold/rentfold/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		metrics.Module,
		migration.Module,

		audit.Module,
		glaccount.Module,
		ledger.Module,
		paymentintent.Module,
		billflow.Module,
		idempotency.Module,
		reconcile.Module,

		fx.Invoke(runMaintenanceLoops),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

// runMaintenanceLoops hosts the periodic background work: purging expired
// idempotency keys and queueing GL flag suggestions for the default org.
// One-shot repair jobs are run from cmd/reconcile instead.
func runMaintenanceLoops(
	lc fx.Lifecycle,
	cfg config.Config,
	log *zap.Logger,
	store *idempotency.Store,
	runner *reconcile.Runner,
) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				purgeTicker := time.NewTicker(time.Duration(cfg.Jobs.IdempotencyPurgeSeconds) * time.Second)
				auditTicker := time.NewTicker(time.Duration(cfg.Jobs.GLFlagAuditSeconds) * time.Second)
				defer purgeTicker.Stop()
				defer auditTicker.Stop()

				for {
					select {
					case <-ctx.Done():
						return
					case <-purgeTicker.C:
						if _, err := store.PurgeExpired(ctx); err != nil {
							log.Warn("idempotency purge failed", zap.Error(err))
						}
					case <-auditTicker.C:
						if cfg.DefaultOrgID == 0 {
							continue
						}
						scope := reconcile.Scope{OrgID: snowflake.ID(cfg.DefaultOrgID)}
						report, err := runner.AuditGLFlags(ctx, scope, reconcile.Options{Apply: true})
						if err != nil {
							log.Warn("gl flag audit failed", zap.Error(err))
							continue
						}
						if report.Failed() {
							log.Warn("gl flag audit had row failures",
								zap.String("run_id", report.RunID),
								zap.Int("failures", len(report.Failures)),
							)
						}
					}
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
