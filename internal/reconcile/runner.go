// Package reconcile holds the idempotent batch routines that detect and
// repair missing ledger legs, synthesize workflow and application rows for
// historical data, and audit GL account classification flags. Every job
// pages by a stable id cursor, guards its inserts with existence
// pre-checks, and is safe to re-run at any time, including concurrently
// with live traffic.
package reconcile

import (
	"github.com/bwmarrin/snowflake"
	billflowdomain "github.com/rentfold/rentfold/internal/billflow/domain"
	"github.com/rentfold/rentfold/internal/clock"
	glservice "github.com/rentfold/rentfold/internal/glaccount/service"
	"github.com/rentfold/rentfold/internal/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultBatchSize = 500

// Scope limits a job run to one organization and, optionally, one property.
type Scope struct {
	OrgID      snowflake.ID
	PropertyID *snowflake.ID
}

// Options control a run. Apply defaults to false: dry-run reports every
// change it would make without writing.
type Options struct {
	Apply     bool
	BatchSize int
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	return o
}

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	GLAccounts  *glservice.Service
	BillflowSvc billflowdomain.Service
	Metrics     *metrics.Metrics `optional:"true"`
}

type Runner struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	glAccounts  *glservice.Service
	billflowSvc billflowdomain.Service
	metrics     *metrics.Metrics
}

func NewRunner(p Params) *Runner {
	return &Runner{
		db:          p.DB,
		log:         p.Log.Named("reconcile"),
		genID:       p.GenID,
		clock:       p.Clock,
		glAccounts:  p.GLAccounts,
		billflowSvc: p.BillflowSvc,
		metrics:     p.Metrics,
	}
}

func (r *Runner) countRow(job, outcome string) {
	if r.metrics != nil {
		r.metrics.JobRows.WithLabelValues(job, outcome).Inc()
	}
}

var Module = fx.Module("reconcile",
	fx.Provide(NewRunner),
)
