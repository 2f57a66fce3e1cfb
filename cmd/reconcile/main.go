// Command reconcile runs the ledger repair and backfill jobs against one
// organization. Dry-run is the default; every change the job would make is
// printed without writing. The exit code is non-zero when any row failed
// irrecoverably.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditservice "github.com/rentfold/rentfold/internal/audit/service"
	billflowservice "github.com/rentfold/rentfold/internal/billflow/service"
	"github.com/rentfold/rentfold/internal/clock"
	"github.com/rentfold/rentfold/internal/config"
	glservice "github.com/rentfold/rentfold/internal/glaccount/service"
	"github.com/rentfold/rentfold/internal/idempotency"
	"github.com/rentfold/rentfold/internal/logger"
	"github.com/rentfold/rentfold/internal/reconcile"
	"github.com/rentfold/rentfold/pkg/db"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	var (
		jobName    string
		orgID      int64
		propertyID int64
		apply      bool
		batchSize  int
		suggestIDs []int64
	)

	pflag.StringVar(&jobName, "job", "", "job to run: ap-legs | bill-workflows | gl-flags | gl-flags-apply | purge-idempotency")
	pflag.Int64Var(&orgID, "org", 0, "organization id (required)")
	pflag.Int64Var(&propertyID, "property", 0, "optional property id to narrow the scope")
	pflag.BoolVar(&apply, "apply", false, "write changes; default is dry-run")
	pflag.IntVar(&batchSize, "batch-size", 500, "rows per batch")
	pflag.Int64SliceVar(&suggestIDs, "suggestion", nil, "suggestion ids to confirm (gl-flags-apply)")
	pflag.Parse()

	if jobName == "" || orgID == 0 {
		pflag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	log, err := logger.New(cfg.Logger.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	conn, err := db.Open(cfg, log)
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}

	node, err := snowflake.NewNode(2)
	if err != nil {
		log.Fatal("snowflake node", zap.Error(err))
	}

	sysClock := clock.NewSystemClock()
	auditSvc := auditservice.NewService(auditservice.Params{DB: conn, Log: log, GenID: node})
	glAccounts := glservice.NewService(glservice.Params{DB: conn, Log: log, GenID: node})
	billflowSvc := billflowservice.NewService(billflowservice.Params{
		DB: conn, Log: log, GenID: node, AuditSvc: auditSvc,
	})
	runner := reconcile.NewRunner(reconcile.Params{
		DB: conn, Log: log, GenID: node, Clock: sysClock,
		GLAccounts: glAccounts, BillflowSvc: billflowSvc,
	})

	scope := reconcile.Scope{OrgID: snowflake.ID(orgID)}
	if propertyID != 0 {
		pid := snowflake.ID(propertyID)
		scope.PropertyID = &pid
	}
	opts := reconcile.Options{Apply: apply, BatchSize: batchSize}
	ctx := context.Background()

	var report *reconcile.Report
	switch strings.ToLower(jobName) {
	case "ap-legs":
		report, err = runner.RepairPayableLegs(ctx, scope, opts)
	case "bill-workflows":
		report, err = runner.BackfillWorkflows(ctx, scope, opts)
	case "gl-flags":
		report, err = runner.AuditGLFlags(ctx, scope, opts)
	case "gl-flags-apply":
		ids := make([]snowflake.ID, 0, len(suggestIDs))
		for _, raw := range suggestIDs {
			ids = append(ids, snowflake.ID(raw))
		}
		report, err = runner.ApplyFlagSuggestions(ctx, scope, ids)
	case "purge-idempotency":
		store := idempotency.NewStore(idempotency.Params{DB: conn, Log: log, GenID: node, Clock: sysClock})
		var purged int64
		purged, err = store.PurgeExpired(ctx)
		if err == nil {
			fmt.Printf("purged %d expired idempotency keys\n", purged)
			return
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown job %q\n", jobName)
		os.Exit(2)
	}
	if err != nil {
		log.Fatal("job aborted", zap.String("job", jobName), zap.Error(err))
	}

	printReport(report)
	if report.Failed() {
		os.Exit(1)
	}
}

func printReport(report *reconcile.Report) {
	mode := "dry-run"
	if report.Apply {
		mode = "apply"
	}
	fmt.Printf("%s run %s (%s): examined=%d repaired=%d created=%d skipped=%d failures=%d\n",
		report.Job, report.RunID, mode,
		report.Examined, report.Repaired, report.Created, report.Skipped, len(report.Failures))

	for _, change := range report.Planned {
		fmt.Printf("  would: [%s] %s\n", change.RowID, change.Description)
	}
	for _, failure := range report.Failures {
		fmt.Printf("  failed: [%s] %s\n", failure.RowID, failure.Err)
	}
}
