package reconcile

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	billflowdomain "github.com/rentfold/rentfold/internal/billflow/domain"
	ledgerdomain "github.com/rentfold/rentfold/internal/ledger/domain"
	"github.com/rentfold/rentfold/pkg/db"
	"go.uber.org/zap"
)

// BackfillWorkflows synthesizes missing BillWorkflow rows for historical
// bills and BillApplication rows for the payments that reference them.
// Uniqueness conflicts are swallowed and non-positive amounts are counted
// as skipped, so the job can be re-run freely.
func (r *Runner) BackfillWorkflows(ctx context.Context, scope Scope, opts Options) (*Report, error) {
	opts = opts.withDefaults()
	report := newReport("bill-workflows", opts.Apply, r.clock.Now())
	log := r.log.With(zap.String("job", report.Job), zap.String("run_id", report.RunID))

	if err := r.backfillWorkflowRows(ctx, scope, opts, report, log); err != nil {
		return report, err
	}
	if err := r.backfillApplicationRows(ctx, scope, opts, report, log); err != nil {
		return report, err
	}

	log.Info("workflow backfill finished",
		zap.Int("examined", report.Examined),
		zap.Int("created", report.Created),
		zap.Int("skipped", report.Skipped),
		zap.Int("failures", len(report.Failures)),
		zap.Bool("apply", opts.Apply),
	)
	return report, nil
}

func (r *Runner) backfillWorkflowRows(ctx context.Context, scope Scope, opts Options, report *Report, log *zap.Logger) error {
	var cursor snowflake.ID
	for {
		bills, err := r.fetchTransactions(ctx, scope, cursor, opts.BatchSize, ledgerdomain.TypeBill)
		if err != nil {
			return err
		}
		if len(bills) == 0 {
			return nil
		}
		cursor = bills[len(bills)-1].ID

		for _, bill := range bills {
			report.Examined++

			var count int64
			if err := r.db.WithContext(ctx).
				Model(&billflowdomain.BillWorkflow{}).
				Where("bill_transaction_id = ?", bill.ID).
				Count(&count).Error; err != nil {
				report.fail(bill.ID.String(), err)
				r.countRow(report.Job, "failed")
				continue
			}
			if count > 0 {
				report.Skipped++
				r.countRow(report.Job, "skipped")
				continue
			}

			initial := billflowdomain.StateDraft
			paid, err := r.hasReferencingPayment(ctx, bill.ID)
			if err != nil {
				report.fail(bill.ID.String(), err)
				r.countRow(report.Job, "failed")
				continue
			}
			if paid {
				initial = billflowdomain.StateApproved
			}

			if !opts.Apply {
				report.plan(bill.ID.String(), "create %s workflow for bill", initial)
				report.Created++
				r.countRow(report.Job, "planned")
				continue
			}

			_, created, err := r.billflowSvc.EnsureWorkflow(ctx, bill.OrgID, bill.ID, initial)
			if err != nil {
				report.fail(bill.ID.String(), err)
				r.countRow(report.Job, "failed")
				log.Warn("workflow synthesis failed", zap.String("bill_id", bill.ID.String()), zap.Error(err))
				continue
			}
			if created {
				report.Created++
				r.countRow(report.Job, "created")
			} else {
				report.Skipped++
				r.countRow(report.Job, "skipped")
			}
		}
	}
}

// backfillApplicationRows inserts one application per referencing payment
// with applied_amount = |total_amount|. Historical rows keep the legacy
// lenient behavior: no over-application check, duplicates swallowed at the
// unique index.
func (r *Runner) backfillApplicationRows(ctx context.Context, scope Scope, opts Options, report *Report, log *zap.Logger) error {
	var cursor snowflake.ID
	for {
		payments, err := r.fetchReferencingPayments(ctx, scope, cursor, opts.BatchSize)
		if err != nil {
			return err
		}
		if len(payments) == 0 {
			return nil
		}
		cursor = payments[len(payments)-1].ID

		for _, payment := range payments {
			report.Examined++
			amount := payment.TotalAmount
			if amount < 0 {
				amount = -amount
			}
			if amount == 0 {
				report.Skipped++
				r.countRow(report.Job, "skipped")
				continue
			}

			if !opts.Apply {
				report.plan(payment.ID.String(), "apply %d from %s to bill %s",
					amount, payment.Type, payment.ReferenceTransactionID)
				report.Created++
				r.countRow(report.Job, "planned")
				continue
			}

			application := billflowdomain.BillApplication{
				ID:                  r.genID.Generate(),
				OrgID:               payment.OrgID,
				BillTransactionID:   *payment.ReferenceTransactionID,
				SourceTransactionID: payment.ID,
				AppliedAmount:       amount,
				SourceType:          string(payment.Type),
				CreatedAt:           time.Now().UTC(),
			}
			if err := r.db.WithContext(ctx).Create(&application).Error; err != nil {
				if db.IsDuplicateKeyErr(err) {
					report.Skipped++
					r.countRow(report.Job, "skipped")
					continue
				}
				report.fail(payment.ID.String(), err)
				r.countRow(report.Job, "failed")
				log.Warn("application synthesis failed", zap.String("payment_id", payment.ID.String()), zap.Error(err))
				continue
			}
			report.Created++
			r.countRow(report.Job, "created")
		}
	}
}

func (r *Runner) hasReferencingPayment(ctx context.Context, billTxnID snowflake.ID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&ledgerdomain.Transaction{}).
		Where("reference_transaction_id = ? AND txn_type IN ?",
			billTxnID, []ledgerdomain.TransactionType{ledgerdomain.TypePayment, ledgerdomain.TypeCheck, ledgerdomain.TypeBillPayment}).
		Count(&count).Error
	return count > 0, err
}

func (r *Runner) fetchReferencingPayments(ctx context.Context, scope Scope, cursor snowflake.ID, limit int) ([]ledgerdomain.Transaction, error) {
	stmt := r.db.WithContext(ctx).
		Where("org_id = ? AND id > ? AND reference_transaction_id IS NOT NULL AND txn_type IN ?",
			scope.OrgID, cursor,
			[]ledgerdomain.TransactionType{ledgerdomain.TypePayment, ledgerdomain.TypeCheck, ledgerdomain.TypeBillPayment}).
		Order("id").
		Limit(limit)
	if scope.PropertyID != nil {
		// The property lives on the referenced bill's lines, not on the
		// payment itself.
		stmt = stmt.Where(
			"EXISTS (SELECT 1 FROM transaction_lines tl WHERE tl.transaction_id = transactions.reference_transaction_id AND tl.property_id = ?)",
			*scope.PropertyID,
		)
	}
	var txns []ledgerdomain.Transaction
	err := stmt.Find(&txns).Error
	return txns, err
}
