package reconcile

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	gldomain "github.com/rentfold/rentfold/internal/glaccount/domain"
	ledgerdomain "github.com/rentfold/rentfold/internal/ledger/domain"
	"go.uber.org/zap"
)

// RepairPayableLegs walks bills/charges missing their payable credit line
// and bill-payments/owner-draws missing their bank or payable leg, and
// inserts the missing posting. Every insert is guarded by a does-a-line-to-
// this-account-already-exist pre-check, so repeated runs never double-post.
func (r *Runner) RepairPayableLegs(ctx context.Context, scope Scope, opts Options) (*Report, error) {
	opts = opts.withDefaults()
	report := newReport("ap-legs", opts.Apply, r.clock.Now())
	log := r.log.With(zap.String("job", report.Job), zap.String("run_id", report.RunID))

	payable, err := r.glAccounts.PayableAccount(ctx, scope.OrgID)
	if err != nil {
		return report, fmt.Errorf("resolve payable account: %w", err)
	}
	bank, err := r.glAccounts.BankAccount(ctx, scope.OrgID)
	if err != nil {
		return report, fmt.Errorf("resolve bank account: %w", err)
	}

	var cursor snowflake.ID
	for {
		txns, err := r.fetchTransactions(ctx, scope, cursor, opts.BatchSize,
			ledgerdomain.TypeBill, ledgerdomain.TypeCharge,
			ledgerdomain.TypeBillPayment, ledgerdomain.TypeOwnerDraw,
		)
		if err != nil {
			return report, err
		}
		if len(txns) == 0 {
			break
		}
		cursor = txns[len(txns)-1].ID

		for _, txn := range txns {
			report.Examined++
			var rowErr error
			switch txn.Type {
			case ledgerdomain.TypeBill, ledgerdomain.TypeCharge:
				rowErr = r.repairBillLeg(ctx, txn, payable, report)
			case ledgerdomain.TypeBillPayment, ledgerdomain.TypeOwnerDraw:
				rowErr = r.repairPaymentLegs(ctx, txn, payable, bank, report)
			}
			if rowErr != nil {
				report.fail(txn.ID.String(), rowErr)
				r.countRow(report.Job, "failed")
				log.Warn("row repair failed", zap.String("transaction_id", txn.ID.String()), zap.Error(rowErr))
			}
		}
	}

	log.Info("payable leg repair finished",
		zap.Int("examined", report.Examined),
		zap.Int("repaired", report.Repaired),
		zap.Int("skipped", report.Skipped),
		zap.Int("failures", len(report.Failures)),
		zap.Bool("apply", opts.Apply),
	)
	return report, nil
}

// repairBillLeg inserts the missing payable credit on a bill or charge. The
// missing amount is the transaction's debit total, or its declared total
// when no debit lines exist.
func (r *Runner) repairBillLeg(ctx context.Context, txn ledgerdomain.Transaction, payable *gldomain.GLAccount, report *Report) error {
	exists, err := r.lineToAccountExists(ctx, txn.ID, payable.ID)
	if err != nil {
		return err
	}
	if exists {
		report.Skipped++
		r.countRow(report.Job, "skipped")
		return nil
	}

	lines, err := r.fetchLines(ctx, txn.ID)
	if err != nil {
		return err
	}
	amount := ledgerdomain.DebitTotal(lines)
	if amount == 0 {
		amount = txn.TotalAmount
	}
	if amount <= 0 {
		report.Skipped++
		r.countRow(report.Job, "skipped")
		return nil
	}

	return r.insertLine(ctx, txn, payable.ID, amount, ledgerdomain.PostingTypeCredit, report)
}

// repairPaymentLegs restores the payable debit and bank credit pair on a
// bill payment or owner draw from the transaction's total amount.
func (r *Runner) repairPaymentLegs(ctx context.Context, txn ledgerdomain.Transaction, payable, bank *gldomain.GLAccount, report *Report) error {
	if txn.TotalAmount <= 0 {
		report.Skipped++
		r.countRow(report.Job, "skipped")
		return nil
	}

	repairedAny := false
	for _, leg := range []struct {
		account     *gldomain.GLAccount
		postingType ledgerdomain.PostingType
	}{
		{payable, ledgerdomain.PostingTypeDebit},
		{bank, ledgerdomain.PostingTypeCredit},
	} {
		exists, err := r.lineToAccountExists(ctx, txn.ID, leg.account.ID)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if err := r.insertLine(ctx, txn, leg.account.ID, txn.TotalAmount, leg.postingType, report); err != nil {
			return err
		}
		repairedAny = true
	}
	if !repairedAny {
		report.Skipped++
		r.countRow(report.Job, "skipped")
	}
	return nil
}

func (r *Runner) insertLine(ctx context.Context, txn ledgerdomain.Transaction, accountID snowflake.ID, amount int64, postingType ledgerdomain.PostingType, report *Report) error {
	if !report.Apply {
		report.plan(txn.ID.String(), "insert %s line of %d to account %s on %s transaction",
			postingType, amount, accountID, txn.Type)
		report.Repaired++
		r.countRow(report.Job, "planned")
		return nil
	}

	line := ledgerdomain.TransactionLine{
		ID:            r.genID.Generate(),
		TransactionID: txn.ID,
		GLAccountID:   accountID,
		Amount:        amount,
		PostingType:   postingType,
		CreatedAt:     r.clock.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&line).Error; err != nil {
		return err
	}
	report.Repaired++
	r.countRow(report.Job, "repaired")
	return nil
}

func (r *Runner) lineToAccountExists(ctx context.Context, txnID, accountID snowflake.ID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&ledgerdomain.TransactionLine{}).
		Where("transaction_id = ? AND gl_account_id = ?", txnID, accountID).
		Count(&count).Error
	return count > 0, err
}

func (r *Runner) fetchLines(ctx context.Context, txnID snowflake.ID) ([]ledgerdomain.TransactionLine, error) {
	var lines []ledgerdomain.TransactionLine
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", txnID).
		Order("id").
		Find(&lines).Error
	return lines, err
}

func (r *Runner) fetchTransactions(ctx context.Context, scope Scope, cursor snowflake.ID, limit int, types ...ledgerdomain.TransactionType) ([]ledgerdomain.Transaction, error) {
	stmt := r.db.WithContext(ctx).
		Where("org_id = ? AND id > ? AND txn_type IN ?", scope.OrgID, cursor, types).
		Order("id").
		Limit(limit)
	if scope.PropertyID != nil {
		stmt = stmt.Where(
			"EXISTS (SELECT 1 FROM transaction_lines tl WHERE tl.transaction_id = transactions.id AND tl.property_id = ?)",
			*scope.PropertyID,
		)
	}
	var txns []ledgerdomain.Transaction
	err := stmt.Find(&txns).Error
	return txns, err
}
