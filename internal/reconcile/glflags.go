package reconcile

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	gldomain "github.com/rentfold/rentfold/internal/glaccount/domain"
	"github.com/rentfold/rentfold/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AuditGLFlags compares each GL account's stored classification flags with
// the naming/subtype heuristics and queues a pending suggestion for every
// disagreement. It never mutates account flags itself; that requires the
// separately confirmed ApplyFlagSuggestions step.
func (r *Runner) AuditGLFlags(ctx context.Context, scope Scope, opts Options) (*Report, error) {
	opts = opts.withDefaults()
	report := newReport("gl-flags", opts.Apply, r.clock.Now())
	log := r.log.With(zap.String("job", report.Job), zap.String("run_id", report.RunID))

	var cursor snowflake.ID
	for {
		var accounts []gldomain.GLAccount
		err := r.db.WithContext(ctx).
			Where("org_id = ? AND id > ?", scope.OrgID, cursor).
			Order("id").
			Limit(opts.BatchSize).
			Find(&accounts).Error
		if err != nil {
			return report, err
		}
		if len(accounts) == 0 {
			break
		}
		cursor = accounts[len(accounts)-1].ID

		for _, account := range accounts {
			report.Examined++
			suggestions := gldomain.SuggestFlags(account)
			if len(suggestions) == 0 {
				continue
			}

			for _, suggestion := range suggestions {
				if !opts.Apply {
					report.plan(account.ID.String(), "queue %s: %t -> %t (%s)",
						suggestion.Flag, suggestion.CurrentValue, suggestion.SuggestedValue, suggestion.Reason)
					report.Created++
					r.countRow(report.Job, "planned")
					continue
				}
				if err := r.queueSuggestion(ctx, account, suggestion, report); err != nil {
					report.fail(account.ID.String(), err)
					r.countRow(report.Job, "failed")
					log.Warn("suggestion queue failed",
						zap.String("account_id", account.ID.String()), zap.Error(err))
				}
			}
		}
	}

	log.Info("gl flag audit finished",
		zap.Int("examined", report.Examined),
		zap.Int("queued", report.Created),
		zap.Int("failures", len(report.Failures)),
		zap.Bool("apply", opts.Apply),
	)
	return report, nil
}

func (r *Runner) queueSuggestion(ctx context.Context, account gldomain.GLAccount, suggestion gldomain.Suggested, report *Report) error {
	row := gldomain.FlagSuggestion{
		ID:             r.genID.Generate(),
		OrgID:          account.OrgID,
		GLAccountID:    account.ID,
		Flag:           suggestion.Flag,
		CurrentValue:   suggestion.CurrentValue,
		SuggestedValue: suggestion.SuggestedValue,
		Reason:         suggestion.Reason,
		Status:         gldomain.SuggestionStatusPending,
		CreatedAt:      r.clock.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			// Same pending suggestion already queued by an earlier run.
			report.Skipped++
			r.countRow(report.Job, "skipped")
			return nil
		}
		return err
	}
	report.Created++
	r.countRow(report.Job, "created")
	return nil
}

// ApplyFlagSuggestions writes the confirmed corrections. It is only ever
// invoked from an explicit, human-triggered command, never from the audit
// path.
func (r *Runner) ApplyFlagSuggestions(ctx context.Context, scope Scope, suggestionIDs []snowflake.ID) (*Report, error) {
	report := newReport("gl-flags-apply", true, r.clock.Now())
	log := r.log.With(zap.String("job", report.Job), zap.String("run_id", report.RunID))

	var suggestions []gldomain.FlagSuggestion
	if err := r.db.WithContext(ctx).
		Where("org_id = ? AND id IN ? AND status = ?",
			scope.OrgID, suggestionIDs, gldomain.SuggestionStatusPending).
		Find(&suggestions).Error; err != nil {
		return report, err
	}

	now := time.Now().UTC()
	for _, suggestion := range suggestions {
		report.Examined++
		if applyErr := r.applyOne(ctx, suggestion, now); applyErr != nil {
			report.fail(suggestion.ID.String(), applyErr)
			r.countRow(report.Job, "failed")
			log.Warn("suggestion apply failed",
				zap.String("suggestion_id", suggestion.ID.String()), zap.Error(applyErr))
			continue
		}
		report.Repaired++
		r.countRow(report.Job, "applied")
	}

	log.Info("gl flag corrections applied",
		zap.Int("examined", report.Examined),
		zap.Int("applied", report.Repaired),
		zap.Int("failures", len(report.Failures)),
	)
	return report, nil
}

func (r *Runner) applyOne(ctx context.Context, suggestion gldomain.FlagSuggestion, now time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&gldomain.GLAccount{}).
			Where("id = ?", suggestion.GLAccountID).
			Updates(map[string]any{
				string(suggestion.Flag): suggestion.SuggestedValue,
				"updated_at":            now,
			}).Error; err != nil {
			return err
		}
		return tx.Model(&gldomain.FlagSuggestion{}).
			Where("id = ?", suggestion.ID).
			Updates(map[string]any{
				"status":     gldomain.SuggestionStatusApplied,
				"applied_at": now,
			}).Error
	})
}
