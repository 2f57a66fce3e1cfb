package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/rentfold/rentfold/internal/audit/domain"
	billflowdomain "github.com/rentfold/rentfold/internal/billflow/domain"
	ledgerdomain "github.com/rentfold/rentfold/internal/ledger/domain"
	"github.com/rentfold/rentfold/internal/metrics"
	"github.com/rentfold/rentfold/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	AuditSvc auditdomain.Service
	Metrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	auditSvc auditdomain.Service
	metrics  *metrics.Metrics
}

func NewService(p Params) billflowdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("billflow.service"),
		genID:    p.GenID,
		auditSvc: p.AuditSvc,
		metrics:  p.Metrics,
	}
}

// EnsureWorkflow creates the workflow row for a bill if one does not exist.
// The second return value reports whether a row was created. Concurrent
// creates race through the unique index; the loser re-reads.
func (s *Service) EnsureWorkflow(ctx context.Context, orgID, billTxnID snowflake.ID, initial billflowdomain.ApprovalState) (*billflowdomain.BillWorkflow, bool, error) {
	if orgID == 0 {
		return nil, false, billflowdomain.ErrInvalidOrganization
	}

	if existing, err := s.findWorkflow(ctx, billTxnID); err != nil {
		return nil, false, err
	} else if existing != nil {
		return existing, false, nil
	}

	now := time.Now().UTC()
	workflow := billflowdomain.BillWorkflow{
		ID:                s.genID.Generate(),
		OrgID:             orgID,
		BillTransactionID: billTxnID,
		ApprovalState:     initial,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if initial == billflowdomain.StateApproved {
		workflow.ApprovedAt = &now
	}

	if err := s.db.WithContext(ctx).Create(&workflow).Error; err != nil {
		if !db.IsDuplicateKeyErr(err) {
			return nil, false, fmt.Errorf("create bill workflow: %w", err)
		}
		existing, readErr := s.findWorkflow(ctx, billTxnID)
		if readErr != nil {
			return nil, false, readErr
		}
		if existing == nil {
			return nil, false, billflowdomain.ErrWorkflowNotFound
		}
		return existing, false, nil
	}
	return &workflow, true, nil
}

// Transition applies one explicit workflow action and appends its audit
// event in the same database transaction.
func (s *Service) Transition(ctx context.Context, orgID, billTxnID snowflake.ID, action billflowdomain.Action, actor billflowdomain.Actor, notes string) (*billflowdomain.BillWorkflow, error) {
	workflow, err := s.findWorkflow(ctx, billTxnID)
	if err != nil {
		return nil, err
	}
	if workflow == nil || workflow.OrgID != orgID {
		return nil, billflowdomain.ErrWorkflowNotFound
	}

	next, err := billflowdomain.NextState(workflow.ApprovalState, action)
	if err != nil {
		return nil, fmt.Errorf("%w: %s from %s", billflowdomain.ErrInvalidTransition, action, workflow.ApprovalState)
	}

	now := time.Now().UTC()
	from := workflow.ApprovalState
	updates := map[string]any{
		"approval_state": next,
		"updated_at":     now,
	}
	switch next {
	case billflowdomain.StatePendingApproval:
		updates["submitted_at"] = now
	case billflowdomain.StateApproved:
		updates["approved_at"] = now
	}

	event := billflowdomain.BillWorkflowEvent{
		ID:         s.genID.Generate(),
		WorkflowID: workflow.ID,
		Action:     action,
		FromState:  from,
		ToState:    next,
		ActorType:  actor.Type,
		ActorID:    actor.ID,
		CreatedAt:  now,
	}
	if notes = strings.TrimSpace(notes); notes != "" {
		event.Notes = &notes
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&billflowdomain.BillWorkflow{}).
			Where("id = ? AND approval_state = ?", workflow.ID, from).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// A concurrent caller moved the workflow off `from` after our
			// read. The event would describe a transition that never
			// happened, so nothing may be written.
			return fmt.Errorf("%w: workflow left %s concurrently", billflowdomain.ErrInvalidTransition, from)
		}
		return tx.Create(&event).Error
	})
	if err != nil {
		if errors.Is(err, billflowdomain.ErrInvalidTransition) {
			return nil, err
		}
		return nil, fmt.Errorf("transition bill workflow: %w", err)
	}

	workflow.ApprovalState = next
	switch next {
	case billflowdomain.StatePendingApproval:
		workflow.SubmittedAt = &now
	case billflowdomain.StateApproved:
		workflow.ApprovedAt = &now
	}
	workflow.UpdatedAt = now

	workflowIDStr := workflow.ID.String()
	if err := s.auditSvc.AuditLog(ctx, orgID, auditdomain.Actor{Type: auditdomain.ActorType(actor.Type), ID: actor.ID},
		"bill_workflow."+string(action), "bill_workflow", &workflowIDStr,
		map[string]any{"from": string(from), "to": string(next)},
	); err != nil {
		s.log.Warn("failed to write workflow audit log", zap.Error(err))
	}

	return workflow, nil
}

// ApplyPayment records one payment application against a bill. Duplicate
// (bill, source) pairs are swallowed; non-positive amounts are skipped. The
// application total may never exceed the bill's total.
func (s *Service) ApplyPayment(ctx context.Context, input billflowdomain.ApplyInput) (billflowdomain.ApplyResult, error) {
	if input.OrgID == 0 {
		return billflowdomain.ApplyResult{}, billflowdomain.ErrInvalidOrganization
	}
	if input.Amount <= 0 {
		return billflowdomain.ApplyResult{Skipped: true}, nil
	}

	application := billflowdomain.BillApplication{
		ID:                  s.genID.Generate(),
		OrgID:               input.OrgID,
		BillTransactionID:   input.BillTransactionID,
		SourceTransactionID: input.SourceTransactionID,
		AppliedAmount:       input.Amount,
		SourceType:          input.SourceType,
		CreatedAt:           time.Now().UTC(),
	}

	// The guard and the insert share one transaction with the bill row
	// locked, so two concurrent applies cannot both pass the check and
	// overshoot the bill total.
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stmt := tx.Where("id = ? AND org_id = ?", input.BillTransactionID, input.OrgID)
		if tx.Dialector.Name() != "sqlite" {
			// sqlite serializes writers on its own and rejects FOR UPDATE.
			stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var bill ledgerdomain.Transaction
		if err := stmt.First(&bill).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return billflowdomain.ErrBillNotFound
			}
			return err
		}

		var applied int64
		if err := tx.Model(&billflowdomain.BillApplication{}).
			Where("bill_transaction_id = ?", input.BillTransactionID).
			Select("COALESCE(SUM(applied_amount), 0)").
			Scan(&applied).Error; err != nil {
			return err
		}
		if applied+input.Amount > bill.TotalAmount {
			return fmt.Errorf(
				"%w: %d already applied + %d exceeds bill total %d",
				billflowdomain.ErrOverApplication, applied, input.Amount, bill.TotalAmount,
			)
		}

		return tx.Create(&application).Error
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return billflowdomain.ApplyResult{Duplicate: true}, nil
		}
		if errors.Is(err, billflowdomain.ErrBillNotFound) || errors.Is(err, billflowdomain.ErrOverApplication) {
			return billflowdomain.ApplyResult{}, err
		}
		return billflowdomain.ApplyResult{}, fmt.Errorf("apply payment: %w", err)
	}

	if s.metrics != nil {
		s.metrics.ApplicationsWritten.Inc()
	}
	return billflowdomain.ApplyResult{Applied: true}, nil
}

// AppliedTotal sums all applications recorded against a bill.
func (s *Service) AppliedTotal(ctx context.Context, billTxnID snowflake.ID) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).
		Model(&billflowdomain.BillApplication{}).
		Where("bill_transaction_id = ?", billTxnID).
		Select("COALESCE(SUM(applied_amount), 0)").
		Scan(&total).Error
	return total, err
}

func (s *Service) findWorkflow(ctx context.Context, billTxnID snowflake.ID) (*billflowdomain.BillWorkflow, error) {
	var workflow billflowdomain.BillWorkflow
	err := s.db.WithContext(ctx).
		Where("bill_transaction_id = ?", billTxnID).
		First(&workflow).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &workflow, nil
}
