package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/rentfold/rentfold/internal/audit/domain"
	gldomain "github.com/rentfold/rentfold/internal/glaccount/domain"
	ledgerdomain "github.com/rentfold/rentfold/internal/ledger/domain"
	"github.com/rentfold/rentfold/internal/metrics"
	"github.com/rentfold/rentfold/internal/party"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
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

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("ledger.service"),
		genID:    p.GenID,
		auditSvc: p.AuditSvc,
		metrics:  p.Metrics,
	}
}

func (s *Service) PostTransaction(ctx context.Context, input ledgerdomain.PostInput) (snowflake.ID, error) {
	if input.OrgID == 0 {
		return 0, ledgerdomain.ErrInvalidOrganization
	}
	txnType, err := ledgerdomain.NormalizeTransactionType(input.Type)
	if err != nil {
		return 0, err
	}
	if input.Date.IsZero() {
		return 0, ledgerdomain.ErrInvalidDate
	}
	if len(input.Lines) == 0 {
		return 0, ledgerdomain.ErrEmptyEntry
	}

	lines := make([]ledgerdomain.TransactionLine, 0, len(input.Lines))
	for _, in := range input.Lines {
		if in.GLAccountID == 0 {
			return 0, ledgerdomain.ErrInvalidAccount
		}
		postingType, err := ledgerdomain.NormalizePostingType(in.PostingType)
		if err != nil {
			return 0, err
		}
		if in.Amount < 0 {
			return 0, ledgerdomain.ErrInvalidLineAmount
		}
		lines = append(lines, ledgerdomain.TransactionLine{
			GLAccountID: in.GLAccountID,
			Amount:      in.Amount,
			PostingType: postingType,
			PropertyID:  in.PropertyID,
			UnitID:      in.UnitID,
			LeaseID:     in.LeaseID,
		})
	}

	if err := ledgerdomain.ValidateBalanced(lines); err != nil {
		return 0, err
	}

	if err := s.checkAccountMappings(ctx, lines); err != nil {
		return 0, err
	}

	resolved, err := s.resolveLineContexts(ctx, lines)
	if err != nil {
		return 0, err
	}

	paidBy, paidByLabel := party.DerivePaidBy(input.PaidByCandidates)
	paidTo := party.DerivePaidTo(input.PaidToCandidates)

	txnID := s.genID.Generate()
	now := time.Now().UTC()
	txn := ledgerdomain.Transaction{
		ID:                     txnID,
		OrgID:                  input.OrgID,
		Type:                   txnType,
		Date:                   input.Date.UTC(),
		TotalAmount:            ledgerdomain.DebitTotal(resolved),
		ReferenceTransactionID: input.ReferenceTransactionID,
		PaidByLabel:            paidByLabel,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if input.Memo != "" {
		memo := input.Memo
		txn.Memo = &memo
	}
	if input.ExternalReferenceID != "" {
		ref := input.ExternalReferenceID
		txn.ExternalReferenceID = &ref
	}
	if paidBy != nil {
		id := paidBy.StableID()
		txn.PaidBy = &id
	}
	if paidTo != nil {
		id := paidTo.StableID()
		txn.PaidTo = &id
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&txn).Error; err != nil {
			return err
		}
		for i := range resolved {
			resolved[i].ID = s.genID.Generate()
			resolved[i].TransactionID = txnID
			resolved[i].CreatedAt = now
			if err := tx.Create(&resolved[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("post transaction: %w", err)
	}

	txnIDStr := txnID.String()
	if err := s.auditSvc.AuditLog(ctx, input.OrgID, auditdomain.SystemActor("ledger"),
		"ledger.transaction_posted", "transaction", &txnIDStr,
		map[string]any{"type": string(txnType), "total_amount": txn.TotalAmount},
	); err != nil {
		s.log.Warn("failed to write ledger audit log", zap.Error(err))
	}

	if s.metrics != nil {
		s.metrics.TransactionsPosted.WithLabelValues(string(txnType)).Inc()
	}
	return txnID, nil
}

// checkAccountMappings rejects lines referencing accounts without the
// external mapping needed for synchronization. This is a data-fix-upstream
// condition, never retried automatically.
func (s *Service) checkAccountMappings(ctx context.Context, lines []ledgerdomain.TransactionLine) error {
	ids := make([]snowflake.ID, 0, len(lines))
	seen := make(map[snowflake.ID]bool, len(lines))
	for _, line := range lines {
		if !seen[line.GLAccountID] {
			seen[line.GLAccountID] = true
			ids = append(ids, line.GLAccountID)
		}
	}

	var accounts []gldomain.GLAccount
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&accounts).Error; err != nil {
		return err
	}
	byID := make(map[snowflake.ID]gldomain.GLAccount, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}

	for _, id := range ids {
		account, ok := byID[id]
		if !ok {
			return fmt.Errorf("%w: account %s does not exist", ledgerdomain.ErrInvalidAccount, id)
		}
		if !account.Mapped() {
			return fmt.Errorf("%w: account %q has no external mapping", ledgerdomain.ErrUnmappedAccount, account.Name)
		}
	}
	return nil
}

func (s *Service) resolveLineContexts(ctx context.Context, lines []ledgerdomain.TransactionLine) ([]ledgerdomain.TransactionLine, error) {
	resolved := make([]ledgerdomain.TransactionLine, len(lines))
	for i, line := range lines {
		var lease *ledgerdomain.Lease
		var unit *ledgerdomain.Unit

		if line.LeaseID != nil {
			var row ledgerdomain.Lease
			err := s.db.WithContext(ctx).First(&row, "id = ?", *line.LeaseID).Error
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, err
			}
			if err == nil {
				lease = &row
			}
		}
		if line.UnitID != nil {
			var row ledgerdomain.Unit
			err := s.db.WithContext(ctx).First(&row, "id = ?", *line.UnitID).Error
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, err
			}
			if err == nil {
				unit = &row
			}
		}

		resolved[i] = ledgerdomain.ResolveLineContext(line, lease, unit)
	}
	return resolved, nil
}
