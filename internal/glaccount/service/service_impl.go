package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	gldomain "github.com/rentfold/rentfold/internal/glaccount/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("glaccount.service"),
		genID: p.GenID,
	}
}

// EnsureAccount returns the id of the named account, creating it when it
// does not exist yet. A concurrent create races through the unique index
// and re-reads, so every caller sees the same row.
func (s *Service) EnsureAccount(ctx context.Context, orgID snowflake.ID, name string, accountType gldomain.AccountType, externalID string) (snowflake.ID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, gldomain.ErrInvalidAccount
	}

	var accountID snowflake.ID
	if err := s.db.WithContext(ctx).Raw(
		`SELECT id FROM gl_accounts WHERE org_id = ? AND name = ?`,
		orgID, name,
	).Scan(&accountID).Error; err != nil {
		return 0, err
	}
	if accountID != 0 {
		return accountID, nil
	}

	now := time.Now().UTC()
	newID := s.genID.Generate()
	var extID *string
	if externalID = strings.TrimSpace(externalID); externalID != "" {
		extID = &externalID
	}
	if err := s.db.WithContext(ctx).Exec(
		`INSERT INTO gl_accounts (id, org_id, name, account_type, external_id, is_bank_account, is_security_deposit_liability, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (org_id, name) DO NOTHING`,
		newID, orgID, name, string(accountType), extID, false, false, now, now,
	).Error; err != nil {
		return 0, err
	}

	if err := s.db.WithContext(ctx).Raw(
		`SELECT id FROM gl_accounts WHERE org_id = ? AND name = ?`,
		orgID, name,
	).Scan(&accountID).Error; err != nil {
		return 0, err
	}
	if accountID == 0 {
		return 0, gldomain.ErrInvalidAccount
	}
	return accountID, nil
}

// PayableAccount resolves the org's accounts-payable account.
func (s *Service) PayableAccount(ctx context.Context, orgID snowflake.ID) (*gldomain.GLAccount, error) {
	var account gldomain.GLAccount
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND account_type = ? AND LOWER(name) LIKE ?",
			orgID, string(gldomain.AccountTypeLiability), "%accounts payable%").
		Order("id").
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gldomain.ErrPayableNotFound
		}
		return nil, err
	}
	return &account, nil
}

// BankAccount resolves the org's operating bank account.
func (s *Service) BankAccount(ctx context.Context, orgID snowflake.ID) (*gldomain.GLAccount, error) {
	var account gldomain.GLAccount
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND is_bank_account = ?", orgID, true).
		Order("id").
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gldomain.ErrBankAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (s *Service) Find(ctx context.Context, ids []snowflake.ID) (map[snowflake.ID]gldomain.GLAccount, error) {
	if len(ids) == 0 {
		return map[snowflake.ID]gldomain.GLAccount{}, nil
	}
	var accounts []gldomain.GLAccount
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&accounts).Error; err != nil {
		return nil, err
	}
	out := make(map[snowflake.ID]gldomain.GLAccount, len(accounts))
	for _, a := range accounts {
		out[a.ID] = a
	}
	return out, nil
}
