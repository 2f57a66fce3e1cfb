package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type AccountType string

const (
	AccountTypeAsset     AccountType = "asset"
	AccountTypeLiability AccountType = "liability"
	AccountTypeIncome    AccountType = "income"
	AccountTypeExpense   AccountType = "expense"
	AccountTypeEquity    AccountType = "equity"
)

// GLAccount is a chart-of-accounts entry. ExternalID is the sync partner's
// account id; lines posted to an account without one cannot be synced.
type GLAccount struct {
	ID                         snowflake.ID `gorm:"primaryKey"`
	OrgID                      snowflake.ID `gorm:"not null;index;uniqueIndex:ux_gl_accounts_org_name,priority:1"`
	Name                       string       `gorm:"type:text;not null;uniqueIndex:ux_gl_accounts_org_name,priority:2"`
	AccountType                AccountType  `gorm:"type:text;not null"`
	SubType                    string       `gorm:"type:text"`
	ExternalID                 *string      `gorm:"type:text"`
	IsBankAccount              bool         `gorm:"not null;default:false"`
	IsSecurityDepositLiability bool         `gorm:"not null;default:false"`
	CreatedAt                  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt                  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (GLAccount) TableName() string { return "gl_accounts" }

// Mapped reports whether the account carries the external mapping required
// for synchronization.
func (a GLAccount) Mapped() bool {
	return a.ExternalID != nil && *a.ExternalID != ""
}

type SuggestionStatus string

const (
	SuggestionStatusPending SuggestionStatus = "pending"
	SuggestionStatusApplied SuggestionStatus = "applied"
)

// FlagSuggestion queues a heuristic correction for human review. The audit
// job only ever writes pending suggestions; flag mutation happens in a
// separate, explicitly confirmed apply step.
type FlagSuggestion struct {
	ID             snowflake.ID     `gorm:"primaryKey"`
	OrgID          snowflake.ID     `gorm:"not null;index"`
	GLAccountID    snowflake.ID     `gorm:"not null"`
	Flag           Flag             `gorm:"type:text;not null"`
	CurrentValue   bool             `gorm:"not null"`
	SuggestedValue bool             `gorm:"not null"`
	Reason         string           `gorm:"type:text;not null"`
	Status         SuggestionStatus `gorm:"type:text;not null;default:pending"`
	CreatedAt      time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP"`
	AppliedAt      *time.Time
}

func (FlagSuggestion) TableName() string { return "gl_flag_suggestions" }

var (
	ErrInvalidAccount      = errors.New("invalid_gl_account")
	ErrPayableNotFound     = errors.New("payable_account_not_found")
	ErrBankAccountNotFound = errors.New("bank_account_not_found")
)
