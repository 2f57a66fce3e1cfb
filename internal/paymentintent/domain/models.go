package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rentfold/rentfold/internal/gateway"
	"gorm.io/datatypes"
)

type State string

const (
	StateCreated   State = "created"
	StateSubmitted State = "submitted"
	StatePending   State = "pending"
	StateSettled   State = "settled"
	StateFailed    State = "failed"
)

// Terminal reports whether the state can never be left again.
func (s State) Terminal() bool {
	return s == StateSettled || s == StateFailed
}

// PaymentIntent is one attempted payment submission. Rows only ever move
// forward through the state machine and are never deleted.
type PaymentIntent struct {
	ID              snowflake.ID   `gorm:"primaryKey"`
	OrgID           snowflake.ID   `gorm:"not null;index;uniqueIndex:ux_payment_intent_org_key,priority:1"`
	IdempotencyKey  string         `gorm:"type:text;not null;uniqueIndex:ux_payment_intent_org_key,priority:2"`
	Amount          int64          `gorm:"not null"`
	Method          string         `gorm:"type:text;not null"`
	PayerID         snowflake.ID   `gorm:"not null"`
	AllocationPlan  datatypes.JSON `gorm:"type:jsonb"`
	State           State          `gorm:"type:text;not null"`
	GatewayIntentID *string        `gorm:"type:text"`
	FailureCode     *string        `gorm:"type:text"`
	SnapshotAt      *time.Time
	SubmittedAt     *time.Time
	SettledAt       *time.Time
	CreatedAt       time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (PaymentIntent) TableName() string { return "payment_intent" }

// Payment is the settled record for an intent; at most one exists per
// intent, enforced by a unique constraint.
type Payment struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	PaymentIntentID snowflake.ID `gorm:"not null;uniqueIndex:ux_payment_intent"`
	OrgID           snowflake.ID `gorm:"not null;index"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Payment) TableName() string { return "payment" }

type CreateInput struct {
	OrgID          snowflake.ID
	Amount         int64
	Method         string
	PayerID        snowflake.ID
	AllocationPlan datatypes.JSON
	// IdempotencyKey may be blank; the service generates one. A repeated
	// key within the org returns the original intent unchanged.
	IdempotencyKey string
}

type CreateResult struct {
	Intent PaymentIntent
	Reused bool
}

type Service interface {
	CreateIntent(ctx context.Context, input CreateInput) (CreateResult, error)
	SubmitIntent(ctx context.Context, orgID, intentID snowflake.ID, gatewayIntentID string) (*PaymentIntent, error)
	ApplyGatewaySnapshot(ctx context.Context, orgID, intentID snowflake.ID, snapshot *gateway.Transaction) (State, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidMethod       = errors.New("invalid_method")
	ErrInvalidPayer        = errors.New("invalid_payer")
	ErrIntentNotFound      = errors.New("payment_intent_not_found")
	ErrInvalidTransition   = errors.New("invalid_state_transition")
	ErrInvalidSnapshot     = errors.New("invalid_gateway_snapshot")
)
