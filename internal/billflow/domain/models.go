package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type ApprovalState string

const (
	StateDraft           ApprovalState = "draft"
	StatePendingApproval ApprovalState = "pending_approval"
	StateApproved        ApprovalState = "approved"
	StateRejected        ApprovalState = "rejected"
	StateVoided          ApprovalState = "voided"
)

type Action string

const (
	ActionSubmit  Action = "submit"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionVoid    Action = "void"
)

// Terminal reports whether the state accepts no further workflow actions.
func (s ApprovalState) Terminal() bool {
	return s == StateApproved || s == StateRejected || s == StateVoided
}

// NextState returns the state an action leads to from the current state, or
// an error when the transition is not allowed. Void is legal from any
// non-terminal state.
func NextState(current ApprovalState, action Action) (ApprovalState, error) {
	switch action {
	case ActionSubmit:
		if current == StateDraft {
			return StatePendingApproval, nil
		}
	case ActionApprove:
		if current == StatePendingApproval {
			return StateApproved, nil
		}
	case ActionReject:
		if current == StatePendingApproval {
			return StateRejected, nil
		}
	case ActionVoid:
		if !current.Terminal() {
			return StateVoided, nil
		}
	}
	return "", ErrInvalidTransition
}

// BillWorkflow is the approval lifecycle for one bill transaction; exactly
// one row exists per bill.
type BillWorkflow struct {
	ID                snowflake.ID  `gorm:"primaryKey"`
	OrgID             snowflake.ID  `gorm:"not null;index"`
	BillTransactionID snowflake.ID  `gorm:"not null;uniqueIndex:ux_bill_workflow_txn"`
	ApprovalState     ApprovalState `gorm:"type:text;not null"`
	SubmittedAt       *time.Time
	ApprovedAt        *time.Time
	CreatedAt         time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (BillWorkflow) TableName() string { return "bill_workflow" }

// BillWorkflowEvent is one append-only audit entry for a workflow
// transition. Events are never edited or deleted.
type BillWorkflowEvent struct {
	ID         snowflake.ID  `gorm:"primaryKey"`
	WorkflowID snowflake.ID  `gorm:"not null;index"`
	Action     Action        `gorm:"type:text;not null"`
	FromState  ApprovalState `gorm:"type:text;not null"`
	ToState    ApprovalState `gorm:"type:text;not null"`
	ActorType  string        `gorm:"type:text;not null"`
	ActorID    string        `gorm:"type:text;not null"`
	Notes      *string       `gorm:"type:text"`
	CreatedAt  time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (BillWorkflowEvent) TableName() string { return "bill_workflow_events" }

// BillApplication links a payment to the bill it pays down. The
// (bill, source) pair is unique; applied amounts are strictly positive.
type BillApplication struct {
	ID                  snowflake.ID `gorm:"primaryKey"`
	OrgID               snowflake.ID `gorm:"not null;index"`
	BillTransactionID   snowflake.ID `gorm:"not null;uniqueIndex:ux_bill_applications_pair,priority:1"`
	SourceTransactionID snowflake.ID `gorm:"not null;uniqueIndex:ux_bill_applications_pair,priority:2"`
	AppliedAmount       int64        `gorm:"not null"`
	SourceType          string       `gorm:"type:text;not null"`
	CreatedAt           time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (BillApplication) TableName() string { return "bill_applications" }

type Actor struct {
	Type string
	ID   string
}

type ApplyInput struct {
	OrgID               snowflake.ID
	BillTransactionID   snowflake.ID
	SourceTransactionID snowflake.ID
	Amount              int64
	SourceType          string
}

// ApplyResult reports what happened to one application attempt. Duplicate
// pairs and non-positive amounts are outcomes, not errors, so sync jobs can
// tally them per batch.
type ApplyResult struct {
	Applied   bool
	Duplicate bool
	Skipped   bool
}

type Service interface {
	EnsureWorkflow(ctx context.Context, orgID, billTxnID snowflake.ID, initial ApprovalState) (*BillWorkflow, bool, error)
	Transition(ctx context.Context, orgID, billTxnID snowflake.ID, action Action, actor Actor, notes string) (*BillWorkflow, error)
	ApplyPayment(ctx context.Context, input ApplyInput) (ApplyResult, error)
	AppliedTotal(ctx context.Context, billTxnID snowflake.ID) (int64, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrWorkflowNotFound    = errors.New("bill_workflow_not_found")
	ErrInvalidTransition   = errors.New("invalid_workflow_transition")
	ErrBillNotFound        = errors.New("bill_transaction_not_found")
	ErrOverApplication     = errors.New("over_application")
)
