package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditservice "github.com/rentfold/rentfold/internal/audit/service"
	billflowdomain "github.com/rentfold/rentfold/internal/billflow/domain"
	ledgerdomain "github.com/rentfold/rentfold/internal/ledger/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const billflowSchema = `
CREATE TABLE transactions (
	id BIGINT PRIMARY KEY,
	org_id BIGINT NOT NULL,
	txn_type TEXT NOT NULL,
	txn_date TIMESTAMP NOT NULL,
	total_amount BIGINT NOT NULL,
	memo TEXT,
	external_reference_id TEXT,
	reference_transaction_id BIGINT,
	paid_by TEXT,
	paid_by_label TEXT,
	paid_to TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE bill_workflow (
	id BIGINT PRIMARY KEY,
	org_id BIGINT NOT NULL,
	bill_transaction_id BIGINT NOT NULL UNIQUE,
	approval_state TEXT NOT NULL,
	submitted_at TIMESTAMP,
	approved_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE bill_workflow_events (
	id BIGINT PRIMARY KEY,
	workflow_id BIGINT NOT NULL,
	action TEXT NOT NULL,
	from_state TEXT NOT NULL,
	to_state TEXT NOT NULL,
	actor_type TEXT NOT NULL,
	actor_id TEXT NOT NULL,
	notes TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE bill_applications (
	id BIGINT PRIMARY KEY,
	org_id BIGINT NOT NULL,
	bill_transaction_id BIGINT NOT NULL,
	source_transaction_id BIGINT NOT NULL,
	applied_amount BIGINT NOT NULL,
	source_type TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (bill_transaction_id, source_transaction_id)
);
CREATE TABLE audit_logs (
	id BIGINT PRIMARY KEY,
	org_id BIGINT NOT NULL,
	action TEXT NOT NULL,
	target_type TEXT NOT NULL,
	target_id TEXT,
	actor_type TEXT NOT NULL,
	actor_id TEXT NOT NULL,
	metadata TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

func setupTestService(t *testing.T) (*gorm.DB, billflowdomain.Service, *snowflake.Node) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, gdb.Exec(billflowSchema).Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    gdb,
		Log:   zap.NewNop(),
		GenID: node,
	})
	svc := NewService(Params{
		DB:       gdb,
		Log:      zap.NewNop(),
		GenID:    node,
		AuditSvc: auditSvc,
	})
	return gdb, svc, node
}

func seedBill(t *testing.T, gdb *gorm.DB, node *snowflake.Node, orgID snowflake.ID, totalAmount int64) snowflake.ID {
	t.Helper()

	bill := ledgerdomain.Transaction{
		ID:          node.Generate(),
		OrgID:       orgID,
		Type:        ledgerdomain.TypeBill,
		Date:        time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
		TotalAmount: totalAmount,
	}
	require.NoError(t, gdb.Create(&bill).Error)
	return bill.ID
}

var testActor = billflowdomain.Actor{Type: "user", ID: "u-1"}

func TestEnsureWorkflowCreatesOnce(t *testing.T) {
	gdb, svc, node := setupTestService(t)
	orgID := node.Generate()
	billID := seedBill(t, gdb, node, orgID, 50000)

	first, created, err := svc.EnsureWorkflow(context.Background(), orgID, billID, billflowdomain.StateDraft)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, billflowdomain.StateDraft, first.ApprovalState)

	second, created, err := svc.EnsureWorkflow(context.Background(), orgID, billID, billflowdomain.StateApproved)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, billflowdomain.StateDraft, second.ApprovalState)
}

func TestEnsureWorkflowApprovedInitialStampsApprovedAt(t *testing.T) {
	gdb, svc, node := setupTestService(t)
	orgID := node.Generate()
	billID := seedBill(t, gdb, node, orgID, 50000)

	workflow, created, err := svc.EnsureWorkflow(context.Background(), orgID, billID, billflowdomain.StateApproved)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotNil(t, workflow.ApprovedAt)
}

func TestTransitionFullApprovalPath(t *testing.T) {
	gdb, svc, node := setupTestService(t)
	orgID := node.Generate()
	billID := seedBill(t, gdb, node, orgID, 50000)

	_, _, err := svc.EnsureWorkflow(context.Background(), orgID, billID, billflowdomain.StateDraft)
	require.NoError(t, err)

	workflow, err := svc.Transition(context.Background(), orgID, billID, billflowdomain.ActionSubmit, testActor, "ready for review")
	require.NoError(t, err)
	assert.Equal(t, billflowdomain.StatePendingApproval, workflow.ApprovalState)
	assert.NotNil(t, workflow.SubmittedAt)

	workflow, err = svc.Transition(context.Background(), orgID, billID, billflowdomain.ActionApprove, testActor, "")
	require.NoError(t, err)
	assert.Equal(t, billflowdomain.StateApproved, workflow.ApprovalState)
	assert.NotNil(t, workflow.ApprovedAt)

	var events []billflowdomain.BillWorkflowEvent
	require.NoError(t, gdb.Where("workflow_id = ?", workflow.ID).Order("created_at").Find(&events).Error)
	require.Len(t, events, 2)
	assert.Equal(t, billflowdomain.ActionSubmit, events[0].Action)
	assert.Equal(t, billflowdomain.StateDraft, events[0].FromState)
	require.NotNil(t, events[0].Notes)
	assert.Equal(t, "ready for review", *events[0].Notes)
	assert.Equal(t, billflowdomain.ActionApprove, events[1].Action)
	assert.Equal(t, billflowdomain.StateApproved, events[1].ToState)
}

func TestTransitionRejectsIllegalAction(t *testing.T) {
	gdb, svc, node := setupTestService(t)
	orgID := node.Generate()
	billID := seedBill(t, gdb, node, orgID, 50000)

	_, _, err := svc.EnsureWorkflow(context.Background(), orgID, billID, billflowdomain.StateDraft)
	require.NoError(t, err)

	// Approve straight from draft is not allowed.
	_, err = svc.Transition(context.Background(), orgID, billID, billflowdomain.ActionApprove, testActor, "")
	assert.ErrorIs(t, err, billflowdomain.ErrInvalidTransition)
}

func TestTransitionVoidFromAnyNonTerminal(t *testing.T) {
	gdb, svc, node := setupTestService(t)
	orgID := node.Generate()
	billID := seedBill(t, gdb, node, orgID, 50000)

	_, _, err := svc.EnsureWorkflow(context.Background(), orgID, billID, billflowdomain.StateDraft)
	require.NoError(t, err)

	workflow, err := svc.Transition(context.Background(), orgID, billID, billflowdomain.ActionVoid, testActor, "duplicate bill")
	require.NoError(t, err)
	assert.Equal(t, billflowdomain.StateVoided, workflow.ApprovalState)

	// Terminal states accept no further actions, void included.
	_, err = svc.Transition(context.Background(), orgID, billID, billflowdomain.ActionVoid, testActor, "")
	assert.ErrorIs(t, err, billflowdomain.ErrInvalidTransition)
}

func TestTransitionLostRaceWritesNoEvent(t *testing.T) {
	gdb, svc, node := setupTestService(t)
	orgID := node.Generate()
	billID := seedBill(t, gdb, node, orgID, 50000)

	_, _, err := svc.EnsureWorkflow(context.Background(), orgID, billID, billflowdomain.StateDraft)
	require.NoError(t, err)

	// Move the workflow off draft between the service's read and its
	// guarded update, the way a concurrent caller would.
	interleaved := false
	require.NoError(t, gdb.Callback().Query().After("gorm:query").Register("interleaved_void", func(tx *gorm.DB) {
		if interleaved {
			return
		}
		if _, ok := tx.Statement.Dest.(*billflowdomain.BillWorkflow); !ok {
			return
		}
		interleaved = true
		tx.Session(&gorm.Session{NewDB: true}).Exec(
			"UPDATE bill_workflow SET approval_state = ? WHERE bill_transaction_id = ?",
			billflowdomain.StateVoided, billID)
	}))
	defer func() {
		require.NoError(t, gdb.Callback().Query().Remove("interleaved_void"))
	}()

	_, err = svc.Transition(context.Background(), orgID, billID, billflowdomain.ActionSubmit, testActor, "")
	require.ErrorIs(t, err, billflowdomain.ErrInvalidTransition)
	assert.True(t, interleaved)

	// The losing transition must leave no trace: no event, state untouched.
	var events int64
	require.NoError(t, gdb.Table("bill_workflow_events").Count(&events).Error)
	assert.Zero(t, events)

	var workflow billflowdomain.BillWorkflow
	require.NoError(t, gdb.Where("bill_transaction_id = ?", billID).First(&workflow).Error)
	assert.Equal(t, billflowdomain.StateVoided, workflow.ApprovalState)
}

func TestTransitionUnknownWorkflow(t *testing.T) {
	_, svc, node := setupTestService(t)

	_, err := svc.Transition(context.Background(), node.Generate(), node.Generate(), billflowdomain.ActionSubmit, testActor, "")
	assert.ErrorIs(t, err, billflowdomain.ErrWorkflowNotFound)
}

func TestApplyPaymentDuplicatePairKeepsOneRow(t *testing.T) {
	gdb, svc, node := setupTestService(t)
	orgID := node.Generate()
	billID := seedBill(t, gdb, node, orgID, 50000)
	sourceID := node.Generate()

	input := billflowdomain.ApplyInput{
		OrgID:               orgID,
		BillTransactionID:   billID,
		SourceTransactionID: sourceID,
		Amount:              20000,
		SourceType:          "bill_payment",
	}

	result, err := svc.ApplyPayment(context.Background(), input)
	require.NoError(t, err)
	assert.True(t, result.Applied)

	result, err = svc.ApplyPayment(context.Background(), input)
	require.NoError(t, err)
	assert.True(t, result.Duplicate)

	var count int64
	require.NoError(t, gdb.Table("bill_applications").Count(&count).Error)
	assert.Equal(t, int64(1), count)

	total, err := svc.AppliedTotal(context.Background(), billID)
	require.NoError(t, err)
	assert.Equal(t, int64(20000), total)
}

func TestApplyPaymentSkipsNonPositiveAmount(t *testing.T) {
	gdb, svc, node := setupTestService(t)
	orgID := node.Generate()
	billID := seedBill(t, gdb, node, orgID, 50000)

	for _, amount := range []int64{0, -100} {
		result, err := svc.ApplyPayment(context.Background(), billflowdomain.ApplyInput{
			OrgID:               orgID,
			BillTransactionID:   billID,
			SourceTransactionID: node.Generate(),
			Amount:              amount,
			SourceType:          "payment",
		})
		require.NoError(t, err)
		assert.True(t, result.Skipped)
	}

	var count int64
	require.NoError(t, gdb.Table("bill_applications").Count(&count).Error)
	assert.Zero(t, count)
}

func TestApplyPaymentOverApplication(t *testing.T) {
	gdb, svc, node := setupTestService(t)
	orgID := node.Generate()
	billID := seedBill(t, gdb, node, orgID, 50000)

	result, err := svc.ApplyPayment(context.Background(), billflowdomain.ApplyInput{
		OrgID:               orgID,
		BillTransactionID:   billID,
		SourceTransactionID: node.Generate(),
		Amount:              40000,
		SourceType:          "payment",
	})
	require.NoError(t, err)
	require.True(t, result.Applied)

	_, err = svc.ApplyPayment(context.Background(), billflowdomain.ApplyInput{
		OrgID:               orgID,
		BillTransactionID:   billID,
		SourceTransactionID: node.Generate(),
		Amount:              20000,
		SourceType:          "payment",
	})
	assert.ErrorIs(t, err, billflowdomain.ErrOverApplication)

	// Applying exactly the remainder is fine.
	result, err = svc.ApplyPayment(context.Background(), billflowdomain.ApplyInput{
		OrgID:               orgID,
		BillTransactionID:   billID,
		SourceTransactionID: node.Generate(),
		Amount:              10000,
		SourceType:          "payment",
	})
	require.NoError(t, err)
	assert.True(t, result.Applied)
}

func TestApplyPaymentRejectionLeavesNoRow(t *testing.T) {
	gdb, svc, node := setupTestService(t)
	orgID := node.Generate()
	billID := seedBill(t, gdb, node, orgID, 50000)

	_, err := svc.ApplyPayment(context.Background(), billflowdomain.ApplyInput{
		OrgID:               orgID,
		BillTransactionID:   billID,
		SourceTransactionID: node.Generate(),
		Amount:              60000,
		SourceType:          "payment",
	})
	require.ErrorIs(t, err, billflowdomain.ErrOverApplication)

	// The guard and the insert run in one transaction; a rejection rolls
	// everything back.
	var count int64
	require.NoError(t, gdb.Table("bill_applications").Count(&count).Error)
	assert.Zero(t, count)

	total, err := svc.AppliedTotal(context.Background(), billID)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestApplyPaymentUnknownBill(t *testing.T) {
	_, svc, node := setupTestService(t)

	_, err := svc.ApplyPayment(context.Background(), billflowdomain.ApplyInput{
		OrgID:               node.Generate(),
		BillTransactionID:   node.Generate(),
		SourceTransactionID: node.Generate(),
		Amount:              100,
		SourceType:          "payment",
	})
	assert.ErrorIs(t, err, billflowdomain.ErrBillNotFound)
}
