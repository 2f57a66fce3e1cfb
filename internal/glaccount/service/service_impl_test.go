package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	gldomain "github.com/rentfold/rentfold/internal/glaccount/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const accountSchema = `
CREATE TABLE gl_accounts (
	id BIGINT PRIMARY KEY,
	org_id BIGINT NOT NULL,
	name TEXT NOT NULL,
	account_type TEXT NOT NULL,
	sub_type TEXT,
	external_id TEXT,
	is_bank_account BOOLEAN NOT NULL DEFAULT FALSE,
	is_security_deposit_liability BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (org_id, name)
);
`

func setupTestService(t *testing.T) (*gorm.DB, *Service, *snowflake.Node) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, gdb.Exec(accountSchema).Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{DB: gdb, Log: zap.NewNop(), GenID: node})
	return gdb, svc, node
}

func TestEnsureAccountIdempotent(t *testing.T) {
	gdb, svc, node := setupTestService(t)
	orgID := node.Generate()

	first, err := svc.EnsureAccount(context.Background(), orgID, "Accounts Payable", gldomain.AccountTypeLiability, "ext-ap")
	require.NoError(t, err)
	require.NotZero(t, first)

	second, err := svc.EnsureAccount(context.Background(), orgID, "Accounts Payable", gldomain.AccountTypeLiability, "")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var count int64
	require.NoError(t, gdb.Table("gl_accounts").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestEnsureAccountBlankName(t *testing.T) {
	_, svc, node := setupTestService(t)

	_, err := svc.EnsureAccount(context.Background(), node.Generate(), "   ", gldomain.AccountTypeAsset, "")
	assert.ErrorIs(t, err, gldomain.ErrInvalidAccount)
}

func TestPayableAccount(t *testing.T) {
	_, svc, node := setupTestService(t)
	orgID := node.Generate()

	_, err := svc.PayableAccount(context.Background(), orgID)
	assert.ErrorIs(t, err, gldomain.ErrPayableNotFound)

	id, err := svc.EnsureAccount(context.Background(), orgID, "Accounts Payable", gldomain.AccountTypeLiability, "ext-ap")
	require.NoError(t, err)

	account, err := svc.PayableAccount(context.Background(), orgID)
	require.NoError(t, err)
	assert.Equal(t, id, account.ID)
}

func TestBankAccount(t *testing.T) {
	gdb, svc, node := setupTestService(t)
	orgID := node.Generate()

	_, err := svc.BankAccount(context.Background(), orgID)
	assert.ErrorIs(t, err, gldomain.ErrBankAccountNotFound)

	id, err := svc.EnsureAccount(context.Background(), orgID, "Operating Bank", gldomain.AccountTypeAsset, "ext-bank")
	require.NoError(t, err)
	require.NoError(t, gdb.Table("gl_accounts").Where("id = ?", id).Update("is_bank_account", true).Error)

	account, err := svc.BankAccount(context.Background(), orgID)
	require.NoError(t, err)
	assert.Equal(t, id, account.ID)
}

func TestFind(t *testing.T) {
	_, svc, node := setupTestService(t)
	orgID := node.Generate()

	id, err := svc.EnsureAccount(context.Background(), orgID, "Rental Income", gldomain.AccountTypeIncome, "ext-inc")
	require.NoError(t, err)

	found, err := svc.Find(context.Background(), []snowflake.ID{id, node.Generate()})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Rental Income", found[id].Name)

	empty, err := svc.Find(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
