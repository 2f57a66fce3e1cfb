package idempotency

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/rentfold/rentfold/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const keySchema = `
CREATE TABLE idempotency_keys (
	id BIGINT PRIMARY KEY,
	org_id BIGINT NOT NULL,
	idempotency_key TEXT NOT NULL,
	response_body TEXT,
	expires_at TIMESTAMP NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (org_id, idempotency_key)
);
`

func setupStore(t *testing.T) (*Store, *clock.FakeClock, *snowflake.Node) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, gdb.Exec(keySchema).Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))

	store := NewStore(Params{DB: gdb, Log: zap.NewNop(), GenID: node, Clock: fake})
	return store, fake, node
}

func TestPutAndGetResponse(t *testing.T) {
	store, _, node := setupStore(t)
	orgID := node.Generate()
	body := datatypes.JSON(`{"intent_id":"123"}`)

	require.NoError(t, store.PutResponse(context.Background(), orgID, "req-1", body, time.Hour))

	got, found, err := store.GetResponse(context.Background(), orgID, "req-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, string(body), string(got))
}

func TestPutResponseFirstWriterWins(t *testing.T) {
	store, _, node := setupStore(t)
	orgID := node.Generate()

	require.NoError(t, store.PutResponse(context.Background(), orgID, "req-1", datatypes.JSON(`{"v":1}`), time.Hour))
	require.NoError(t, store.PutResponse(context.Background(), orgID, "req-1", datatypes.JSON(`{"v":2}`), time.Hour))

	got, found, err := store.GetResponse(context.Background(), orgID, "req-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"v":1}`, string(got))
}

func TestGetResponseExpired(t *testing.T) {
	store, fake, node := setupStore(t)
	orgID := node.Generate()

	require.NoError(t, store.PutResponse(context.Background(), orgID, "req-1", datatypes.JSON(`{}`), time.Hour))
	fake.Advance(2 * time.Hour)

	_, found, err := store.GetResponse(context.Background(), orgID, "req-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetResponseScopedToOrg(t *testing.T) {
	store, _, node := setupStore(t)
	orgA := node.Generate()
	orgB := node.Generate()

	require.NoError(t, store.PutResponse(context.Background(), orgA, "req-1", datatypes.JSON(`{}`), time.Hour))

	_, found, err := store.GetResponse(context.Background(), orgB, "req-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPurgeExpired(t *testing.T) {
	store, fake, node := setupStore(t)
	orgID := node.Generate()

	require.NoError(t, store.PutResponse(context.Background(), orgID, "old", datatypes.JSON(`{}`), time.Minute))
	require.NoError(t, store.PutResponse(context.Background(), orgID, "fresh", datatypes.JSON(`{}`), 24*time.Hour))
	fake.Advance(time.Hour)

	purged, err := store.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, found, err := store.GetResponse(context.Background(), orgID, "fresh")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestValidation(t *testing.T) {
	store, _, node := setupStore(t)

	err := store.PutResponse(context.Background(), 0, "k", nil, time.Hour)
	assert.ErrorIs(t, err, ErrInvalidOrganization)

	err = store.PutResponse(context.Background(), node.Generate(), "  ", nil, time.Hour)
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, _, err = store.GetResponse(context.Background(), node.Generate(), "")
	assert.ErrorIs(t, err, ErrInvalidKey)
}
