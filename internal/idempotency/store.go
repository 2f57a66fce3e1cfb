// Package idempotency is a generic org-scoped key → cached-response store
// with an expiry. Side-effecting endpoints record their first response
// under the caller's key; retries replay it instead of repeating the
// side effect.
package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rentfold/rentfold/internal/clock"
	"github.com/rentfold/rentfold/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Key struct {
	ID             snowflake.ID   `gorm:"primaryKey"`
	OrgID          snowflake.ID   `gorm:"not null;index;uniqueIndex:ux_idempotency_keys_org_key,priority:1"`
	IdempotencyKey string         `gorm:"type:text;not null;uniqueIndex:ux_idempotency_keys_org_key,priority:2"`
	ResponseBody   datatypes.JSON `gorm:"type:jsonb"`
	ExpiresAt      time.Time      `gorm:"not null"`
	CreatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Key) TableName() string { return "idempotency_keys" }

var (
	ErrInvalidKey          = errors.New("invalid_idempotency_key")
	ErrInvalidOrganization = errors.New("invalid_organization")
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Store struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewStore(p Params) *Store {
	return &Store{
		db:    p.DB,
		log:   p.Log.Named("idempotency.store"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

// PutResponse records the response for a key. The first writer wins; a
// duplicate insert means another request already recorded it, which is
// fine.
func (s *Store) PutResponse(ctx context.Context, orgID snowflake.ID, key string, response datatypes.JSON, ttl time.Duration) error {
	if orgID == 0 {
		return ErrInvalidOrganization
	}
	if key = strings.TrimSpace(key); key == "" {
		return ErrInvalidKey
	}

	now := s.clock.Now()
	row := Key{
		ID:             s.genID.Generate(),
		OrgID:          orgID,
		IdempotencyKey: key,
		ResponseBody:   response,
		ExpiresAt:      now.Add(ttl),
		CreatedAt:      now,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil && !db.IsDuplicateKeyErr(err) {
		return err
	}
	return nil
}

// GetResponse returns the cached response for a key, if one exists and has
// not expired.
func (s *Store) GetResponse(ctx context.Context, orgID snowflake.ID, key string) (datatypes.JSON, bool, error) {
	if orgID == 0 {
		return nil, false, ErrInvalidOrganization
	}
	if key = strings.TrimSpace(key); key == "" {
		return nil, false, ErrInvalidKey
	}

	var row Key
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND idempotency_key = ? AND expires_at > ?", orgID, key, s.clock.Now()).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return row.ResponseBody, true, nil
}

// PurgeExpired deletes keys past their expiry and returns how many were
// removed.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at <= ?", s.clock.Now()).
		Delete(&Key{})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		s.log.Info("purged expired idempotency keys", zap.Int64("count", result.RowsAffected))
	}
	return result.RowsAffected, nil
}

var Module = fx.Module("idempotency.store",
	fx.Provide(NewStore),
)
