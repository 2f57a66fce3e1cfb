package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	auditdomain "github.com/rentfold/rentfold/internal/audit/domain"
	"github.com/rentfold/rentfold/internal/gateway"
	"github.com/rentfold/rentfold/internal/metrics"
	intentdomain "github.com/rentfold/rentfold/internal/paymentintent/domain"
	"github.com/rentfold/rentfold/internal/paymentintent/failurecode"
	"github.com/rentfold/rentfold/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	AuditSvc     auditdomain.Service
	FailureCodes *failurecode.Cache
	Metrics      *metrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	auditSvc     auditdomain.Service
	failureCodes *failurecode.Cache
	metrics      *metrics.Metrics
}

func NewService(p Params) intentdomain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("paymentintent.service"),
		genID:        p.GenID,
		auditSvc:     p.AuditSvc,
		failureCodes: p.FailureCodes,
		metrics:      p.Metrics,
	}
}

// CreateIntent inserts a new intent in state created, or returns the
// existing intent unchanged when the idempotency key has been seen before.
// A concurrent duplicate insert resolves the same way: the unique-constraint
// hit is a signal to re-read, not an error.
func (s *Service) CreateIntent(ctx context.Context, input intentdomain.CreateInput) (intentdomain.CreateResult, error) {
	if input.OrgID == 0 {
		return intentdomain.CreateResult{}, intentdomain.ErrInvalidOrganization
	}
	if input.Amount <= 0 {
		return intentdomain.CreateResult{}, intentdomain.ErrInvalidAmount
	}
	method := strings.TrimSpace(input.Method)
	if method == "" {
		return intentdomain.CreateResult{}, intentdomain.ErrInvalidMethod
	}
	if input.PayerID == 0 {
		return intentdomain.CreateResult{}, intentdomain.ErrInvalidPayer
	}

	key := strings.TrimSpace(input.IdempotencyKey)
	if key == "" {
		key = uuid.NewString()
	}

	if existing, err := s.findByKey(ctx, input.OrgID, key); err != nil {
		return intentdomain.CreateResult{}, err
	} else if existing != nil {
		return intentdomain.CreateResult{Intent: *existing, Reused: true}, nil
	}

	now := time.Now().UTC()
	intent := intentdomain.PaymentIntent{
		ID:             s.genID.Generate(),
		OrgID:          input.OrgID,
		IdempotencyKey: key,
		Amount:         input.Amount,
		Method:         method,
		PayerID:        input.PayerID,
		AllocationPlan: input.AllocationPlan,
		State:          intentdomain.StateCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.db.WithContext(ctx).Create(&intent).Error; err != nil {
		if !db.IsDuplicateKeyErr(err) {
			return intentdomain.CreateResult{}, fmt.Errorf("create payment intent: %w", err)
		}
		existing, readErr := s.findByKey(ctx, input.OrgID, key)
		if readErr != nil {
			return intentdomain.CreateResult{}, readErr
		}
		if existing == nil {
			return intentdomain.CreateResult{}, intentdomain.ErrIntentNotFound
		}
		return intentdomain.CreateResult{Intent: *existing, Reused: true}, nil
	}

	if s.metrics != nil {
		s.metrics.IntentTransitions.WithLabelValues(string(intentdomain.StateCreated)).Inc()
	}
	return intentdomain.CreateResult{Intent: intent, Reused: false}, nil
}

// SubmitIntent moves created → submitted. Repeat calls re-stamp and are
// safe.
func (s *Service) SubmitIntent(ctx context.Context, orgID, intentID snowflake.ID, gatewayIntentID string) (*intentdomain.PaymentIntent, error) {
	intent, err := s.find(ctx, orgID, intentID)
	if err != nil {
		return nil, err
	}

	switch intent.State {
	case intentdomain.StateCreated, intentdomain.StateSubmitted:
	default:
		return nil, fmt.Errorf("%w: cannot submit from %s", intentdomain.ErrInvalidTransition, intent.State)
	}

	now := time.Now().UTC()
	intent.State = intentdomain.StateSubmitted
	intent.SubmittedAt = &now
	intent.UpdatedAt = now
	if gatewayIntentID = strings.TrimSpace(gatewayIntentID); gatewayIntentID != "" {
		intent.GatewayIntentID = &gatewayIntentID
	}

	if err := s.db.WithContext(ctx).
		Model(&intentdomain.PaymentIntent{}).
		Where("id = ?", intent.ID).
		Updates(map[string]any{
			"state":             intent.State,
			"submitted_at":      intent.SubmittedAt,
			"gateway_intent_id": intent.GatewayIntentID,
			"updated_at":        intent.UpdatedAt,
		}).Error; err != nil {
		return nil, fmt.Errorf("submit payment intent: %w", err)
	}

	if s.metrics != nil {
		s.metrics.IntentTransitions.WithLabelValues(string(intentdomain.StateSubmitted)).Inc()
	}
	return intent, nil
}

// ApplyGatewaySnapshot derives the settlement state from a sync snapshot
// and applies it as an idempotent update. Stale replays never regress a
// settled or failed intent.
func (s *Service) ApplyGatewaySnapshot(ctx context.Context, orgID, intentID snowflake.ID, snapshot *gateway.Transaction) (intentdomain.State, error) {
	if snapshot == nil {
		return "", intentdomain.ErrInvalidSnapshot
	}
	intent, err := s.find(ctx, orgID, intentID)
	if err != nil {
		return "", err
	}

	derived := intentdomain.DeriveStateFromGateway(snapshot, s.failureCodes)

	snapshotAt := snapshot.SnapshotAt()
	if intent.SnapshotAt != nil && snapshotAt.Before(*intent.SnapshotAt) {
		// Out-of-order replay of an older snapshot.
		return intent.State, nil
	}
	if intentdomain.Regresses(intent.State, derived.State) {
		return intent.State, nil
	}
	if derived.State == intent.State && derived.State != intentdomain.StateSettled {
		return intent.State, nil
	}

	now := time.Now().UTC()
	updates := map[string]any{
		"state":      derived.State,
		"updated_at": now,
	}
	if !snapshotAt.IsZero() {
		updates["snapshot_at"] = snapshotAt
	}
	if derived.FailureCode != nil {
		updates["failure_code"] = *derived.FailureCode
	}
	if derived.State == intentdomain.StateSettled && derived.SettledAt != nil {
		updates["settled_at"] = derived.SettledAt.UTC()
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&intentdomain.PaymentIntent{}).
			Where("id = ?", intent.ID).
			Updates(updates).Error; err != nil {
			return err
		}
		if derived.State == intentdomain.StateSettled {
			return s.ensurePayment(tx, intent)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("apply gateway snapshot: %w", err)
	}

	if derived.State != intent.State {
		intentIDStr := intent.ID.String()
		if err := s.auditSvc.AuditLog(ctx, orgID, auditdomain.SystemActor("gateway-sync"),
			"payment_intent."+string(derived.State), "payment_intent", &intentIDStr,
			map[string]any{"from": string(intent.State), "to": string(derived.State)},
		); err != nil {
			s.log.Warn("failed to write intent audit log", zap.Error(err))
		}
		if s.metrics != nil {
			s.metrics.IntentTransitions.WithLabelValues(string(derived.State)).Inc()
		}
	}
	return derived.State, nil
}

// ensurePayment records the settled payment exactly once per intent.
func (s *Service) ensurePayment(tx *gorm.DB, intent *intentdomain.PaymentIntent) error {
	payment := intentdomain.Payment{
		ID:              s.genID.Generate(),
		PaymentIntentID: intent.ID,
		OrgID:           intent.OrgID,
		CreatedAt:       time.Now().UTC(),
	}
	if err := tx.Create(&payment).Error; err != nil && !db.IsDuplicateKeyErr(err) {
		return err
	}
	return nil
}

func (s *Service) find(ctx context.Context, orgID, intentID snowflake.ID) (*intentdomain.PaymentIntent, error) {
	var intent intentdomain.PaymentIntent
	err := s.db.WithContext(ctx).
		Where("id = ? AND org_id = ?", intentID, orgID).
		First(&intent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, intentdomain.ErrIntentNotFound
		}
		return nil, err
	}
	return &intent, nil
}

func (s *Service) findByKey(ctx context.Context, orgID snowflake.ID, key string) (*intentdomain.PaymentIntent, error) {
	var intent intentdomain.PaymentIntent
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND idempotency_key = ?", orgID, key).
		First(&intent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &intent, nil
}
