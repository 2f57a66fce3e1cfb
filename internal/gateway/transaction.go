// Package gateway models the fields this system consumes from the external
// accounting/sync partner. Payloads are validated here at the boundary; the
// rest of the codebase only ever sees these typed variants.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rentfold/rentfold/internal/party"
	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindBill         Kind = "bill"
	KindCharge       Kind = "charge"
	KindPayment      Kind = "payment"
	KindBillPayment  Kind = "bill_payment"
	KindOwnerDraw    Kind = "owner_draw"
	KindRefund       Kind = "refund"
	KindJournalEntry Kind = "journal_entry"
	KindCheck        Kind = "check"
)

var ErrInvalidPayload = errors.New("gateway: invalid payload")

// Transaction is the sync partner's transaction snapshot after boundary
// validation. IsInternal marks transactions processed inside the partner's
// own gateway; nil means the partner has not reported either way yet.
// IsPending marks ones still inside its pending window.
type Transaction struct {
	Kind        Kind
	ExternalID  string
	TotalAmount decimal.Decimal
	ResultCode  string
	ResultDate  *time.Time
	IsInternal  *bool
	IsPending   bool
	CreatedAt   time.Time

	PaidByCandidates []party.PaidByCandidate
	PaidToCandidates []party.PaidToCandidate
}

// SettledAt returns the settlement timestamp for this snapshot: the
// partner's result date when present, else the snapshot creation time,
// else nil.
func (t *Transaction) SettledAt() *time.Time {
	if t.ResultDate != nil {
		return t.ResultDate
	}
	if !t.CreatedAt.IsZero() {
		created := t.CreatedAt
		return &created
	}
	return nil
}

// SnapshotAt is the ordering timestamp used to reject stale replays.
func (t *Transaction) SnapshotAt() time.Time {
	if t.ResultDate != nil {
		return *t.ResultDate
	}
	return t.CreatedAt
}

type rawCandidate struct {
	EntityType      string `json:"entity_type"`
	EntityID        string `json:"entity_id"`
	UnitID          string `json:"unit_id"`
	EntityReference string `json:"entity_reference"`
	UnitReference   string `json:"unit_reference"`
	Type            string `json:"type"`
	ExternalID      string `json:"external_id"`
	VendorID        string `json:"vendor_id"`
	TenantID        string `json:"tenant_id"`
	Reference       string `json:"reference"`
	Amount          string `json:"amount"`
	PropertyName    string `json:"property_name"`
	UnitLabel       string `json:"unit_label"`
}

type rawTransaction struct {
	Kind       string         `json:"transaction_type"`
	ExternalID string         `json:"external_id"`
	Amount     string         `json:"total_amount"`
	ResultCode string         `json:"result_code"`
	ResultDate string         `json:"result_date"`
	IsInternal *bool          `json:"is_internal"`
	IsPending  bool           `json:"is_pending"`
	CreatedAt  string         `json:"created_at"`
	PaidBy     []rawCandidate `json:"paid_by"`
	PaidTo     []rawCandidate `json:"paid_to"`
}

// ParseTransaction decodes and validates one sync payload.
func ParseTransaction(payload []byte) (*Transaction, error) {
	if !json.Valid(payload) {
		return nil, ErrInvalidPayload
	}
	var raw rawTransaction
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("gateway: decode transaction: %w", err)
	}

	kind, err := parseKind(raw.Kind)
	if err != nil {
		return nil, err
	}
	externalID := strings.TrimSpace(raw.ExternalID)
	if externalID == "" {
		return nil, fmt.Errorf("%w: missing external id", ErrInvalidPayload)
	}

	txn := &Transaction{
		Kind:        kind,
		ExternalID:  externalID,
		TotalAmount: party.NormalizeAmount(raw.Amount),
		ResultCode:  strings.TrimSpace(raw.ResultCode),
		IsInternal:  raw.IsInternal,
		IsPending:   raw.IsPending,
	}

	if ts, ok := parseTime(raw.ResultDate); ok {
		txn.ResultDate = &ts
	}
	if ts, ok := parseTime(raw.CreatedAt); ok {
		txn.CreatedAt = ts
	}

	for _, c := range raw.PaidBy {
		txn.PaidByCandidates = append(txn.PaidByCandidates, party.PaidByCandidate{
			EntityType:      c.EntityType,
			EntityID:        c.EntityID,
			UnitID:          c.UnitID,
			EntityReference: c.EntityReference,
			UnitReference:   c.UnitReference,
			Amount:          party.NormalizeAmount(c.Amount),
			PropertyName:    c.PropertyName,
			UnitLabel:       c.UnitLabel,
		})
	}
	for _, c := range raw.PaidTo {
		txn.PaidToCandidates = append(txn.PaidToCandidates, party.PaidToCandidate{
			Type:       c.Type,
			ExternalID: c.ExternalID,
			VendorID:   c.VendorID,
			TenantID:   c.TenantID,
			Reference:  c.Reference,
			Amount:     party.NormalizeAmount(c.Amount),
		})
	}

	return txn, nil
}

func parseKind(raw string) (Kind, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	switch Kind(normalized) {
	case KindBill, KindCharge, KindPayment, KindBillPayment,
		KindOwnerDraw, KindRefund, KindJournalEntry, KindCheck:
		return Kind(normalized), nil
	default:
		return "", fmt.Errorf("%w: unknown transaction type %q", ErrInvalidPayload, raw)
	}
}

func parseTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// MinorUnits converts the partner's decimal amount to integer minor units.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
