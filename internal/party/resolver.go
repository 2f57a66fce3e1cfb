// Package party resolves the canonical payer and payee attribution for a
// transaction when the sync partner reports several candidates. The
// resolution is a pure function of the candidate set: backfill jobs re-run
// it over historical rows and must reproduce stored values byte for byte.
package party

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// PaidByCandidate is one reported "who economically bears this" attribution.
type PaidByCandidate struct {
	EntityType      string
	EntityID        string
	UnitID          string
	EntityReference string
	UnitReference   string
	Amount          decimal.Decimal

	// Display context resolved upstream. Not part of the identity.
	PropertyName string
	UnitLabel    string
}

// PaidToCandidate is one reported "who is economically paid" attribution.
type PaidToCandidate struct {
	Type       string
	ExternalID string
	VendorID   string
	TenantID   string
	Reference  string
	Amount     decimal.Decimal
}

// StableID concatenates the identity fields in a fixed order, lower-cased
// and colon-joined. Ties on amount are broken by this string, so the same
// candidate set always yields the same winner regardless of input order.
func (c PaidByCandidate) StableID() string {
	return stableID(c.EntityType, c.EntityID, c.UnitID, c.EntityReference, c.UnitReference)
}

func (c PaidToCandidate) StableID() string {
	return stableID(c.Type, c.ExternalID, c.VendorID, c.TenantID, c.Reference)
}

func stableID(fields ...string) string {
	lowered := make([]string, len(fields))
	for i, f := range fields {
		lowered[i] = strings.ToLower(strings.TrimSpace(f))
	}
	return strings.Join(lowered, ":")
}

// DerivePaidBy picks the canonical payer and its display label. An empty
// candidate set yields (nil, nil); that is not an error.
func DerivePaidBy(candidates []PaidByCandidate) (*PaidByCandidate, *string) {
	if len(candidates) == 0 {
		return nil, nil
	}

	sorted := make([]PaidByCandidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		cmp := sorted[i].Amount.Cmp(sorted[j].Amount)
		if cmp != 0 {
			return cmp > 0
		}
		return sorted[i].StableID() < sorted[j].StableID()
	})

	winner := sorted[0]
	return &winner, paidByLabel(winner)
}

// DerivePaidTo picks the canonical payee. Same ordering rule as DerivePaidBy.
func DerivePaidTo(candidates []PaidToCandidate) *PaidToCandidate {
	if len(candidates) == 0 {
		return nil
	}

	sorted := make([]PaidToCandidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		cmp := sorted[i].Amount.Cmp(sorted[j].Amount)
		if cmp != 0 {
			return cmp > 0
		}
		return sorted[i].StableID() < sorted[j].StableID()
	})

	winner := sorted[0]
	return &winner
}

func paidByLabel(winner PaidByCandidate) *string {
	property := strings.TrimSpace(winner.PropertyName)
	if property == "" {
		return nil
	}
	label := property
	if unit := strings.TrimSpace(winner.UnitLabel); unit != "" {
		label = property + " | " + unit
	}
	return &label
}

// NormalizeAmount parses an upstream amount string into a decimal, treating
// blank or unparseable values as zero.
func NormalizeAmount(raw string) decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero
	}
	parsed, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return parsed
}
