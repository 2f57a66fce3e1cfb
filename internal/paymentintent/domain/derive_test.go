package domain

import (
	"testing"
	"time"

	"github.com/rentfold/rentfold/internal/gateway"
	"github.com/rentfold/rentfold/internal/paymentintent/failurecode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func TestDeriveStateFromGateway(t *testing.T) {
	codes := failurecode.NewDefaultCache()
	resultDate := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)
	created := time.Date(2026, 2, 9, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		snapshot gateway.Transaction
		want     State
	}{
		{
			name:     "recognized failure code wins over everything",
			snapshot: gateway.Transaction{ResultCode: "R01", IsInternal: boolPtr(true), IsPending: true},
			want:     StateFailed,
		},
		{
			name:     "unrecognized code is not a failure",
			snapshot: gateway.Transaction{ResultCode: "X99", IsInternal: boolPtr(true), IsPending: true},
			want:     StatePending,
		},
		{
			name:     "no internal signal yet stays submitted",
			snapshot: gateway.Transaction{CreatedAt: created},
			want:     StateSubmitted,
		},
		{
			name:     "internal and pending",
			snapshot: gateway.Transaction{IsInternal: boolPtr(true), IsPending: true},
			want:     StatePending,
		},
		{
			name:     "internal past pending window settles",
			snapshot: gateway.Transaction{IsInternal: boolPtr(true), ResultDate: &resultDate},
			want:     StateSettled,
		},
		{
			name:     "external clears immediately",
			snapshot: gateway.Transaction{IsInternal: boolPtr(false), IsPending: true, CreatedAt: created},
			want:     StateSettled,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			derived := DeriveStateFromGateway(&tc.snapshot, codes)
			assert.Equal(t, tc.want, derived.State)
		})
	}
}

func TestDeriveStateSettledAtPrefersResultDate(t *testing.T) {
	codes := failurecode.NewDefaultCache()
	resultDate := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)
	created := time.Date(2026, 2, 9, 8, 0, 0, 0, time.UTC)

	derived := DeriveStateFromGateway(&gateway.Transaction{
		IsInternal: boolPtr(false),
		ResultDate: &resultDate,
		CreatedAt:  created,
	}, codes)
	require.Equal(t, StateSettled, derived.State)
	require.NotNil(t, derived.SettledAt)
	assert.Equal(t, resultDate, *derived.SettledAt)

	derived = DeriveStateFromGateway(&gateway.Transaction{
		IsInternal: boolPtr(false),
		CreatedAt:  created,
	}, codes)
	require.Equal(t, StateSettled, derived.State)
	require.NotNil(t, derived.SettledAt)
	assert.Equal(t, created, *derived.SettledAt)
}

func TestDeriveStateFailureCodeCarried(t *testing.T) {
	codes := failurecode.NewDefaultCache()

	derived := DeriveStateFromGateway(&gateway.Transaction{ResultCode: " r02 "}, codes)
	require.Equal(t, StateFailed, derived.State)
	require.NotNil(t, derived.FailureCode)
	assert.Equal(t, "R02", *derived.FailureCode)
}

func TestDeriveStateDeterministic(t *testing.T) {
	codes := failurecode.NewDefaultCache()
	snapshot := gateway.Transaction{IsInternal: boolPtr(true), IsPending: true, ResultCode: "X01"}

	first := DeriveStateFromGateway(&snapshot, codes)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, DeriveStateFromGateway(&snapshot, codes))
	}
}

func TestRegresses(t *testing.T) {
	assert.True(t, Regresses(StateSettled, StatePending))
	assert.True(t, Regresses(StateFailed, StateSubmitted))
	assert.False(t, Regresses(StateSettled, StateSettled))
	assert.False(t, Regresses(StatePending, StateSettled))
	assert.False(t, Regresses(StateSubmitted, StatePending))
}

func TestStateTerminal(t *testing.T) {
	assert.True(t, StateSettled.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateCreated.Terminal())
	assert.False(t, StateSubmitted.Terminal())
	assert.False(t, StatePending.Terminal())
}
