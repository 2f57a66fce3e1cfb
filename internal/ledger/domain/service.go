package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rentfold/rentfold/internal/party"
)

// LineInput is one posting leg as supplied by the caller. Context fields
// left nil are resolved from the linked lease or unit before persisting.
type LineInput struct {
	GLAccountID snowflake.ID
	Amount      int64
	PostingType PostingType
	PropertyID  *snowflake.ID
	UnitID      *snowflake.ID
	LeaseID     *snowflake.ID
}

type PostInput struct {
	OrgID                  snowflake.ID
	Type                   TransactionType
	Date                   time.Time
	Memo                   string
	ExternalReferenceID    string
	ReferenceTransactionID *snowflake.ID
	Lines                  []LineInput

	// Candidate attributions reported by the sync partner; the canonical
	// winner is resolved once here, on the write path.
	PaidByCandidates []party.PaidByCandidate
	PaidToCandidates []party.PaidToCandidate
}

type Service interface {
	// PostTransaction persists the transaction and all its lines
	// atomically, or nothing at all.
	PostTransaction(ctx context.Context, input PostInput) (snowflake.ID, error)
}
