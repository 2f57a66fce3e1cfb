package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// PostingType marks which side of the entry a line sits on.
type PostingType string

const (
	PostingTypeDebit  PostingType = "debit"
	PostingTypeCredit PostingType = "credit"
)

type TransactionType string

const (
	TypeBill         TransactionType = "bill"
	TypeCharge       TransactionType = "charge"
	TypePayment      TransactionType = "payment"
	TypeBillPayment  TransactionType = "bill_payment"
	TypeOwnerDraw    TransactionType = "owner_draw"
	TypeRefund       TransactionType = "refund"
	TypeJournalEntry TransactionType = "journal_entry"
	TypeCheck        TransactionType = "check"
)

// Transaction is one economic event. TotalAmount is in integer minor units
// and equals the sum of absolute line amounts on one side of the entry.
type Transaction struct {
	ID                     snowflake.ID    `gorm:"primaryKey"`
	OrgID                  snowflake.ID    `gorm:"not null;index"`
	Type                   TransactionType `gorm:"column:txn_type;type:text;not null"`
	Date                   time.Time       `gorm:"column:txn_date;not null"`
	TotalAmount            int64           `gorm:"not null"`
	Memo                   *string         `gorm:"type:text"`
	ExternalReferenceID    *string         `gorm:"type:text"`
	ReferenceTransactionID *snowflake.ID   `gorm:"index"`
	PaidBy                 *string         `gorm:"type:text"`
	PaidByLabel            *string         `gorm:"type:text"`
	PaidTo                 *string         `gorm:"type:text"`
	CreatedAt              time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt              time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Transaction) TableName() string { return "transactions" }

// TransactionLine is one posting leg. Amounts are non-negative; the side is
// carried by PostingType.
type TransactionLine struct {
	ID            snowflake.ID  `gorm:"primaryKey"`
	TransactionID snowflake.ID  `gorm:"not null;index"`
	GLAccountID   snowflake.ID  `gorm:"not null;index"`
	Amount        int64         `gorm:"not null"`
	PostingType   PostingType   `gorm:"type:text;not null"`
	PropertyID    *snowflake.ID `gorm:"index"`
	UnitID        *snowflake.ID
	LeaseID       *snowflake.ID
	CreatedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (TransactionLine) TableName() string { return "transaction_lines" }

// Lease and Unit are external-collaborator rows read only for line context
// fallback resolution.
type Lease struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	OrgID      snowflake.ID `gorm:"not null"`
	PropertyID snowflake.ID `gorm:"not null"`
	UnitID     *snowflake.ID
	CreatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Lease) TableName() string { return "leases" }

type Unit struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	OrgID      snowflake.ID `gorm:"not null"`
	PropertyID snowflake.ID `gorm:"not null"`
	Label      string       `gorm:"type:text;not null"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Unit) TableName() string { return "units" }
