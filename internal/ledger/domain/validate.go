package domain

import (
	"fmt"
	"strings"
)

// NormalizePostingType folds case and whitespace into the two canonical
// posting sides.
func NormalizePostingType(pt PostingType) (PostingType, error) {
	normalized := strings.ToLower(strings.TrimSpace(string(pt)))
	switch normalized {
	case string(PostingTypeDebit):
		return PostingTypeDebit, nil
	case string(PostingTypeCredit):
		return PostingTypeCredit, nil
	default:
		return "", ErrInvalidPostingType
	}
}

// NormalizeTransactionType validates the transaction type.
func NormalizeTransactionType(tt TransactionType) (TransactionType, error) {
	normalized := strings.ToLower(strings.TrimSpace(string(tt)))
	switch TransactionType(normalized) {
	case TypeBill, TypeCharge, TypePayment, TypeBillPayment,
		TypeOwnerDraw, TypeRefund, TypeJournalEntry, TypeCheck:
		return TransactionType(normalized), nil
	default:
		return "", ErrInvalidTransactionType
	}
}

// ValidateBalanced enforces the double-entry invariant: total debits equal
// total credits, exactly, in integer minor units.
func ValidateBalanced(lines []TransactionLine) error {
	if len(lines) == 0 {
		return ErrEmptyEntry
	}
	var debits, credits int64
	for _, line := range lines {
		if line.Amount < 0 {
			return ErrInvalidLineAmount
		}
		switch line.PostingType {
		case PostingTypeDebit:
			debits += line.Amount
		case PostingTypeCredit:
			credits += line.Amount
		default:
			return ErrInvalidPostingType
		}
	}
	if debits != credits {
		return fmt.Errorf("%w: debits %d != credits %d", ErrUnbalancedEntry, debits, credits)
	}
	return nil
}

// DebitTotal sums the debit side of an entry.
func DebitTotal(lines []TransactionLine) int64 {
	var total int64
	for _, line := range lines {
		if line.PostingType == PostingTypeDebit {
			total += line.Amount
		}
	}
	return total
}
