package domain

import "errors"

var (
	ErrInvalidOrganization    = errors.New("invalid_organization")
	ErrInvalidTransactionType = errors.New("invalid_transaction_type")
	ErrInvalidDate            = errors.New("invalid_transaction_date")
	ErrEmptyEntry             = errors.New("empty_entry")
	ErrUnbalancedEntry        = errors.New("unbalanced_entry")
	ErrUnmappedAccount        = errors.New("unmapped_gl_account")
	ErrInvalidLineAmount      = errors.New("invalid_line_amount")
	ErrInvalidPostingType     = errors.New("invalid_posting_type")
	ErrInvalidAccount         = errors.New("invalid_gl_account")
)
