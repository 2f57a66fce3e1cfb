package domain

import "strings"

type Flag string

const (
	FlagBankAccount              Flag = "is_bank_account"
	FlagSecurityDepositLiability Flag = "is_security_deposit_liability"
)

// Suggested is a computed flag correction. It carries no side effects;
// persisting and applying it are separate steps.
type Suggested struct {
	Flag           Flag
	CurrentValue   bool
	SuggestedValue bool
	Reason         string
}

var bankKeywords = []string{"bank", "checking", "savings", "trust account", "operating cash"}

var nonBankKeywords = []string{"accounts payable", "accounts receivable", "deposit"}

var securityDepositKeywords = []string{"security deposit", "tenant deposit", "deposit held"}

// SuggestFlags compares an account's stored classification flags against
// naming/subtype heuristics and returns the corrections that would fix a
// clearly wrong classification. It suggests nothing for ambiguous names.
func SuggestFlags(a GLAccount) []Suggested {
	name := strings.ToLower(a.Name)
	subType := strings.ToLower(a.SubType)
	var out []Suggested

	looksLikeBank := a.AccountType == AccountTypeAsset &&
		matchesAny(name, bankKeywords) &&
		!matchesAny(name, nonBankKeywords)
	looksNonBank := matchesAny(name, nonBankKeywords) || a.AccountType != AccountTypeAsset

	if looksLikeBank && !a.IsBankAccount {
		out = append(out, Suggested{
			Flag:           FlagBankAccount,
			CurrentValue:   false,
			SuggestedValue: true,
			Reason:         "asset account named like a bank account",
		})
	}
	if a.IsBankAccount && looksNonBank {
		out = append(out, Suggested{
			Flag:           FlagBankAccount,
			CurrentValue:   true,
			SuggestedValue: false,
			Reason:         "flagged as bank but named or typed as a non-bank account",
		})
	}

	looksLikeSecDep := a.AccountType == AccountTypeLiability &&
		(matchesAny(name, securityDepositKeywords) || subType == "security_deposit")
	if looksLikeSecDep && !a.IsSecurityDepositLiability {
		out = append(out, Suggested{
			Flag:           FlagSecurityDepositLiability,
			CurrentValue:   false,
			SuggestedValue: true,
			Reason:         "liability account named like a security deposit account",
		})
	}
	if a.IsSecurityDepositLiability && a.AccountType != AccountTypeLiability {
		out = append(out, Suggested{
			Flag:           FlagSecurityDepositLiability,
			CurrentValue:   true,
			SuggestedValue: false,
			Reason:         "security deposit flag on a non-liability account",
		})
	}

	return out
}

func matchesAny(value string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(value, kw) {
			return true
		}
	}
	return false
}
