package models

import (
	"strings"
)

// CreditType categorises credits. The set is closed.
type CreditType string

const (
	CreditTypePromotional  CreditType = "promotional"
	CreditTypeBonus        CreditType = "bonus"
	CreditTypeReferral     CreditType = "referral"
	CreditTypeSubscription CreditType = "subscription"
	CreditTypeCompensation CreditType = "compensation"
)

// AllCreditTypes lists every credit type in consumption-priority order.
var AllCreditTypes = []CreditType{
	CreditTypeCompensation,
	CreditTypePromotional,
	CreditTypeBonus,
	CreditTypeReferral,
	CreditTypeSubscription,
}

// ParseCreditType normalises and validates a credit type string.
func ParseCreditType(s string) (CreditType, error) {
	t := CreditType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", InvalidCreditType(s)
	}
	return t, nil
}

func (t CreditType) IsValid() bool {
	switch t {
	case CreditTypePromotional, CreditTypeBonus, CreditTypeReferral,
		CreditTypeSubscription, CreditTypeCompensation:
		return true
	}
	return false
}

// Priority is the consumption tie-break among allocations that expire at the
// same instant: lower values are consumed first.
func (t CreditType) Priority() int {
	switch t {
	case CreditTypeCompensation:
		return 1
	case CreditTypePromotional:
		return 2
	case CreditTypeBonus:
		return 3
	case CreditTypeReferral:
		return 4
	case CreditTypeSubscription:
		return 5
	}
	return 99
}

// Transferable reports whether credits of this type may move between users.
func (t CreditType) Transferable() bool {
	return t != CreditTypeCompensation
}

func (t CreditType) String() string { return string(t) }

// ExpirationPolicy decides how an allocation's expiry is computed.
type ExpirationPolicy string

const (
	PolicyFixedDays          ExpirationPolicy = "fixed_days"
	PolicyEndOfMonth         ExpirationPolicy = "end_of_month"
	PolicyEndOfYear          ExpirationPolicy = "end_of_year"
	PolicySubscriptionPeriod ExpirationPolicy = "subscription_period"
	PolicyNever              ExpirationPolicy = "never"
)

// ParseExpirationPolicy validates a policy string. Empty input is not valid here;
// callers substitute the credit type's default first.
func ParseExpirationPolicy(s string) (ExpirationPolicy, error) {
	p := ExpirationPolicy(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", InvalidPolicy(s)
	}
	return p, nil
}

func (p ExpirationPolicy) IsValid() bool {
	switch p {
	case PolicyFixedDays, PolicyEndOfMonth, PolicyEndOfYear, PolicySubscriptionPeriod, PolicyNever:
		return true
	}
	return false
}

// DefaultPolicy is the expiration policy used when an account is created for a
// credit type without an explicit policy.
type DefaultPolicy struct {
	Policy ExpirationPolicy
	Days   int
}

var defaultPolicies = map[CreditType]DefaultPolicy{
	CreditTypePromotional:  {Policy: PolicyFixedDays, Days: 30},
	CreditTypeBonus:        {Policy: PolicyFixedDays, Days: 90},
	CreditTypeReferral:     {Policy: PolicyFixedDays, Days: 180},
	CreditTypeSubscription: {Policy: PolicySubscriptionPeriod, Days: 30},
	CreditTypeCompensation: {Policy: PolicyFixedDays, Days: 365},
}

// DefaultPolicyFor returns the default policy for a credit type.
func DefaultPolicyFor(t CreditType) DefaultPolicy {
	if p, ok := defaultPolicies[t]; ok {
		return p
	}
	return DefaultPolicy{Policy: PolicyFixedDays, Days: 30}
}

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TransactionAllocate    TransactionType = "allocate"
	TransactionConsume     TransactionType = "consume"
	TransactionExpire      TransactionType = "expire"
	TransactionTransferOut TransactionType = "transfer_out"
	TransactionTransferIn  TransactionType = "transfer_in"
)

func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionAllocate, TransactionConsume, TransactionExpire,
		TransactionTransferOut, TransactionTransferIn:
		return true
	}
	return false
}

// IsCredit reports whether the transaction adds to a balance.
func (t TransactionType) IsCredit() bool {
	return t == TransactionAllocate || t == TransactionTransferIn
}

// ReferenceType names what a transaction's ReferenceID points at.
type ReferenceType string

const (
	ReferenceCampaign   ReferenceType = "campaign"
	ReferenceBilling    ReferenceType = "billing"
	ReferenceTransfer   ReferenceType = "transfer"
	ReferenceAllocation ReferenceType = "allocation"
)

// AllocationStatus tracks whether an allocation still has credits available.
type AllocationStatus string

const (
	AllocationActive   AllocationStatus = "active"
	AllocationConsumed AllocationStatus = "consumed"
	AllocationExpired  AllocationStatus = "expired"
)
