// Package domain holds identifier primitives shared by every bounded context.
//
// Each ID is a distinct named uuid.UUID so the compiler rejects passing an
// AccountID where a UserID is expected. IDs are parsed at trust boundaries
// (HTTP handlers, CLI arguments) with the Parse* functions, which reject empty,
// malformed and nil UUIDs.
package domain

import (
	"github.com/google/uuid"

	dErrors "credits/pkg/domain-errors"
)

type (
	UserID        uuid.UUID
	AccountID     uuid.UUID
	TransactionID uuid.UUID
	AllocationID  uuid.UUID
	CampaignID    uuid.UUID
	TransferID    uuid.UUID
)

func parseUUID(s, kind string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" must not be nil")
	}
	return u, nil
}

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user_id")
	return UserID(u), err
}

func ParseAccountID(s string) (AccountID, error) {
	u, err := parseUUID(s, "account_id")
	return AccountID(u), err
}

func ParseTransactionID(s string) (TransactionID, error) {
	u, err := parseUUID(s, "transaction_id")
	return TransactionID(u), err
}

func ParseAllocationID(s string) (AllocationID, error) {
	u, err := parseUUID(s, "allocation_id")
	return AllocationID(u), err
}

func ParseCampaignID(s string) (CampaignID, error) {
	u, err := parseUUID(s, "campaign_id")
	return CampaignID(u), err
}

func ParseTransferID(s string) (TransferID, error) {
	u, err := parseUUID(s, "transfer_id")
	return TransferID(u), err
}

func NewAccountID() AccountID         { return AccountID(uuid.New()) }
func NewTransactionID() TransactionID { return TransactionID(uuid.New()) }
func NewAllocationID() AllocationID   { return AllocationID(uuid.New()) }
func NewCampaignID() CampaignID       { return CampaignID(uuid.New()) }
func NewTransferID() TransferID       { return TransferID(uuid.New()) }

func (id UserID) String() string        { return uuid.UUID(id).String() }
func (id AccountID) String() string     { return uuid.UUID(id).String() }
func (id TransactionID) String() string { return uuid.UUID(id).String() }
func (id AllocationID) String() string  { return uuid.UUID(id).String() }
func (id CampaignID) String() string    { return uuid.UUID(id).String() }
func (id TransferID) String() string    { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id AccountID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id TransactionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id AllocationID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id CampaignID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id TransferID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// MarshalText lets typed IDs render as plain UUID strings in JSON and logs.
func (id UserID) MarshalText() ([]byte, error)        { return uuid.UUID(id).MarshalText() }
func (id AccountID) MarshalText() ([]byte, error)     { return uuid.UUID(id).MarshalText() }
func (id TransactionID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id AllocationID) MarshalText() ([]byte, error)  { return uuid.UUID(id).MarshalText() }
func (id CampaignID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }
func (id TransferID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }

func (id *UserID) UnmarshalText(b []byte) error {
	u, err := parseUUID(string(b), "user_id")
	*id = UserID(u)
	return err
}

func (id *CampaignID) UnmarshalText(b []byte) error {
	u, err := parseUUID(string(b), "campaign_id")
	*id = CampaignID(u)
	return err
}

func (id *AccountID) UnmarshalText(b []byte) error {
	u, err := parseUUID(string(b), "account_id")
	*id = AccountID(u)
	return err
}

func (id *TransactionID) UnmarshalText(b []byte) error {
	u, err := parseUUID(string(b), "transaction_id")
	*id = TransactionID(u)
	return err
}

func (id *AllocationID) UnmarshalText(b []byte) error {
	u, err := parseUUID(string(b), "allocation_id")
	*id = AllocationID(u)
	return err
}

func (id *TransferID) UnmarshalText(b []byte) error {
	u, err := parseUUID(string(b), "transfer_id")
	*id = TransferID(u)
	return err
}
