package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and adapters return these
// (optionally wrapped) and the credit service translates them into ledger errors.
//
//   - ErrNotFound: row does not exist
//   - ErrConflict: a unique key (user + credit type, idempotency key) already exists
//   - ErrInvalidState: row exists but cannot take the requested mutation
//   - ErrUnavailable: backing system (broker, user directory) is unreachable
//
// For validation failures use pkg/domain-errors or the ledger error kinds.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
