package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrAlreadyExists: entity with the same identity was already written
// - ErrVersionConflict: optimistic version check failed, the aggregate moved on
// - ErrAlreadyUsed: idempotency key or event already consumed
// - ErrUnavailable: collaborator or backing store temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrVersionConflict = errors.New("version conflict")
	ErrAlreadyUsed     = errors.New("already used")
	ErrUnavailable     = errors.New("unavailable")
)
