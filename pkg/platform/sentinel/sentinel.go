package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Backends and audit sinks return
// these (optionally wrapped) so the version manager can translate them into
// domain errors.
//
// These represent factual states about stored resources, not validation
// failures:
// - ErrNotFound: business key unknown or tombstoned
// - ErrConflict: optimistic version check failed at the storage boundary
// - ErrImmutable: attempt to overwrite an archived version or audit record
// - ErrUnavailable: backend temporarily unreachable; eligible for bounded retry
// - ErrCorrupted: stored snapshot does not match its recorded checksum; fatal
// - ErrTimeout: lock acquisition or backend call exceeded its deadline
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrImmutable   = errors.New("immutable")
	ErrUnavailable = errors.New("unavailable")
	ErrCorrupted   = errors.New("corrupted")
	ErrTimeout     = errors.New("timeout")
)
