package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Cache stores and the task registry
// return these (optionally wrapped) so services can translate them into domain
// errors or degrade.
//
//   - ErrNotFound: key or task does not exist, or has expired
//   - ErrUnavailable: backing store temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("unavailable")
)
