package taskstream

import "errors"

// ErrStatusNotFound is returned by Status when no record exists for the id,
// either because it was never published or because the record expired.
var ErrStatusNotFound = errors.New("taskstream: status not found")

// ErrUnknownStatus is returned when a status name is not one of the four lifecycle states.
var ErrUnknownStatus = errors.New("taskstream: unknown status")

// ErrNoHandler is returned when a delivery arrives on a stream without a registered handler.
var ErrNoHandler = errors.New("taskstream: no handler for stream")

// ErrStatusWrite wraps a failed status store write when strict status tracking is enabled.
var ErrStatusWrite = errors.New("taskstream: status write failed")

// ErrInvalidEnvelope is returned when a stream entry does not hold a readable envelope.
var ErrInvalidEnvelope = errors.New("taskstream: invalid envelope")
