package domain

import (
	"errors"
	"fmt"
)

// ErrRecordNotFound is returned when a record cannot be located.
var ErrRecordNotFound = errors.New("action record not found")

// ValidationError marks malformed input or stale invitation metadata. It is
// terminal: the core never retries it internally.
type ValidationError struct {
	ZoneID string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.ZoneID != "" {
		return fmt.Sprintf("validation failed for zone %s: %s", e.ZoneID, e.Reason)
	}
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// NetworkError marks a transient remote failure. It is surfaced once for
// user-initiated retry; the core never retries it automatically.
type NetworkError struct {
	ZoneID string
	Op     string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure during %s for zone %s: %v", e.Op, e.ZoneID, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// StoreError marks a record-store failure. It is scoped to a single zone and
// never corrupts the state of other zones.
type StoreError struct {
	ZoneID string
	Op     string
	Err    error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store failure during %s for zone %s: %v", e.Op, e.ZoneID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
