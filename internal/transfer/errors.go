package transfer

import (
	"errors"
	"fmt"
)

type Outcome string

const (
	Completed            Outcome = "completed"
	StoreReadExhausted   Outcome = "store_read_exhausted"
	StoreWriteExhausted  Outcome = "store_write_exhausted"
	StreamReadExhausted  Outcome = "stream_read_exhausted"
	StreamWriteExhausted Outcome = "stream_write_exhausted"
)

var (
	ErrStoreReadExhausted   = errors.New("transfer: store read retries exhausted")
	ErrStoreWriteExhausted  = errors.New("transfer: store write retries exhausted")
	ErrStreamReadExhausted  = errors.New("transfer: stream read retries exhausted")
	ErrStreamWriteExhausted = errors.New("transfer: stream write retries exhausted")
	ErrSessionUsed          = errors.New("transfer: session already used")
	ErrBufferTooSmall       = errors.New("transfer: buffer smaller than chunk size")
)

// Err returns the sentinel error for a failing outcome, nil for Completed.
func (o Outcome) Err() error {
	switch o {
	case StoreReadExhausted:
		return ErrStoreReadExhausted
	case StoreWriteExhausted:
		return ErrStoreWriteExhausted
	case StreamReadExhausted:
		return ErrStreamReadExhausted
	case StreamWriteExhausted:
		return ErrStreamWriteExhausted
	}
	return nil
}

// Side names the collaborator that gave up: "file system" or "network".
func (o Outcome) Side() string {
	switch o {
	case StoreReadExhausted, StoreWriteExhausted:
		return "file system"
	case StreamReadExhausted, StreamWriteExhausted:
		return "network"
	}
	return ""
}

// Error reports an aborted transfer. Cause is the last error seen on the
// side that exhausted its budget and may be nil.
type Error struct {
	Outcome Outcome
	Bytes   int64
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%v after %d bytes", e.Outcome.Err(), e.Bytes)
	}
	return fmt.Sprintf("%v after %d bytes: %v", e.Outcome.Err(), e.Bytes, e.Cause)
}

func (e *Error) Unwrap() []error {
	errs := []error{e.Outcome.Err()}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// OutcomeOf extracts the outcome carried by err. A nil error is Completed.
func OutcomeOf(err error) (Outcome, bool) {
	if err == nil {
		return Completed, true
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Outcome, true
	}
	return "", false
}
