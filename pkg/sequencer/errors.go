package sequencer

import (
	"errors"
	"fmt"
)

// Queue errors.
var (
	ErrNotReady         = errors.New("link not ready")
	ErrUnknownAttribute = errors.New("attribute not in service catalog")
	ErrUnsupported      = errors.New("operation not permitted by characteristic properties")
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrDesynchronized   = errors.New("link lost while queue busy")
	ErrReset            = errors.New("queue reset")
)

// RejectError is returned by Enqueue when a Transaction is not accepted.
type RejectError struct {
	Kind      Kind
	Attribute string
	Err       error
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("%s %s rejected: %v", e.Kind, e.Attribute, e.Err)
}

func (e *RejectError) Unwrap() error {
	return e.Err
}
