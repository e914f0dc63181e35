package outbound

import (
	"errors"

	"github.com/jwalitptl/pos-sync/pkg/crm"
)

// PermanentError wraps a failure that will not change on retry.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as not retryable. nil stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err should fail the job without further
// attempts. CRM rejections other than 408/429 count.
func IsPermanent(err error) bool {
	var p *PermanentError
	if errors.As(err, &p) {
		return true
	}
	return crm.IsPermanent(err)
}
