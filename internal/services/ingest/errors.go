package ingest

import (
	"github.com/pkg/errors"
)

// ErrRecordTimeout is the cause recorded for a record that did not settle within the
// per-record timeout.
var ErrRecordTimeout = errors.New("record processing timed out")

// RecordError is the failure of a single record. InvoiceID is the id declared in the
// upload, not the id of any stored row.
type RecordError struct {
	InvoiceID string
	Err       error
}

func (e *RecordError) Error() string {
	return e.Err.Error()
}

func (e *RecordError) Unwrap() error {
	return e.Err
}
