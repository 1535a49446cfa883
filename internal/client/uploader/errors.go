package uploader

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrClosedUnexpectedly is returned when an attempt's stream ends without resume,
// complete or error.
var ErrClosedUnexpectedly = errors.New("upload stream closed unexpectedly")

// TransportError is a failure to reach the server or to read its response.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upload transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// UploadError is a failure reported by the server: an error event, or a non-stream
// error response.
type UploadError struct {
	StatusCode int
	Message    string
	Details    any
}

func (e *UploadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upload failed (%d): %s", e.StatusCode, e.Message)
	}
	return "upload failed: " + e.Message
}
