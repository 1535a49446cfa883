// Package sse frames upload progress as server-sent events and reads them back.
package sse

const (
	EventProgress = "progress"
	EventResume   = "resume"
	EventComplete = "complete"
	EventError    = "error"
)

// Error messages carried by the error event. They double as translation keys on the UI.
const (
	MessageFailedToProcessInvoices = "failedToProcessInvoices"
	MessageFailedToProcessUpload   = "failedToProcessUpload"
	// MessageResumeInProgress marks an error that races a resume handoff; clients ignore it.
	MessageResumeInProgress = "resumeInProgress"
)

// Event is one of Progress, Checkpoint, Complete or Failure.
type Event interface {
	EventName() string
	Terminal() bool
}

type RecordError struct {
	InvoiceID string `json:"invoiceId"`
	Error     string `json:"error"`
}

type Progress struct {
	Processed        int    `json:"processed"`
	Total            int    `json:"total"`
	CurrentInvoiceID string `json:"currentInvoiceId"`
}

// Checkpoint is the payload of the resume event.
type Checkpoint struct {
	Processed      int           `json:"processed"`
	Total          int           `json:"total"`
	NextStartIndex int           `json:"nextStartIndex"`
	Succeeded      int           `json:"succeeded"`
	Errors         []RecordError `json:"errors"`
}

// Complete.Processed is the number of records that succeeded in the attempt.
type Complete struct {
	Success   bool          `json:"success"`
	Processed int           `json:"processed"`
	Total     int           `json:"total"`
	Errors    []RecordError `json:"errors,omitempty"`
}

type Failure struct {
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (Progress) EventName() string   { return EventProgress }
func (Checkpoint) EventName() string { return EventResume }
func (Complete) EventName() string   { return EventComplete }
func (Failure) EventName() string    { return EventError }

func (Progress) Terminal() bool   { return false }
func (Checkpoint) Terminal() bool { return true }
func (Complete) Terminal() bool   { return true }
func (Failure) Terminal() bool    { return true }
