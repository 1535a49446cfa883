package invoices_api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/BearBump/InvoiceBox/internal/services/ingest"
	"github.com/BearBump/InvoiceBox/internal/sse"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

type dataResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type shipmentsResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	HasMore bool `json:"hasMore"`
}

type uploadResponse struct {
	Success   bool              `json:"success"`
	Processed int               `json:"processed"`
	Total     int               `json:"total"`
	Errors    []sse.RecordError `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, resp errorResponse) {
	writeJSON(w, status, resp)
}

func wireErrors(errs []*ingest.RecordError) []sse.RecordError {
	if len(errs) == 0 {
		return nil
	}
	out := make([]sse.RecordError, 0, len(errs))
	for _, e := range errs {
		out = append(out, sse.RecordError{InvoiceID: e.InvoiceID, Error: e.Error()})
	}
	return out
}
