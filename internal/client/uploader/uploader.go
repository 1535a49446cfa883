// Package uploader drives a resumable upload: it follows resume checkpoints with new
// attempts until the server reports complete or error.
package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/InvoiceBox/internal/models"
	"github.com/BearBump/InvoiceBox/internal/sse"
	"github.com/pkg/errors"
)

const (
	DefaultBackoff = 500 * time.Millisecond
	uploadPath     = "/api/invoices/upload"
)

type ProgressReporter interface {
	ReportProgress(percent int, ev sse.Progress)
}

// Result aggregates every attempt of one logical upload.
type Result struct {
	Succeeded int
	Total     int
	Errors    []sse.RecordError
	Attempts  int
}

type Uploader struct {
	baseURL  string
	client   *http.Client
	backoff  time.Duration
	reporter ProgressReporter
}

// New creates an Uploader for the server at baseURL. A nil client uses one without a
// timeout: an attempt lasts as long as the server keeps the stream open.
func New(baseURL string, client *http.Client) *Uploader {
	if client == nil {
		client = &http.Client{}
	}
	return &Uploader{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		backoff: DefaultBackoff,
	}
}

// WithBackoff sets the pause before each reconnect; values <= 0 keep the default.
func (u *Uploader) WithBackoff(d time.Duration) *Uploader {
	if d > 0 {
		u.backoff = d
	}
	return u
}

func (u *Uploader) WithReporter(r ProgressReporter) *Uploader {
	u.reporter = r
	return u
}

// Upload sends records and follows resume checkpoints, starting at startIndex.
// Attempts run one after another. The partial Result is returned along with any error.
func (u *Uploader) Upload(ctx context.Context, records []models.InvoiceRecord, startIndex int) (*Result, error) {
	body, err := encodeRecords(records)
	if err != nil {
		return nil, err
	}

	res := &Result{Total: len(records)}
	for {
		res.Attempts++
		ev, err := u.attempt(ctx, body, startIndex, res.Succeeded)
		if err != nil {
			return res, err
		}

		switch term := ev.(type) {
		case sse.Complete:
			res.Succeeded += term.Processed
			res.Total = term.Total
			res.Errors = append(res.Errors, term.Errors...)
			return res, nil
		case sse.Checkpoint:
			res.Succeeded += term.Succeeded
			res.Total = term.Total
			res.Errors = append(res.Errors, term.Errors...)
			if term.NextStartIndex <= startIndex {
				return res, &UploadError{Message: "resume checkpoint did not advance", Details: term}
			}
			startIndex = term.NextStartIndex

			slog.Info("upload resuming", "next_start_index", startIndex, "total", term.Total, "attempt", res.Attempts)
			t := time.NewTimer(u.backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return res, &TransportError{Op: "backoff", Err: ctx.Err()}
			case <-t.C:
			}
		}
	}
}

// attempt runs one connection and returns its terminal resume or complete event.
func (u *Uploader) attempt(ctx context.Context, body []byte, startIndex, priorSucceeded int) (sse.Event, error) {
	q := url.Values{}
	q.Set("startIndex", strconv.Itoa(startIndex))
	q.Set("priorSucceeded", strconv.Itoa(priorSucceeded))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+uploadPath+"?"+q.Encode(), bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build upload request")
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "post", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeErrorResponse(resp)
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != "text/event-stream" {
		return nil, &UploadError{StatusCode: resp.StatusCode, Message: "server did not open an event stream"}
	}

	rd := sse.NewReader(resp.Body)
	for {
		ev, err := rd.Next()
		if errors.Is(err, io.EOF) {
			if ctx.Err() != nil {
				return nil, &TransportError{Op: "read", Err: ctx.Err()}
			}
			return nil, ErrClosedUnexpectedly
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, &TransportError{Op: "read", Err: ctx.Err()}
			}
			return nil, &TransportError{Op: "read", Err: err}
		}

		switch e := ev.(type) {
		case sse.Progress:
			u.report(e)
		case sse.Failure:
			if e.Message == sse.MessageResumeInProgress {
				continue
			}
			return nil, &UploadError{Message: e.Message, Details: e.Details}
		case sse.Checkpoint, sse.Complete:
			return ev, nil
		}
	}
}

func (u *Uploader) report(p sse.Progress) {
	if u.reporter == nil || p.Total <= 0 {
		return
	}
	percent := int(math.Round(float64(p.Processed) / float64(p.Total) * 100))
	u.reporter.ReportProgress(percent, p)
}

func decodeErrorResponse(resp *http.Response) error {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Details any    `json:"details"`
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &TransportError{Op: "read", Err: err}
	}
	if json.Unmarshal(raw, &body) != nil || body.Error == "" {
		return &UploadError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	details := body.Details
	if details == nil && body.Message != "" {
		details = body.Message
	}
	return &UploadError{StatusCode: resp.StatusCode, Message: body.Error, Details: details}
}

type wireCompany struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type wireShipment struct {
	ID                 string      `json:"id"`
	CreatedAt          string      `json:"createdAt"`
	TrackingNumber     string      `json:"trackingNumber"`
	Company            wireCompany `json:"company"`
	Provider           string      `json:"provider"`
	Mode               string      `json:"mode"`
	OriginCountry      string      `json:"originCountry"`
	DestinationCountry string      `json:"destinationCountry"`
}

// wireRecord keeps the price an exact JSON number; the server rejects quoted prices.
type wireRecord struct {
	ID             string       `json:"id"`
	Shipment       wireShipment `json:"shipment"`
	InvoicedWeight float64      `json:"invoicedWeight"`
	InvoicedPrice  json.Number  `json:"invoicedPrice"`
}

func encodeRecords(records []models.InvoiceRecord) ([]byte, error) {
	out := make([]wireRecord, 0, len(records))
	for _, r := range records {
		out = append(out, wireRecord{
			ID: r.ID,
			Shipment: wireShipment{
				ID:                 r.Shipment.ID,
				CreatedAt:          r.Shipment.CreatedAt.UTC().Format(time.RFC3339Nano),
				TrackingNumber:     r.Shipment.TrackingNumber,
				Company:            wireCompany{ID: r.Shipment.Company.ID, Name: r.Shipment.Company.Name},
				Provider:           r.Shipment.Provider,
				Mode:               r.Shipment.Mode,
				OriginCountry:      r.Shipment.OriginCountry,
				DestinationCountry: r.Shipment.DestinationCountry,
			},
			InvoicedWeight: r.InvoicedWeight,
			InvoicedPrice:  json.Number(r.InvoicedPrice.String()),
		})
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, errors.Wrap(err, "encode records")
	}
	return b, nil
}
