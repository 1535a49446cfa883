package invoices_api

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/InvoiceBox/internal/models"
	"github.com/BearBump/InvoiceBox/internal/services/ingest"
	"github.com/BearBump/InvoiceBox/internal/sse"
	"github.com/BearBump/InvoiceBox/internal/validate"
	"github.com/pkg/errors"
)

const messageTooManyUploads = "tooManyUploads"

type resumeParams struct {
	startIndex     int
	priorSucceeded int
}

// upload handles POST /api/invoices/upload. The body is always validated in full before
// anything is written; the response is an event stream when the client asks for one.
func (a *API) upload(w http.ResponseWriter, r *http.Request) {
	stream := wantsStream(r)

	if a.limiter != nil {
		ok, _, err := a.limiter.Allow(r.Context(), clientKey(r))
		if err != nil {
			// лимитер недоступен: пропускаем, загрузка важнее
			slog.Warn("upload rate limiter failed", "error", err.Error())
		} else if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(a.limiter.Window().Seconds())))
			writeError(w, http.StatusTooManyRequests, errorResponse{Error: messageTooManyUploads})
			return
		}
	}

	params, err := parseResumeParams(r)
	if err != nil {
		a.reject(w, stream, http.StatusBadRequest, sse.Failure{Message: sse.MessageFailedToProcessUpload, Details: err.Error()})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.maxBodyBytes))
	if err != nil {
		a.reject(w, stream, http.StatusBadRequest, sse.Failure{Message: sse.MessageFailedToProcessUpload, Details: errors.Wrap(err, "read body").Error()})
		return
	}

	records, err := a.validator.Records(body)
	if err != nil {
		var verr *validate.Error
		if errors.As(err, &verr) {
			slog.Info("upload rejected by validation", "problems", len(verr.Problems()))
			a.reject(w, stream, http.StatusBadRequest, sse.Failure{
				Message: validate.Message,
				Details: verr.Reported(validate.MaxReportedProblems),
			})
			return
		}
		a.reject(w, stream, http.StatusBadRequest, sse.Failure{Message: sse.MessageFailedToProcessUpload, Details: err.Error()})
		return
	}

	if params.startIndex > len(records) {
		a.reject(w, stream, http.StatusBadRequest, sse.Failure{
			Message: sse.MessageFailedToProcessUpload,
			Details: fmt.Sprintf("startIndex %d is beyond the %d uploaded records", params.startIndex, len(records)),
		})
		return
	}

	if stream {
		a.streamUpload(w, r, records, params)
		return
	}
	a.bufferedUpload(w, r, records, params)
}

// reject answers before any record was processed: an error event on a stream, or a
// JSON error otherwise.
func (a *API) reject(w http.ResponseWriter, stream bool, status int, f sse.Failure) {
	ingest.RecordAttempt(ingest.TerminalError)
	if !stream {
		writeError(w, status, errorResponse{Error: f.Message, Details: f.Details})
		return
	}
	sse.SetHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := sse.NewEmitter(w).Fail(f); err != nil {
		slog.Warn("write error event", "error", err.Error())
	}
}

func (a *API) streamUpload(w http.ResponseWriter, r *http.Request, records []models.InvoiceRecord, params resumeParams) {
	sse.SetHeaders(w)
	w.WriteHeader(http.StatusOK)

	em := sse.NewEmitter(w)
	em.StartKeepAlive(a.keepAlive)
	defer em.Close()

	terminal := ingest.TerminalError
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("upload stream failed", "error", fmt.Sprint(rec))
			_ = em.Fail(sse.Failure{Message: sse.MessageFailedToProcessUpload, Details: fmt.Sprint(rec)})
			terminal = ingest.TerminalError
		}
		ingest.RecordAttempt(terminal)
	}()

	lc := ingest.NewLifecycle(a.clock, a.budget).WithHalt(a.shutdown)
	res, err := a.sched.Run(r.Context(), records, params.startIndex, lc, &streamObserver{em: em, keepAlive: a.keepAlive})
	if err != nil {
		_ = em.Fail(sse.Failure{Message: sse.MessageFailedToProcessUpload, Details: err.Error()})
		return
	}

	logAttempt(res, params)

	switch {
	case res.Aborted:
		// клиент ушёл, писать терминальное событие некому
		terminal = ingest.TerminalAborted
	case res.Halted:
		terminal = ingest.TerminalResume
		err = em.Resume(sse.Checkpoint{
			Processed:      res.AbsoluteProcessed(),
			Total:          res.Total,
			NextStartIndex: res.NextStartIndex,
			Succeeded:      res.Succeeded,
			Errors:         wireErrors(res.Errors),
		})
	case res.AllFailed(params.priorSucceeded):
		err = em.Fail(sse.Failure{Message: sse.MessageFailedToProcessInvoices, Details: wireErrors(res.Errors)})
	default:
		terminal = ingest.TerminalComplete
		err = em.Complete(sse.Complete{
			Processed: res.Succeeded,
			Total:     res.Total,
			Errors:    wireErrors(res.Errors),
		})
	}
	if err != nil {
		slog.Warn("write terminal event", "terminal", terminal, "error", err.Error())
	}
}

func (a *API) bufferedUpload(w http.ResponseWriter, r *http.Request, records []models.InvoiceRecord, params resumeParams) {
	// без стрима прокси всё равно оборвёт запрос, бюджет соединения не нужен
	lc := ingest.NewLifecycle(a.clock, 0)
	res, err := a.sched.Run(r.Context(), records, params.startIndex, lc, nil)
	if err != nil {
		ingest.RecordAttempt(ingest.TerminalError)
		writeError(w, http.StatusInternalServerError, errorResponse{Error: sse.MessageFailedToProcessUpload, Message: err.Error()})
		return
	}

	logAttempt(res, params)

	if res.AllFailed(params.priorSucceeded) {
		ingest.RecordAttempt(ingest.TerminalError)
		writeError(w, http.StatusInternalServerError, errorResponse{Error: sse.MessageFailedToProcessInvoices, Details: wireErrors(res.Errors)})
		return
	}
	if res.Aborted {
		ingest.RecordAttempt(ingest.TerminalAborted)
		return
	}

	ingest.RecordAttempt(ingest.TerminalComplete)
	writeJSON(w, http.StatusOK, uploadResponse{
		Success:   true,
		Processed: res.Succeeded,
		Total:     res.Total,
		Errors:    wireErrors(res.Errors),
	})
}

type streamObserver struct {
	em        *sse.Emitter
	keepAlive time.Duration
}

func (o *streamObserver) Progress(processed, total int, invoiceID string) {
	_ = o.em.Progress(sse.Progress{Processed: processed, Total: total, CurrentInvoiceID: invoiceID})
}

// SliceDone pings the client after a slice that ran longer than the keep-alive interval.
func (o *streamObserver) SliceDone(elapsed time.Duration) {
	if elapsed >= o.keepAlive {
		_ = o.em.KeepAlive()
	}
}

func logAttempt(res *ingest.Result, params resumeParams) {
	slog.Info("upload attempt finished",
		"start_index", res.StartIndex,
		"next_start_index", res.NextStartIndex,
		"total", res.Total,
		"processed", res.Processed,
		"succeeded", res.Succeeded,
		"failed", len(res.Errors),
		"prior_succeeded", params.priorSucceeded,
		"halted", res.Halted,
		"aborted", res.Aborted,
	)
}

func wantsStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream") || r.URL.Query().Get("sse") == "true"
}

func parseResumeParams(r *http.Request) (resumeParams, error) {
	var p resumeParams
	q := r.URL.Query()
	if v := q.Get("startIndex"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, errors.Errorf("invalid startIndex %q", v)
		}
		p.startIndex = n
	}
	if v := q.Get("priorSucceeded"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, errors.Errorf("invalid priorSucceeded %q", v)
		}
		p.priorSucceeded = n
	}
	return p, nil
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
