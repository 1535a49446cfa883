package ingest

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/InvoiceBox/internal/models"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBatchSize     = 10
	DefaultRecordTimeout = 30 * time.Second
	DefaultSliceDelay    = 100 * time.Millisecond
)

type RecordProcessor interface {
	Process(ctx context.Context, rec models.InvoiceRecord) error
}

// Observer receives scheduler signals. Calls come from the goroutine running Run.
type Observer interface {
	// Progress is called once per settled record, after its slice settled.
	// processed is absolute: startIndex plus records settled in this attempt.
	Progress(processed, total int, invoiceID string)
	// SliceDone is called after each slice with the time it took to settle.
	SliceDone(elapsed time.Duration)
}

// BatchProgress is the accounting of one attempt.
type BatchProgress struct {
	Processed int
	Succeeded int
	Errors    []*RecordError
}

type Result struct {
	BatchProgress

	StartIndex int
	Total      int
	// NextStartIndex is the first record not dispatched in this attempt.
	NextStartIndex int
	Halted         bool
	// Aborted means the request context ended before the last slice was dispatched.
	Aborted bool
}

// AbsoluteProcessed is the processed offset in the whole upload.
func (r *Result) AbsoluteProcessed() int {
	return r.StartIndex + r.Processed
}

// AllFailed reports total failure across the logical upload: at least one record was
// attempted here and nothing succeeded here or in earlier attempts.
func (r *Result) AllFailed(priorSucceeded int) bool {
	return r.Processed > 0 && r.Succeeded == 0 && priorSucceeded == 0
}

type Scheduler struct {
	proc RecordProcessor

	batchSize     int
	recordTimeout time.Duration
	sliceDelay    time.Duration

	// тестовый хук: вызывается перед отправкой каждой записи среза в работу
	dispatchHook func(rec models.InvoiceRecord)

	startedAtUnixNano int64
	attempts          atomic.Int64
	inFlight          atomic.Int64
	totalProcessed    atomic.Int64
	totalErrors       atomic.Int64
	lastErrorMu       sync.Mutex
	lastError         string
}

func NewScheduler(proc RecordProcessor) *Scheduler {
	return &Scheduler{
		proc:              proc,
		batchSize:         DefaultBatchSize,
		recordTimeout:     DefaultRecordTimeout,
		sliceDelay:        DefaultSliceDelay,
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

// WithSettings overrides the defaults; values <= 0 keep them. A negative sliceDelay
// disables the pause between slices.
func (s *Scheduler) WithSettings(batchSize int, recordTimeout, sliceDelay time.Duration) *Scheduler {
	if batchSize > 0 {
		s.batchSize = batchSize
	}
	if recordTimeout > 0 {
		s.recordTimeout = recordTimeout
	}
	if sliceDelay > 0 {
		s.sliceDelay = sliceDelay
	}
	if sliceDelay < 0 {
		s.sliceDelay = 0
	}
	return s
}

func (s *Scheduler) BatchSize() int {
	return s.batchSize
}

type Stats struct {
	StartedAt      time.Time `json:"startedAt"`
	Attempts       int64     `json:"attempts"`
	InFlight       int64     `json:"inFlight"`
	TotalProcessed int64     `json:"totalProcessed"`
	TotalErrors    int64     `json:"totalErrors"`
	LastError      string    `json:"lastError,omitempty"`
}

func (s *Scheduler) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, s.startedAtUnixNano).UTC(),
		Attempts:       s.attempts.Load(),
		InFlight:       s.inFlight.Load(),
		TotalProcessed: s.totalProcessed.Load(),
		TotalErrors:    s.totalErrors.Load(),
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

// Run processes records[startIndex:] slice by slice. It stops before a slice when lc
// halts (Result.Halted) or ctx is done (Result.Aborted). Writes already dispatched are
// detached from ctx and run until they settle or time out.
func (s *Scheduler) Run(ctx context.Context, records []models.InvoiceRecord, startIndex int, lc *Lifecycle, obs Observer) (*Result, error) {
	total := len(records)
	if startIndex < 0 || startIndex > total {
		return nil, errors.Errorf("startIndex %d out of range [0, %d]", startIndex, total)
	}
	if lc == nil {
		lc = NewLifecycle(nil, 0)
	}
	s.attempts.Add(1)

	res := &Result{StartIndex: startIndex, Total: total, NextStartIndex: total}
	for off := startIndex; off < total; off += s.batchSize {
		if ctx.Err() != nil {
			res.Aborted = true
			res.NextStartIndex = off
			slog.Info("upload aborted by client", "next_start_index", off, "total", total)
			break
		}
		if lc.Check() == StateHalted {
			res.Halted = true
			res.NextStartIndex = off
			slog.Info("upload attempt halted", "next_start_index", off, "total", total, "elapsed", lc.Elapsed().String())
			break
		}

		end := off + s.batchSize
		if end > total {
			end = total
		}

		t0 := time.Now()
		outs := s.runSlice(ctx, records[off:end])
		elapsed := time.Since(t0)
		recordSliceDuration(elapsed)

		for _, o := range outs {
			res.Processed++
			s.totalProcessed.Add(1)
			if o.err != nil {
				res.Errors = append(res.Errors, o.err)
				s.noteError(o.err)
			} else {
				res.Succeeded++
				recordRecordOutcome(outcomeSucceeded)
			}
			if obs != nil {
				obs.Progress(startIndex+res.Processed, total, o.invoiceID)
			}
		}
		if obs != nil {
			obs.SliceDone(elapsed)
		}

		if end < total && s.sliceDelay > 0 {
			t := time.NewTimer(s.sliceDelay)
			select {
			case <-ctx.Done():
			case <-t.C:
			}
			t.Stop()
		}
	}
	return res, nil
}

func (s *Scheduler) noteError(err *RecordError) {
	s.totalErrors.Add(1)
	if errors.Is(err, ErrRecordTimeout) {
		recordRecordOutcome(outcomeTimeout)
	} else {
		recordRecordOutcome(outcomeFailed)
	}
	s.lastErrorMu.Lock()
	s.lastError = err.Error()
	s.lastErrorMu.Unlock()
}

type outcome struct {
	idx       int
	invoiceID string
	err       *RecordError
}

// runSlice dispatches every record of the slice at once and returns outcomes in the
// order they settled. A panic outside per-record handling fails every record that has
// not settled with the same cause.
func (s *Scheduler) runSlice(ctx context.Context, slice []models.InvoiceRecord) (out []outcome) {
	results := make(chan outcome, len(slice))
	var g errgroup.Group
	waited := false

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		cause := errors.Errorf("batch processing failed: %v", r)
		slog.Error("slice failed outside record handling", "error", cause.Error(), "slice_size", len(slice))

		if !waited {
			_ = g.Wait()
			close(results)
		}
		for o := range results {
			out = append(out, o)
		}
		settled := make(map[int]bool, len(out))
		for _, o := range out {
			settled[o.idx] = true
		}
		for i, rec := range slice {
			if settled[i] {
				continue
			}
			out = append(out, outcome{idx: i, invoiceID: rec.ID, err: &RecordError{InvoiceID: rec.ID, Err: cause}})
		}
	}()

	s.inFlight.Add(int64(len(slice)))
	defer s.inFlight.Add(-int64(len(slice)))

	for i, rec := range slice {
		if s.dispatchHook != nil {
			s.dispatchHook(rec)
		}
		g.Go(func() error {
			results <- s.processOne(ctx, i, rec)
			return nil
		})
	}
	_ = g.Wait()
	waited = true
	close(results)

	out = make([]outcome, 0, len(slice))
	for o := range results {
		out = append(out, o)
	}
	return out
}

func (s *Scheduler) processOne(ctx context.Context, idx int, rec models.InvoiceRecord) outcome {
	o := outcome{idx: idx, invoiceID: rec.ID}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.recordTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- errors.Errorf("panic while processing record: %v", r)
			}
		}()
		done <- s.proc.Process(ctx, rec)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		select {
		case err = <-done:
		default:
			err = ErrRecordTimeout
		}
	}
	if err == nil {
		return o
	}

	var re *RecordError
	if errors.As(err, &re) {
		o.err = re
	} else {
		o.err = &RecordError{InvoiceID: rec.ID, Err: err}
	}
	return o
}
