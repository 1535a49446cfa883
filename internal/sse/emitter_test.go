package sse

import (
	"bytes"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("broken pipe") }

func TestEmitter_FramesAndSingleTerminal(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf)

	require.NoError(t, e.Progress(Progress{Processed: 1, Total: 2, CurrentInvoiceID: "a"}))
	require.NoError(t, e.KeepAlive())
	require.NoError(t, e.Complete(Complete{Processed: 2, Total: 2}))

	require.ErrorIs(t, e.Progress(Progress{Processed: 2, Total: 2}), ErrStreamClosed)
	require.ErrorIs(t, e.Fail(Failure{Message: "x"}), ErrStreamClosed)
	require.ErrorIs(t, e.KeepAlive(), ErrStreamClosed)
	require.True(t, e.Closed())

	want := "event: progress\ndata: {\"processed\":1,\"total\":2,\"currentInvoiceId\":\"a\"}\n\n" +
		": keep-alive\n\n" +
		"event: complete\ndata: {\"success\":true,\"processed\":2,\"total\":2}\n\n"
	require.Equal(t, want, buf.String())
}

func TestEmitter_ResumeAlwaysCarriesErrorsArray(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf)

	require.NoError(t, e.Resume(Checkpoint{Processed: 40, Total: 100, NextStartIndex: 40, Succeeded: 40}))
	require.Contains(t, buf.String(), `"errors":[]`)
	require.Contains(t, buf.String(), "event: resume\n")
}

func TestEmitter_CompleteWithErrors(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf)

	require.NoError(t, e.Complete(Complete{Processed: 2, Total: 3, Errors: []RecordError{{InvoiceID: "b", Error: "boom"}}}))
	require.Contains(t, buf.String(), `"errors":[{"invoiceId":"b","error":"boom"}]`)
}

func TestEmitter_FailureDetails(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf)

	require.NoError(t, e.Fail(Failure{Message: MessageFailedToProcessInvoices, Details: []RecordError{{InvoiceID: "a", Error: "e"}}}))
	require.Equal(t, "event: error\ndata: {\"message\":\"failedToProcessInvoices\",\"details\":[{\"invoiceId\":\"a\",\"error\":\"e\"}]}\n\n", buf.String())
}

func TestEmitter_WriterFailureClosesStream(t *testing.T) {
	e := NewEmitter(failingWriter{})

	err := e.Progress(Progress{Processed: 1, Total: 1})
	require.ErrorIs(t, err, ErrStreamClosed)
	require.True(t, e.Closed())
	require.ErrorIs(t, e.Complete(Complete{}), ErrStreamClosed)
}

func TestEmitter_FlushesResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	SetHeaders(rec)
	e := NewEmitter(rec)

	require.NoError(t, e.Progress(Progress{Processed: 1, Total: 1, CurrentInvoiceID: "a"}))
	require.True(t, rec.Flushed)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
}

func TestEmitter_KeepAliveOnSilence(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf)
	e.StartKeepAlive(20 * time.Millisecond)

	time.Sleep(120 * time.Millisecond)
	e.Close()

	require.GreaterOrEqual(t, strings.Count(buf.String(), ": keep-alive\n\n"), 2)

	// повторный Close безопасен
	e.Close()
}

func TestEmitter_KeepAliveStopsAfterTerminal(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf)
	e.StartKeepAlive(20 * time.Millisecond)

	require.NoError(t, e.Complete(Complete{Processed: 1, Total: 1}))
	time.Sleep(60 * time.Millisecond)
	e.Close()

	require.True(t, strings.HasSuffix(buf.String(), "event: complete\ndata: {\"success\":true,\"processed\":1,\"total\":1}\n\n"))
	require.NotContains(t, buf.String(), "keep-alive")
}
