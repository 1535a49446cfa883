package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BearBump/InvoiceBox/config"
	invoicesapi "github.com/BearBump/InvoiceBox/internal/api/invoices_api"
	"github.com/BearBump/InvoiceBox/internal/broker/kafka"
	"github.com/BearBump/InvoiceBox/internal/broker/messages"
	"github.com/BearBump/InvoiceBox/internal/models"
	"github.com/BearBump/InvoiceBox/internal/services/catalog"
	"github.com/BearBump/InvoiceBox/internal/services/ingest"
	"github.com/BearBump/InvoiceBox/internal/sse"
	"github.com/BearBump/InvoiceBox/internal/storage/sqliteinvoices"
	"github.com/stretchr/testify/require"
)

type fakeConsumer struct {
	messages []messages.InvoiceIngested
}

func (c fakeConsumer) ConsumeInvoiceIngested(ctx context.Context, handle kafka.InvoiceIngestedHandler) error {
	for _, m := range c.messages {
		if err := handle(ctx, m); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

type recordingInvalidator struct {
	mu   sync.Mutex
	got  []messages.InvoiceIngested
	done chan struct{}
	want int
}

func (r *recordingInvalidator) ApplyInvoiceIngested(_ context.Context, msg messages.InvoiceIngested) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, msg)
	if len(r.got) == r.want {
		close(r.done)
	}
	return nil
}

func newHandler(t *testing.T, swaggerPath string) (http.Handler, *catalog.Service) {
	t.Helper()
	st, err := sqliteinvoices.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(st.Close)

	sched := ingest.NewScheduler(ingest.NewProcessor(st, nil, ""))
	svc := catalog.New(st, nil, 0)
	api := invoicesapi.New(sched, svc).WithReadiness("database", st).WithSwagger(swaggerPath)
	return api.Router(), svc
}

func TestRunInvoiceAPI_SwaggerServed(t *testing.T) {
	dir := t.TempDir()
	sw := filepath.Join(dir, "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))

	h, svc := newHandler(t, sw)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	opts := invoiceAPIOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: sw,
		onListen:    func(httpAddr string) { addrCh <- httpAddr },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- runInvoiceAPI(ctx, opts, h, svc, nil) }()

	httpAddr := <-addrCh

	resp, err := http.Get("http://" + httpAddr + "/swagger.json")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"swagger"`)

	resp, err = http.Get("http://" + httpAddr + "/readyz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting server to stop")
	}
}

func TestRunInvoiceAPI_MissingSwagger(t *testing.T) {
	h, svc := newHandler(t, "")
	err := runInvoiceAPI(context.Background(), invoiceAPIOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: filepath.Join(t.TempDir(), "nope.json"),
	}, h, svc, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "swagger file not found")
}

func TestRunInvoiceAPI_ConsumesInvoiceIngested(t *testing.T) {
	h, _ := newHandler(t, "")

	inv := &recordingInvalidator{done: make(chan struct{}), want: 2}
	cons := fakeConsumer{messages: []messages.InvoiceIngested{
		{InvoiceID: "i-1", ShipmentID: "s-1"},
		{InvoiceID: "i-2", ShipmentID: "s-2"},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- runInvoiceAPI(ctx, invoiceAPIOpts{httpAddr: "127.0.0.1:0", topic: "t", consumerGroup: "g"}, h, inv, cons)
	}()

	select {
	case <-inv.done:
	case <-time.After(5 * time.Second):
		t.Fatal("message was not applied")
	}
	inv.mu.Lock()
	require.Len(t, inv.got, 2)
	require.Equal(t, "s-1", inv.got[0].ShipmentID)
	require.Equal(t, "s-2", inv.got[1].ShipmentID)
	inv.mu.Unlock()

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}

func TestResolveSettings_Defaults(t *testing.T) {
	t.Setenv("swaggerPath", "")
	s := resolveSettings(&config.Config{})

	require.Equal(t, ":8080", s.httpAddr)
	require.Equal(t, "invoice.ingested", s.topic)
	require.Equal(t, "invoice-api", s.consumerGroup)
	require.Equal(t, 5*time.Minute, s.cacheTTL)
	require.Equal(t, ingest.DefaultBatchSize, s.batchSize)
	require.Equal(t, ingest.DefaultRecordTimeout, s.recordTimeout)
	require.Equal(t, ingest.DefaultBudget, s.budget)
	require.Equal(t, 15*time.Second, s.keepAlive)
}

func TestResolveSettings_FromConfig(t *testing.T) {
	t.Setenv("swaggerPath", "/srv/api.json")
	cfg := &config.Config{
		InvoiceBox: config.InvoiceBoxConfig{HTTPAddr: ":9000", CacheTTLSeconds: 30},
		Ingest: config.IngestConfig{
			BatchSize:                5,
			RecordTimeoutSeconds:     3,
			ConnectionBudgetSeconds:  50,
			UploadRateLimitPerMinute: 7,
		},
	}
	s := resolveSettings(cfg)

	require.Equal(t, ":9000", s.httpAddr)
	require.Equal(t, "/srv/api.json", s.swaggerPath)
	require.Equal(t, 30*time.Second, s.cacheTTL)
	require.Equal(t, 5, s.batchSize)
	require.Equal(t, 3*time.Second, s.recordTimeout)
	require.Equal(t, 50*time.Second, s.budget)
	require.Equal(t, int64(7), s.uploadsPerMin)
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	_, err := openStoreWithRetry(context.Background(), config.DatabaseConfig{Driver: "mysql"}, 3*time.Second)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown database driver")
}

func TestOpenStore_SQLite(t *testing.T) {
	st, err := openStore(context.Background(), config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "ib.db")})
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.Ping(context.Background()))
}

type slowProc struct {
	next  ingest.RecordProcessor
	delay time.Duration
}

func (p *slowProc) Process(ctx context.Context, rec models.InvoiceRecord) error {
	time.Sleep(p.delay)
	return p.next.Process(ctx, rec)
}

func recordsBody(n int) []byte {
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		parts = append(parts, fmt.Sprintf(`{"id":"inv-%d","shipment":{"id":"s-%d","createdAt":"2024-03-01T12:00:00Z",`+
			`"trackingNumber":"TN-%d","company":{"id":"c-1","name":"Acme"},"provider":"GLS","mode":"IMPORT",`+
			`"originCountry":"DE","destinationCountry":"CZ"},"invoicedWeight":2,"invoicedPrice":10}`, i, i, i))
	}
	return []byte("[" + strings.Join(parts, ",") + "]")
}

func TestRunInvoiceAPI_ShutdownSendsResume(t *testing.T) {
	st, err := sqliteinvoices.New(context.Background(), ":memory:")
	require.NoError(t, err)
	defer st.Close()

	proc := &slowProc{next: ingest.NewProcessor(st, nil, ""), delay: 200 * time.Millisecond}
	sched := ingest.NewScheduler(proc).WithSettings(1, 5*time.Second, -1)
	svc := catalog.New(st, nil, 0)
	api := invoicesapi.New(sched, svc)

	var active atomic.Int64
	router := api.Router()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		active.Add(1)
		defer active.Add(-1)
		router.ServeHTTP(w, r)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	opts := invoiceAPIOpts{
		httpAddr:      "127.0.0.1:0",
		shutdownGrace: 5 * time.Second,
		onListen:      func(httpAddr string) { addrCh <- httpAddr },
		onShutdown:    api.Halt,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- runInvoiceAPI(ctx, opts, handler, svc, nil) }()
	addr := <-addrCh

	firstProgress := make(chan struct{})
	eventsCh := make(chan []sse.Event, 1)
	go func() {
		var evs []sse.Event
		defer func() { eventsCh <- evs }()

		req, err := http.NewRequest(http.MethodPost, "http://"+addr+"/api/invoices/upload", bytes.NewReader(recordsBody(40)))
		if err != nil {
			return
		}
		req.Header.Set("Accept", "text/event-stream")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return
		}
		defer resp.Body.Close()

		rd := sse.NewReader(resp.Body)
		for {
			ev, err := rd.Next()
			if err != nil {
				return
			}
			if len(evs) == 0 {
				close(firstProgress)
			}
			evs = append(evs, ev)
		}
	}()

	select {
	case <-firstProgress:
	case <-time.After(5 * time.Second):
		t.Fatal("no progress before shutdown")
	}
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
	require.Zero(t, active.Load(), "server returned before the upload stream finished")

	var evs []sse.Event
	select {
	case evs = <-eventsCh:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end")
	}
	require.NotEmpty(t, evs)

	cp, ok := evs[len(evs)-1].(sse.Checkpoint)
	require.True(t, ok, "last event must be resume, got %s", evs[len(evs)-1].EventName())
	require.Equal(t, 40, cp.Total)
	require.Equal(t, cp.Processed, cp.NextStartIndex)
	require.Equal(t, cp.Processed, cp.Succeeded)
	require.Less(t, cp.NextStartIndex, 40)
	require.Len(t, evs, cp.Processed+1, "one progress event per processed record")
}

func TestInvalidateCache_NeverFailsConsumer(t *testing.T) {
	h := invalidateCache(failingInvalidator{})
	require.NoError(t, h(context.Background(), messages.InvoiceIngested{ShipmentID: "s-1"}))
}

type failingInvalidator struct{}

func (failingInvalidator) ApplyInvoiceIngested(context.Context, messages.InvoiceIngested) error {
	return errors.New("redis down")
}

func TestSettings_ShutdownGraceCoversOneSlice(t *testing.T) {
	s := resolveSettings(&config.Config{})
	require.Greater(t, s.shutdownGrace(), s.recordTimeout+s.sliceDelay)
}
