package uploader

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	invoicesapi "github.com/BearBump/InvoiceBox/internal/api/invoices_api"
	"github.com/BearBump/InvoiceBox/internal/models"
	"github.com/BearBump/InvoiceBox/internal/services/catalog"
	"github.com/BearBump/InvoiceBox/internal/services/ingest"
	"github.com/BearBump/InvoiceBox/internal/storage/sqliteinvoices"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

// slowClockProc makes every record cost step on the fake clock, so the server's
// connection budget runs out after a known number of slices.
type slowClockProc struct {
	next ingest.RecordProcessor
	fc   *testingclock.FakePassiveClock
	step time.Duration
	mu   sync.Mutex
}

func (p *slowClockProc) Process(ctx context.Context, rec models.InvoiceRecord) error {
	p.mu.Lock()
	p.fc.SetTime(p.fc.Now().Add(p.step))
	p.mu.Unlock()
	return p.next.Process(ctx, rec)
}

func TestUpload_EndToEndAcrossBudgetHalts(t *testing.T) {
	st, err := sqliteinvoices.New(context.Background(), ":memory:")
	require.NoError(t, err)
	defer st.Close()

	fc := testingclock.NewFakePassiveClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	proc := &slowClockProc{next: ingest.NewProcessor(st, nil, ""), fc: fc, step: 3 * time.Second}
	sched := ingest.NewScheduler(proc).WithSettings(10, 5*time.Second, -1)
	api := invoicesapi.New(sched, catalog.New(st, nil, 0)).
		WithClock(fc).
		WithSettings(time.Minute, 110*time.Second, 0)

	srv := httptest.NewServer(api.Router())
	defer srv.Close()

	rep := &percentRecorder{}
	res, err := New(srv.URL, nil).
		WithBackoff(time.Millisecond).
		WithReporter(rep).
		Upload(context.Background(), testRecords(100), 0)
	require.NoError(t, err)
	require.Equal(t, 100, res.Succeeded)
	require.Equal(t, 100, res.Total)
	require.Empty(t, res.Errors)
	require.Equal(t, 3, res.Attempts)

	require.Len(t, rep.percents, 100)
	require.Equal(t, 100, rep.percents[len(rep.percents)-1])
	for i := 1; i < len(rep.percents); i++ {
		require.GreaterOrEqual(t, rep.percents[i], rep.percents[i-1])
	}

	page, err := st.ListShipmentsWithDetails(context.Background(), models.ShipmentsQuery{Page: 2, Limit: 50})
	require.NoError(t, err)
	require.Len(t, page.Shipments, 50)
	require.False(t, page.HasMore)
}
