package invoices_api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/BearBump/InvoiceBox/internal/models"
	"github.com/BearBump/InvoiceBox/internal/services/ingest"
	"github.com/BearBump/InvoiceBox/internal/sse"
	"github.com/BearBump/InvoiceBox/internal/validate"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"k8s.io/utils/clock"
)

const DefaultMaxBodyBytes = 32 << 20

type Scheduler interface {
	Run(ctx context.Context, records []models.InvoiceRecord, startIndex int, lc *ingest.Lifecycle, obs ingest.Observer) (*ingest.Result, error)
	Stats() ingest.Stats
}

type Catalog interface {
	ListCompanies(ctx context.Context) ([]*models.Company, error)
	ListShipments(ctx context.Context, q models.ShipmentsQuery) (*models.ShipmentsPage, error)
	InvoiceHistory(ctx context.Context, shipmentID string) ([]*models.Invoice, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, clientKey string) (bool, int64, error)
	Window() time.Duration
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type API struct {
	sched     Scheduler
	catalog   Catalog
	validator *validate.Validator
	limiter   RateLimiter
	clock     clock.PassiveClock

	keepAlive    time.Duration
	budget       time.Duration
	maxBodyBytes int64
	swaggerPath  string

	readiness map[string]Pinger

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

func New(sched Scheduler, catalog Catalog) *API {
	return &API{
		sched:        sched,
		catalog:      catalog,
		validator:    validate.New(),
		clock:        clock.RealClock{},
		keepAlive:    sse.DefaultKeepAliveInterval,
		budget:       ingest.DefaultBudget,
		maxBodyBytes: DefaultMaxBodyBytes,
		readiness:    map[string]Pinger{},
		shutdown:     make(chan struct{}),
	}
}

// Halt asks every running upload stream to stop at its next slice boundary and send
// a resume checkpoint. Streams started afterwards halt before their first slice.
// Safe to call more than once.
func (a *API) Halt() {
	a.shutdownOnce.Do(func() { close(a.shutdown) })
}

// WithSettings overrides the defaults; values == 0 keep them. A negative budget
// disables the connection budget.
func (a *API) WithSettings(keepAlive, budget time.Duration, maxBodyBytes int64) *API {
	if keepAlive > 0 {
		a.keepAlive = keepAlive
	}
	if budget > 0 {
		a.budget = budget
	}
	if budget < 0 {
		a.budget = 0
	}
	if maxBodyBytes > 0 {
		a.maxBodyBytes = maxBodyBytes
	}
	return a
}

func (a *API) WithValidator(v *validate.Validator) *API {
	if v != nil {
		a.validator = v
	}
	return a
}

func (a *API) WithClock(c clock.PassiveClock) *API {
	if c != nil {
		a.clock = c
	}
	return a
}

func (a *API) WithRateLimiter(rl RateLimiter) *API {
	a.limiter = rl
	return a
}

// WithReadiness registers a dependency checked by /readyz.
func (a *API) WithReadiness(name string, p Pinger) *API {
	a.readiness[name] = p
	return a
}

func (a *API) WithSwagger(path string) *API {
	a.swaggerPath = path
	return a
}

func (a *API) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", a.ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, a.sched.Stats())
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/invoices/upload", a.upload)
		r.Get("/invoices/{shipmentId}", a.invoiceHistory)
		r.Get("/shipments", a.listShipments)
		r.Get("/companies", a.listCompanies)
	})

	if a.swaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			http.ServeFile(w, r, a.swaggerPath)
		})
		swaggerURL := "/swagger.json"
		if fi, err := os.Stat(a.swaggerPath); err == nil {
			swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
		}
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))
	}

	return r
}

func (a *API) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, p := range a.readiness {
		if err := p.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
