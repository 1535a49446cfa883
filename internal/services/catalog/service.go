package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/InvoiceBox/internal/broker/messages"
	"github.com/BearBump/InvoiceBox/internal/cache"
	"github.com/BearBump/InvoiceBox/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	ListCompanies(ctx context.Context) ([]*models.Company, error)
	ListShipmentsWithDetails(ctx context.Context, q models.ShipmentsQuery) (*models.ShipmentsPage, error)
	ListInvoicesByShipment(ctx context.Context, shipmentID string) ([]*models.Invoice, error)
}

// Service отдаёт данные для чтения. Компании и история инвойсов кэшируются целиком,
// кэш сбрасывается по сообщению invoice.ingested.
type Service struct {
	repo  Repository
	cache cache.BytesCache
	ttl   time.Duration
}

func New(repo Repository, c cache.BytesCache, ttl time.Duration) *Service {
	return &Service{repo: repo, cache: c, ttl: ttl}
}

func (s *Service) ListCompanies(ctx context.Context) ([]*models.Company, error) {
	var out []*models.Company
	if s.getCached(ctx, companiesKey, &out) {
		return out, nil
	}

	out, err := s.repo.ListCompanies(ctx)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*models.Company{}
	}
	s.setCached(ctx, companiesKey, out)
	return out, nil
}

// ListShipments не кэшируется: страниц и фильтров слишком много.
func (s *Service) ListShipments(ctx context.Context, q models.ShipmentsQuery) (*models.ShipmentsPage, error) {
	page, err := s.repo.ListShipmentsWithDetails(ctx, q.Normalize())
	if err != nil {
		return nil, err
	}
	if page.Shipments == nil {
		page.Shipments = []*models.ShipmentWithDetails{}
	}
	return page, nil
}

func (s *Service) InvoiceHistory(ctx context.Context, shipmentID string) ([]*models.Invoice, error) {
	if shipmentID == "" {
		return nil, errors.New("shipmentId is required")
	}

	key := invoicesKey(shipmentID)
	var out []*models.Invoice
	if s.getCached(ctx, key, &out) {
		return out, nil
	}

	out, err := s.repo.ListInvoicesByShipment(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*models.Invoice{}
	}
	s.setCached(ctx, key, out)
	return out, nil
}

// ApplyInvoiceIngested drops every cached view the new invoice makes stale.
func (s *Service) ApplyInvoiceIngested(ctx context.Context, msg messages.InvoiceIngested) error {
	if msg.ShipmentID == "" {
		return errors.New("shipment_id is required")
	}
	if !s.cacheEnabled() {
		return nil
	}
	if err := s.cache.Delete(ctx, companiesKey, invoicesKey(msg.ShipmentID)); err != nil {
		return errors.Wrap(err, "invalidate cache")
	}
	return nil
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.ttl > 0
}

func (s *Service) getCached(ctx context.Context, key string, dst any) bool {
	if !s.cacheEnabled() {
		return false
	}
	b, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("cache get failed", "key", key, "error", err.Error())
		return false
	}
	if !ok {
		return false
	}
	return json.Unmarshal(b, dst) == nil
}

// setCached is best effort.
func (s *Service) setCached(ctx context.Context, key string, v any) {
	if !s.cacheEnabled() {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, b, s.ttl); err != nil {
		slog.Warn("cache set failed", "key", key, "error", err.Error())
	}
}

const companiesKey = "companies:all"

func invoicesKey(shipmentID string) string {
	return fmt.Sprintf("shipment:%s:invoices", shipmentID)
}
