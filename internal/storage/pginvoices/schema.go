package pginvoices

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS companies (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`
CREATE TABLE IF NOT EXISTS shipments (
  id TEXT PRIMARY KEY,
  tracking_number TEXT NOT NULL,
  company_id TEXT NOT NULL REFERENCES companies(id),
  provider TEXT NOT NULL,
  mode TEXT NOT NULL,
  origin_country CHAR(2) NOT NULL,
  destination_country CHAR(2) NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  UNIQUE (tracking_number)
)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_company_created_at ON shipments(company_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_created_at ON shipments(created_at DESC)`,
		`
CREATE TABLE IF NOT EXISTS invoices (
  id UUID PRIMARY KEY,
  invoice_ref TEXT NOT NULL,
  shipment_id TEXT NOT NULL REFERENCES shipments(id) ON DELETE CASCADE,
  invoiced_weight DOUBLE PRECISION NOT NULL,
  invoiced_price NUMERIC NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
)`,
		`CREATE INDEX IF NOT EXISTS idx_invoices_shipment_created_at ON invoices(shipment_id, created_at DESC)`,
		// invoice_ref намеренно без уникального индекса: повтор после resume даёт вторую строку.
		`CREATE INDEX IF NOT EXISTS idx_invoices_invoice_ref ON invoices(invoice_ref)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
