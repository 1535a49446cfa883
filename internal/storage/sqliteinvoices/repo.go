package sqliteinvoices

import (
	"context"
	"database/sql"

	"github.com/BearBump/InvoiceBox/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

func (s *Storage) UpsertCompany(ctx context.Context, in models.CompanyInput) (*models.Company, error) {
	var c models.Company
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
INSERT INTO companies (id, name, created_at)
VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET name = excluded.name
RETURNING id, name, created_at
`, in.ID, in.Name, formatTS(s.now())).Scan(&c.ID, &c.Name, &createdAt)
	if err != nil {
		return nil, errors.Wrap(err, "upsert company")
	}
	if c.CreatedAt, err = parseTS(createdAt); err != nil {
		return nil, errors.Wrap(err, "upsert company")
	}
	return &c, nil
}

func (s *Storage) ListCompanies(ctx context.Context) ([]*models.Company, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM companies ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "select companies")
	}
	defer rows.Close()

	out := []*models.Company{}
	for rows.Next() {
		var c models.Company
		var createdAt string
		if err := rows.Scan(&c.ID, &c.Name, &createdAt); err != nil {
			return nil, errors.Wrap(err, "scan company")
		}
		if c.CreatedAt, err = parseTS(createdAt); err != nil {
			return nil, errors.Wrap(err, "scan company")
		}
		out = append(out, &c)
	}
	return out, errors.Wrap(rows.Err(), "rows")
}

func (s *Storage) UpsertShipment(ctx context.Context, in models.ShipmentUpsertInput) (*models.Shipment, error) {
	var sh models.Shipment
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
INSERT INTO shipments (
  id, tracking_number, company_id, provider, mode, origin_country, destination_country, created_at
)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(tracking_number) DO UPDATE SET
  company_id = excluded.company_id,
  provider = excluded.provider,
  mode = excluded.mode,
  origin_country = excluded.origin_country,
  destination_country = excluded.destination_country
RETURNING id, tracking_number, company_id, provider, mode, origin_country, destination_country, created_at
`, in.ID, in.TrackingNumber, in.CompanyID, in.Provider, in.Mode,
		in.OriginCountry, in.DestinationCountry, formatTS(in.CreatedAt)).Scan(
		&sh.ID, &sh.TrackingNumber, &sh.CompanyID, &sh.Provider, &sh.Mode,
		&sh.OriginCountry, &sh.DestinationCountry, &createdAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "upsert shipment")
	}
	if sh.CreatedAt, err = parseTS(createdAt); err != nil {
		return nil, errors.Wrap(err, "upsert shipment")
	}
	return &sh, nil
}

func (s *Storage) InsertInvoice(ctx context.Context, in models.InvoiceInsertInput) (*models.Invoice, error) {
	inv := models.Invoice{
		ID:             uuid.NewString(),
		InvoiceRef:     in.InvoiceRef,
		ShipmentID:     in.ShipmentID,
		InvoicedWeight: in.InvoicedWeight,
		InvoicedPrice:  in.InvoicedPrice,
		CreatedAt:      s.now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO invoices (id, invoice_ref, shipment_id, invoiced_weight, invoiced_price, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`, inv.ID, inv.InvoiceRef, inv.ShipmentID, inv.InvoicedWeight, inv.InvoicedPrice.String(), formatTS(inv.CreatedAt))
	if err != nil {
		return nil, errors.Wrap(err, "insert invoice")
	}
	return &inv, nil
}

func (s *Storage) ListInvoicesByShipment(ctx context.Context, shipmentID string) ([]*models.Invoice, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, invoice_ref, shipment_id, invoiced_weight, invoiced_price, created_at
FROM invoices
WHERE shipment_id = ?
ORDER BY created_at DESC, rowid DESC
`, shipmentID)
	if err != nil {
		return nil, errors.Wrap(err, "select invoices")
	}
	defer rows.Close()

	out := []*models.Invoice{}
	for rows.Next() {
		var inv models.Invoice
		var price, createdAt string
		if err := rows.Scan(&inv.ID, &inv.InvoiceRef, &inv.ShipmentID, &inv.InvoicedWeight, &price, &createdAt); err != nil {
			return nil, errors.Wrap(err, "scan invoice")
		}
		if inv.InvoicedPrice, err = decimal.NewFromString(price); err != nil {
			return nil, errors.Wrap(err, "parse invoiced price")
		}
		if inv.CreatedAt, err = parseTS(createdAt); err != nil {
			return nil, errors.Wrap(err, "scan invoice")
		}
		out = append(out, &inv)
	}
	return out, errors.Wrap(rows.Err(), "rows")
}

func (s *Storage) ListShipmentsWithDetails(ctx context.Context, q models.ShipmentsQuery) (*models.ShipmentsPage, error) {
	q = q.Normalize()

	rows, err := s.db.QueryContext(ctx, `
SELECT
  s.id, s.tracking_number, c.id, c.name,
  s.provider, s.mode, s.origin_country, s.destination_country, s.created_at,
  li.id, li.invoiced_weight, li.invoiced_price, li.created_at,
  (SELECT COUNT(*) FROM invoices ic WHERE ic.shipment_id = s.id)
FROM shipments s
JOIN companies c ON c.id = s.company_id
LEFT JOIN invoices li ON li.id = (
  SELECT i.id FROM invoices i
  WHERE i.shipment_id = s.id
  ORDER BY i.created_at DESC, i.rowid DESC
  LIMIT 1
)
WHERE (? = '' OR s.company_id = ?)
ORDER BY s.created_at DESC, s.id DESC
LIMIT ? OFFSET ?
`, q.CompanyID, q.CompanyID, q.Limit+1, q.Offset())
	if err != nil {
		return nil, errors.Wrap(err, "select shipments")
	}
	defer rows.Close()

	out := make([]*models.ShipmentWithDetails, 0, q.Limit+1)
	for rows.Next() {
		var sh models.ShipmentWithDetails
		var createdAt string
		var liID, liPrice, liCreatedAt sql.NullString
		var liWeight sql.NullFloat64
		if err := rows.Scan(
			&sh.ID, &sh.TrackingNumber, &sh.Company.ID, &sh.Company.Name,
			&sh.Provider, &sh.Mode, &sh.OriginCountry, &sh.DestinationCountry, &createdAt,
			&liID, &liWeight, &liPrice, &liCreatedAt,
			&sh.InvoiceCount,
		); err != nil {
			return nil, errors.Wrap(err, "scan shipment")
		}
		if sh.CreatedAt, err = parseTS(createdAt); err != nil {
			return nil, errors.Wrap(err, "scan shipment")
		}
		if liID.Valid {
			li := &models.LatestInvoice{ID: liID.String, InvoicedWeight: liWeight.Float64}
			if li.InvoicedPrice, err = decimal.NewFromString(liPrice.String); err != nil {
				return nil, errors.Wrap(err, "parse invoiced price")
			}
			if li.CreatedAt, err = parseTS(liCreatedAt.String); err != nil {
				return nil, errors.Wrap(err, "scan shipment")
			}
			sh.LatestInvoice = li
		}
		out = append(out, &sh)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows")
	}

	page := &models.ShipmentsPage{Shipments: out}
	if len(out) > q.Limit {
		page.Shipments = out[:q.Limit]
		page.HasMore = true
	}
	return page, nil
}
