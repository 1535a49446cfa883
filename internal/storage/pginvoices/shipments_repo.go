package pginvoices

import (
	"context"
	"time"

	"github.com/BearBump/InvoiceBox/internal/models"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// UpsertShipment резолвит отправление по tracking_number одним атомарным запросом.
// Если номер уже есть, обновляются изменяемые поля и возвращается сохранённый id,
// который может отличаться от in.ID.
func (s *Storage) UpsertShipment(ctx context.Context, in models.ShipmentUpsertInput) (*models.Shipment, error) {
	var sh models.Shipment
	err := s.db.QueryRow(ctx, `
INSERT INTO shipments (
  id, tracking_number, company_id, provider, mode, origin_country, destination_country, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (tracking_number)
DO UPDATE SET
  company_id = EXCLUDED.company_id,
  provider = EXCLUDED.provider,
  mode = EXCLUDED.mode,
  origin_country = EXCLUDED.origin_country,
  destination_country = EXCLUDED.destination_country
RETURNING id, tracking_number, company_id, provider, mode, origin_country, destination_country, created_at
`, in.ID, in.TrackingNumber, in.CompanyID, in.Provider, in.Mode,
		in.OriginCountry, in.DestinationCountry, in.CreatedAt.UTC()).Scan(
		&sh.ID, &sh.TrackingNumber, &sh.CompanyID, &sh.Provider, &sh.Mode,
		&sh.OriginCountry, &sh.DestinationCountry, &sh.CreatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "upsert shipment")
	}
	return &sh, nil
}

func (s *Storage) ListShipmentsWithDetails(ctx context.Context, q models.ShipmentsQuery) (*models.ShipmentsPage, error) {
	q = q.Normalize()

	// limit+1 строк: лишняя говорит, что есть следующая страница.
	rows, err := s.db.Query(ctx, `
SELECT
  s.id, s.tracking_number, c.id, c.name,
  s.provider, s.mode, s.origin_country, s.destination_country, s.created_at,
  li.id::text, li.invoiced_weight, li.invoiced_price::text, li.created_at,
  (SELECT count(*) FROM invoices ic WHERE ic.shipment_id = s.id)
FROM shipments s
JOIN companies c ON c.id = s.company_id
LEFT JOIN LATERAL (
  SELECT i.id, i.invoiced_weight, i.invoiced_price, i.created_at
  FROM invoices i
  WHERE i.shipment_id = s.id
  ORDER BY i.created_at DESC
  LIMIT 1
) li ON true
WHERE ($1::text = '' OR s.company_id = $1::text)
ORDER BY s.created_at DESC, s.id DESC
LIMIT $2 OFFSET $3
`, q.CompanyID, q.Limit+1, q.Offset())
	if err != nil {
		return nil, errors.Wrap(err, "select shipments")
	}
	defer rows.Close()

	out := make([]*models.ShipmentWithDetails, 0, q.Limit+1)
	for rows.Next() {
		var sh models.ShipmentWithDetails
		var liID, liPrice *string
		var liWeight *float64
		var liCreatedAt *time.Time
		var count int64
		if err := rows.Scan(
			&sh.ID, &sh.TrackingNumber, &sh.Company.ID, &sh.Company.Name,
			&sh.Provider, &sh.Mode, &sh.OriginCountry, &sh.DestinationCountry, &sh.CreatedAt,
			&liID, &liWeight, &liPrice, &liCreatedAt,
			&count,
		); err != nil {
			return nil, errors.Wrap(err, "scan shipment")
		}
		sh.InvoiceCount = int(count)
		if liID != nil {
			price, err := decimal.NewFromString(*liPrice)
			if err != nil {
				return nil, errors.Wrap(err, "parse invoiced price")
			}
			sh.LatestInvoice = &models.LatestInvoice{
				ID:             *liID,
				InvoicedWeight: *liWeight,
				InvoicedPrice:  price,
				CreatedAt:      *liCreatedAt,
			}
		}
		out = append(out, &sh)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	page := &models.ShipmentsPage{Shipments: out}
	if len(out) > q.Limit {
		page.Shipments = out[:q.Limit]
		page.HasMore = true
	}
	return page, nil
}
