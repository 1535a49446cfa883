package pginvoices

import (
	"context"

	"github.com/BearBump/InvoiceBox/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

func (s *Storage) InsertInvoice(ctx context.Context, in models.InvoiceInsertInput) (*models.Invoice, error) {
	inv := models.Invoice{
		ID:             uuid.NewString(),
		InvoiceRef:     in.InvoiceRef,
		ShipmentID:     in.ShipmentID,
		InvoicedWeight: in.InvoicedWeight,
		InvoicedPrice:  in.InvoicedPrice,
	}
	err := s.db.QueryRow(ctx, `
INSERT INTO invoices (id, invoice_ref, shipment_id, invoiced_weight, invoiced_price)
VALUES ($1::uuid, $2, $3, $4, $5::text::numeric)
RETURNING created_at
`, inv.ID, inv.InvoiceRef, inv.ShipmentID, inv.InvoicedWeight, inv.InvoicedPrice.String()).Scan(&inv.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "insert invoice")
	}
	return &inv, nil
}

func (s *Storage) ListInvoicesByShipment(ctx context.Context, shipmentID string) ([]*models.Invoice, error) {
	rows, err := s.db.Query(ctx, `
SELECT id::text, invoice_ref, shipment_id, invoiced_weight, invoiced_price::text, created_at
FROM invoices
WHERE shipment_id = $1
ORDER BY created_at DESC
`, shipmentID)
	if err != nil {
		return nil, errors.Wrap(err, "select invoices")
	}
	defer rows.Close()

	out := []*models.Invoice{}
	for rows.Next() {
		var inv models.Invoice
		var price string
		if err := rows.Scan(&inv.ID, &inv.InvoiceRef, &inv.ShipmentID, &inv.InvoicedWeight, &price, &inv.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan invoice")
		}
		inv.InvoicedPrice, err = decimal.NewFromString(price)
		if err != nil {
			return nil, errors.Wrap(err, "parse invoiced price")
		}
		out = append(out, &inv)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
