package messages

import "time"

// InvoiceIngested публикуется после того, как запись инвойса сохранена.
type InvoiceIngested struct {
	InvoiceID      string    `json:"invoice_id"`
	InvoiceRef     string    `json:"invoice_ref"`
	ShipmentID     string    `json:"shipment_id"`
	TrackingNumber string    `json:"tracking_number"`
	CompanyID      string    `json:"company_id"`
	IngestedAt     time.Time `json:"ingested_at"`
}
