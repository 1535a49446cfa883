package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Перевозчики, которые принимаются во входных инвойсах.
const (
	ProviderGLS   = "GLS"
	ProviderDPD   = "DPD"
	ProviderUPS   = "UPS"
	ProviderPPL   = "PPL"
	ProviderFedEx = "FedEx"
)

const (
	ModeExport = "EXPORT"
	ModeImport = "IMPORT"
)

var (
	Providers = []string{ProviderGLS, ProviderDPD, ProviderUPS, ProviderPPL, ProviderFedEx}
	Modes     = []string{ModeExport, ModeImport}
)

// InvoiceRecord is one element of an upload body.
type InvoiceRecord struct {
	ID             string          `json:"id"`
	Shipment       ShipmentInput   `json:"shipment"`
	InvoicedWeight float64         `json:"invoicedWeight"`
	InvoicedPrice  decimal.Decimal `json:"invoicedPrice"`
}

type ShipmentInput struct {
	ID                 string       `json:"id"`
	CreatedAt          time.Time    `json:"createdAt"`
	TrackingNumber     string       `json:"trackingNumber"`
	Company            CompanyInput `json:"company"`
	Provider           string       `json:"provider"`
	Mode               string       `json:"mode"`
	OriginCountry      string       `json:"originCountry"`
	DestinationCountry string       `json:"destinationCountry"`
}

type CompanyInput struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Company struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Shipment struct {
	ID                 string    `json:"id"`
	TrackingNumber     string    `json:"tracking_number"`
	CompanyID          string    `json:"company_id"`
	Provider           string    `json:"provider"`
	Mode               string    `json:"mode"`
	OriginCountry      string    `json:"origin_country"`
	DestinationCountry string    `json:"destination_country"`
	CreatedAt          time.Time `json:"created_at"`
}

// Invoice строки только добавляются. InvoiceRef хранит id из загруженного файла,
// он не уникален: повторная обработка записи даёт вторую строку.
type Invoice struct {
	ID             string          `json:"id"`
	InvoiceRef     string          `json:"invoice_ref"`
	ShipmentID     string          `json:"shipment_id"`
	InvoicedWeight float64         `json:"invoiced_weight"`
	InvoicedPrice  decimal.Decimal `json:"invoiced_price"`
	CreatedAt      time.Time       `json:"created_at"`
}

type InvoiceInsertInput struct {
	InvoiceRef     string
	ShipmentID     string
	InvoicedWeight float64
	InvoicedPrice  decimal.Decimal
}

type ShipmentUpsertInput struct {
	ID                 string
	TrackingNumber     string
	CompanyID          string
	Provider           string
	Mode               string
	OriginCountry      string
	DestinationCountry string
	CreatedAt          time.Time
}

type CompanyRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type LatestInvoice struct {
	ID             string          `json:"id"`
	InvoicedWeight float64         `json:"invoiced_weight"`
	InvoicedPrice  decimal.Decimal `json:"invoiced_price"`
	CreatedAt      time.Time       `json:"created_at"`
}

type ShipmentWithDetails struct {
	ID                 string         `json:"id"`
	TrackingNumber     string         `json:"tracking_number"`
	Company            CompanyRef     `json:"company"`
	Provider           string         `json:"provider"`
	Mode               string         `json:"mode"`
	OriginCountry      string         `json:"origin_country"`
	DestinationCountry string         `json:"destination_country"`
	CreatedAt          time.Time      `json:"created_at"`
	LatestInvoice      *LatestInvoice `json:"latest_invoice"`
	InvoiceCount       int            `json:"invoice_count"`
}

type ShipmentsQuery struct {
	CompanyID string
	Page      int
	Limit     int
}

const (
	DefaultShipmentsLimit = 20
	MaxShipmentsLimit     = 50
)

// Normalize приводит page/limit к допустимым границам.
func (q ShipmentsQuery) Normalize() ShipmentsQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit == 0 {
		q.Limit = DefaultShipmentsLimit
	}
	if q.Limit < 1 {
		q.Limit = 1
	}
	if q.Limit > MaxShipmentsLimit {
		q.Limit = MaxShipmentsLimit
	}
	return q
}

func (q ShipmentsQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}

type ShipmentsPage struct {
	Shipments []*ShipmentWithDetails
	HasMore   bool
}
