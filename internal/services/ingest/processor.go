package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/InvoiceBox/internal/broker/messages"
	"github.com/BearBump/InvoiceBox/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	UpsertCompany(ctx context.Context, in models.CompanyInput) (*models.Company, error)
	UpsertShipment(ctx context.Context, in models.ShipmentUpsertInput) (*models.Shipment, error)
	InsertInvoice(ctx context.Context, in models.InvoiceInsertInput) (*models.Invoice, error)
}

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Processor writes one record: company, then shipment, then invoice.
// A failed step aborts the rest; earlier steps are not rolled back.
type Processor struct {
	repo  Repository
	pub   Publisher
	topic string
	now   func() time.Time
}

func NewProcessor(repo Repository, pub Publisher, topic string) *Processor {
	if topic == "" {
		topic = "invoice.ingested"
	}
	return &Processor{repo: repo, pub: pub, topic: topic, now: time.Now}
}

func (p *Processor) Process(ctx context.Context, rec models.InvoiceRecord) error {
	if _, err := p.repo.UpsertCompany(ctx, rec.Shipment.Company); err != nil {
		return &RecordError{InvoiceID: rec.ID, Err: errors.Wrap(err, "failed to upsert company")}
	}

	sh, err := p.repo.UpsertShipment(ctx, models.ShipmentUpsertInput{
		ID:                 rec.Shipment.ID,
		TrackingNumber:     rec.Shipment.TrackingNumber,
		CompanyID:          rec.Shipment.Company.ID,
		Provider:           rec.Shipment.Provider,
		Mode:               rec.Shipment.Mode,
		OriginCountry:      rec.Shipment.OriginCountry,
		DestinationCountry: rec.Shipment.DestinationCountry,
		CreatedAt:          rec.Shipment.CreatedAt,
	})
	if err != nil {
		return &RecordError{InvoiceID: rec.ID, Err: errors.Wrap(err, "failed to upsert shipment")}
	}

	inv, err := p.repo.InsertInvoice(ctx, models.InvoiceInsertInput{
		InvoiceRef:     rec.ID,
		ShipmentID:     sh.ID,
		InvoicedWeight: rec.InvoicedWeight,
		InvoicedPrice:  rec.InvoicedPrice,
	})
	if err != nil {
		return &RecordError{InvoiceID: rec.ID, Err: errors.Wrap(err, "failed to insert invoice")}
	}

	p.publish(ctx, rec, sh, inv)
	return nil
}

// publish is best effort: the invoice is already stored, so a broker outage only
// delays cache invalidation.
func (p *Processor) publish(ctx context.Context, rec models.InvoiceRecord, sh *models.Shipment, inv *models.Invoice) {
	if p.pub == nil {
		return
	}
	b, err := json.Marshal(messages.InvoiceIngested{
		InvoiceID:      inv.ID,
		InvoiceRef:     rec.ID,
		ShipmentID:     sh.ID,
		TrackingNumber: sh.TrackingNumber,
		CompanyID:      sh.CompanyID,
		IngestedAt:     p.now().UTC(),
	})
	if err != nil {
		recordPublishFailure()
		slog.Error("marshal invoice.ingested", "invoice_id", rec.ID, "error", err.Error())
		return
	}
	if err := p.pub.Publish(ctx, p.topic, []byte(sh.ID), b); err != nil {
		recordPublishFailure()
		slog.Warn("publish invoice.ingested", "invoice_id", rec.ID, "shipment_id", sh.ID, "error", err.Error())
	}
}
