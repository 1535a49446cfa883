package mocks

import (
	"context"

	"github.com/BearBump/InvoiceBox/internal/models"
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) UpsertCompany(ctx context.Context, in models.CompanyInput) (*models.Company, error) {
	args := m.Called(ctx, in)
	var c *models.Company
	if v := args.Get(0); v != nil {
		c = v.(*models.Company)
	}
	return c, args.Error(1)
}

func (m *MockRepository) UpsertShipment(ctx context.Context, in models.ShipmentUpsertInput) (*models.Shipment, error) {
	args := m.Called(ctx, in)
	var s *models.Shipment
	if v := args.Get(0); v != nil {
		s = v.(*models.Shipment)
	}
	return s, args.Error(1)
}

func (m *MockRepository) InsertInvoice(ctx context.Context, in models.InvoiceInsertInput) (*models.Invoice, error) {
	args := m.Called(ctx, in)
	var inv *models.Invoice
	if v := args.Get(0); v != nil {
		inv = v.(*models.Invoice)
	}
	return inv, args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, key, value []byte) error {
	args := m.Called(ctx, topic, key, value)
	return args.Error(0)
}
