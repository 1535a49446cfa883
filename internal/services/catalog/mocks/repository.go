package mocks

import (
	"context"

	"github.com/BearBump/InvoiceBox/internal/models"
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) ListCompanies(ctx context.Context) ([]*models.Company, error) {
	args := m.Called(ctx)
	var out []*models.Company
	if v := args.Get(0); v != nil {
		out = v.([]*models.Company)
	}
	return out, args.Error(1)
}

func (m *MockRepository) ListShipmentsWithDetails(ctx context.Context, q models.ShipmentsQuery) (*models.ShipmentsPage, error) {
	args := m.Called(ctx, q)
	var out *models.ShipmentsPage
	if v := args.Get(0); v != nil {
		out = v.(*models.ShipmentsPage)
	}
	return out, args.Error(1)
}

func (m *MockRepository) ListInvoicesByShipment(ctx context.Context, shipmentID string) ([]*models.Invoice, error) {
	args := m.Called(ctx, shipmentID)
	var out []*models.Invoice
	if v := args.Get(0); v != nil {
		out = v.([]*models.Invoice)
	}
	return out, args.Error(1)
}
