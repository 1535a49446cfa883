package invoices_api

import (
	"net/http"
	"strconv"

	"github.com/BearBump/InvoiceBox/internal/models"
	"github.com/go-chi/chi/v5"
)

func (a *API) listShipments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := models.ShipmentsQuery{
		CompanyID: q.Get("companyId"),
		Page:      1,
		Limit:     models.DefaultShipmentsLimit,
	}
	// нечисловые значения молча заменяются значениями по умолчанию
	if n, err := strconv.Atoi(q.Get("page")); err == nil {
		query.Page = max(1, n)
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil {
		query.Limit = min(max(1, n), models.MaxShipmentsLimit)
	}

	page, err := a.catalog.ListShipments(r.Context(), query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, errorResponse{Error: "Failed to fetch shipments", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, shipmentsResponse{
		Success: true,
		Data:    page.Shipments,
		Page:    query.Page,
		Limit:   query.Limit,
		HasMore: page.HasMore,
	})
}

func (a *API) listCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := a.catalog.ListCompanies(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, errorResponse{Error: "Failed to fetch companies", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Success: true, Data: companies})
}

func (a *API) invoiceHistory(w http.ResponseWriter, r *http.Request) {
	shipmentID := chi.URLParam(r, "shipmentId")
	if shipmentID == "" {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "Shipment ID is required"})
		return
	}

	invoices, err := a.catalog.InvoiceHistory(r.Context(), shipmentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, errorResponse{Error: "Failed to fetch invoice history", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Success: true, Data: invoices})
}
