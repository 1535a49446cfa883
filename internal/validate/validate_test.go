package validate

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const validRecord = `{
  "id": "inv-1",
  "shipment": {
    "id": "s-1",
    "createdAt": "2024-05-01T10:00:00.000Z",
    "trackingNumber": "TN-1",
    "company": {"id": "c-1", "name": "Acme"},
    "provider": "GLS",
    "mode": "IMPORT",
    "originCountry": "CZ",
    "destinationCountry": "SK"
  },
  "invoicedWeight": 2.5,
  "invoicedPrice": 0
}`

func problems(t *testing.T, err error) []FieldError {
	t.Helper()
	var verr *Error
	require.True(t, errors.As(err, &verr), "expected *validate.Error, got %v", err)
	return verr.Problems()
}

func TestRecords_Valid(t *testing.T) {
	recs, err := New().Records([]byte("[" + validRecord + "]"))
	require.NoError(t, err)
	require.Len(t, recs, 1)

	r := recs[0]
	require.Equal(t, "inv-1", r.ID)
	require.Equal(t, "TN-1", r.Shipment.TrackingNumber)
	require.Equal(t, "c-1", r.Shipment.Company.ID)
	require.Equal(t, 2.5, r.InvoicedWeight)
	require.True(t, decimal.Zero.Equal(r.InvoicedPrice))
	require.Equal(t, 2024, r.Shipment.CreatedAt.Year())
}

func TestRecords_EmptyArray(t *testing.T) {
	recs, err := New().Records([]byte(`[]`))
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestRecords_NotAnArray(t *testing.T) {
	for _, body := range []string{`{"id":"x"}`, `"str"`, `null`, `not json`} {
		_, err := New().Records([]byte(body))
		ps := problems(t, err)
		require.Len(t, ps, 1, body)
		require.Empty(t, ps[0].Path)
	}
}

func TestRecords_MissingAndInvalidFields(t *testing.T) {
	body := `[
` + validRecord + `,
{
  "id": "inv-2",
  "shipment": {
    "id": "s-2",
    "createdAt": "yesterday",
    "company": {"id": "c-1", "name": "Acme"},
    "provider": "DHL",
    "mode": "EXPORT",
    "originCountry": "CZE",
    "destinationCountry": "SK"
  },
  "invoicedWeight": 0,
  "invoicedPrice": -1
}]`
	_, err := New().Records([]byte(body))
	ps := problems(t, err)

	got := map[string]string{}
	for _, p := range ps {
		got[p.Path] = p.Message
	}
	require.Equal(t, "Invalid datetime", got["1.shipment.createdAt"])
	require.Equal(t, "Required", got["1.shipment.trackingNumber"])
	require.Contains(t, got["1.shipment.provider"], "GLS | DPD | UPS | PPL | FedEx")
	require.Contains(t, got["1.shipment.originCountry"], "exactly 2")
	require.Contains(t, got["1.invoicedWeight"], "greater than 0")
	require.Contains(t, got["1.invoicedPrice"], "greater than or equal to 0")
	for p := range got {
		require.NotEqual(t, byte('0'), p[0], "valid record must not be reported: %s", p)
	}
}

func TestRecords_WrongType(t *testing.T) {
	_, err := New().Records([]byte(`[{"id": 5}]`))
	ps := problems(t, err)
	require.Len(t, ps, 1)
	require.Equal(t, "0.id", ps[0].Path)
	require.Contains(t, ps[0].Message, "Expected string")
}

func TestRecords_NullElement(t *testing.T) {
	_, err := New().Records([]byte(`[null]`))
	ps := problems(t, err)
	require.Equal(t, "0", ps[0].Path)
}

func TestRecords_MaxRecords(t *testing.T) {
	body := "[" + validRecord + "," + validRecord + "]"
	_, err := New().WithMaxRecords(1).Records([]byte(body))
	ps := problems(t, err)
	require.Contains(t, ps[0].Message, "at most 1")

	recs, err := New().WithMaxRecords(0).Records([]byte(body))
	require.NoError(t, err)
	require.Len(t, recs, 2)
}

func TestError_ReportedIsCapped(t *testing.T) {
	items := make([]string, 0, 150)
	for i := 0; i < 150; i++ {
		items = append(items, `{"id": 1}`)
	}
	_, err := New().Records([]byte("[" + strings.Join(items, ",") + "]"))
	var verr *Error
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Problems(), 150)

	got := verr.Reported(MaxReportedProblems)
	require.Len(t, got, MaxReportedProblems+1)
	require.Equal(t, "99.id", got[MaxReportedProblems-1].Path)
	last := got[MaxReportedProblems]
	require.Empty(t, last.Path)
	require.Equal(t, "50 more problem(s) not shown", last.Message)

	require.Len(t, verr.Reported(0), 150)
	require.Len(t, verr.Reported(500), 150)
}
