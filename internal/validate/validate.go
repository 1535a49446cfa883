// Package validate checks the structure of an upload body before any record is processed.
package validate

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/BearBump/InvoiceBox/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"github.com/shopspring/decimal"
)

// Message is the error message reported to clients on any structural problem.
const Message = "Invalid invoice data structure"

// MaxReportedProblems bounds the details sent back for one body. A large upload can
// fail on every record; the full list would not fit into one event frame.
const MaxReportedProblems = 100

// FieldError is a single problem, addressed by a dotted path from the array root
// (e.g. "3.shipment.provider").
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// Error aggregates every FieldError found in a body.
type Error struct {
	merr *multierror.Error
}

func (e *Error) Error() string {
	return e.merr.Error()
}

func (e *Error) Unwrap() error {
	return e.merr
}

// Problems returns the field errors in the order they were found.
func (e *Error) Problems() []FieldError {
	out := make([]FieldError, 0, len(e.merr.Errors))
	for _, err := range e.merr.Errors {
		if fe, ok := err.(*FieldError); ok {
			out = append(out, *fe)
		}
	}
	return out
}

// Reported returns at most limit problems. When some are left out, a last entry
// without a path says how many. limit <= 0 returns all of them.
func (e *Error) Reported(limit int) []FieldError {
	all := e.Problems()
	if limit <= 0 || len(all) <= limit {
		return all
	}
	out := append(all[:limit:limit], FieldError{
		Message: fmt.Sprintf("%d more problem(s) not shown", len(all)-limit),
	})
	return out
}

type recordDTO struct {
	ID             *string      `json:"id" validate:"required"`
	Shipment       *shipmentDTO `json:"shipment" validate:"required"`
	InvoicedWeight *float64     `json:"invoicedWeight" validate:"required,gt=0"`
	InvoicedPrice  *float64     `json:"invoicedPrice" validate:"required,gte=0"`
}

type shipmentDTO struct {
	ID                 *string     `json:"id" validate:"required"`
	CreatedAt          *string     `json:"createdAt" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	TrackingNumber     *string     `json:"trackingNumber" validate:"required"`
	Company            *companyDTO `json:"company" validate:"required"`
	Provider           *string     `json:"provider" validate:"required,oneof=GLS DPD UPS PPL FedEx"`
	Mode               *string     `json:"mode" validate:"required,oneof=EXPORT IMPORT"`
	OriginCountry      *string     `json:"originCountry" validate:"required,len=2"`
	DestinationCountry *string     `json:"destinationCountry" validate:"required,len=2"`
}

type companyDTO struct {
	ID   *string `json:"id" validate:"required"`
	Name *string `json:"name" validate:"required"`
}

type Validator struct {
	v          *validator.Validate
	maxRecords int
}

func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{v: v}
}

// WithMaxRecords caps the array length. n <= 0 keeps it unbounded.
func (val *Validator) WithMaxRecords(n int) *Validator {
	if n > 0 {
		val.maxRecords = n
	}
	return val
}

// Records decodes body as an array of invoice records. Any problem yields *Error and
// no records.
func (val *Validator) Records(body []byte) ([]models.InvoiceRecord, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fail(&FieldError{Message: "Expected array of invoice records"})
	}
	if raw == nil {
		return nil, fail(&FieldError{Message: "Expected array, received null"})
	}
	if val.maxRecords > 0 && len(raw) > val.maxRecords {
		return nil, fail(&FieldError{Message: fmt.Sprintf("Array must contain at most %d element(s)", val.maxRecords)})
	}

	var merr *multierror.Error
	out := make([]models.InvoiceRecord, 0, len(raw))
	for i, item := range raw {
		if string(item) == "null" {
			merr = multierror.Append(merr, &FieldError{Path: fmt.Sprint(i), Message: "Expected object, received null"})
			continue
		}
		var dto recordDTO
		if err := json.Unmarshal(item, &dto); err != nil {
			merr = multierror.Append(merr, decodeProblem(i, err))
			continue
		}
		if err := val.v.Struct(&dto); err != nil {
			verrs, ok := err.(validator.ValidationErrors)
			if !ok {
				merr = multierror.Append(merr, &FieldError{Path: fmt.Sprint(i), Message: err.Error()})
				continue
			}
			for _, fe := range verrs {
				merr = multierror.Append(merr, &FieldError{
					Path:    fmt.Sprintf("%d.%s", i, stripPrefix(fe.Namespace())),
					Message: message(fe),
				})
			}
			continue
		}
		out = append(out, dto.toModel())
	}

	if merr != nil {
		return nil, &Error{merr: merr}
	}
	return out, nil
}

func (d *recordDTO) toModel() models.InvoiceRecord {
	s := d.Shipment
	// формат уже проверен тегом datetime
	createdAt, _ := time.Parse(time.RFC3339Nano, *s.CreatedAt)
	return models.InvoiceRecord{
		ID: *d.ID,
		Shipment: models.ShipmentInput{
			ID:             *s.ID,
			CreatedAt:      createdAt.UTC(),
			TrackingNumber: *s.TrackingNumber,
			Company: models.CompanyInput{
				ID:   *s.Company.ID,
				Name: *s.Company.Name,
			},
			Provider:           *s.Provider,
			Mode:               *s.Mode,
			OriginCountry:      *s.OriginCountry,
			DestinationCountry: *s.DestinationCountry,
		},
		InvoicedWeight: *d.InvoicedWeight,
		InvoicedPrice:  decimal.NewFromFloat(*d.InvoicedPrice),
	}
}

func fail(fe *FieldError) *Error {
	return &Error{merr: multierror.Append(nil, fe)}
}

func decodeProblem(i int, err error) *FieldError {
	if te, ok := err.(*json.UnmarshalTypeError); ok {
		path := fmt.Sprint(i)
		if te.Field != "" {
			path += "." + te.Field
		}
		return &FieldError{Path: path, Message: fmt.Sprintf("Expected %s, received %s", jsonKind(te.Type), te.Value)}
	}
	return &FieldError{Path: fmt.Sprint(i), Message: "Expected object"}
}

func jsonKind(t reflect.Type) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Float64:
		return "number"
	case reflect.Struct:
		return "object"
	default:
		return t.Kind().String()
	}
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "Required"
	case "oneof":
		return "Invalid enum value. Expected " + strings.Join(strings.Fields(fe.Param()), " | ")
	case "len":
		return fmt.Sprintf("String must contain exactly %s character(s)", fe.Param())
	case "gt":
		return fmt.Sprintf("Number must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("Number must be greater than or equal to %s", fe.Param())
	case "datetime":
		return "Invalid datetime"
	default:
		return fmt.Sprintf("Failed on %q", fe.Tag())
	}
}

func stripPrefix(s string) string {
	if idx := strings.Index(s, "."); idx != -1 {
		return s[idx+1:]
	}
	return s
}
