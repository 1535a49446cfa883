package pginvoices

import (
	"context"

	"github.com/BearBump/InvoiceBox/internal/models"
	"github.com/pkg/errors"
)

func (s *Storage) UpsertCompany(ctx context.Context, in models.CompanyInput) (*models.Company, error) {
	var c models.Company
	err := s.db.QueryRow(ctx, `
INSERT INTO companies (id, name)
VALUES ($1, $2)
ON CONFLICT (id)
DO UPDATE SET name = EXCLUDED.name
RETURNING id, name, created_at
`, in.ID, in.Name).Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "upsert company")
	}
	return &c, nil
}

func (s *Storage) ListCompanies(ctx context.Context) ([]*models.Company, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name, created_at FROM companies ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "select companies")
	}
	defer rows.Close()

	out := []*models.Company{}
	for rows.Next() {
		var c models.Company
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan company")
		}
		out = append(out, &c)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
