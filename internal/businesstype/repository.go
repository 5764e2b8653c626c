// Package businesstype exposes the seeded business type catalog. Default
// categories are a starting point copied into a user's onboarding settings
// at selection time; later catalog edits never touch existing users.
package businesstype

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/sortify-app/sortify-api/internal/database"
)

var ErrNotFound = errors.New("business type not found")

type BusinessType struct {
	ID                int64    `json:"id"`
	Name              string   `json:"name"`
	DefaultCategories []string `json:"default_categories"`
}

type Repository struct {
	db *bun.DB
}

func NewRepository(db *bun.DB) *Repository {
	return &Repository{db: db}
}

// List returns all business types ordered by id
func (r *Repository) List(ctx context.Context) ([]BusinessType, error) {
	var rows []database.BusinessType
	err := r.db.NewSelect().
		Model(&rows).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list business types: %w", err)
	}

	types := make([]BusinessType, 0, len(rows))
	for i := range rows {
		types = append(types, mapRow(&rows[i]))
	}
	return types, nil
}

// GetByID returns a single business type
func (r *Repository) GetByID(ctx context.Context, id int64) (*BusinessType, error) {
	row := new(database.BusinessType)
	err := r.db.NewSelect().
		Model(row).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get business type: %w", err)
	}

	bt := mapRow(row)
	return &bt, nil
}

func mapRow(row *database.BusinessType) BusinessType {
	return BusinessType{
		ID:                row.ID,
		Name:              row.Name,
		DefaultCategories: row.DefaultCategories,
	}
}
