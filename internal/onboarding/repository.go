package onboarding

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/sortify-app/sortify-api/internal/database"
)

// Progress is the in-memory view of a user's wizard record.
type Progress struct {
	UserID         uuid.UUID
	CompletedSteps []Step
	SkippedSteps   []Step
	BusinessTypeID *int64
	Settings       map[string]any
}

// IsCompleted reports whether the step carries a completion marker.
func (p *Progress) IsCompleted(step Step) bool {
	for _, s := range p.CompletedSteps {
		if s == step {
			return true
		}
	}
	return false
}

// IsSkipped reports whether the step was deferred.
func (p *Progress) IsSkipped(step Step) bool {
	for _, s := range p.SkippedSteps {
		if s == step {
			return true
		}
	}
	return false
}

// markCompleted appends a completion marker exactly once, preserving the
// order in which steps were first completed.
func (p *Progress) markCompleted(step Step) {
	if !p.IsCompleted(step) {
		p.CompletedSteps = append(p.CompletedSteps, step)
	}
}

func (p *Progress) markSkipped(step Step) {
	if !p.IsSkipped(step) {
		p.SkippedSteps = append(p.SkippedSteps, step)
	}
}

// mergeSettings overwrites the step's settings fragment, leaving other
// steps' fragments untouched.
func (p *Progress) mergeSettings(step Step, fragment map[string]any) {
	if p.Settings == nil {
		p.Settings = make(map[string]any)
	}
	p.Settings[string(step)] = fragment
}

// Repository persists onboarding progress. Mutations run inside a
// transaction holding a row lock, so two concurrent step completions for
// the same user serialize instead of losing markers.
type Repository struct {
	db *bun.DB
}

func NewRepository(db *bun.DB) *Repository {
	return &Repository{db: db}
}

// Get returns the user's progress, or an empty record when none exists yet.
func (r *Repository) Get(ctx context.Context, userID uuid.UUID) (*Progress, error) {
	row := new(database.OnboardingProgress)
	err := r.db.NewSelect().
		Model(row).
		Where("user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &Progress{UserID: userID}, nil
		}
		return nil, fmt.Errorf("failed to get onboarding progress: %w: %w", database.ErrUnavailable, err)
	}

	return mapRowToProgress(row), nil
}

// Update loads the progress under a row lock, applies fn, and upserts the
// result. fn returning an error aborts the transaction unchanged.
func (r *Repository) Update(ctx context.Context, userID uuid.UUID, fn func(p *Progress) error) (*Progress, error) {
	var updated *Progress

	err := r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		row := new(database.OnboardingProgress)
		err := tx.NewSelect().
			Model(row).
			Where("user_id = ?", userID).
			For("UPDATE").
			Scan(ctx)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		var progress *Progress
		if errors.Is(err, sql.ErrNoRows) {
			progress = &Progress{UserID: userID}
		} else {
			progress = mapRowToProgress(row)
		}

		if err := fn(progress); err != nil {
			return err
		}

		saved := mapProgressToRow(progress)
		_, err = tx.NewInsert().
			Model(saved).
			On("CONFLICT (user_id) DO UPDATE").
			Set("completed_steps = EXCLUDED.completed_steps").
			Set("skipped_steps = EXCLUDED.skipped_steps").
			Set("business_type_id = EXCLUDED.business_type_id").
			Set("settings = EXCLUDED.settings").
			Set("updated_at = NOW()").
			Exec(ctx)
		if err != nil {
			return err
		}

		updated = progress
		return nil
	})
	if err != nil {
		// Domain errors from fn pass through untouched; only driver
		// failures are wrapped as unavailability.
		if isDomainError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update onboarding progress: %w: %w", database.ErrUnavailable, err)
	}

	return updated, nil
}

func isDomainError(err error) bool {
	return errors.Is(err, ErrUnknownStep) ||
		errors.Is(err, ErrStepOutOfOrder) ||
		errors.Is(err, ErrStepNotCompletable) ||
		errors.Is(err, ErrStepNotSkippable) ||
		errors.Is(err, ErrInvalidPayload) ||
		errors.Is(err, ErrBusinessTypeNotFound)
}

func mapRowToProgress(row *database.OnboardingProgress) *Progress {
	p := &Progress{
		UserID:         row.UserID,
		BusinessTypeID: row.BusinessTypeID,
		Settings:       row.Settings,
	}
	for _, s := range row.CompletedSteps {
		p.CompletedSteps = append(p.CompletedSteps, Step(s))
	}
	for _, s := range row.SkippedSteps {
		p.SkippedSteps = append(p.SkippedSteps, Step(s))
	}
	return p
}

func mapProgressToRow(p *Progress) *database.OnboardingProgress {
	row := &database.OnboardingProgress{
		UserID:         p.UserID,
		BusinessTypeID: p.BusinessTypeID,
		Settings:       p.Settings,
	}
	for _, s := range p.CompletedSteps {
		row.CompletedSteps = append(row.CompletedSteps, string(s))
	}
	for _, s := range p.SkippedSteps {
		row.SkippedSteps = append(row.SkippedSteps, string(s))
	}
	return row
}
