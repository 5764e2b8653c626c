package onboarding

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/sortify-app/sortify-api/internal/businesstype"
	"github.com/sortify-app/sortify-api/internal/logging"
	"github.com/sortify-app/sortify-api/internal/metrics"
)

// ProgressStore is what the service needs from progress persistence.
type ProgressStore interface {
	Get(ctx context.Context, userID uuid.UUID) (*Progress, error)
	Update(ctx context.Context, userID uuid.UUID, fn func(p *Progress) error) (*Progress, error)
}

// ConnectionSource answers whether a user holds a live provider connection.
// The email-provider step's completion is derived from this, never stored.
type ConnectionSource interface {
	HasActiveConnection(ctx context.Context, userID uuid.UUID) (bool, error)
}

// BusinessTypeSource resolves business type selections.
type BusinessTypeSource interface {
	GetByID(ctx context.Context, id int64) (*businesstype.BusinessType, error)
}

// UserFlagStore flips the user's onboarding-completed flag.
type UserFlagStore interface {
	MarkOnboardingCompleted(ctx context.Context, userID uuid.UUID) error
}

// Status is the authoritative onboarding envelope. Every mutation returns a
// freshly derived one so clients never trust their own idea of progress.
type Status struct {
	NextStep               Step           `json:"nextStep"`
	CompletedSteps         []Step         `json:"completedSteps"`
	SkippedSteps           []Step         `json:"skippedSteps"`
	BusinessTypeID         *int64         `json:"businessTypeId"`
	EmailProviderConnected bool           `json:"emailProviderConnected"`
	Settings               map[string]any `json:"settings"`
}

// Service implements the onboarding progression state machine.
type Service struct {
	store         ProgressStore
	connections   ConnectionSource
	businessTypes BusinessTypeSource
	users         UserFlagStore
	logger        *logging.Logger
	metrics       metrics.Recorder
}

func NewService(store ProgressStore, connections ConnectionSource, businessTypes BusinessTypeSource, users UserFlagStore, logger *logging.Logger, recorder metrics.Recorder) *Service {
	return &Service{
		store:         store,
		connections:   connections,
		businessTypes: businessTypes,
		users:         users,
		logger:        logger,
		metrics:       recorder,
	}
}

// satisfied reports whether a step no longer blocks next-step derivation.
// A skipped step is satisfied for derivation but NOT for gating; callers
// that gate on a live connection must check connected directly.
func satisfied(step Step, p *Progress, connected bool) bool {
	switch step {
	case StepEmailProvider:
		return connected || p.IsSkipped(step)
	case StepLabelMapping:
		// Without a connection there is nothing to map. When the
		// provider step was skipped the mapping step is implicitly
		// deferred with it.
		if !connected && p.IsSkipped(StepEmailProvider) {
			return true
		}
		return p.IsCompleted(step)
	default:
		return p.IsCompleted(step) || p.IsSkipped(step)
	}
}

// nextStep walks the canonical order and returns the first unsatisfied step.
func nextStep(p *Progress, connected bool) Step {
	for _, step := range stepOrder {
		if !satisfied(step, p, connected) {
			return step
		}
	}
	return StepComplete
}

// checkPrerequisites verifies every step strictly before the target is
// satisfied, plus the live-connection gate for label-mapping.
func checkPrerequisites(step Step, p *Progress, connected bool) error {
	for _, prior := range stepsBefore(step) {
		if !satisfied(prior, p, connected) {
			return fmt.Errorf("%w: %s requires %s first", ErrStepOutOfOrder, step, prior)
		}
	}
	// Skipping the provider defers label-mapping; it never unlocks it.
	if step == StepLabelMapping && !connected {
		return fmt.Errorf("%w: label-mapping requires a connected email provider", ErrStepOutOfOrder)
	}
	return nil
}

// Status derives the authoritative envelope from stored progress and the
// live connection state. It never writes.
func (s *Service) Status(ctx context.Context, userID uuid.UUID) (*Status, error) {
	progress, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	connected, err := s.connections.HasActiveConnection(ctx, userID)
	if err != nil {
		return nil, err
	}

	return buildStatus(progress, connected), nil
}

// finishStep derives the fresh envelope after a mutation and flips the
// user's onboarding-completed flag the first time everything is satisfied.
// The flag flip lives here, not in Status: status reads never mutate.
func (s *Service) finishStep(ctx context.Context, progress *Progress, connected bool) (*Status, error) {
	status := buildStatus(progress, connected)

	if status.NextStep == StepComplete {
		if err := s.users.MarkOnboardingCompleted(ctx, progress.UserID); err != nil {
			return nil, err
		}
	}

	return status, nil
}

func buildStatus(progress *Progress, connected bool) *Status {
	status := &Status{
		NextStep:               nextStep(progress, connected),
		CompletedSteps:         progress.CompletedSteps,
		SkippedSteps:           progress.SkippedSteps,
		BusinessTypeID:         progress.BusinessTypeID,
		EmailProviderConnected: connected,
		Settings:               progress.Settings,
	}
	if status.CompletedSteps == nil {
		status.CompletedSteps = []Step{}
	}
	if status.SkippedSteps == nil {
		status.SkippedSteps = []Step{}
	}
	if status.Settings == nil {
		status.Settings = map[string]any{}
	}
	return status
}

// CompleteStep validates ordering and payload, merges the payload fragment
// into settings under the step's key, and records the completion marker.
// Idempotent: re-completing overwrites the fragment without duplicating
// markers or reordering history.
func (s *Service) CompleteStep(ctx context.Context, userID uuid.UUID, step Step, rawPayload []byte) (*Status, error) {
	if !directSteps[step] {
		if step == StepEmailProvider || step == StepComplete {
			return nil, ErrStepNotCompletable
		}
		return nil, ErrUnknownStep
	}

	if step == StepBusinessType {
		var p BusinessTypePayload
		if err := unmarshalStrict(rawPayload, &p); err != nil {
			return nil, err
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		return s.SelectBusinessType(ctx, userID, p.BusinessTypeID)
	}

	fragment, err := decodeStepPayload(step, rawPayload)
	if err != nil {
		return nil, err
	}

	connected, err := s.connections.HasActiveConnection(ctx, userID)
	if err != nil {
		return nil, err
	}

	progress, err := s.store.Update(ctx, userID, func(p *Progress) error {
		if err := checkPrerequisites(step, p, connected); err != nil {
			return err
		}
		p.mergeSettings(step, fragment)
		p.markCompleted(step)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordStepCompleted(string(step))
	s.logger.WithFields(map[string]any{
		"user_id": userID,
		"step":    step,
	}).Info("onboarding step completed")

	return s.finishStep(ctx, progress, connected)
}

// SelectBusinessType completes the business-type step and copies the
// type's default categories into settings. The copy is taken at selection
// time; later edits to the catalog never propagate into it. Re-selecting a
// different type re-seeds, consistent with step re-completion overwriting
// that step's settings.
func (s *Service) SelectBusinessType(ctx context.Context, userID uuid.UUID, businessTypeID int64) (*Status, error) {
	bt, err := s.businessTypes.GetByID(ctx, businessTypeID)
	if err != nil {
		if errors.Is(err, businesstype.ErrNotFound) {
			return nil, ErrBusinessTypeNotFound
		}
		return nil, err
	}

	connected, err := s.connections.HasActiveConnection(ctx, userID)
	if err != nil {
		return nil, err
	}

	progress, err := s.store.Update(ctx, userID, func(p *Progress) error {
		if err := checkPrerequisites(StepBusinessType, p, connected); err != nil {
			return err
		}

		categories := make([]any, len(bt.DefaultCategories))
		for i, c := range bt.DefaultCategories {
			categories[i] = c
		}

		p.BusinessTypeID = &bt.ID
		p.mergeSettings(StepBusinessType, map[string]any{
			"businessTypeId": bt.ID,
			"categories":     categories,
		})
		p.markCompleted(StepBusinessType)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordStepCompleted(string(StepBusinessType))
	s.logger.WithFields(map[string]any{
		"user_id":          userID,
		"business_type_id": businessTypeID,
	}).Info("business type selected")

	return s.finishStep(ctx, progress, connected)
}

// SkipStep defers a skippable step. It records a skip marker, never a
// completion one, so gated downstream steps keep treating it as incomplete.
func (s *Service) SkipStep(ctx context.Context, userID uuid.UUID, step Step) (*Status, error) {
	if _, err := ParseStep(string(step)); err != nil {
		return nil, err
	}
	if !skippableSteps[step] {
		return nil, fmt.Errorf("%w: %s", ErrStepNotSkippable, step)
	}

	connected, err := s.connections.HasActiveConnection(ctx, userID)
	if err != nil {
		return nil, err
	}

	progress, err := s.store.Update(ctx, userID, func(p *Progress) error {
		if err := checkPrerequisitesForSkip(step, p, connected); err != nil {
			return err
		}
		p.markSkipped(step)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]any{
		"user_id": userID,
		"step":    step,
	}).Info("onboarding step skipped")

	return s.finishStep(ctx, progress, connected)
}

// checkPrerequisitesForSkip gates skipping the same way as completion,
// minus the live-connection requirement: deferring label-mapping-adjacent
// steps must stay possible without a connection.
func checkPrerequisitesForSkip(step Step, p *Progress, connected bool) error {
	for _, prior := range stepsBefore(step) {
		if !satisfied(prior, p, connected) {
			return fmt.Errorf("%w: %s requires %s first", ErrStepOutOfOrder, step, prior)
		}
	}
	return nil
}
