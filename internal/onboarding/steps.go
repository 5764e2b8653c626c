package onboarding

// Step identifies one unit of the onboarding wizard.
type Step string

const (
	StepWelcome           Step = "welcome"
	StepBusinessType      Step = "business-type"
	StepEmailProvider     Step = "email-provider"
	StepLabelMapping      Step = "label-mapping"
	StepTeamNotifications Step = "team-notifications"
	StepReview            Step = "review"

	// StepComplete is the terminal marker returned once every step is
	// satisfied. It is never completed or skipped itself.
	StepComplete Step = "complete"
)

// stepOrder is the canonical wizard sequence. Gating and next-step
// derivation both walk this slice; there is no other ordering source.
var stepOrder = []Step{
	StepWelcome,
	StepBusinessType,
	StepEmailProvider,
	StepLabelMapping,
	StepTeamNotifications,
	StepReview,
}

// skippableSteps may be deferred. Skipping defers the step without
// satisfying downstream gates: label-mapping still blocks until a provider
// is actually connected.
var skippableSteps = map[Step]bool{
	StepEmailProvider:     true,
	StepTeamNotifications: true,
}

// directSteps are completed through an explicit request. email-provider is
// absent: its completion is derived from an ACTIVE connection, never from a
// stored flag.
var directSteps = map[Step]bool{
	StepWelcome:           true,
	StepBusinessType:      true,
	StepLabelMapping:      true,
	StepTeamNotifications: true,
	StepReview:            true,
}

// ParseStep validates a step identifier from the wire.
func ParseStep(raw string) (Step, error) {
	s := Step(raw)
	for _, known := range stepOrder {
		if s == known {
			return s, nil
		}
	}
	return "", ErrUnknownStep
}

// stepsBefore returns the canonical steps strictly before the given step.
func stepsBefore(step Step) []Step {
	for i, s := range stepOrder {
		if s == step {
			return stepOrder[:i]
		}
	}
	return nil
}
