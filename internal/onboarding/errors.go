package onboarding

import "errors"

var (
	// ErrUnknownStep means the step identifier is not part of the wizard.
	ErrUnknownStep = errors.New("unknown onboarding step")

	// ErrStepOutOfOrder means an earlier required step is not yet
	// satisfied. A client logic error; retrying without completing the
	// prerequisite first will fail the same way.
	ErrStepOutOfOrder = errors.New("step out of order")

	// ErrStepNotCompletable means the step cannot be completed through a
	// direct request. The email-provider step is derived from connection
	// status and `complete` is a terminal marker, not a step.
	ErrStepNotCompletable = errors.New("step cannot be completed directly")

	// ErrStepNotSkippable means the step must be completed, not skipped.
	ErrStepNotSkippable = errors.New("step cannot be skipped")

	// ErrInvalidPayload means the step payload failed validation.
	ErrInvalidPayload = errors.New("invalid step payload")

	// ErrBusinessTypeNotFound means the selected business type id does not
	// exist.
	ErrBusinessTypeNotFound = errors.New("business type not found")
)
