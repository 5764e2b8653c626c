package onboarding

import (
	"encoding/json"
	"fmt"
	"net/mail"
)

// Per-step payload shapes, validated at the boundary before anything
// reaches the settings blob.

// BusinessTypePayload selects the user's business type.
type BusinessTypePayload struct {
	BusinessTypeID int64 `json:"businessTypeId"`
}

func (p *BusinessTypePayload) Validate() error {
	if p.BusinessTypeID <= 0 {
		return fmt.Errorf("%w: businessTypeId is required", ErrInvalidPayload)
	}
	return nil
}

// LabelMappingPayload maps the user's categories to provider labels.
type LabelMappingPayload struct {
	Mappings map[string]string `json:"mappings"`
}

func (p *LabelMappingPayload) Validate() error {
	if len(p.Mappings) == 0 {
		return fmt.Errorf("%w: at least one label mapping is required", ErrInvalidPayload)
	}
	for category, label := range p.Mappings {
		if category == "" || label == "" {
			return fmt.Errorf("%w: empty category or label in mapping", ErrInvalidPayload)
		}
	}
	return nil
}

// TeamNotificationsPayload lists who gets notified.
type TeamNotificationsPayload struct {
	Recipients []string `json:"recipients"`
}

func (p *TeamNotificationsPayload) Validate() error {
	if len(p.Recipients) == 0 {
		return fmt.Errorf("%w: at least one recipient is required", ErrInvalidPayload)
	}
	for _, addr := range p.Recipients {
		if _, err := mail.ParseAddress(addr); err != nil {
			return fmt.Errorf("%w: invalid recipient %q", ErrInvalidPayload, addr)
		}
	}
	return nil
}

// ReviewPayload confirms the final review. Acknowledgement is explicit so
// an accidental empty POST cannot finish onboarding.
type ReviewPayload struct {
	Confirmed bool `json:"confirmed"`
}

func (p *ReviewPayload) Validate() error {
	if !p.Confirmed {
		return fmt.Errorf("%w: review must be confirmed", ErrInvalidPayload)
	}
	return nil
}

// decodeStepPayload parses and validates the body for a step, returning the
// settings fragment to merge under the step's key. Steps without a payload
// (welcome) accept an empty body.
func decodeStepPayload(step Step, raw []byte) (map[string]any, error) {
	switch step {
	case StepWelcome:
		return map[string]any{}, nil

	case StepBusinessType:
		var p BusinessTypePayload
		if err := unmarshalStrict(raw, &p); err != nil {
			return nil, err
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		return map[string]any{"businessTypeId": p.BusinessTypeID}, nil

	case StepLabelMapping:
		var p LabelMappingPayload
		if err := unmarshalStrict(raw, &p); err != nil {
			return nil, err
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		mappings := make(map[string]any, len(p.Mappings))
		for k, v := range p.Mappings {
			mappings[k] = v
		}
		return map[string]any{"mappings": mappings}, nil

	case StepTeamNotifications:
		var p TeamNotificationsPayload
		if err := unmarshalStrict(raw, &p); err != nil {
			return nil, err
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		recipients := make([]any, len(p.Recipients))
		for i, r := range p.Recipients {
			recipients[i] = r
		}
		return map[string]any{"recipients": recipients}, nil

	case StepReview:
		var p ReviewPayload
		if err := unmarshalStrict(raw, &p); err != nil {
			return nil, err
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		return map[string]any{"confirmed": true}, nil
	}

	return nil, ErrStepNotCompletable
}

func unmarshalStrict(raw []byte, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: request body is required", ErrInvalidPayload)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
