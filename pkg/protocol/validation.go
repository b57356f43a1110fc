package protocol

import "regexp"

var deviceIDRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9._-]*[a-zA-Z0-9])?$`)

// IsValidDeviceID checks a device identifier. Device IDs are derived from
// hostnames on the client, so the format follows hostname rules.
func IsValidDeviceID(deviceID string) bool {
	if len(deviceID) < 1 || len(deviceID) > 253 {
		return false
	}
	return deviceIDRegex.MatchString(deviceID)
}

// IsValidOrgID checks an organization identifier.
func IsValidOrgID(orgID string) bool {
	return len(orgID) >= 1 && len(orgID) <= 100
}

// Validate checks a register payload before it touches the identity store.
func (p *RegisterPayload) Validate() error {
	if !IsValidDeviceID(p.ID) {
		return ErrInvalidDeviceID
	}
	if !IsValidOrgID(p.OrgID) {
		return ErrInvalidOrgID
	}
	return nil
}

// ValidateSteps checks a survey question list. Multiple choice questions need
// at least two options; other types must not carry options.
func ValidateSteps(steps []Step) error {
	if len(steps) == 0 {
		return ErrInvalidStep
	}
	for _, step := range steps {
		if step.ID == "" || step.Question == "" {
			return ErrInvalidStep
		}
		switch step.Type {
		case QuestionMultipleChoice:
			if len(step.Options) < 2 {
				return ErrInvalidStep
			}
		case QuestionStarRating, QuestionOpenParagraph:
			if len(step.Options) != 0 {
				return ErrInvalidStep
			}
		default:
			return ErrInvalidStep
		}
	}
	return nil
}

// ValidateAnswers checks that every answer references a question of the
// survey and that all required questions are answered.
func ValidateAnswers(steps []Step, answers []Answer) error {
	byID := make(map[string]Step, len(steps))
	for _, step := range steps {
		byID[step.ID] = step
	}
	answered := make(map[string]bool, len(answers))
	for _, ans := range answers {
		if _, ok := byID[ans.QuestionID]; !ok {
			return ErrInvalidAnswer
		}
		answered[ans.QuestionID] = true
	}
	for _, step := range steps {
		if step.Required && !answered[step.ID] {
			return ErrInvalidAnswer
		}
	}
	return nil
}
