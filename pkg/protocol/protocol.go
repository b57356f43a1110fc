package protocol

import "encoding/json"

// Device-originated events.
const (
	EventRegisterComputer     = "registerComputer"
	EventHeartbeat            = "heartbeat"
	EventValidateOrg          = "validateOrg"
	EventSetSurveying         = "setSurveying"
	EventSubmitSurveyResponse = "submitSurveyResponse"
)

// Server-originated events delivered to devices.
const (
	EventSetBlocked   = "setBlocked"
	EventSurveyLaunch = "surveyLaunch"
	EventSurveyStart  = "surveyStart"
	EventSurveyCancel = "surveyCancel"
	EventError        = "error"
)

// Operator (dashboard) events, carried over the same transport as device
// events but only accepted on operator sessions.
const (
	EventLaunchSurvey = "launchSurvey"
	EventStartSurvey  = "startSurvey"
	EventCancelSurvey = "cancelSurvey"

	// EventRoutingReport acknowledges an operator command with the fan-out
	// outcome so the dashboard can warn about unreachable targets.
	EventRoutingReport = "routingReport"
)

// Question step types, matching the survey wizard vocabulary.
const (
	QuestionStarRating     = "star_rating"
	QuestionOpenParagraph  = "open_paragraph"
	QuestionMultipleChoice = "multiple_choice"
)

// Envelope is the wire frame for every message in both directions: a named
// event plus a JSON payload.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an Envelope for event. A nil payload
// produces an envelope with no payload field (heartbeat, for example).
func NewEnvelope(event string, payload any) (Envelope, error) {
	env := Envelope{Event: event}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, ErrInvalidPayload
	}
	env.Payload = data
	return env, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return ErrInvalidPayload
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return ErrInvalidPayload
	}
	return nil
}

// RegisterPayload binds a session to a device identity.
type RegisterPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	OS    string `json:"os"`
	OrgID string `json:"orgId"`
}

// ValidateOrgPayload is the read-only pre-registration org check.
type ValidateOrgPayload struct {
	OrgID string `json:"orgId"`
}

// OrgValidity is the callback response to validateOrg.
type OrgValidity struct {
	IsValid bool `json:"isValid"`
}

// SetSurveyingPayload reports whether the device currently shows a survey
// window.
type SetSurveyingPayload struct {
	IsSurveying bool `json:"isSurveying"`
}

// Answer is one answered question in a survey response.
type Answer struct {
	QuestionID string `json:"questionId"`
	Value      string `json:"value"`
}

// SubmitResponsePayload carries a completed survey from a device. The device
// identity is taken from the session binding, never from the payload.
type SubmitResponsePayload struct {
	LaunchID string   `json:"launchId"`
	SurveyID string   `json:"surveyId"`
	Answers  []Answer `json:"answers"`
}

// Step is one question of a survey as delivered to devices on surveyStart.
type Step struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Question string   `json:"question"`
	Required bool     `json:"required"`
	Options  []string `json:"options,omitempty"`
}

// SurveyLaunchPayload announces an upcoming survey. Questions are withheld
// until surveyStart so devices show a waiting screen first.
type SurveyLaunchPayload struct {
	SurveyID    string `json:"surveyId"`
	LaunchID    string `json:"launchId"`
	SurveyTitle string `json:"surveyTitle"`
	Style       string `json:"style,omitempty"`
}

// SurveyStartPayload delivers the full question list for a started launch.
type SurveyStartPayload struct {
	SurveyID string `json:"surveyId"`
	LaunchID string `json:"launchId"`
	Steps    []Step `json:"steps"`
	Style    string `json:"style,omitempty"`
}

// SurveyCancelPayload tears down the waiting screen for a pending launch.
type SurveyCancelPayload struct {
	LaunchID string `json:"launchId"`
}

// ErrorPayload is sent to a session before closing it on a fatal protocol
// error.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// LaunchSurveyPayload is the operator request to deploy a survey. Targets are
// device IDs; Rooms are room IDs expanded to their members at routing time.
type LaunchSurveyPayload struct {
	SurveyID string   `json:"surveyId"`
	Targets  []string `json:"targets,omitempty"`
	Rooms    []string `json:"rooms,omitempty"`
	Style    string   `json:"style,omitempty"`
}

// StartSurveyPayload moves a pending launch to started.
type StartSurveyPayload struct {
	LaunchID string `json:"launchId"`
}

// CancelSurveyPayload cancels a pending launch.
type CancelSurveyPayload struct {
	LaunchID string `json:"launchId"`
}

// RoutingReportPayload is the operator acknowledgement for a fan-out.
type RoutingReportPayload struct {
	LaunchID    string   `json:"launchId,omitempty"`
	Delivered   []string `json:"delivered"`
	Unreachable []string `json:"unreachable"`
}

// NewSetBlocked builds the setBlocked command. The payload is the bare
// boolean, matching the original desktop client contract.
func NewSetBlocked(blocked bool) Envelope {
	env, _ := NewEnvelope(EventSetBlocked, blocked)
	return env
}
