package store

import (
	"time"

	"monexa/pkg/protocol"
)

// Device status values.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Survey status values.
const (
	SurveyDraft  = "draft"
	SurveyActive = "active"
)

// Launch status values. Completed is terminal.
const (
	LaunchPending   = "pending"
	LaunchStarted   = "started"
	LaunchCompleted = "completed"
)

// Device is the durable record for one managed machine. The device ID is the
// client hostname and is unique per organization, not globally.
type Device struct {
	DeviceID  string    `json:"id" db:"device_id"`
	OrgID     string    `json:"orgId" db:"org_id"`
	Name      string    `json:"name" db:"name"`
	OS        string    `json:"os" db:"os"`
	Status    string    `json:"status" db:"status"`
	LastSeen  time.Time `json:"lastSeen" db:"last_seen"`
	Blocked   bool      `json:"isBlocked" db:"is_blocked"`
	Surveying bool      `json:"isSurveying" db:"is_surveying"`
	RoomID    *string   `json:"roomId,omitempty" db:"room_id"`
}

// Room is a named device grouping within an org. Devices reference rooms
// weakly: deleting a room clears the reference, never the devices.
type Room struct {
	ID    string `json:"id" db:"id"`
	OrgID string `json:"orgId" db:"org_id"`
	Name  string `json:"name" db:"name"`
}

// Survey is an authored questionnaire. Steps are stored as a JSON column.
type Survey struct {
	ID        string          `json:"id" db:"id"`
	OrgID     string          `json:"orgId" db:"org_id"`
	Title     string          `json:"title" db:"title"`
	Status    string          `json:"status" db:"status"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
	Steps     []protocol.Step `json:"steps" db:"steps"`
}

// Launch is one deployment of a survey to a target set.
type Launch struct {
	ID         string    `json:"id" db:"id"`
	SurveyID   string    `json:"surveyId" db:"survey_id"`
	OrgID      string    `json:"orgId" db:"org_id"`
	Targets    []string  `json:"targets" db:"targets"`
	Status     string    `json:"status" db:"status"`
	Style      string    `json:"style,omitempty" db:"style"`
	LaunchedAt time.Time `json:"launchedAt" db:"launched_at"`

	// SurveyTitle is joined in by listing queries; not a column of the
	// launches table.
	SurveyTitle string `json:"surveyTitle,omitempty" db:"-"`
}

// Response is one device's submitted answers for a launch. Immutable once
// inserted; one response per device per launch.
type Response struct {
	ID          string            `json:"id" db:"id"`
	LaunchID    string            `json:"launchId" db:"launch_id"`
	SurveyID    string            `json:"surveyId" db:"survey_id"`
	OrgID       string            `json:"orgId" db:"org_id"`
	DeviceID    string            `json:"deviceId" db:"device_id"`
	SubmittedAt time.Time         `json:"submittedAt" db:"submitted_at"`
	Answers     []protocol.Answer `json:"answers" db:"answers"`
}
