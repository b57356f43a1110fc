package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(EventValidateOrg, ValidateOrgPayload{OrgID: "org-1"})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Envelope
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Event != EventValidateOrg {
		t.Errorf("event = %q, want %q", decoded.Event, EventValidateOrg)
	}
	var payload ValidateOrgPayload
	if err := decoded.Decode(&payload); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if payload.OrgID != "org-1" {
		t.Errorf("orgId = %q, want org-1", payload.OrgID)
	}
}

func TestEnvelopeNilPayload(t *testing.T) {
	env, err := NewEnvelope(EventHeartbeat, nil)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"event":"heartbeat"}` {
		t.Errorf("wire form = %s, want payload omitted", data)
	}

	var payload ValidateOrgPayload
	if err := env.Decode(&payload); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("Decode on empty payload = %v, want ErrInvalidPayload", err)
	}
}

func TestNewSetBlockedBareBool(t *testing.T) {
	data, err := json.Marshal(NewSetBlocked(true))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"event":"setBlocked","payload":true}` {
		t.Errorf("wire form = %s", data)
	}
}

func TestIsValidDeviceID(t *testing.T) {
	valid := []string{"a", "host-1", "lab.room2.pc03", "A1_b2", "0"}
	for _, id := range valid {
		if !IsValidDeviceID(id) {
			t.Errorf("IsValidDeviceID(%q) = false, want true", id)
		}
	}
	invalid := []string{"", "-lead", "trail-", ".dot", "has space", "bad!char"}
	for _, id := range invalid {
		if IsValidDeviceID(id) {
			t.Errorf("IsValidDeviceID(%q) = true, want false", id)
		}
	}

	long := make([]byte, 254)
	for i := range long {
		long[i] = 'a'
	}
	if IsValidDeviceID(string(long)) {
		t.Error("254-char device id accepted")
	}
	if !IsValidDeviceID(string(long[:253])) {
		t.Error("253-char device id rejected")
	}
}

func TestRegisterPayloadValidate(t *testing.T) {
	p := RegisterPayload{ID: "host-1", Name: "Lab PC", OS: "windows", OrgID: "org-1"}
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	p.ID = "bad id"
	if err := p.Validate(); !errors.Is(err, ErrInvalidDeviceID) {
		t.Errorf("bad device id: %v, want ErrInvalidDeviceID", err)
	}

	p.ID = "host-1"
	p.OrgID = ""
	if err := p.Validate(); !errors.Is(err, ErrInvalidOrgID) {
		t.Errorf("empty org: %v, want ErrInvalidOrgID", err)
	}
}

func TestValidateSteps(t *testing.T) {
	good := []Step{
		{ID: "q1", Type: QuestionStarRating, Question: "Rate the class", Required: true},
		{ID: "q2", Type: QuestionOpenParagraph, Question: "Any comments?"},
		{ID: "q3", Type: QuestionMultipleChoice, Question: "Pick one", Options: []string{"a", "b"}},
	}
	if err := ValidateSteps(good); err != nil {
		t.Fatalf("ValidateSteps: %v", err)
	}

	cases := map[string][]Step{
		"empty list":        {},
		"missing id":        {{Type: QuestionStarRating, Question: "q"}},
		"missing question":  {{ID: "q1", Type: QuestionStarRating}},
		"unknown type":      {{ID: "q1", Type: "slider", Question: "q"}},
		"one choice option": {{ID: "q1", Type: QuestionMultipleChoice, Question: "q", Options: []string{"a"}}},
		"rating w/ options": {{ID: "q1", Type: QuestionStarRating, Question: "q", Options: []string{"a", "b"}}},
	}
	for name, steps := range cases {
		if err := ValidateSteps(steps); !errors.Is(err, ErrInvalidStep) {
			t.Errorf("%s: %v, want ErrInvalidStep", name, err)
		}
	}
}

func TestValidateAnswers(t *testing.T) {
	steps := []Step{
		{ID: "q1", Type: QuestionStarRating, Question: "Rate", Required: true},
		{ID: "q2", Type: QuestionOpenParagraph, Question: "Comments"},
	}

	if err := ValidateAnswers(steps, []Answer{{QuestionID: "q1", Value: "5"}}); err != nil {
		t.Fatalf("required answered, optional skipped: %v", err)
	}
	if err := ValidateAnswers(steps, []Answer{{QuestionID: "q2", Value: "ok"}}); !errors.Is(err, ErrInvalidAnswer) {
		t.Errorf("missing required answer: %v, want ErrInvalidAnswer", err)
	}
	if err := ValidateAnswers(steps, []Answer{
		{QuestionID: "q1", Value: "5"},
		{QuestionID: "zz", Value: "?"},
	}); !errors.Is(err, ErrInvalidAnswer) {
		t.Errorf("unknown question reference: %v, want ErrInvalidAnswer", err)
	}
}
