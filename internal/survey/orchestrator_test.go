package survey

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"monexa/internal/command"
	"monexa/internal/store"
	"monexa/pkg/protocol"
)

// fakeStore keeps launches and responses in memory with the same semantics
// as the persistent store: atomic from-state guards and unique responses.
type fakeStore struct {
	surveys   map[string]*store.Survey
	launches  map[string]*store.Launch
	responses map[string]map[string]*store.Response // launchID -> deviceID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		surveys:   make(map[string]*store.Survey),
		launches:  make(map[string]*store.Launch),
		responses: make(map[string]map[string]*store.Response),
	}
}

func (f *fakeStore) GetSurvey(_ context.Context, orgID, surveyID string) (*store.Survey, error) {
	sv, ok := f.surveys[surveyID]
	if !ok || sv.OrgID != orgID {
		return nil, store.ErrSurveyNotFound
	}
	return sv, nil
}

func (f *fakeStore) CreateLaunch(_ context.Context, launch *store.Launch) error {
	launch.ID = "launch-" + launch.SurveyID
	launch.Status = store.LaunchPending
	f.launches[launch.ID] = launch
	return nil
}

func (f *fakeStore) GetLaunch(_ context.Context, orgID, launchID string) (*store.Launch, error) {
	launch, ok := f.launches[launchID]
	if !ok || launch.OrgID != orgID {
		return nil, store.ErrLaunchNotFound
	}
	cp := *launch
	return &cp, nil
}

func (f *fakeStore) SetLaunchStatus(_ context.Context, orgID, launchID, from, to string) error {
	launch, ok := f.launches[launchID]
	if !ok || launch.OrgID != orgID || launch.Status != from {
		return store.ErrLaunchNotFound
	}
	launch.Status = to
	return nil
}

func (f *fakeStore) DeleteLaunch(_ context.Context, orgID, launchID string) error {
	launch, ok := f.launches[launchID]
	if !ok || launch.OrgID != orgID {
		return store.ErrLaunchNotFound
	}
	delete(f.launches, launchID)
	delete(f.responses, launchID)
	return nil
}

func (f *fakeStore) InsertResponse(_ context.Context, resp *store.Response) error {
	byDevice := f.responses[resp.LaunchID]
	if byDevice == nil {
		byDevice = make(map[string]*store.Response)
		f.responses[resp.LaunchID] = byDevice
	}
	if _, dup := byDevice[resp.DeviceID]; dup {
		return store.ErrDuplicateResponse
	}
	byDevice[resp.DeviceID] = resp
	return nil
}

func (f *fakeStore) CountResponses(_ context.Context, launchID string) (int, error) {
	return len(f.responses[launchID]), nil
}

// fakeRouter records routed envelopes and reports every target delivered
// unless listed in unreachable.
type fakeRouter struct {
	routed      []protocol.Envelope
	unreachable map[string]bool
}

func (f *fakeRouter) Resolve(_ context.Context, _ string, targets command.Targets) ([]string, error) {
	out := append([]string{}, targets.Devices...)
	for _, room := range targets.Rooms {
		// Test rooms expand to a single synthetic member.
		out = append(out, "member-of-"+room)
	}
	return out, nil
}

func (f *fakeRouter) Route(_ context.Context, orgID string, cmd protocol.Envelope, targets command.Targets) (*command.Report, error) {
	f.routed = append(f.routed, cmd)
	report := &command.Report{Delivered: []string{}, Unreachable: []string{}}
	for _, d := range targets.Devices {
		if f.unreachable[d] {
			report.Unreachable = append(report.Unreachable, d)
		} else {
			report.Delivered = append(report.Delivered, d)
		}
	}
	return report, nil
}

func (f *fakeRouter) lastEvent(t *testing.T) protocol.Envelope {
	t.Helper()
	if len(f.routed) == 0 {
		t.Fatal("no envelope routed")
	}
	return f.routed[len(f.routed)-1]
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *fakeStore, *fakeRouter) {
	t.Helper()
	st := newFakeStore()
	st.surveys["sv-1"] = &store.Survey{
		ID: "sv-1", OrgID: "org-1", Title: "Course feedback",
		Steps: []protocol.Step{
			{ID: "q1", Type: protocol.QuestionStarRating, Question: "Rate", Required: true},
		},
	}
	router := &fakeRouter{unreachable: make(map[string]bool)}
	return NewOrchestrator(st, router, zap.NewNop()), st, router
}

func TestLaunchNotifiesWithoutQuestions(t *testing.T) {
	orch, _, router := newTestOrchestrator(t)
	ctx := context.Background()

	launch, report, err := orch.Launch(ctx, "org-1", "sv-1",
		command.Targets{Devices: []string{"host-1", "host-2"}}, "classic")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if launch.Status != store.LaunchPending {
		t.Errorf("status = %s, want pending", launch.Status)
	}
	if len(launch.Targets) != 2 {
		t.Errorf("targets = %v", launch.Targets)
	}
	if len(report.Delivered) != 2 {
		t.Errorf("delivered = %v", report.Delivered)
	}

	env := router.lastEvent(t)
	if env.Event != protocol.EventSurveyLaunch {
		t.Fatalf("event = %q, want surveyLaunch", env.Event)
	}
	var payload protocol.SurveyLaunchPayload
	if err := env.Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.SurveyTitle != "Course feedback" || payload.LaunchID != launch.ID {
		t.Errorf("payload = %+v", payload)
	}
}

func TestLaunchExpandsRoomsAtLaunchTime(t *testing.T) {
	orch, st, _ := newTestOrchestrator(t)

	launch, _, err := orch.Launch(context.Background(), "org-1", "sv-1",
		command.Targets{Rooms: []string{"room-1"}}, "")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	// The quota is fixed from the membership at launch time.
	stored := st.launches[launch.ID]
	if len(stored.Targets) != 1 || stored.Targets[0] != "member-of-room-1" {
		t.Errorf("stored targets = %v", stored.Targets)
	}
}

func TestLaunchRequiresTargets(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	if _, _, err := orch.Launch(context.Background(), "org-1", "sv-1", command.Targets{}, ""); !errors.Is(err, ErrNoTargets) {
		t.Errorf("Launch with no targets = %v, want ErrNoTargets", err)
	}
}

func TestLaunchUnknownSurvey(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	_, _, err := orch.Launch(context.Background(), "org-1", "ghost",
		command.Targets{Devices: []string{"host-1"}}, "")
	if !errors.Is(err, store.ErrSurveyNotFound) {
		t.Errorf("Launch(ghost survey) = %v, want ErrSurveyNotFound", err)
	}
}

func TestStartDeliversQuestions(t *testing.T) {
	orch, _, router := newTestOrchestrator(t)
	ctx := context.Background()

	launch, _, err := orch.Launch(ctx, "org-1", "sv-1",
		command.Targets{Devices: []string{"host-1"}}, "")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if _, err := orch.Start(ctx, "org-1", launch.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	env := router.lastEvent(t)
	if env.Event != protocol.EventSurveyStart {
		t.Fatalf("event = %q, want surveyStart", env.Event)
	}
	var payload protocol.SurveyStartPayload
	if err := env.Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Steps) != 1 || payload.Steps[0].ID != "q1" {
		t.Errorf("steps = %v", payload.Steps)
	}

	// Started is not startable again.
	if _, err := orch.Start(ctx, "org-1", launch.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("double Start = %v, want ErrInvalidTransition", err)
	}
}

func TestCancelPendingOnly(t *testing.T) {
	orch, st, router := newTestOrchestrator(t)
	ctx := context.Background()

	launch, _, err := orch.Launch(ctx, "org-1", "sv-1",
		command.Targets{Devices: []string{"host-1"}}, "")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if _, err := orch.Cancel(ctx, "org-1", launch.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if env := router.lastEvent(t); env.Event != protocol.EventSurveyCancel {
		t.Errorf("event = %q, want surveyCancel", env.Event)
	}
	if _, ok := st.launches[launch.ID]; ok {
		t.Error("cancelled launch still stored")
	}

	// A started launch refuses Cancel; Remove is the teardown path.
	launch2, _, err := orch.Launch(ctx, "org-1", "sv-1",
		command.Targets{Devices: []string{"host-1"}}, "")
	if err != nil {
		t.Fatalf("second Launch: %v", err)
	}
	if _, err := orch.Start(ctx, "org-1", launch2.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := orch.Cancel(ctx, "org-1", launch2.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Cancel started = %v, want ErrInvalidTransition", err)
	}
	if err := orch.Remove(ctx, "org-1", launch2.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
}

func TestSubmitResponseLifecycle(t *testing.T) {
	orch, st, _ := newTestOrchestrator(t)
	ctx := context.Background()

	launch, _, err := orch.Launch(ctx, "org-1", "sv-1",
		command.Targets{Devices: []string{"host-1", "host-2"}}, "")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	answers := []protocol.Answer{{QuestionID: "q1", Value: "5"}}

	// Pending launches do not accept responses.
	if err := orch.SubmitResponse(ctx, "org-1", launch.ID, "host-1", answers); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("submit to pending = %v, want ErrInvalidTransition", err)
	}

	if _, err := orch.Start(ctx, "org-1", launch.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := orch.SubmitResponse(ctx, "org-1", launch.ID, "host-1", answers); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if st.launches[launch.ID].Status != store.LaunchStarted {
		t.Fatal("launch completed before every target responded")
	}

	// Duplicate from the same device is rejected.
	if err := orch.SubmitResponse(ctx, "org-1", launch.ID, "host-1", answers); !errors.Is(err, store.ErrDuplicateResponse) {
		t.Fatalf("duplicate submit = %v, want ErrDuplicateResponse", err)
	}

	// The last target's response completes the launch.
	if err := orch.SubmitResponse(ctx, "org-1", launch.ID, "host-2", answers); err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if st.launches[launch.ID].Status != store.LaunchCompleted {
		t.Errorf("status = %s, want completed", st.launches[launch.ID].Status)
	}

	// Completed is terminal.
	if err := orch.SubmitResponse(ctx, "org-1", launch.ID, "host-3", answers); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("submit to completed = %v, want ErrInvalidTransition", err)
	}
}

func TestSubmitResponseValidatesAnswers(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	launch, _, err := orch.Launch(ctx, "org-1", "sv-1",
		command.Targets{Devices: []string{"host-1"}}, "")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if _, err := orch.Start(ctx, "org-1", launch.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	bad := []protocol.Answer{{QuestionID: "ghost", Value: "x"}}
	if err := orch.SubmitResponse(ctx, "org-1", launch.ID, "host-1", bad); !errors.Is(err, protocol.ErrInvalidAnswer) {
		t.Errorf("bad answers = %v, want ErrInvalidAnswer", err)
	}
}

func TestSubmitResponseSurvivesDeletedSurvey(t *testing.T) {
	orch, st, _ := newTestOrchestrator(t)
	ctx := context.Background()

	launch, _, err := orch.Launch(ctx, "org-1", "sv-1",
		command.Targets{Devices: []string{"host-1"}}, "")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if _, err := orch.Start(ctx, "org-1", launch.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Deleting the survey mid-launch only drops answer validation.
	delete(st.surveys, "sv-1")
	answers := []protocol.Answer{{QuestionID: "q1", Value: "5"}}
	if err := orch.SubmitResponse(ctx, "org-1", launch.ID, "host-1", answers); err != nil {
		t.Fatalf("submit after survey delete: %v", err)
	}
	if st.launches[launch.ID].Status != store.LaunchCompleted {
		t.Error("launch did not complete after survey deletion")
	}
}
