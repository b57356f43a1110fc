package survey

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"monexa/internal/command"
	"monexa/internal/store"
	"monexa/pkg/protocol"
)

// Store is the identity-store surface the orchestrator drives. No other
// component transitions launch status.
type Store interface {
	GetSurvey(ctx context.Context, orgID, surveyID string) (*store.Survey, error)
	CreateLaunch(ctx context.Context, launch *store.Launch) error
	GetLaunch(ctx context.Context, orgID, launchID string) (*store.Launch, error)
	SetLaunchStatus(ctx context.Context, orgID, launchID, from, to string) error
	DeleteLaunch(ctx context.Context, orgID, launchID string) error
	InsertResponse(ctx context.Context, resp *store.Response) error
	CountResponses(ctx context.Context, launchID string) (int, error)
}

// Router is the command fan-out surface.
type Router interface {
	Resolve(ctx context.Context, orgID string, targets command.Targets) ([]string, error)
	Route(ctx context.Context, orgID string, cmd protocol.Envelope, targets command.Targets) (*command.Report, error)
}

// Orchestrator drives the launch state machine: Pending -> Started ->
// Completed, with Completed terminal. Devices see surveyLaunch (waiting
// screen) at launch, the full question list at start, and the launch
// auto-completes once every target has responded.
type Orchestrator struct {
	store  Store
	router Router
	logger *zap.Logger
}

// NewOrchestrator creates the survey orchestrator.
func NewOrchestrator(st Store, router Router, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:  st,
		router: router,
		logger: logger,
	}
}

// Launch creates a pending launch and notifies targets with the survey title
// only; questions are withheld until Start so an administrator can narrate
// before the first question appears. Room targets are expanded now, fixing
// the response quota at launch time.
func (o *Orchestrator) Launch(ctx context.Context, orgID, surveyID string, targets command.Targets, style string) (*store.Launch, *command.Report, error) {
	sv, err := o.store.GetSurvey(ctx, orgID, surveyID)
	if err != nil {
		return nil, nil, err
	}

	deviceIDs, err := o.router.Resolve(ctx, orgID, targets)
	if err != nil {
		return nil, nil, err
	}
	if len(deviceIDs) == 0 {
		return nil, nil, ErrNoTargets
	}

	launch := &store.Launch{
		SurveyID:    surveyID,
		OrgID:       orgID,
		Targets:     deviceIDs,
		Style:       style,
		SurveyTitle: sv.Title,
	}
	if err := o.store.CreateLaunch(ctx, launch); err != nil {
		return nil, nil, err
	}

	cmd, err := protocol.NewEnvelope(protocol.EventSurveyLaunch, protocol.SurveyLaunchPayload{
		SurveyID:    surveyID,
		LaunchID:    launch.ID,
		SurveyTitle: sv.Title,
		Style:       style,
	})
	if err != nil {
		return nil, nil, err
	}

	report, err := o.router.Route(ctx, orgID, cmd, command.Targets{Devices: deviceIDs})
	if err != nil {
		return nil, nil, err
	}

	o.logger.Info("survey launched",
		zap.String("org_id", orgID),
		zap.String("launch_id", launch.ID),
		zap.Int("targets", len(deviceIDs)),
		zap.Int("unreachable", len(report.Unreachable)))
	return launch, report, nil
}

// Start transitions a pending launch to started and delivers the full
// question list to its targets. Any other current state is rejected.
func (o *Orchestrator) Start(ctx context.Context, orgID, launchID string) (*command.Report, error) {
	launch, err := o.store.GetLaunch(ctx, orgID, launchID)
	if err != nil {
		return nil, err
	}
	if launch.Status != store.LaunchPending {
		return nil, ErrInvalidTransition
	}

	// The store guard re-checks the from-state, closing the race with a
	// concurrent start.
	if err := o.store.SetLaunchStatus(ctx, orgID, launchID, store.LaunchPending, store.LaunchStarted); err != nil {
		if errors.Is(err, store.ErrLaunchNotFound) {
			return nil, ErrInvalidTransition
		}
		return nil, err
	}

	sv, err := o.store.GetSurvey(ctx, orgID, launch.SurveyID)
	if err != nil {
		return nil, fmt.Errorf("launch survey lookup failed: %w", err)
	}

	cmd, err := protocol.NewEnvelope(protocol.EventSurveyStart, protocol.SurveyStartPayload{
		SurveyID: launch.SurveyID,
		LaunchID: launchID,
		Steps:    sv.Steps,
		Style:    launch.Style,
	})
	if err != nil {
		return nil, err
	}

	report, err := o.router.Route(ctx, orgID, cmd, command.Targets{Devices: launch.Targets})
	if err != nil {
		return nil, err
	}
	o.logger.Info("survey started",
		zap.String("org_id", orgID),
		zap.String("launch_id", launchID))
	return report, nil
}

// Cancel withdraws a pending launch: targets drop their waiting screen and
// the record is deleted. A started launch cannot be cancelled; Remove is the
// way to tear one down.
func (o *Orchestrator) Cancel(ctx context.Context, orgID, launchID string) (*command.Report, error) {
	launch, err := o.store.GetLaunch(ctx, orgID, launchID)
	if err != nil {
		return nil, err
	}
	if launch.Status != store.LaunchPending {
		return nil, ErrInvalidTransition
	}

	cmd, err := protocol.NewEnvelope(protocol.EventSurveyCancel, protocol.SurveyCancelPayload{
		LaunchID: launchID,
	})
	if err != nil {
		return nil, err
	}
	report, err := o.router.Route(ctx, orgID, cmd, command.Targets{Devices: launch.Targets})
	if err != nil {
		return nil, err
	}

	if err := o.store.DeleteLaunch(ctx, orgID, launchID); err != nil {
		return nil, err
	}
	o.logger.Info("survey launch cancelled",
		zap.String("org_id", orgID),
		zap.String("launch_id", launchID))
	return report, nil
}

// Remove deletes a launch and its responses, from any state.
func (o *Orchestrator) Remove(ctx context.Context, orgID, launchID string) error {
	return o.store.DeleteLaunch(ctx, orgID, launchID)
}

// SubmitResponse ingests one device's answers for a started launch. A second
// submission from the same device is rejected rather than inflating the
// response count. When every target has responded the launch auto-completes.
func (o *Orchestrator) SubmitResponse(ctx context.Context, orgID, launchID, deviceID string, answers []protocol.Answer) error {
	launch, err := o.store.GetLaunch(ctx, orgID, launchID)
	if err != nil {
		return err
	}
	if launch.Status != store.LaunchStarted {
		return ErrInvalidTransition
	}

	// Validate against the survey when it still exists; a survey deleted
	// mid-launch does not block responses already in flight.
	if sv, err := o.store.GetSurvey(ctx, orgID, launch.SurveyID); err == nil {
		if err := protocol.ValidateAnswers(sv.Steps, answers); err != nil {
			return err
		}
	} else if !errors.Is(err, store.ErrSurveyNotFound) {
		return err
	}

	resp := &store.Response{
		LaunchID: launchID,
		SurveyID: launch.SurveyID,
		OrgID:    orgID,
		DeviceID: deviceID,
		Answers:  answers,
	}
	if err := o.store.InsertResponse(ctx, resp); err != nil {
		return err
	}

	count, err := o.store.CountResponses(ctx, launchID)
	if err != nil {
		return err
	}
	if count >= len(launch.Targets) {
		if err := o.store.SetLaunchStatus(ctx, orgID, launchID, store.LaunchStarted, store.LaunchCompleted); err != nil {
			// A concurrent submission may have completed it already.
			if !errors.Is(err, store.ErrLaunchNotFound) {
				return err
			}
		} else {
			o.logger.Info("survey launch completed",
				zap.String("org_id", orgID),
				zap.String("launch_id", launchID),
				zap.Int("responses", count))
		}
	}
	return nil
}
