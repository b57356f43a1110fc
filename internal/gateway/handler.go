package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"monexa/internal/command"
	"monexa/internal/registry"
	"monexa/internal/session"
	"monexa/internal/store"
	"monexa/internal/survey"
	"monexa/pkg/protocol"
)

// Store is the identity-store surface the connection handler needs.
type Store interface {
	OrgExists(ctx context.Context, orgID string) (bool, error)
	RegisterDevice(ctx context.Context, orgID, deviceID, name, osName string) (*store.Device, error)
	GetDevice(ctx context.Context, orgID, deviceID string) (*store.Device, error)
	Heartbeat(ctx context.Context, orgID, deviceID string) error
	SetSurveying(ctx context.Context, orgID, deviceID string, surveying bool) error
}

// Orchestrator is the survey surface reachable from the transport.
type Orchestrator interface {
	Launch(ctx context.Context, orgID, surveyID string, targets command.Targets, style string) (*store.Launch, *command.Report, error)
	Start(ctx context.Context, orgID, launchID string) (*command.Report, error)
	Cancel(ctx context.Context, orgID, launchID string) (*command.Report, error)
	SubmitResponse(ctx context.Context, orgID, launchID, deviceID string, answers []protocol.Answer) error
}

// Presence receives hints that keep the reconciler's last-pushed bookkeeping
// aligned with synchronous pushes done at registration time.
type Presence interface {
	NotePushed(id session.Identity, blocked bool)
}

// Config carries the transport timings.
type Config struct {
	SendBuffer   int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	PingInterval time.Duration
}

// Handler owns the session lifecycle end to end: upgrade, early bind from the
// handshake hint, sequential event dispatch, heartbeat supervision and
// deterministic unbind on every exit path.
type Handler struct {
	registry     *registry.Registry
	store        Store
	orchestrator Orchestrator
	presence     Presence
	logger       *zap.Logger
	cfg          Config
	upgrader     websocket.Upgrader
}

// NewHandler creates the WebSocket connection handler.
func NewHandler(reg *registry.Registry, st Store, orch Orchestrator, presence Presence, cfg Config, logger *zap.Logger) *Handler {
	return &Handler{
		registry:     reg,
		store:        st,
		orchestrator: orch,
		presence:     presence,
		logger:       logger,
		cfg:          cfg,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin: func(r *http.Request) bool {
				// Device agents connect from tauri:// origins; origin
				// filtering happens upstream.
				return true
			},
		},
	}
}

// HandleWS upgrades the connection and starts the session task. The
// handshake may carry a prior identity (computerId + orgId) as a
// reconnection hint, or role=operator for dashboard sessions.
func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	role := query.Get("role")
	orgID := query.Get("orgId")
	deviceID := query.Get("computerId")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sess := session.New(conn, h.cfg.SendBuffer, h.cfg.WriteTimeout)
	h.logger.Debug("session connected", zap.String("session", sess.Handle()))

	ctx := context.Background()
	if role == "operator" {
		if !h.admitOperator(ctx, sess, orgID) {
			return
		}
	} else if deviceID != "" && orgID != "" {
		// Reconnection hint: bind before the explicit register event so
		// presence recovers without waiting for the client to re-register.
		h.earlyBind(ctx, sess, session.Identity{OrgID: orgID, DeviceID: deviceID})
	}

	go h.serve(sess)
}

// admitOperator validates the operator's org and flags the session. Invalid
// orgs are rejected and the session closed.
func (h *Handler) admitOperator(ctx context.Context, sess *session.Session, orgID string) bool {
	exists, err := h.store.OrgExists(ctx, orgID)
	if err != nil {
		h.logger.Error("operator admission failed", zap.Error(err))
		_ = sess.Close()
		return false
	}
	if !exists {
		h.sendError(sess, "invalid_org", "organization does not exist")
		_ = sess.Close()
		return false
	}
	_ = sess.MarkOperator(orgID)
	h.logger.Info("operator connected",
		zap.String("session", sess.Handle()), zap.String("org_id", orgID))
	return true
}

// earlyBind re-admits a known device from the handshake hint alone. The hint
// is best-effort: an unknown org or device leaves the session unbound and the
// explicit register event can still complete normally.
func (h *Handler) earlyBind(ctx context.Context, sess *session.Session, id session.Identity) {
	exists, err := h.store.OrgExists(ctx, id.OrgID)
	if err != nil || !exists {
		return
	}
	device, err := h.store.GetDevice(ctx, id.OrgID, id.DeviceID)
	if err != nil {
		return
	}
	if err := h.registry.Bind(sess, id); err != nil {
		return
	}
	if err := h.store.Heartbeat(ctx, id.OrgID, id.DeviceID); err != nil {
		h.logger.Warn("early-bind heartbeat failed", zap.Error(err))
	}
	h.applyBlockState(sess, id, device.Blocked)
	h.logger.Info("session early-bound",
		zap.String("session", sess.Handle()),
		zap.String("org_id", id.OrgID),
		zap.String("device_id", id.DeviceID))
}

// serve runs the session task: heartbeat supervision plus the sequential
// read-dispatch loop. The deferred cleanup is the single teardown path for
// every exit: read error, protocol violation, forced close or panic.
func (h *Handler) serve(sess *session.Session) {
	defer func() {
		h.registry.Unbind(sess)
		_ = sess.Close()
		h.logger.Debug("session closed", zap.String("session", sess.Handle()))
	}()

	if err := sess.ExtendReadDeadline(h.cfg.ReadTimeout); err != nil {
		return
	}
	sess.OnPong(func() {
		_ = sess.ExtendReadDeadline(h.cfg.ReadTimeout)
	})

	go h.pingLoop(sess)

	ctx := context.Background()
	for {
		env, err := sess.ReadEnvelope()
		if err != nil {
			if errors.Is(err, protocol.ErrInvalidPayload) {
				h.sendError(sess, "invalid_payload", "malformed envelope")
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("session read error",
					zap.String("session", sess.Handle()), zap.Error(err))
			}
			return
		}
		if closed := h.dispatch(ctx, sess, env); closed {
			return
		}
	}
}

func (h *Handler) pingLoop(sess *session.Session) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := sess.Ping(h.cfg.WriteTimeout); err != nil {
				return
			}
		case <-sess.Done():
			return
		}
	}
}

// dispatch handles one inbound event. Events of a session are processed
// strictly in order; the return value reports whether the session must be
// torn down.
func (h *Handler) dispatch(ctx context.Context, sess *session.Session, env protocol.Envelope) bool {
	if orgID, isOperator := sess.Operator(); isOperator {
		switch env.Event {
		case protocol.EventLaunchSurvey, protocol.EventStartSurvey, protocol.EventCancelSurvey:
			h.handleOperatorEvent(ctx, sess, orgID, env)
		default:
			h.sendError(sess, "unauthenticated", "device events are not accepted on operator sessions")
		}
		return false
	}

	switch env.Event {
	case protocol.EventRegisterComputer:
		return h.handleRegister(ctx, sess, env)
	case protocol.EventHeartbeat:
		h.handleHeartbeat(ctx, sess)
	case protocol.EventValidateOrg:
		h.handleValidateOrg(ctx, sess, env)
	case protocol.EventSetSurveying:
		h.handleSetSurveying(ctx, sess, env)
	case protocol.EventSubmitSurveyResponse:
		h.handleSubmitResponse(ctx, sess, env)
	case protocol.EventLaunchSurvey, protocol.EventStartSurvey, protocol.EventCancelSurvey:
		h.sendError(sess, "unauthenticated", "operator events require an operator session")
	default:
		h.logger.Debug("unknown event skipped",
			zap.String("session", sess.Handle()), zap.String("event", env.Event))
	}
	return false
}

// handleRegister validates the org, upserts the device record, binds the
// session and re-applies persisted block state. Returns true when the
// session must close (invalid org, identity rebind).
func (h *Handler) handleRegister(ctx context.Context, sess *session.Session, env protocol.Envelope) bool {
	var payload protocol.RegisterPayload
	if err := env.Decode(&payload); err != nil {
		h.sendError(sess, "invalid_payload", "malformed register payload")
		return false
	}
	if err := payload.Validate(); err != nil {
		h.sendError(sess, "invalid_payload", err.Error())
		return false
	}

	exists, err := h.store.OrgExists(ctx, payload.OrgID)
	if err != nil {
		// Store unavailable: the registration fails with no partial state
		// and no acknowledgement; the session stays unbound.
		h.logger.Error("registration store check failed",
			zap.String("session", sess.Handle()), zap.Error(err))
		return false
	}
	if !exists {
		h.sendError(sess, "invalid_org", "organization does not exist")
		return true
	}

	device, err := h.store.RegisterDevice(ctx, payload.OrgID, payload.ID, payload.Name, payload.OS)
	if err != nil {
		h.logger.Error("device upsert failed",
			zap.String("session", sess.Handle()), zap.Error(err))
		return false
	}

	id := session.Identity{OrgID: payload.OrgID, DeviceID: payload.ID}
	if err := h.registry.Bind(sess, id); err != nil {
		// Bound sessions keep their identity for the connection lifetime.
		h.sendError(sess, "rebound", err.Error())
		return true
	}

	h.applyBlockState(sess, id, device.Blocked)
	h.logger.Info("device registered",
		zap.String("session", sess.Handle()),
		zap.String("org_id", id.OrgID),
		zap.String("device_id", id.DeviceID))
	return false
}

// applyBlockState closes the gap between connect and the next reconciler
// pass: blocked devices get the command on this session immediately.
func (h *Handler) applyBlockState(sess *session.Session, id session.Identity, blocked bool) {
	if blocked {
		if err := sess.Send(protocol.NewSetBlocked(true)); err != nil {
			h.logger.Warn("block push at registration failed",
				zap.String("session", sess.Handle()), zap.Error(err))
			return
		}
	}
	h.presence.NotePushed(id, blocked)
}

func (h *Handler) handleHeartbeat(ctx context.Context, sess *session.Session) {
	id, bound := sess.Identity()
	if !bound {
		// Heartbeats from unbound sessions are silently ignored.
		return
	}
	if err := h.store.Heartbeat(ctx, id.OrgID, id.DeviceID); err != nil {
		// Best effort; the next heartbeat will catch up.
		h.logger.Warn("heartbeat write failed",
			zap.String("device_id", id.DeviceID), zap.Error(err))
	}
}

func (h *Handler) handleValidateOrg(ctx context.Context, sess *session.Session, env protocol.Envelope) {
	var payload protocol.ValidateOrgPayload
	if err := env.Decode(&payload); err != nil {
		h.sendError(sess, "invalid_payload", "malformed validateOrg payload")
		return
	}
	exists, err := h.store.OrgExists(ctx, payload.OrgID)
	if err != nil {
		h.logger.Error("org validation failed", zap.Error(err))
		return
	}
	if err := sess.SendEvent(protocol.EventValidateOrg, protocol.OrgValidity{IsValid: exists}); err != nil {
		h.logger.Warn("validateOrg reply failed", zap.Error(err))
	}
}

func (h *Handler) handleSetSurveying(ctx context.Context, sess *session.Session, env protocol.Envelope) {
	id, bound := sess.Identity()
	if !bound {
		h.sendError(sess, "unauthenticated", "setSurveying requires a registered session")
		return
	}
	var payload protocol.SetSurveyingPayload
	if err := env.Decode(&payload); err != nil {
		h.sendError(sess, "invalid_payload", "malformed setSurveying payload")
		return
	}
	if err := h.store.SetSurveying(ctx, id.OrgID, id.DeviceID, payload.IsSurveying); err != nil {
		h.logger.Warn("setSurveying write failed",
			zap.String("device_id", id.DeviceID), zap.Error(err))
	}
}

func (h *Handler) handleSubmitResponse(ctx context.Context, sess *session.Session, env protocol.Envelope) {
	id, bound := sess.Identity()
	if !bound {
		h.sendError(sess, "unauthenticated", "submitSurveyResponse requires a registered session")
		return
	}
	var payload protocol.SubmitResponsePayload
	if err := env.Decode(&payload); err != nil {
		h.sendError(sess, "invalid_payload", "malformed response payload")
		return
	}
	// The device identity comes from the session binding; the payload cannot
	// submit on behalf of another device.
	err := h.orchestrator.SubmitResponse(ctx, id.OrgID, payload.LaunchID, id.DeviceID, payload.Answers)
	switch {
	case err == nil:
	case errors.Is(err, survey.ErrInvalidTransition):
		h.sendError(sess, "invalid_state", "launch does not accept responses")
	case errors.Is(err, store.ErrDuplicateResponse):
		h.sendError(sess, "invalid_state", "response already recorded for this device")
	case errors.Is(err, store.ErrLaunchNotFound):
		h.sendError(sess, "invalid_state", "launch not found")
	default:
		h.logger.Error("response ingestion failed",
			zap.String("device_id", id.DeviceID), zap.Error(err))
	}
}

// handleOperatorEvent runs launch lifecycle commands issued over the socket
// and acknowledges with the routing report.
func (h *Handler) handleOperatorEvent(ctx context.Context, sess *session.Session, orgID string, env protocol.Envelope) {
	var (
		launchID string
		report   *protocol.RoutingReportPayload
		err      error
	)

	switch env.Event {
	case protocol.EventLaunchSurvey:
		var payload protocol.LaunchSurveyPayload
		if decodeErr := env.Decode(&payload); decodeErr != nil {
			h.sendError(sess, "invalid_payload", "malformed launchSurvey payload")
			return
		}
		targets := command.Targets{Devices: payload.Targets, Rooms: payload.Rooms}
		var launch *store.Launch
		var rep *command.Report
		launch, rep, err = h.orchestrator.Launch(ctx, orgID, payload.SurveyID, targets, payload.Style)
		if err == nil {
			launchID = launch.ID
			report = &protocol.RoutingReportPayload{
				LaunchID: launch.ID, Delivered: rep.Delivered, Unreachable: rep.Unreachable,
			}
		}

	case protocol.EventStartSurvey:
		var payload protocol.StartSurveyPayload
		if decodeErr := env.Decode(&payload); decodeErr != nil {
			h.sendError(sess, "invalid_payload", "malformed startSurvey payload")
			return
		}
		launchID = payload.LaunchID
		var rep *command.Report
		rep, err = h.orchestrator.Start(ctx, orgID, payload.LaunchID)
		if err == nil {
			report = &protocol.RoutingReportPayload{
				LaunchID: launchID, Delivered: rep.Delivered, Unreachable: rep.Unreachable,
			}
		}

	case protocol.EventCancelSurvey:
		var payload protocol.CancelSurveyPayload
		if decodeErr := env.Decode(&payload); decodeErr != nil {
			h.sendError(sess, "invalid_payload", "malformed cancelSurvey payload")
			return
		}
		launchID = payload.LaunchID
		var rep *command.Report
		rep, err = h.orchestrator.Cancel(ctx, orgID, payload.LaunchID)
		if err == nil {
			report = &protocol.RoutingReportPayload{
				LaunchID: launchID, Delivered: rep.Delivered, Unreachable: rep.Unreachable,
			}
		}
	}

	switch {
	case err == nil:
		if sendErr := sess.SendEvent(protocol.EventRoutingReport, report); sendErr != nil {
			h.logger.Warn("routing report delivery failed", zap.Error(sendErr))
		}
	case errors.Is(err, survey.ErrInvalidTransition):
		h.sendError(sess, "invalid_state", "launch state does not permit this transition")
	case errors.Is(err, store.ErrLaunchNotFound), errors.Is(err, store.ErrSurveyNotFound):
		h.sendError(sess, "invalid_state", "launch or survey not found")
	case errors.Is(err, survey.ErrNoTargets):
		h.sendError(sess, "invalid_payload", "launch requires at least one target")
	default:
		h.logger.Error("operator command failed",
			zap.String("event", env.Event),
			zap.String("launch_id", launchID),
			zap.Error(err))
	}
}

func (h *Handler) sendError(sess *session.Session, code, message string) {
	if err := sess.SendEvent(protocol.EventError, protocol.ErrorPayload{Code: code, Message: message}); err != nil {
		h.logger.Debug("error event delivery failed",
			zap.String("session", sess.Handle()), zap.Error(err))
	}
}
