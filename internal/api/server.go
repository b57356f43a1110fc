package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"monexa/internal/command"
	"monexa/internal/session"
	"monexa/internal/store"
	"monexa/pkg/protocol"
)

// Store is the persistence surface the dashboard API reads and mutates.
type Store interface {
	Ping(ctx context.Context) error
	EnsureOrg(ctx context.Context, orgID string) error
	OrgExists(ctx context.Context, orgID string) (bool, error)
	PurgeOrg(ctx context.Context, orgID string) error

	ListDevices(ctx context.Context, orgID string) ([]*store.Device, error)
	GetDevice(ctx context.Context, orgID, deviceID string) (*store.Device, error)
	RenameDevice(ctx context.Context, orgID, deviceID, newName string) error
	ToggleBlocked(ctx context.Context, orgID, deviceID string) (bool, error)
	SetStatus(ctx context.Context, orgID, deviceID, status string) error
	AssignRoom(ctx context.Context, orgID, deviceID string, roomID *string) error

	CreateRoom(ctx context.Context, orgID, name string) (*store.Room, error)
	ListRooms(ctx context.Context, orgID string) ([]*store.Room, error)
	DeleteRoom(ctx context.Context, orgID, roomID string) error

	CreateSurvey(ctx context.Context, survey *store.Survey) error
	UpdateSurvey(ctx context.Context, survey *store.Survey) error
	GetSurvey(ctx context.Context, orgID, surveyID string) (*store.Survey, error)
	ListSurveys(ctx context.Context, orgID string) ([]*store.Survey, error)
	DeleteSurvey(ctx context.Context, orgID, surveyID string) error

	ListLaunches(ctx context.Context, orgID string) ([]*store.Launch, error)
	GetLaunch(ctx context.Context, orgID, launchID string) (*store.Launch, error)
	ListResponses(ctx context.Context, orgID, launchID string) ([]*store.Response, error)
}

// Orchestrator drives the launch lifecycle on behalf of dashboard requests.
type Orchestrator interface {
	Launch(ctx context.Context, orgID, surveyID string, targets command.Targets, style string) (*store.Launch, *command.Report, error)
	Start(ctx context.Context, orgID, launchID string) (*command.Report, error)
	Cancel(ctx context.Context, orgID, launchID string) (*command.Report, error)
	Remove(ctx context.Context, orgID, launchID string) error
}

// Presence lets mutating handlers request an immediate reconciliation pass
// instead of waiting for the next tick.
type Presence interface {
	Kick()
}

// Registry exposes live-session facts for decorating device listings.
type Registry interface {
	IsLive(id session.Identity) bool
	Stats() map[string]int
}

// Server is the dashboard-facing HTTP API plus the webhook and health
// endpoints. Every /api route is scoped by the X-Org-ID header.
type Server struct {
	store        Store
	orchestrator Orchestrator
	presence     Presence
	registry     Registry
	logger       *zap.Logger
	socket       http.HandlerFunc
}

// NewServer wires the API router. socket is the WebSocket upgrade handler
// mounted at /ws.
func NewServer(st Store, orch Orchestrator, presence Presence, reg Registry, socket http.HandlerFunc, logger *zap.Logger) *Server {
	return &Server{
		store:        st,
		orchestrator: orch,
		presence:     presence,
		registry:     reg,
		logger:       logger,
		socket:       socket,
	}
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/webhooks/org", s.handleOrgWebhook)
	r.Get("/ws", s.socket)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireOrg)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Post("/{deviceID}/rename", s.handleRenameDevice)
			r.Post("/{deviceID}/block", s.handleToggleBlocked)
			r.Post("/{deviceID}/offline", s.handleSetOffline)
			r.Post("/{deviceID}/room", s.handleAssignRoom)
		})

		r.Route("/rooms", func(r chi.Router) {
			r.Get("/", s.handleListRooms)
			r.Post("/", s.handleCreateRoom)
			r.Delete("/{roomID}", s.handleDeleteRoom)
		})

		r.Route("/surveys", func(r chi.Router) {
			r.Get("/", s.handleListSurveys)
			r.Post("/", s.handleCreateSurvey)
			r.Get("/{surveyID}", s.handleGetSurvey)
			r.Put("/{surveyID}", s.handleUpdateSurvey)
			r.Delete("/{surveyID}", s.handleDeleteSurvey)
		})

		r.Route("/launches", func(r chi.Router) {
			r.Get("/", s.handleListLaunches)
			r.Post("/", s.handleCreateLaunch)
			r.Post("/{launchID}/start", s.handleStartLaunch)
			r.Post("/{launchID}/cancel", s.handleCancelLaunch)
			r.Delete("/{launchID}", s.handleRemoveLaunch)
			r.Get("/{launchID}/responses", s.handleListResponses)
		})
	})

	return r
}

type ctxKey int

const orgKey ctxKey = 0

// requireOrg scopes the request to the organization named by the X-Org-ID
// header. Requests without one are rejected.
func (s *Server) requireOrg(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID := r.Header.Get("X-Org-ID")
		if !protocol.IsValidOrgID(orgID) {
			s.respondError(w, r, http.StatusUnauthorized, "missing or invalid X-Org-ID header")
			return
		}
		ctx := context.WithValue(r.Context(), orgKey, orgID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func orgFrom(r *http.Request) string {
	orgID, _ := r.Context().Value(orgKey).(string)
	return orgID
}
