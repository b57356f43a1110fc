package reconciler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"monexa/internal/command"
	"monexa/internal/registry"
	"monexa/internal/session"
	"monexa/internal/store"
	"monexa/pkg/protocol"
)

// Store is the identity-store surface the reconciler reads desired state
// from.
type Store interface {
	GetDevice(ctx context.Context, orgID, deviceID string) (*store.Device, error)
}

// Router is the command fan-out surface used to push corrective state.
type Router interface {
	Route(ctx context.Context, orgID string, cmd protocol.Envelope, targets command.Targets) (*command.Report, error)
}

// Reconciler continuously diffs the identity store's desired state against
// the session registry and corrects drift: it pushes the persisted block flag
// to live sessions when it changes, and force-closes sessions for devices an
// operator marked offline. The latter is the only path by which the system
// terminates a healthy connection.
//
// The store has no change feed, so the loop polls at a bounded interval;
// operator mutations call Kick for an immediate pass.
type Reconciler struct {
	store    Store
	registry *registry.Registry
	router   Router
	logger   *zap.Logger
	interval time.Duration

	kick chan struct{}

	mu         sync.Mutex
	lastPushed map[session.Identity]bool
}

// New creates a reconciler sweeping at the given interval.
func New(st Store, reg *registry.Registry, router Router, interval time.Duration, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:      st,
		registry:   reg,
		router:     router,
		logger:     logger,
		interval:   interval,
		kick:       make(chan struct{}, 1),
		lastPushed: make(map[session.Identity]bool),
	}
}

// Run executes reconciliation passes until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("presence reconciler running", zap.Duration("interval", r.interval))
	for {
		select {
		case <-ticker.C:
			r.pass(ctx)
		case <-r.kick:
			r.pass(ctx)
		case <-ctx.Done():
			r.logger.Info("presence reconciler stopped")
			return
		}
	}
}

// Kick requests an immediate pass. Non-blocking; a pending kick coalesces.
func (r *Reconciler) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Forget drops the last-pushed record for an identity. Called when a
// device's last session closes so a reconnect always gets a fresh push.
func (r *Reconciler) Forget(id session.Identity) {
	r.mu.Lock()
	delete(r.lastPushed, id)
	r.mu.Unlock()
}

// NotePushed records that the given block state has already reached the
// device's sessions, suppressing a redundant push on the next pass. The
// connection handler calls this after its synchronous push at registration.
func (r *Reconciler) NotePushed(id session.Identity, blocked bool) {
	r.mu.Lock()
	r.lastPushed[id] = blocked
	r.mu.Unlock()
}

func (r *Reconciler) pass(ctx context.Context) {
	for _, id := range r.registry.LiveIdentities() {
		device, err := r.store.GetDevice(ctx, id.OrgID, id.DeviceID)
		if err != nil {
			if !errors.Is(err, store.ErrDeviceNotFound) {
				r.logger.Warn("reconcile lookup failed",
					zap.String("device_id", id.DeviceID), zap.Error(err))
			}
			continue
		}

		if device.Status == store.StatusOffline {
			r.disconnect(id)
			continue
		}

		r.mu.Lock()
		pushed, known := r.lastPushed[id]
		r.mu.Unlock()
		if known && pushed == device.Blocked {
			continue
		}

		report, err := r.router.Route(ctx, id.OrgID, protocol.NewSetBlocked(device.Blocked),
			command.Targets{Devices: []string{id.DeviceID}})
		if err != nil {
			r.logger.Warn("block push failed",
				zap.String("device_id", id.DeviceID), zap.Error(err))
			continue
		}
		if len(report.Delivered) > 0 {
			r.NotePushed(id, device.Blocked)
			r.logger.Info("block state pushed",
				zap.String("org_id", id.OrgID),
				zap.String("device_id", id.DeviceID),
				zap.Bool("blocked", device.Blocked))
		}
	}
}

// disconnect force-closes every live session of an identity after an
// operator marked the device offline.
func (r *Reconciler) disconnect(id session.Identity) {
	sessions := r.registry.SessionsFor(id)
	for _, sess := range sessions {
		r.registry.Unbind(sess)
		if err := sess.Close(); err != nil {
			r.logger.Warn("forced disconnect failed",
				zap.String("session", sess.Handle()), zap.Error(err))
		}
	}
	if len(sessions) > 0 {
		r.logger.Info("forced disconnect",
			zap.String("org_id", id.OrgID),
			zap.String("device_id", id.DeviceID),
			zap.Int("sessions", len(sessions)))
	}
}
