package command

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"monexa/internal/registry"
	"monexa/internal/session"
	"monexa/pkg/protocol"
)

// Store is the slice of the identity store the router needs: expanding room
// targets to their current members at call time.
type Store interface {
	ListRoomDevices(ctx context.Context, orgID, roomID string) ([]string, error)
}

// Targets names the recipients of a command: explicit device IDs and/or
// rooms to be expanded. All are scoped to the issuing org.
type Targets struct {
	Devices []string
	Rooms   []string
}

// Report is the outcome of one fan-out. Unreachable targets had no live
// session at delivery time; they are never queued or retried.
type Report struct {
	Delivered   []string `json:"delivered"`
	Unreachable []string `json:"unreachable"`
}

// Router fans commands out to the live sessions of resolved targets. It
// snapshots the session set under the registry lock and performs the actual
// writes outside it, so a slow consumer never blocks registry mutations.
type Router struct {
	registry *registry.Registry
	store    Store
	logger   *zap.Logger
}

// NewRouter creates a command router.
func NewRouter(reg *registry.Registry, store Store, logger *zap.Logger) *Router {
	return &Router{
		registry: reg,
		store:    store,
		logger:   logger,
	}
}

// Route delivers cmd to every live session of every resolved target device.
// A device with several sessions (main window plus survey popup) receives the
// command on each of them. Per-session write failures are logged and do not
// demote the device to unreachable; the device had a live session at fan-out
// time and transport teardown will reconcile the rest.
func (r *Router) Route(ctx context.Context, orgID string, cmd protocol.Envelope, targets Targets) (*Report, error) {
	deviceIDs, err := r.Resolve(ctx, orgID, targets)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Delivered:   []string{},
		Unreachable: []string{},
	}

	for _, deviceID := range deviceIDs {
		id := session.Identity{OrgID: orgID, DeviceID: deviceID}
		sessions := r.registry.SessionsFor(id)
		if len(sessions) == 0 {
			report.Unreachable = append(report.Unreachable, deviceID)
			continue
		}
		for _, sess := range sessions {
			if err := sess.Send(cmd); err != nil {
				r.logger.Warn("command delivery failed",
					zap.String("event", cmd.Event),
					zap.String("device_id", deviceID),
					zap.String("session", sess.Handle()),
					zap.Error(err))
			}
		}
		report.Delivered = append(report.Delivered, deviceID)
	}

	r.logger.Debug("command routed",
		zap.String("event", cmd.Event),
		zap.String("org_id", orgID),
		zap.Int("delivered", len(report.Delivered)),
		zap.Int("unreachable", len(report.Unreachable)))
	return report, nil
}

// Resolve expands rooms through the store, unions them with the explicit
// device IDs and de-duplicates. Sorted for deterministic reports. Room
// membership is read at call time, never cached.
func (r *Router) Resolve(ctx context.Context, orgID string, targets Targets) ([]string, error) {
	seen := make(map[string]bool)
	for _, deviceID := range targets.Devices {
		seen[deviceID] = true
	}
	for _, roomID := range targets.Rooms {
		members, err := r.store.ListRoomDevices(ctx, orgID, roomID)
		if err != nil {
			return nil, fmt.Errorf("failed to expand room %s: %w", roomID, err)
		}
		for _, deviceID := range members {
			seen[deviceID] = true
		}
	}

	deviceIDs := make([]string, 0, len(seen))
	for deviceID := range seen {
		deviceIDs = append(deviceIDs, deviceID)
	}
	sort.Strings(deviceIDs)
	return deviceIDs, nil
}
