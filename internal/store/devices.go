package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RegisterDevice upserts the device record for a registration. A new device
// starts unblocked and unassigned; an existing device refreshes name, os,
// last-seen and status while preserving blocked, surveying and room fields.
// The returned record reflects the stored state, so callers see the persisted
// blocked flag that must be re-applied to the fresh session.
func (s *Store) RegisterDevice(ctx context.Context, orgID, deviceID, name, osName string) (*Device, error) {
	now := time.Now().UTC()
	err := s.write(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO computers (device_id, org_id, name, os, status, last_seen)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (org_id, device_id) DO UPDATE SET
				name = excluded.name,
				os = excluded.os,
				status = excluded.status,
				last_seen = excluded.last_seen`,
			deviceID, orgID, name, osName, StatusOnline, now)
		if err != nil {
			return fmt.Errorf("failed to register device: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	device, err := s.GetDevice(ctx, orgID, deviceID)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("device registered",
		zap.String("org_id", orgID),
		zap.String("device_id", deviceID),
		zap.Bool("blocked", device.Blocked))
	return device, nil
}

// Heartbeat refreshes last-seen and flips the device online. Unknown devices
// are ignored; heartbeats are best-effort.
func (s *Store) Heartbeat(ctx context.Context, orgID, deviceID string) error {
	return s.write(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			UPDATE computers SET last_seen = ?, status = ?
			WHERE org_id = ? AND device_id = ?`,
			time.Now().UTC(), StatusOnline, orgID, deviceID)
		if err != nil {
			return fmt.Errorf("failed to record heartbeat: %w", err)
		}
		return nil
	})
}

// SetStatus forces the device presence status. Used on last-session-close
// (offline) and by the operator-initiated disconnect.
func (s *Store) SetStatus(ctx context.Context, orgID, deviceID, status string) error {
	return s.write(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			UPDATE computers SET status = ?, last_seen = ?
			WHERE org_id = ? AND device_id = ?`,
			status, time.Now().UTC(), orgID, deviceID)
		if err != nil {
			return fmt.Errorf("failed to set status: %w", err)
		}
		return rowsOrNotFound(res, ErrDeviceNotFound)
	})
}

// ToggleBlocked flips the persisted block flag and returns the new value.
func (s *Store) ToggleBlocked(ctx context.Context, orgID, deviceID string) (bool, error) {
	var blocked bool
	err := s.write(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			UPDATE computers SET is_blocked = NOT is_blocked
			WHERE org_id = ? AND device_id = ?`,
			orgID, deviceID)
		if err != nil {
			return fmt.Errorf("failed to toggle block: %w", err)
		}
		if err := rowsOrNotFound(res, ErrDeviceNotFound); err != nil {
			return err
		}
		return db.QueryRowContext(ctx, `
			SELECT is_blocked FROM computers WHERE org_id = ? AND device_id = ?`,
			orgID, deviceID).Scan(&blocked)
	})
	return blocked, err
}

// SetSurveying persists whether the device currently shows a survey window.
func (s *Store) SetSurveying(ctx context.Context, orgID, deviceID string, surveying bool) error {
	return s.write(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			UPDATE computers SET is_surveying = ?
			WHERE org_id = ? AND device_id = ?`,
			surveying, orgID, deviceID)
		if err != nil {
			return fmt.Errorf("failed to set surveying: %w", err)
		}
		return rowsOrNotFound(res, ErrDeviceNotFound)
	})
}

// RenameDevice updates the display name.
func (s *Store) RenameDevice(ctx context.Context, orgID, deviceID, newName string) error {
	return s.write(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			UPDATE computers SET name = ?
			WHERE org_id = ? AND device_id = ?`,
			newName, orgID, deviceID)
		if err != nil {
			return fmt.Errorf("failed to rename device: %w", err)
		}
		return rowsOrNotFound(res, ErrDeviceNotFound)
	})
}

// AssignRoom moves the device into a room, or clears the assignment when
// roomID is nil. The room must belong to the same org.
func (s *Store) AssignRoom(ctx context.Context, orgID, deviceID string, roomID *string) error {
	return s.write(func(db *sql.DB) error {
		if roomID != nil {
			var one int
			err := db.QueryRowContext(ctx,
				`SELECT 1 FROM rooms WHERE id = ? AND org_id = ?`, *roomID, orgID).Scan(&one)
			if err == sql.ErrNoRows {
				return ErrRoomNotFound
			}
			if err != nil {
				return fmt.Errorf("failed to verify room: %w", err)
			}
		}
		res, err := db.ExecContext(ctx, `
			UPDATE computers SET room_id = ?
			WHERE org_id = ? AND device_id = ?`,
			roomID, orgID, deviceID)
		if err != nil {
			return fmt.Errorf("failed to assign room: %w", err)
		}
		return rowsOrNotFound(res, ErrDeviceNotFound)
	})
}

// GetDevice fetches one device record.
func (s *Store) GetDevice(ctx context.Context, orgID, deviceID string) (*Device, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT device_id, org_id, name, os, status, last_seen, is_blocked, is_surveying, room_id
		FROM computers WHERE org_id = ? AND device_id = ?`,
		orgID, deviceID)
	return scanDevice(row)
}

// ListDevices returns every device of the org.
func (s *Store) ListDevices(ctx context.Context, orgID string) ([]*Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id, org_id, name, os, status, last_seen, is_blocked, is_surveying, room_id
		FROM computers WHERE org_id = ? ORDER BY name`,
		orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var devices []*Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, device)
	}
	return devices, rows.Err()
}

// ListRoomDevices returns the device IDs currently assigned to a room. Read
// at routing time, never cached.
func (s *Store) ListRoomDevices(ctx context.Context, orgID, roomID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id FROM computers WHERE org_id = ? AND room_id = ?`,
		orgID, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list room devices: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan device row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*Device, error) {
	var d Device
	var roomID sql.NullString
	err := row.Scan(&d.DeviceID, &d.OrgID, &d.Name, &d.OS, &d.Status,
		&d.LastSeen, &d.Blocked, &d.Surveying, &roomID)
	if err == sql.ErrNoRows {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan device: %w", err)
	}
	if roomID.Valid {
		d.RoomID = &roomID.String
	}
	return &d, nil
}

func rowsOrNotFound(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
