package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateRoom creates a named device grouping within the org.
func (s *Store) CreateRoom(ctx context.Context, orgID, name string) (*Room, error) {
	room := &Room{
		ID:    uuid.New().String(),
		OrgID: orgID,
		Name:  name,
	}
	err := s.write(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO rooms (id, org_id, name) VALUES (?, ?, ?)`,
			room.ID, room.OrgID, room.Name)
		if err != nil {
			return fmt.Errorf("failed to create room: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

// ListRooms returns the org's rooms.
func (s *Store) ListRooms(ctx context.Context, orgID string) ([]*Room, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, org_id, name FROM rooms WHERE org_id = ? ORDER BY name`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rooms []*Room
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.ID, &r.OrgID, &r.Name); err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		rooms = append(rooms, &r)
	}
	return rooms, rows.Err()
}

// DeleteRoom removes a room and clears the reference on its member devices.
// The reference is weak: devices survive their room.
func (s *Store) DeleteRoom(ctx context.Context, orgID, roomID string) error {
	return s.write(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin room delete: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			UPDATE computers SET room_id = NULL
			WHERE org_id = ? AND room_id = ?`, orgID, roomID); err != nil {
			return fmt.Errorf("failed to unassign room members: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`DELETE FROM rooms WHERE id = ? AND org_id = ?`, roomID, orgID)
		if err != nil {
			return fmt.Errorf("failed to delete room: %w", err)
		}
		if err := rowsOrNotFound(res, ErrRoomNotFound); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit room delete: %w", err)
		}
		s.logger.Debug("room deleted", zap.String("org_id", orgID), zap.String("room_id", roomID))
		return nil
	})
}
