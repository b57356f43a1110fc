package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreateLaunch records a new survey deployment in pending state.
func (s *Store) CreateLaunch(ctx context.Context, launch *Launch) error {
	launch.ID = uuid.New().String()
	launch.Status = LaunchPending
	launch.LaunchedAt = time.Now().UTC()

	targetsJSON, err := json.Marshal(launch.Targets)
	if err != nil {
		return fmt.Errorf("failed to marshal targets: %w", err)
	}

	return s.write(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO survey_launches (id, survey_id, org_id, targets, status, style, launched_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			launch.ID, launch.SurveyID, launch.OrgID, string(targetsJSON),
			launch.Status, launch.Style, launch.LaunchedAt)
		if err != nil {
			return fmt.Errorf("failed to insert launch: %w", err)
		}
		return nil
	})
}

// GetLaunch fetches one launch.
func (s *Store) GetLaunch(ctx context.Context, orgID, launchID string) (*Launch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT l.id, l.survey_id, l.org_id, l.targets, l.status, l.style, l.launched_at,
		       COALESCE(sv.title, '')
		FROM survey_launches l LEFT JOIN surveys sv ON sv.id = l.survey_id
		WHERE l.id = ? AND l.org_id = ?`,
		launchID, orgID)
	return scanLaunch(row)
}

// SetLaunchStatus transitions launch status only when the launch is currently
// in the expected state, making the state machine's guard atomic with the
// write. Returns ErrLaunchNotFound when no row matched.
func (s *Store) SetLaunchStatus(ctx context.Context, orgID, launchID, from, to string) error {
	return s.write(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			UPDATE survey_launches SET status = ?
			WHERE id = ? AND org_id = ? AND status = ?`,
			to, launchID, orgID, from)
		if err != nil {
			return fmt.Errorf("failed to transition launch: %w", err)
		}
		return rowsOrNotFound(res, ErrLaunchNotFound)
	})
}

// DeleteLaunch removes the launch and all of its responses.
func (s *Store) DeleteLaunch(ctx context.Context, orgID, launchID string) error {
	return s.write(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin launch delete: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM survey_responses WHERE launch_id = ?`, launchID); err != nil {
			return fmt.Errorf("failed to delete launch responses: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`DELETE FROM survey_launches WHERE id = ? AND org_id = ?`, launchID, orgID)
		if err != nil {
			return fmt.Errorf("failed to delete launch: %w", err)
		}
		if err := rowsOrNotFound(res, ErrLaunchNotFound); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit launch delete: %w", err)
		}
		return nil
	})
}

// ListLaunches returns the org's launches, newest first, with the survey
// title joined in for the dashboard.
func (s *Store) ListLaunches(ctx context.Context, orgID string) ([]*Launch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.survey_id, l.org_id, l.targets, l.status, l.style, l.launched_at,
		       COALESCE(sv.title, '')
		FROM survey_launches l LEFT JOIN surveys sv ON sv.id = l.survey_id
		WHERE l.org_id = ? ORDER BY l.launched_at DESC`,
		orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list launches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var launches []*Launch
	for rows.Next() {
		launch, err := scanLaunch(rows)
		if err != nil {
			return nil, err
		}
		launches = append(launches, launch)
	}
	return launches, rows.Err()
}

// InsertResponse appends one device's answers. The unique constraint on
// (launch_id, device_id) rejects duplicate submissions.
func (s *Store) InsertResponse(ctx context.Context, resp *Response) error {
	resp.ID = uuid.New().String()
	resp.SubmittedAt = time.Now().UTC()

	answersJSON, err := json.Marshal(resp.Answers)
	if err != nil {
		return fmt.Errorf("failed to marshal answers: %w", err)
	}

	return s.write(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO survey_responses (id, launch_id, survey_id, org_id, device_id, submitted_at, answers)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			resp.ID, resp.LaunchID, resp.SurveyID, resp.OrgID, resp.DeviceID,
			resp.SubmittedAt, string(answersJSON))
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return ErrDuplicateResponse
			}
			return fmt.Errorf("failed to insert response: %w", err)
		}
		return nil
	})
}

// CountResponses returns the number of responses recorded for a launch.
func (s *Store) CountResponses(ctx context.Context, launchID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM survey_responses WHERE launch_id = ?`, launchID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count responses: %w", err)
	}
	return n, nil
}

// ListResponses returns all responses for a launch in submission order.
func (s *Store) ListResponses(ctx context.Context, orgID, launchID string) ([]*Response, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, launch_id, survey_id, org_id, device_id, submitted_at, answers
		FROM survey_responses
		WHERE launch_id = ? AND org_id = ?
		ORDER BY submitted_at ASC`,
		launchID, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list responses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var responses []*Response
	for rows.Next() {
		var resp Response
		var answersJSON string
		if err := rows.Scan(&resp.ID, &resp.LaunchID, &resp.SurveyID, &resp.OrgID,
			&resp.DeviceID, &resp.SubmittedAt, &answersJSON); err != nil {
			return nil, fmt.Errorf("failed to scan response: %w", err)
		}
		if err := json.Unmarshal([]byte(answersJSON), &resp.Answers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal answers: %w", err)
		}
		responses = append(responses, &resp)
	}
	return responses, rows.Err()
}

func scanLaunch(row rowScanner) (*Launch, error) {
	var launch Launch
	var targetsJSON string
	err := row.Scan(&launch.ID, &launch.SurveyID, &launch.OrgID, &targetsJSON,
		&launch.Status, &launch.Style, &launch.LaunchedAt, &launch.SurveyTitle)
	if err == sql.ErrNoRows {
		return nil, ErrLaunchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan launch: %w", err)
	}
	if err := json.Unmarshal([]byte(targetsJSON), &launch.Targets); err != nil {
		return nil, fmt.Errorf("failed to unmarshal targets: %w", err)
	}
	return &launch, nil
}
