package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"monexa/pkg/protocol"
)

// CreateSurvey persists a new survey in draft or active state. The ID is
// assigned here.
func (s *Store) CreateSurvey(ctx context.Context, survey *Survey) error {
	if err := protocol.ValidateSteps(survey.Steps); err != nil {
		return err
	}
	survey.ID = uuid.New().String()
	survey.CreatedAt = time.Now().UTC()
	if survey.Status == "" {
		survey.Status = SurveyDraft
	}

	stepsJSON, err := json.Marshal(survey.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	return s.write(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO surveys (id, org_id, title, status, created_at, steps)
			VALUES (?, ?, ?, ?, ?, ?)`,
			survey.ID, survey.OrgID, survey.Title, survey.Status, survey.CreatedAt, string(stepsJSON))
		if err != nil {
			return fmt.Errorf("failed to insert survey: %w", err)
		}
		return nil
	})
}

// UpdateSurvey replaces title, status and steps of an existing survey.
func (s *Store) UpdateSurvey(ctx context.Context, survey *Survey) error {
	if err := protocol.ValidateSteps(survey.Steps); err != nil {
		return err
	}
	stepsJSON, err := json.Marshal(survey.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	return s.write(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			UPDATE surveys SET title = ?, status = ?, steps = ?
			WHERE id = ? AND org_id = ?`,
			survey.Title, survey.Status, string(stepsJSON), survey.ID, survey.OrgID)
		if err != nil {
			return fmt.Errorf("failed to update survey: %w", err)
		}
		return rowsOrNotFound(res, ErrSurveyNotFound)
	})
}

// GetSurvey fetches one survey with its question steps.
func (s *Store) GetSurvey(ctx context.Context, orgID, surveyID string) (*Survey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, title, status, created_at, steps
		FROM surveys WHERE id = ? AND org_id = ?`,
		surveyID, orgID)
	return scanSurvey(row)
}

// ListSurveys returns the org's surveys, newest first.
func (s *Store) ListSurveys(ctx context.Context, orgID string) ([]*Survey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, title, status, created_at, steps
		FROM surveys WHERE org_id = ? ORDER BY created_at DESC`,
		orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list surveys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var surveys []*Survey
	for rows.Next() {
		survey, err := scanSurvey(rows)
		if err != nil {
			return nil, err
		}
		surveys = append(surveys, survey)
	}
	return surveys, rows.Err()
}

// DeleteSurvey removes a survey. Existing launches keep their own copy of
// the org and targets, so they remain listable.
func (s *Store) DeleteSurvey(ctx context.Context, orgID, surveyID string) error {
	return s.write(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`DELETE FROM surveys WHERE id = ? AND org_id = ?`, surveyID, orgID)
		if err != nil {
			return fmt.Errorf("failed to delete survey: %w", err)
		}
		return rowsOrNotFound(res, ErrSurveyNotFound)
	})
}

func scanSurvey(row rowScanner) (*Survey, error) {
	var survey Survey
	var stepsJSON string
	err := row.Scan(&survey.ID, &survey.OrgID, &survey.Title, &survey.Status,
		&survey.CreatedAt, &stepsJSON)
	if err == sql.ErrNoRows {
		return nil, ErrSurveyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan survey: %w", err)
	}
	if err := json.Unmarshal([]byte(stepsJSON), &survey.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}
	return &survey, nil
}
