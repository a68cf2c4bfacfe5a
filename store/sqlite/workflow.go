package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/commercekit/conduct"
	"github.com/commercekit/conduct/id"
	"github.com/commercekit/conduct/workflow"
)

// CreateRun persists a new workflow run.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conduct_workflow_runs (
			id, name, state, correlation_id, input, output, error,
			started_at, completed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Name, run.State, run.CorrelationID,
		run.Input, run.Output, run.Error,
		run.StartedAt, run.CompletedAt, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return conduct.Errorf(conduct.KindConflict, "run %s already exists", run.ID)
		}
		return fmt.Errorf("conduct/sqlite: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a workflow run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	run := &workflow.Run{}
	var errStr sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, state, correlation_id, input, output, error,
		       started_at, completed_at, created_at, updated_at
		FROM conduct_workflow_runs
		WHERE id = ?`,
		runID,
	).Scan(
		&run.ID, &run.Name, &run.State, &run.CorrelationID,
		&run.Input, &run.Output, &errStr,
		&run.StartedAt, &run.CompletedAt, &run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, conduct.ErrRunNotFound
		}
		return nil, fmt.Errorf("conduct/sqlite: get run: %w", err)
	}
	run.Error = errStr.String
	return run, nil
}

// UpdateRun persists changes to an existing workflow run.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conduct_workflow_runs
		SET state = ?, output = ?, error = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`,
		run.State, run.Output, run.Error, run.CompletedAt, time.Now().UTC(), run.ID,
	)
	if err != nil {
		return fmt.Errorf("conduct/sqlite: update run: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return conduct.ErrRunNotFound
	}
	return nil
}

// ListRuns returns workflow runs matching the given options.
func (s *Store) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	query := `
		SELECT id, name, state, correlation_id, input, output, error,
		       started_at, completed_at, created_at, updated_at
		FROM conduct_workflow_runs
		WHERE (? = '' OR state = ?)
		  AND (? = '' OR name = ?)
		ORDER BY created_at ASC`
	args := []any{string(opts.State), string(opts.State), opts.Name, opts.Name}

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conduct/sqlite: list runs: %w", err)
	}
	defer rows.Close()

	var runs []*workflow.Run
	for rows.Next() {
		run := &workflow.Run{}
		var errStr sql.NullString
		if err := rows.Scan(
			&run.ID, &run.Name, &run.State, &run.CorrelationID,
			&run.Input, &run.Output, &errStr,
			&run.StartedAt, &run.CompletedAt, &run.CreatedAt, &run.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("conduct/sqlite: scan run: %w", err)
		}
		run.Error = errStr.String
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conduct/sqlite: iterate runs: %w", err)
	}
	return runs, nil
}
