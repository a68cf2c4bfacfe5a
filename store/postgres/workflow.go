package postgres

import (
	"context"
	"fmt"

	"github.com/commercekit/conduct"
	"github.com/commercekit/conduct/id"
	"github.com/commercekit/conduct/workflow"
)

// CreateRun persists a new workflow run.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conduct_workflow_runs (
			id, name, state, correlation_id, input, output, error,
			started_at, completed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.ID, run.Name, run.State, run.CorrelationID,
		run.Input, run.Output, run.Error,
		run.StartedAt, run.CompletedAt, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return conduct.Errorf(conduct.KindConflict, "run %s already exists", run.ID)
		}
		return fmt.Errorf("conduct/postgres: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a workflow run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	run := &workflow.Run{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, state, correlation_id, input, output, error,
		       started_at, completed_at, created_at, updated_at
		FROM conduct_workflow_runs
		WHERE id = $1`,
		runID,
	).Scan(
		&run.ID, &run.Name, &run.State, &run.CorrelationID,
		&run.Input, &run.Output, &run.Error,
		&run.StartedAt, &run.CompletedAt, &run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, conduct.ErrRunNotFound
		}
		return nil, fmt.Errorf("conduct/postgres: get run: %w", err)
	}
	return run, nil
}

// UpdateRun persists changes to an existing workflow run.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conduct_workflow_runs
		SET state = $2, output = $3, error = $4, completed_at = $5, updated_at = NOW()
		WHERE id = $1`,
		run.ID, run.State, run.Output, run.Error, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("conduct/postgres: update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
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
		WHERE ($1 = '' OR state = $1)
		  AND ($2 = '' OR name = $2)
		ORDER BY created_at ASC`
	args := []any{string(opts.State), opts.Name}

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conduct/postgres: list runs: %w", err)
	}
	defer rows.Close()

	var runs []*workflow.Run
	for rows.Next() {
		run := &workflow.Run{}
		if err := rows.Scan(
			&run.ID, &run.Name, &run.State, &run.CorrelationID,
			&run.Input, &run.Output, &run.Error,
			&run.StartedAt, &run.CompletedAt, &run.CreatedAt, &run.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("conduct/postgres: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conduct/postgres: iterate runs: %w", err)
	}
	return runs, nil
}
