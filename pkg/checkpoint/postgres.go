package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/stride-run/stride/pkg/persistence/sqlbase"
)

const postgresMigrationsTable = "checkpoint_schema_migrations"

// PostgresStore persists run state in PostgreSQL so runs can be resumed
// from another process.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewPostgresStore(ctx context.Context, logger *slog.Logger, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store, err := NewPostgresStoreWithDB(ctx, logger, db)
	if err != nil {
		db.Close()

		return nil, err
	}

	return store, nil
}

// NewPostgresStoreWithDB wraps an existing connection pool, allowing the
// checkpoint store and rate limiter to share one database.
func NewPostgresStoreWithDB(ctx context.Context, logger *slog.Logger, db *sql.DB) (*PostgresStore, error) {
	store := &PostgresStore{
		db:     db,
		logger: logger.With("module", "checkpoint.postgres"),
	}

	if err := store.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run checkpoint migrations: %w", err)
	}

	return store, nil
}

func (p *PostgresStore) migrate(ctx context.Context) error {
	migrations := map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflow_runs (
				id UUID PRIMARY KEY,
				workflow_name TEXT NOT NULL,
				config JSONB NOT NULL DEFAULT '{}',
				status TEXT NOT NULL,
				error TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMPTZ NOT NULL,
				completed_at TIMESTAMPTZ
			);
			CREATE INDEX IF NOT EXISTS idx_workflow_runs_name ON workflow_runs(workflow_name);
			CREATE INDEX IF NOT EXISTS idx_workflow_runs_status ON workflow_runs(status);
		`,
		2: `
			CREATE TABLE IF NOT EXISTS step_checkpoints (
				id BIGSERIAL PRIMARY KEY,
				run_id UUID NOT NULL REFERENCES workflow_runs(id) ON DELETE CASCADE,
				step_id TEXT NOT NULL,
				input JSONB NOT NULL DEFAULT '{}',
				output JSONB NOT NULL DEFAULT '{}',
				resource_units INTEGER NOT NULL DEFAULT 0,
				status TEXT NOT NULL,
				error TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMPTZ NOT NULL,
				completed_at TIMESTAMPTZ NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_step_checkpoints_run ON step_checkpoints(run_id);
		`,
	}

	manager := sqlbase.NewMigrationManager(p.logger, p.db, postgresMigrationsTable, migrations)

	return manager.RunMigrations(ctx)
}

func (p *PostgresStore) StartWorkflow(ctx context.Context, name string, config map[string]any) (string, error) {
	configJSON, err := json.Marshal(orEmpty(config))
	if err != nil {
		return "", fmt.Errorf("failed to marshal run config: %w", err)
	}

	runID := uuid.New().String()

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO workflow_runs (id, workflow_name, config, status, started_at)
		VALUES ($1, $2, $3, $4, $5)`,
		runID, name, configJSON, string(RunStatusRunning), time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to record workflow start: %w", err)
	}

	return runID, nil
}

func (p *PostgresStore) OpenStage(ctx context.Context, runID, stepID string, input map[string]any) (*Stage, error) {
	var exists bool

	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM workflow_runs WHERE id = $1)`, runID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to look up run: %w", err)
	}

	if !exists {
		return nil, fmt.Errorf("unknown run: %s", runID)
	}

	return &Stage{
		RunID:     runID,
		StepID:    stepID,
		Input:     input,
		startedAt: time.Now().UTC(),
		finalize:  p.finalizeStage,
	}, nil
}

func (p *PostgresStore) finalizeStage(ctx context.Context, stage *Stage, execErr error) error {
	inputJSON, err := json.Marshal(orEmpty(stage.Input))
	if err != nil {
		return fmt.Errorf("failed to marshal stage input: %w", err)
	}

	outputJSON, err := json.Marshal(orEmpty(stage.Output))
	if err != nil {
		return fmt.Errorf("failed to marshal stage output: %w", err)
	}

	status := StageStatusSuccess
	message := ""

	if execErr != nil {
		status = StageStatusFailed
		message = execErr.Error()
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO step_checkpoints (run_id, step_id, input, output, resource_units, status, error, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		stage.RunID, stage.StepID, inputJSON, outputJSON, stage.ResourceUnits,
		string(status), message, stage.startedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record step checkpoint: %w", err)
	}

	return nil
}

func (p *PostgresStore) CompleteWorkflow(ctx context.Context, runID string) error {
	return p.closeRun(ctx, runID, RunStatusCompleted, "")
}

func (p *PostgresStore) FailWorkflow(ctx context.Context, runID string, cause error) error {
	message := ""
	if cause != nil {
		message = cause.Error()
	}

	return p.closeRun(ctx, runID, RunStatusFailed, message)
}

func (p *PostgresStore) closeRun(ctx context.Context, runID string, status RunStatus, message string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE workflow_runs SET status = $1, error = $2, completed_at = $3 WHERE id = $4`,
		string(status), message, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("failed to close run: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check close result: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("unknown run: %s", runID)
	}

	return nil
}

func (p *PostgresStore) RunOutputs(ctx context.Context, runID string) (map[string]any, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT output FROM step_checkpoints
		WHERE run_id = $1 AND status = $2
		ORDER BY id`,
		runID, string(StageStatusSuccess))
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer rows.Close()

	outputs := make(map[string]any)

	for rows.Next() {
		var outputJSON []byte

		if err := rows.Scan(&outputJSON); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}

		stageOutput := make(map[string]any)
		if err := json.Unmarshal(outputJSON, &stageOutput); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkpoint output: %w", err)
		}

		for key, value := range stageOutput {
			outputs[key] = value
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read checkpoints: %w", err)
	}

	return outputs, nil
}

// Close releases the underlying connection pool.
func (p *PostgresStore) Close() error {
	return p.db.Close()
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}

	return m
}
