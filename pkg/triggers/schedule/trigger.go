// Package schedule implements a cron-based trigger that starts workflow
// runs on a fixed schedule.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stride-run/stride/pkg/protocol"
)

type Trigger struct {
	ID           string
	CronExpr     string
	WorkflowFile string
	Inputs       map[string]any
	Enabled      bool

	cron     *cron.Cron
	callback protocol.TriggerCallback
	logger   *slog.Logger
}

func NewTrigger(config map[string]any, logger *slog.Logger) (*Trigger, error) {
	id, _ := config["id"].(string)
	cronExpr, _ := config["cron"].(string)
	workflowFile, _ := config["workflow_file"].(string)
	inputs, _ := config["inputs"].(map[string]any)

	enabled := true
	if v, ok := config["enabled"].(bool); ok {
		enabled = v
	}

	trigger := &Trigger{
		ID:           id,
		CronExpr:     cronExpr,
		WorkflowFile: workflowFile,
		Inputs:       inputs,
		Enabled:      enabled,
		logger: logger.With(
			"module", "schedule_trigger",
			"id", id,
			"cron", cronExpr,
			"workflow_file", workflowFile,
		),
	}

	if err := trigger.Validate(); err != nil {
		return nil, err
	}

	return trigger, nil
}

func (t *Trigger) Validate() error {
	if t.ID == "" {
		return errors.New("schedule trigger ID is required")
	}

	if t.CronExpr == "" {
		return errors.New("schedule trigger cron expression is required")
	}

	if t.WorkflowFile == "" {
		return errors.New("schedule trigger workflow file is required")
	}

	if _, err := cron.ParseStandard(t.CronExpr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	return nil
}

func (t *Trigger) Start(ctx context.Context, callback protocol.TriggerCallback) error {
	if !t.Enabled {
		t.logger.InfoContext(ctx, "Schedule trigger is disabled")

		return nil
	}

	t.logger.InfoContext(ctx, "Starting schedule trigger")
	t.callback = callback

	t.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	if _, err := t.cron.AddFunc(t.CronExpr, t.fire); err != nil {
		return fmt.Errorf("failed to add cron job for trigger %s: %w", t.ID, err)
	}

	t.cron.Start()

	return nil
}

func (t *Trigger) fire() {
	t.logger.Info("Schedule fired")

	data := map[string]any{
		"workflow_file": t.WorkflowFile,
		"inputs":        t.Inputs,
		"fired_at":      time.Now().UTC().Format(time.RFC3339),
	}

	go func() {
		if err := t.callback(context.Background(), data); err != nil {
			t.logger.Error("Scheduled workflow run failed", "error", err)
		}
	}()
}

func (t *Trigger) Stop(ctx context.Context) error {
	t.logger.InfoContext(ctx, "Stopping schedule trigger")

	if t.cron != nil {
		t.cron.Stop()
	}

	return nil
}
