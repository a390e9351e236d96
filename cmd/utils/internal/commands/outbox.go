package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aquamarinepk/aqm"
)

// OutboxStatus prints queued items and dead letters as JSON.
func OutboxStatus(ctx context.Context, config *aqm.Config, logger aqm.Logger, out io.Writer) error {
	e, err := openEnv(ctx, config, logger)
	if err != nil {
		return err
	}
	defer e.close(ctx)

	status, err := e.queue.Status(ctx)
	if err != nil {
		return fmt.Errorf("read outbox: %w", err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(status)
}

// OutboxFlush runs one delivery pass with the persisted sessions.
func OutboxFlush(ctx context.Context, config *aqm.Config, logger aqm.Logger) error {
	e, err := openEnv(ctx, config, logger)
	if err != nil {
		return err
	}
	defer e.close(ctx)

	res, err := e.queue.FlushOnce(ctx)
	if err != nil {
		return fmt.Errorf("flush outbox: %w", err)
	}
	if res.Paused {
		logger.Info("Flush paused: no valid session for scope", "scope", e.sessions.Scope(), "remaining", res.Remaining)
		return nil
	}
	logger.Info("Outbox flushed", "sent", res.Sent, "remaining", res.Remaining, "dropped", res.Dropped)
	return nil
}

func OutboxClearDead(ctx context.Context, config *aqm.Config, logger aqm.Logger) error {
	e, err := openEnv(ctx, config, logger)
	if err != nil {
		return err
	}
	defer e.close(ctx)

	dead, err := e.queue.DeadLetters(ctx)
	if err != nil {
		return err
	}
	if err := e.queue.ClearDeadLetters(ctx); err != nil {
		return fmt.Errorf("clear dead letters: %w", err)
	}
	logger.Info("Dead letters cleared", "count", len(dead))
	return nil
}
