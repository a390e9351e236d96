package commands

import (
	"context"
	"fmt"

	"github.com/appetiteclub/edge/internal/sqlite"
	"github.com/aquamarinepk/aqm"
)

// Migrate applies pending schema migrations to the local store and reports
// the resulting version.
func Migrate(ctx context.Context, config *aqm.Config, logger aqm.Logger) error {
	store := sqlite.NewStore(config, logger)
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	defer store.Stop(ctx)

	applied, err := store.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	version, err := store.Version(ctx)
	if err != nil {
		return err
	}
	logger.Info("Schema up to date", "applied", len(applied), "version", version)
	return nil
}
