package cli

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/abund-gatekeeper/internal/config"
	"github.com/abund-gatekeeper/internal/service"
	"github.com/abund-gatekeeper/internal/store"
)

// openStore connects to Postgres when DATABASE_URL is set and to SQLite
// otherwise. The returned func releases the connection.
func openStore(ctx context.Context, base *config.Base) (store.Store, func(), error) {
	if base.DatabaseURL != "" {
		pg, err := store.OpenPostgres(ctx, base.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return pg, pg.Close, nil
	}

	lite, err := store.OpenSQLite(base.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := lite.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close sqlite store")
		}
	}
	return lite, closeFn, nil
}

// withAccountService loads the base config, opens the store and runs fn
// against an account service.
func withAccountService(ctx context.Context, claimBaseURL string, fn func(svc *service.AccountService) error) error {
	base, err := config.LoadBase(ctx)
	if err != nil {
		return err
	}
	if err := setupLogging(base.LogLevel, "console"); err != nil {
		return err
	}

	s, closeStore, err := openStore(ctx, base)
	if err != nil {
		return err
	}
	defer closeStore()

	return fn(service.NewAccountService(s, claimBaseURL, nil))
}

func parseUUIDArg(arg, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s id %q", what, arg)
	}
	return id, nil
}
