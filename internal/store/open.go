package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/onboarding-cli/internal/config"
	"github.com/sells-group/onboarding-cli/internal/resilience"
)

// Open connects the store named by cfg.Store.Driver and wraps it with the
// configured DB retry policy.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	var (
		st  Store
		err error
	)
	switch cfg.Store.Driver {
	case "postgres":
		st, err = NewPostgres(ctx, cfg.Store.DatabaseURL, &PoolConfig{MaxConns: int32(cfg.Store.MaxConns)}) //nolint:gosec
	case "sqlite":
		st, err = NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	policy := resilience.FromRetryConfig(resilience.DBPolicy(), cfg.Retry.DB.MaxRetries, cfg.Retry.DB.DelaysMs)
	return NewRetrying(st, policy), nil
}
