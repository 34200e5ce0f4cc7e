package store

import (
	"context"
	"fmt"
	"sort"
)

// Provider names accepted by NewStore
const (
	ProviderPostgres = "postgres"
	ProviderMemory   = "in-memory"
)

// Constructor builds a Store from a provider specific connection string
type Constructor func(ctx context.Context, dsn string) (Store, error)

// Config selects and configures a provider
type Config struct {
	Provider    string
	PostgresDSN string
}

// NewStore looks up the provider in constructors and builds the store
func NewStore(ctx context.Context, cfg Config, constructors map[string]Constructor) (Store, error) {
	constructor, ok := constructors[cfg.Provider]
	if !ok {
		names := make([]string, 0, len(constructors))
		for name := range constructors {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unsupported store provider %q, available: %v", cfg.Provider, names)
	}

	var dsn string
	if cfg.Provider == ProviderPostgres {
		dsn = cfg.PostgresDSN
	}
	return constructor(ctx, dsn)
}
