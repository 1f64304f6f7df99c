package database

import (
	"context"
	"fmt"

	"fileflow/internal/config"
	"fileflow/internal/database/collection"
	"fileflow/internal/database/gormdb"
	"fileflow/internal/database/mongodb"
	"fileflow/internal/fileflow"
)

// NewStoreFromConfig creates a Store implementation based on the database config type.
func NewStoreFromConfig(ctx context.Context, cfg config.DatabaseConfig, logger fileflow.Logger) (fileflow.Store, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("path required for sqlite database")
		}
		return checked(NewSQLiteDatabase(cfg.Path))
	case "memory":
		return checked(NewSQLiteDatabase(":memory:"))
	case "collection":
		backend, err := newCollectionBackend(cfg)
		if err != nil {
			return nil, err
		}
		adapter := collection.NewAdapter(backend, logger, fileflow.UUIDGenerator{})
		return collection.NewStore(adapter), nil
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("dsn required for postgres database")
		}
		return checked(gormdb.NewPostgresStore(ctx, cfg.DSN))
	case "mongodb":
		if cfg.URL == "" || cfg.Name == "" {
			return nil, fmt.Errorf("url and name required for mongodb database")
		}
		return checked(mongodb.NewMongoStore(cfg.URL, cfg.Name))
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

func newCollectionBackend(cfg config.DatabaseConfig) (collection.Backend, error) {
	switch cfg.Backend {
	case "memory":
		return collection.NewMemoryBackend(), nil
	case "file":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("dir required for file collection backend")
		}
		b, err := collection.NewFileBackend(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "badger":
		b, err := collection.NewBadgerBackend(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown collection backend: %s", cfg.Backend)
	}
}

// checked converts a constructor result to the interface without leaking a
// typed nil on error.
func checked[S fileflow.Store](s S, err error) (fileflow.Store, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
