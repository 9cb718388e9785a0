package artifacts

import (
	"github.com/prsentry/prsentry/internal/config"
	"github.com/prsentry/prsentry/internal/errors"
)

// Open builds the artifact store selected by the storage configuration.
func Open(cfg config.StorageConfig) (Store, error) {
	switch cfg.Type {
	case "fs", "":
		return NewFSStore(cfg.Dir)
	case "sqlite":
		return NewSQLiteStore(cfg.SQLitePath)
	case "postgres":
		return NewPostgresStore(cfg.PostgresDSN)
	default:
		return nil, errors.InvalidConfigurationf("unknown storage type %q", cfg.Type)
	}
}
