package multiagent

import (
	"context"
	"fmt"
	"os"
	"strconv"
)

// PersistenceConfig selects and configures a PersistenceStore at startup,
// narrowed to this engine's two backends (in-memory, Postgres).
type PersistenceConfig struct {
	Backend  PersistenceBackend
	Postgres *PostgresConfig
}

// PersistenceConfigFromEnv builds a PersistenceConfig from environment
// variables.
func PersistenceConfigFromEnv() *PersistenceConfig {
	cfg := &PersistenceConfig{
		Backend: PersistenceBackend(getEnvOrDefault("HIVE_PERSISTENCE_BACKEND", string(PersistenceBackendInMemory))),
	}
	if cfg.Backend == PersistenceBackendPostgres {
		cfg.Postgres = postgresConfigFromEnv()
	}
	return cfg
}

func postgresConfigFromEnv() *PostgresConfig {
	cfg := DefaultPostgresConfig()
	cfg.Host = getEnvOrDefault("HIVE_POSTGRES_HOST", cfg.Host)
	cfg.Port = getEnvOrDefaultInt("HIVE_POSTGRES_PORT", cfg.Port)
	cfg.Database = getEnvOrDefault("HIVE_POSTGRES_DATABASE", cfg.Database)
	cfg.User = getEnvOrDefault("HIVE_POSTGRES_USER", cfg.User)
	cfg.Password = getEnvOrDefault("HIVE_POSTGRES_PASSWORD", cfg.Password)
	cfg.SSLMode = getEnvOrDefault("HIVE_POSTGRES_SSLMODE", cfg.SSLMode)
	return cfg
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvOrDefaultInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// NewPersistenceStore constructs the configured backend.
func NewPersistenceStore(ctx context.Context, cfg *PersistenceConfig) (PersistenceStore, error) {
	if cfg == nil {
		cfg = &PersistenceConfig{Backend: PersistenceBackendInMemory}
	}

	switch cfg.Backend {
	case PersistenceBackendInMemory, "":
		return NewInMemoryStore(), nil
	case PersistenceBackendPostgres:
		return NewPostgresStore(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("unknown persistence backend: %s", cfg.Backend)
	}
}
