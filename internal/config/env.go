package config

import (
	"fmt"
	"os"
	"strconv"
)

// Environment variables that override values from the config file.
const (
	EnvDatabaseHost     = "DATABASE_HOST"
	EnvDatabasePort     = "DATABASE_PORT"
	EnvDatabaseUser     = "DATABASE_USER"
	EnvDatabasePassword = "DATABASE_PASSWORD"
	EnvDatabaseName     = "DATABASE_NAME"
	EnvBucket           = "INGEST_BUCKET"
	EnvOutputDir        = "INGEST_OUTPUT_DIR"
)

// ApplyEnv overrides cfg with any of the environment variables above that are set.
// Setting a DATABASE_* variable does not change the database type.
func ApplyEnv(cfg *Config) error {
	setString(&cfg.Database.Host, EnvDatabaseHost)
	setString(&cfg.Database.User, EnvDatabaseUser)
	setString(&cfg.Database.Password, EnvDatabasePassword)
	setString(&cfg.Database.Name, EnvDatabaseName)
	setString(&cfg.ObjectStore.Bucket, EnvBucket)
	setString(&cfg.OutputDir, EnvOutputDir)

	if v, ok := os.LookupEnv(EnvDatabasePort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvDatabasePort, v, err)
		}
		cfg.Database.Port = port
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}
