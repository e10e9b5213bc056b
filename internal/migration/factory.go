package migration

import (
	"errors"
	"fmt"

	appconfig "github.com/BaSui01/flowengine/config"
)

const defaultMigrationsTable = "schema_migrations"

// NewMigratorFromConfig migrates the database named in cfg.Database.
func NewMigratorFromConfig(cfg *appconfig.Config) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	return NewMigratorFromDatabaseConfig(cfg.Database)
}

// NewMigratorFromDatabaseConfig builds the connection URL from the same
// fields the connection pool uses, so both always target one database.
func NewMigratorFromDatabaseConfig(dbCfg appconfig.DatabaseConfig) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}
	url := BuildDatabaseURL(dbType, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, dbCfg.SSLMode)
	return NewMigrator(&Config{DatabaseType: dbType, DatabaseURL: url, TableName: defaultMigrationsTable})
}

// NewMigratorFromURL is used by --db-type/--db-url on the command line.
func NewMigratorFromURL(dbType, dbURL string) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{DatabaseType: dt, DatabaseURL: dbURL, TableName: defaultMigrationsTable})
}
