package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// One directory per dialect: 000001 holds the Storage node KV table,
// 000002 the workflow definitions and grants.
//
//go:embed migrations
var migrationsFS embed.FS

// MigrationStatus reports whether one migration has been applied.
type MigrationStatus struct {
	Version   uint
	Name      string
	Applied   bool
	AppliedAt *time.Time
	Dirty     bool
}

// MigrationInfo summarizes the schema state.
type MigrationInfo struct {
	CurrentVersion    uint
	Dirty             bool
	TotalMigrations   int
	AppliedMigrations int
	PendingMigrations int
}

// Config selects the database and the migration source.
type Config struct {
	DatabaseType DatabaseType

	// DatabaseURL is passed to the dialect's database/sql driver as is;
	// see BuildDatabaseURL.
	DatabaseURL string

	// MigrationsPath overrides the embedded migrations with a directory on
	// disk holding the same NNNNNN_name.{up,down}.sql layout.
	MigrationsPath string

	// TableName defaults to schema_migrations.
	TableName string

	// LockTimeout defaults to 15s.
	LockTimeout time.Duration
}

// Migrator applies and rolls back schema migrations. Cancelling ctx stops
// a running operation after the migration in progress.
type Migrator interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	DownAll(ctx context.Context) error
	// Steps applies n migrations when n > 0 and rolls back -n when n < 0.
	Steps(ctx context.Context, n int) error
	Goto(ctx context.Context, version uint) error
	// Force records version without running anything; used to clear a
	// dirty state after a manual fix.
	Force(ctx context.Context, version int) error
	Version(ctx context.Context) (uint, bool, error)
	Status(ctx context.Context) ([]MigrationStatus, error)
	Info(ctx context.Context) (*MigrationInfo, error)
	Close() error
}

// DefaultMigrator implements Migrator with golang-migrate.
type DefaultMigrator struct {
	config  *Config
	migrate *migrate.Migrate
	db      *sql.DB
}

// NewMigrator opens the database and prepares the migration source.
func NewMigrator(cfg *Config) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required")
	}
	if cfg.TableName == "" {
		cfg.TableName = "schema_migrations"
	}
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = 15 * time.Second
	}

	m := &DefaultMigrator{config: cfg}
	if err := m.open(); err != nil {
		if m.db != nil {
			_ = m.db.Close()
		}
		return nil, fmt.Errorf("failed to initialize migrator: %w", err)
	}
	return m, nil
}

func (m *DefaultMigrator) open() error {
	d, err := lookupDialect(m.config.DatabaseType)
	if err != nil {
		return err
	}

	m.db, err = sql.Open(d.sqlDriver, m.config.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := m.db.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	dbDriver, err := d.instance(m.db, m.config.TableName)
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	fsys, dir, err := m.source()
	if err != nil {
		return err
	}
	src, err := iofs.New(fsys, dir)
	if err != nil {
		return fmt.Errorf("failed to create source driver: %w", err)
	}

	m.migrate, err = migrate.NewWithInstance("iofs", src, string(m.config.DatabaseType), dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.migrate.LockTimeout = m.config.LockTimeout
	return nil
}

// source returns the file system and directory holding the migrations for
// the configured dialect.
func (m *DefaultMigrator) source() (fs.FS, string, error) {
	if _, err := lookupDialect(m.config.DatabaseType); err != nil {
		return nil, "", err
	}
	if m.config.MigrationsPath != "" {
		return os.DirFS(m.config.MigrationsPath), ".", nil
	}
	return migrationsFS, GetMigrationsPath(m.config.DatabaseType), nil
}

// run executes op and treats ErrNoChange as success. While op runs, a
// cancelled ctx is forwarded to golang-migrate's GracefulStop.
func (m *DefaultMigrator) run(ctx context.Context, what string, op func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stop := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			select {
			case m.migrate.GracefulStop <- true:
			default:
			}
		case <-stop:
		}
	}()

	err := op()
	close(stop)
	<-exited
	// a stop request that arrived after op finished must not leak into the next call
	select {
	case <-m.migrate.GracefulStop:
	default:
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration %s failed: %w", what, err)
	}
	return ctx.Err()
}

func (m *DefaultMigrator) Up(ctx context.Context) error {
	return m.run(ctx, "up", m.migrate.Up)
}

func (m *DefaultMigrator) Down(ctx context.Context) error {
	return m.run(ctx, "down", func() error { return m.migrate.Steps(-1) })
}

func (m *DefaultMigrator) DownAll(ctx context.Context) error {
	return m.run(ctx, "down all", m.migrate.Down)
}

func (m *DefaultMigrator) Steps(ctx context.Context, n int) error {
	return m.run(ctx, "steps", func() error { return m.migrate.Steps(n) })
}

func (m *DefaultMigrator) Goto(ctx context.Context, version uint) error {
	return m.run(ctx, "goto", func() error { return m.migrate.Migrate(version) })
}

func (m *DefaultMigrator) Force(_ context.Context, version int) error {
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("migration force failed: %w", err)
	}
	return nil
}

// Version returns 0 when nothing has been applied yet.
func (m *DefaultMigrator) Version(_ context.Context) (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get version: %w", err)
	}
	return version, dirty, nil
}

func (m *DefaultMigrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	migrations, err := m.getAvailableMigrations()
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(migrations))
	for _, mig := range migrations {
		statuses = append(statuses, MigrationStatus{
			Version: mig.version,
			Name:    mig.name,
			Applied: mig.version <= current,
			Dirty:   dirty && mig.version == current,
		})
	}
	return statuses, nil
}

func (m *DefaultMigrator) Info(ctx context.Context) (*MigrationInfo, error) {
	statuses, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	info := &MigrationInfo{TotalMigrations: len(statuses)}
	info.CurrentVersion, info.Dirty, err = m.Version(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range statuses {
		if s.Applied {
			info.AppliedMigrations++
		}
	}
	info.PendingMigrations = info.TotalMigrations - info.AppliedMigrations
	return info, nil
}

// Close releases the source and the database connection.
func (m *DefaultMigrator) Close() error {
	if m.migrate == nil {
		return nil
	}
	sourceErr, dbErr := m.migrate.Close()
	if err := errors.Join(sourceErr, dbErr); err != nil {
		return fmt.Errorf("failed to close migrator: %w", err)
	}
	return nil
}

func (m *DefaultMigrator) getAvailableMigrations() ([]migrationFile, error) {
	fsys, dir, err := m.source()
	if err != nil {
		return nil, err
	}
	return listMigrations(fsys, dir)
}
