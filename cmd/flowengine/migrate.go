package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/BaSui01/flowengine/internal/migration"
)

// =============================================================================
// 🗄️ 数据库迁移命令
// =============================================================================

// migrateCommand 在已打开的迁移器上执行一个子命令
type migrateCommand func(ctx context.Context, cli *migration.CLI, args []string) error

var migrateCommands = map[string]migrateCommand{
	"up": func(ctx context.Context, cli *migration.CLI, _ []string) error {
		return cli.RunUp(ctx)
	},
	"down": func(ctx context.Context, cli *migration.CLI, _ []string) error {
		return cli.RunDown(ctx)
	},
	"reset": func(ctx context.Context, cli *migration.CLI, _ []string) error {
		return cli.RunDownAll(ctx)
	},
	"status": func(ctx context.Context, cli *migration.CLI, _ []string) error {
		return cli.RunStatus(ctx)
	},
	"info": func(ctx context.Context, cli *migration.CLI, _ []string) error {
		return cli.RunInfo(ctx)
	},
	"version": func(ctx context.Context, cli *migration.CLI, _ []string) error {
		return cli.RunVersion(ctx)
	},
	"steps": func(ctx context.Context, cli *migration.CLI, args []string) error {
		n, err := versionArg(args)
		if err != nil {
			return err
		}
		return cli.RunSteps(ctx, n)
	},
	"goto": func(ctx context.Context, cli *migration.CLI, args []string) error {
		v, err := versionArg(args)
		if err != nil {
			return err
		}
		if v < 0 {
			return fmt.Errorf("invalid version number: %d", v)
		}
		return cli.RunGoto(ctx, uint(v))
	},
	"force": func(ctx context.Context, cli *migration.CLI, args []string) error {
		v, err := versionArg(args)
		if err != nil {
			return err
		}
		return cli.RunForce(ctx, v)
	},
}

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) error {
	if len(args) < 1 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printMigrateUsage()
		return nil
	}

	cmd, ok := migrateCommands[args[0]]
	if !ok {
		printMigrateUsage()
		return fmt.Errorf("unknown migrate subcommand: %s", args[0])
	}

	fs := flag.NewFlagSet("migrate "+args[0], flag.ExitOnError)
	configPath := commonFlags(fs)
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	migrator, err := createMigrator(*configPath, *dbType, *dbURL)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer migrator.Close()

	cli := migration.NewCLI(migrator)
	cli.SetOutput(os.Stdout)
	return cmd(context.Background(), cli, fs.Args())
}

// createMigrator 优先使用 --db-type/--db-url，否则读取配置中的 database 段
func createMigrator(configPath, dbType, dbURL string) (*migration.DefaultMigrator, error) {
	if dbType != "" && dbURL != "" {
		return migration.NewMigratorFromURL(dbType, dbURL)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if dbType != "" {
		cfg.Database.Driver = dbType
	}
	return migration.NewMigratorFromDatabaseConfig(cfg.Database)
}

func versionArg(args []string) (int, error) {
	if len(args) < 1 {
		return 0, errors.New("version argument is required")
	}
	v, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid version number: %s", args[0])
	}
	return v, nil
}

func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  flowengine migrate <subcommand> [options] [version]

Subcommands:
  up        Apply all pending migrations
  down      Rollback the last migration
  steps     Apply (n > 0) or rollback (n < 0) n migrations
  status    Show migration status
  info      Show applied and pending counts
  version   Show current migration version
  goto      Migrate to a specific version
  force     Force set migration version (use with caution)
  reset     Rollback all migrations
  help      Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  flowengine migrate up
  flowengine migrate status --config /etc/flowengine/config.yaml
  flowengine migrate goto --db-type sqlite --db-url "file:flowengine.db" 1
  flowengine migrate reset`)
}
