package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
)

// CLI prints the progress and state of migrations for the migrate command.
type CLI struct {
	migrator Migrator
	output   io.Writer
}

// NewCLI writes to stdout until SetOutput is called.
func NewCLI(migrator Migrator) *CLI {
	return &CLI{migrator: migrator, output: os.Stdout}
}

func (c *CLI) SetOutput(w io.Writer) {
	c.output = w
}

func (c *CLI) printf(format string, args ...any) {
	fmt.Fprintf(c.output, format, args...)
}

// step announces an operation, runs it and reports the resulting version.
func (c *CLI) step(ctx context.Context, announce, done string, op func(context.Context) error) error {
	c.printf("%s...\n", announce)
	if err := op(ctx); err != nil {
		return err
	}
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return err
	}
	c.printf("%s. Current version: %d%s\n", done, version, dirtySuffix(dirty))
	return nil
}

func (c *CLI) RunUp(ctx context.Context) error {
	return c.step(ctx, "Running migrations", "Migrations complete", c.migrator.Up)
}

func (c *CLI) RunDown(ctx context.Context) error {
	return c.step(ctx, "Rolling back last migration", "Rollback complete", c.migrator.Down)
}

func (c *CLI) RunDownAll(ctx context.Context) error {
	return c.step(ctx, "Rolling back all migrations", "All migrations rolled back", c.migrator.DownAll)
}

// RunSteps applies n migrations, or rolls back -n when n is negative.
func (c *CLI) RunSteps(ctx context.Context, n int) error {
	announce := fmt.Sprintf("Applying %d migration(s)", n)
	if n < 0 {
		announce = fmt.Sprintf("Rolling back %d migration(s)", -n)
	}
	return c.step(ctx, announce, "Complete", func(ctx context.Context) error {
		return c.migrator.Steps(ctx, n)
	})
}

func (c *CLI) RunGoto(ctx context.Context, version uint) error {
	return c.step(ctx, fmt.Sprintf("Migrating to version %d", version), "Migration complete", func(ctx context.Context) error {
		return c.migrator.Goto(ctx, version)
	})
}

func (c *CLI) RunForce(ctx context.Context, version int) error {
	return c.step(ctx, fmt.Sprintf("Forcing version to %d", version), "Version forced", func(ctx context.Context) error {
		return c.migrator.Force(ctx, version)
	})
}

func (c *CLI) RunVersion(ctx context.Context) error {
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return err
	}
	if version == 0 {
		c.printf("No migrations applied yet.\n")
		return nil
	}
	c.printf("Current version: %d%s\n", version, dirtySuffix(dirty))
	return nil
}

// RunStatus prints one row per known migration followed by a summary.
func (c *CLI) RunStatus(ctx context.Context) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		c.printf("No migrations found.\n")
		return nil
	}

	applied := 0
	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS")
	for _, s := range statuses {
		state := "Pending"
		switch {
		case s.Dirty:
			state = "Dirty"
		case s.Applied:
			state = "Applied"
		}
		if s.Applied {
			applied++
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\n", s.Version, s.Name, state)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	c.printf("\nTotal: %d, Applied: %d, Pending: %d\n", len(statuses), applied, len(statuses)-applied)
	return nil
}

func (c *CLI) RunInfo(ctx context.Context) error {
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(c.output, 0, 0, 1, ' ', 0)
	fmt.Fprintf(w, "Current version:\t%d\n", info.CurrentVersion)
	fmt.Fprintf(w, "Dirty:\t%v\n", info.Dirty)
	fmt.Fprintf(w, "Total migrations:\t%d\n", info.TotalMigrations)
	fmt.Fprintf(w, "Applied:\t%d\n", info.AppliedMigrations)
	fmt.Fprintf(w, "Pending:\t%d\n", info.PendingMigrations)
	return w.Flush()
}

func dirtySuffix(dirty bool) string {
	if dirty {
		return " (dirty)"
	}
	return ""
}
