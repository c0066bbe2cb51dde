package cli

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/dealsync/backend/internal/infrastructure/config"
	"github.com/dealsync/backend/internal/infrastructure/logger"
	"github.com/dealsync/backend/internal/infrastructure/migration"
)

const defaultMigrationsPath = "migrations"

// SchemaOpener opens a migrator over the configured database
type SchemaOpener func(configPath, migrationsPath string) (*migration.Migrator, error)

var openSchema SchemaOpener = openPostgresSchema

func newMigrateCmd() *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long: `Apply and inspect the SQL migrations under ./migrations.

Database settings come from the config file or DEALSYNC_DATABASE_* variables.

Examples:
  dealsync migrate up
  dealsync migrate step -1
  dealsync migrate create add_failure_stage_index "Index sync_failures by stage"`,
	}
	migrateCmd.PersistentFlags().String("path", "", "Migrations directory (default: ./migrations)")

	migrateUpCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE:  runMigrateUp,
	}

	migrateDownCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back every migration, dropping all sync tables",
		Args:  cobra.NoArgs,
		RunE:  runMigrateDown,
	}
	migrateDownCmd.Flags().Bool("yes", false, "Confirm dropping the schema")

	migrateStepCmd := &cobra.Command{
		Use:   "step N",
		Short: "Apply N migrations (negative rolls back)",
		Args:  cobra.ExactArgs(1),
		RunE:  runMigrateStep,
	}

	migrateVersionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show the applied schema version",
		Args:  cobra.NoArgs,
		RunE:  runMigrateVersion,
	}

	migrateForceCmd := &cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations",
		Args:  cobra.ExactArgs(1),
		RunE:  runMigrateForce,
	}

	migrateCreateCmd := &cobra.Command{
		Use:   "create NAME [DESCRIPTION]",
		Short: "Create the next migration file pair",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runMigrateCreate,
	}

	migrateListCmd := &cobra.Command{
		Use:   "list",
		Short: "List available migrations",
		Args:  cobra.NoArgs,
		RunE:  runMigrateList,
	}

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateStepCmd)
	migrateCmd.AddCommand(migrateVersionCmd)
	migrateCmd.AddCommand(migrateForceCmd)
	migrateCmd.AddCommand(migrateCreateCmd)
	migrateCmd.AddCommand(migrateListCmd)
	return migrateCmd
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	return withMigrator(cmd, func(m *migration.Migrator) error {
		if err := m.Up(); err != nil {
			return err
		}
		return printSchemaVersion(cmd, m)
	})
}

func runMigrateDown(cmd *cobra.Command, args []string) error {
	if yes, _ := cmd.Flags().GetBool("yes"); !yes {
		return fmt.Errorf("migrate down drops every sync table; pass --yes to confirm")
	}
	return withMigrator(cmd, func(m *migration.Migrator) error {
		if err := m.Down(); err != nil {
			return err
		}
		return printSchemaVersion(cmd, m)
	})
}

func runMigrateStep(cmd *cobra.Command, args []string) error {
	n, err := strconv.Atoi(args[0])
	if err != nil || n == 0 {
		return fmt.Errorf("invalid step count %q: want a non-zero integer", args[0])
	}
	return withMigrator(cmd, func(m *migration.Migrator) error {
		if err := m.Steps(n); err != nil {
			return err
		}
		return printSchemaVersion(cmd, m)
	})
}

func runMigrateVersion(cmd *cobra.Command, args []string) error {
	return withMigrator(cmd, func(m *migration.Migrator) error {
		return printSchemaVersion(cmd, m)
	})
}

func runMigrateForce(cmd *cobra.Command, args []string) error {
	version, err := strconv.Atoi(args[0])
	if err != nil || version < -1 {
		return fmt.Errorf("invalid version %q", args[0])
	}
	return withMigrator(cmd, func(m *migration.Migrator) error {
		if err := m.Force(version); err != nil {
			return err
		}
		return printSchemaVersion(cmd, m)
	})
}

func runMigrateCreate(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	dir, err := migrationsDir(cmd)
	if err != nil {
		return err
	}
	description := ""
	if len(args) > 1 {
		description = args[1]
	}

	mf, err := migration.CreateMigration(dir, args[0], description)
	if err != nil {
		return err
	}
	if format == outputJSON {
		return writeJSON(cmd.OutOrStdout(), map[string]string{
			"version": mf.Version,
			"up":      mf.UpPath,
			"down":    mf.DownPath,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created migration %s\n  %s\n  %s\n", mf.Version, mf.UpPath, mf.DownPath)
	return nil
}

func runMigrateList(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	dir, err := migrationsDir(cmd)
	if err != nil {
		return err
	}

	migrations, err := migration.ListMigrations(dir)
	if err != nil {
		return err
	}
	if format == outputJSON {
		return writeJSON(cmd.OutOrStdout(), migrations)
	}
	if len(migrations) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No migrations found.")
		return nil
	}
	for _, name := range migrations {
		fmt.Fprintln(cmd.OutOrStdout(), name)
	}
	return nil
}

func printSchemaVersion(cmd *cobra.Command, m *migration.Migrator) error {
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	format, _ := outputFormat(cmd)
	if format == outputJSON {
		return writeJSON(cmd.OutOrStdout(), map[string]any{"version": version, "dirty": dirty})
	}
	switch {
	case version == 0:
		fmt.Fprintln(cmd.OutOrStdout(), "No migrations applied.")
	case dirty:
		fmt.Fprintf(cmd.OutOrStdout(), "Schema version %d (dirty: fix the failed migration, then force a version)\n", version)
	default:
		fmt.Fprintf(cmd.OutOrStdout(), "Schema version %d\n", version)
	}
	return nil
}

// migrationsDir resolves --path, falling back to ./migrations and then to
// the migrations directory two levels above the executable.
func migrationsDir(cmd *cobra.Command) (string, error) {
	dir, _ := cmd.Flags().GetString("path")
	if dir == "" {
		dir = defaultMigrationsPath
		if _, err := os.Stat(dir); err != nil {
			if exe, err := os.Executable(); err == nil {
				candidate := filepath.Join(filepath.Dir(exe), "..", "..", defaultMigrationsPath)
				if _, err := os.Stat(candidate); err == nil {
					dir = candidate
				}
			}
		}
	}
	return filepath.Abs(dir)
}

func withMigrator(cmd *cobra.Command, fn func(m *migration.Migrator) error) error {
	if _, err := outputFormat(cmd); err != nil {
		return err
	}
	dir, err := migrationsDir(cmd)
	if err != nil {
		return err
	}
	configPath, _ := cmd.Flags().GetString("config")

	m, err := openSchema(configPath, dir)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()
	return fn(m)
}

func openPostgresSchema(configPath, migrationsPath string) (*migration.Migrator, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	m, err := migration.New(db, migrationsPath, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}
