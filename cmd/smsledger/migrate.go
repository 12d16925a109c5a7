package main

import (
	"fmt"

	"github.com/Veraticus/smsledger/internal/cli"
	"github.com/Veraticus/smsledger/internal/common"
	"github.com/Veraticus/smsledger/internal/config"
	"github.com/Veraticus/smsledger/internal/storage"
	"github.com/Veraticus/smsledger/internal/template"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// migrationStatus is the JSON form of migrate --status.
type migrationStatus struct {
	Path     string `json:"path"`
	Current  int    `json:"current"`
	Expected int    `json:"expected"`
	UpToDate bool   `json:"upToDate"`
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Upgrade the database schema and stored templates",
		Long: `Apply pending schema migrations, then rewrite learned templates stored in
an older layout in the current one.`,
		Args: cobra.NoArgs,
		RunE: runMigrate,
	}
	cmd.Flags().Bool("status", false, "show the schema version without migrating")
	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	statusOnly, _ := cmd.Flags().GetBool("status")

	opts, err := config.Load(viper.GetViper())
	if err != nil {
		return common.NewUserError("Configuration is invalid", err)
	}
	if err := config.EnsureParentDir(opts.DatabasePath); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := storage.NewSQLiteStorage(opts.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	current, err := db.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	if statusOnly {
		status := migrationStatus{
			Path:     opts.DatabasePath,
			Current:  current,
			Expected: storage.ExpectedSchemaVersion,
			UpToDate: current == storage.ExpectedSchemaVersion,
		}
		if jsonOutput() {
			return printJSON(cmd.OutOrStdout(), status)
		}
		msg := fmt.Sprintf("Schema version %d of %d.", status.Current, status.Expected)
		if status.UpToDate {
			_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(msg))
		} else {
			_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatWarning(msg+" Run `smsledger migrate` to upgrade."))
		}
		return err
	}

	if current > 0 && current < storage.ExpectedSchemaVersion {
		if err := backupBefore(cmd, db, "migrate"); err != nil {
			return err
		}
	}
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	store := template.NewWithOptions(db, opts.StoreOptions())
	if err := store.Reload(ctx); err != nil {
		return err
	}
	entries, err := store.Entries(ctx)
	if err != nil {
		return err
	}

	if jsonOutput() {
		return printJSON(cmd.OutOrStdout(), migrationStatus{
			Path:     opts.DatabasePath,
			Current:  storage.ExpectedSchemaVersion,
			Expected: storage.ExpectedSchemaVersion,
			UpToDate: true,
		})
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf(
		"Database at schema version %d (was %d), %d learned templates.",
		storage.ExpectedSchemaVersion, current, len(entries))))
	return err
}
