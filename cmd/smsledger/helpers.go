package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/Veraticus/smsledger/internal/cli"
	"github.com/Veraticus/smsledger/internal/common"
	"github.com/Veraticus/smsledger/internal/config"
	"github.com/Veraticus/smsledger/internal/engine"
	"github.com/Veraticus/smsledger/internal/feedback"
	"github.com/Veraticus/smsledger/internal/ml"
	"github.com/Veraticus/smsledger/internal/storage"
	"github.com/Veraticus/smsledger/internal/template"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// rejectionsKey holds the persisted rejection counters.
const rejectionsKey = "smsledger.rejections"

// app bundles the services a command needs.
type app struct {
	db     *storage.SQLiteStorage
	store  *template.Store
	engine *engine.Engine
	opts   config.Options
}

// openApp loads configuration, opens the database and wires the engine.
func openApp(ctx context.Context) (*app, error) {
	opts, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, common.NewUserError("Configuration is invalid", err)
	}

	if err := config.EnsureParentDir(opts.DatabasePath); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := storage.Open(ctx, opts.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := template.NewWithOptions(db, opts.StoreOptions())
	extractor := ml.NewBayesExtractor(ml.Options{DateOrder: opts.DateOrder})
	eng := engine.NewWithConfig(store, extractor, db, opts.EngineConfig())

	a := &app{db: db, store: store, engine: eng, opts: opts}
	if err := eng.TrainExtractor(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := a.loadRejections(ctx); err != nil {
		slog.Warn("Ignoring unreadable rejection counters", "error", err)
	}
	return a, nil
}

// Close persists rejection counters and closes the database. The counters
// are saved even when ctx was canceled by an interrupt.
func (a *app) Close(ctx context.Context) error {
	saveErr := a.saveRejections(context.WithoutCancel(ctx))
	closeErr := a.db.Close()
	return errors.Join(saveErr, closeErr)
}

func (a *app) loadRejections(ctx context.Context) error {
	data, err := a.db.Get(ctx, rejectionsKey)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	var counts []feedback.Count
	if err := json.Unmarshal(data, &counts); err != nil {
		return fmt.Errorf("%w: %w", common.ErrDatabaseCorrupted, err)
	}
	a.engine.Tracker().Restore(counts)
	return nil
}

func (a *app) saveRejections(ctx context.Context) error {
	counts := a.engine.Tracker().Snapshot()
	return a.db.Update(ctx, rejectionsKey, func([]byte) ([]byte, error) {
		if len(counts) == 0 {
			return nil, nil
		}
		return json.Marshal(counts)
	})
}

func jsonOutput() bool {
	return viper.GetBool("output.json")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readMessage returns the message given as arguments, or reads it from in
// when no arguments are given.
func readMessage(ctx context.Context, args []string, in io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	msg, err := cli.NewReader(in).ReadAll(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read message: %w", err)
	}
	if msg == "" {
		return "", common.NewUserError("No message given", common.ErrEmptyMessage)
	}
	return msg, nil
}

// backupBefore backs up the database ahead of a destructive operation.
func backupBefore(cmd *cobra.Command, db *storage.SQLiteStorage, reason string) error {
	info, err := db.Backup(cmd.Context(), reason)
	if errors.Is(err, storage.ErrBackupUnavailable) {
		slog.Debug("Skipping backup of in-memory database")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to back up database before %s: %w", reason, err)
	}
	if !jsonOutput() {
		_, err = fmt.Fprintln(cmd.ErrOrStderr(), cli.FormatInfo("Backup saved to "+info.Path))
	}
	return err
}
