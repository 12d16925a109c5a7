package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"text/tabwriter"

	"github.com/Veraticus/smsledger/internal/cli"
	"github.com/Veraticus/smsledger/internal/common"
	"github.com/Veraticus/smsledger/internal/model"
	"github.com/spf13/cobra"
)

// importRecord is one message of a batch file.
type importRecord struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
	Line    int    `json:"-"`
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Process a batch of messages",
		Long: `Run every message in FILE through the matching cascade. Each line is
either "sender<TAB>message", a JSON object {"sender": ..., "message": ...},
or a bare message. Blank lines and lines starting with # are skipped.
Use - to read from standard input.`,
		Args: cobra.ExactArgs(1),
		RunE: runImport,
	}
	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	records, err := loadImportFile(args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return common.NewUserError("No messages to import", common.ErrEmptyMessage)
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(cmd.Context()) }()

	var processed atomic.Int64
	handler := cli.NewInterruptHandler(cmd.ErrOrStderr())
	ctx, stop := handler.HandleInterrupts(cmd.Context(), func() int { return int(processed.Load()) })
	defer stop()

	bar := cli.NewProgressBar(cmd.ErrOrStderr(), len(records), "Importing messages...")
	results := make([]parseResult, 0, len(records))
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		out, err := a.engine.Process(ctx, rec.Message, rec.Sender)
		if err != nil {
			if errors.Is(err, ctx.Err()) {
				break
			}
			return fmt.Errorf("line %d: %w", rec.Line, err)
		}
		results = append(results, newParseResult(rec.Message, rec.Sender, out, a.engine.NeedsAnnotation(rec.Message, rec.Sender)))
		processed.Add(1)
		if err := bar.Add(1); err != nil {
			slog.Warn("Failed to update progress bar", "error", err)
		}
	}

	if handler.WasInterrupted() {
		slog.Info("Import stopped early", "processed", len(results), "total", len(records))
	}
	if jsonOutput() {
		return printJSON(cmd.OutOrStdout(), results)
	}
	return printImportSummary(cmd.OutOrStdout(), results)
}

func loadImportFile(path string, stdin io.Reader) ([]importRecord, error) {
	if path == "-" {
		return parseImport(stdin)
	}
	f, err := os.Open(path) //nolint:gosec // user-provided import file
	if err != nil {
		return nil, fmt.Errorf("failed to open import file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return parseImport(f)
}

// parseImport reads batch records from r.
func parseImport(r io.Reader) ([]importRecord, error) {
	var records []importRecord
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(text)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		var rec importRecord
		switch {
		case strings.HasPrefix(trimmed, "{"):
			if err := json.Unmarshal([]byte(trimmed), &rec); err != nil {
				return nil, fmt.Errorf("line %d: invalid JSON: %w", line, err)
			}
		case strings.Contains(text, "\t"):
			sender, message, _ := strings.Cut(text, "\t")
			rec = importRecord{Sender: strings.TrimSpace(sender), Message: message}
		default:
			rec = importRecord{Message: text}
		}

		rec.Message = strings.TrimSpace(rec.Message)
		if rec.Message == "" {
			slog.Warn("Skipping import line without a message", "line", line)
			continue
		}
		rec.Line = line
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read import file: %w", err)
	}
	return records, nil
}

func printImportSummary(w io.Writer, results []parseResult) error {
	byOrigin := make(map[model.Origin]int)
	noDraft, needsAnnotation := 0, 0
	for _, r := range results {
		if r.Draft == nil {
			noDraft++
			continue
		}
		byOrigin[r.Origin]++
		if r.NeedsAnnotation {
			needsAnnotation++
		}
	}

	if _, err := fmt.Fprintln(w, cli.FormatTitle(fmt.Sprintf("Imported %d messages", len(results)))); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ORIGIN\tMESSAGES")
	for _, o := range model.Origins {
		fmt.Fprintf(tw, "%s\t%d\n", o, byOrigin[o])
	}
	fmt.Fprintf(tw, "no transaction\t%d\n", noDraft)
	if err := tw.Flush(); err != nil {
		return err
	}
	if needsAnnotation > 0 {
		_, err := fmt.Fprintln(w, cli.FormatWarning(fmt.Sprintf("%d messages need annotation.", needsAnnotation)))
		return err
	}
	return nil
}
