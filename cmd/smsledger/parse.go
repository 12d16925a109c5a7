package main

import (
	"fmt"
	"io"

	"github.com/Veraticus/smsledger/internal/cli"
	"github.com/Veraticus/smsledger/internal/engine"
	"github.com/Veraticus/smsledger/internal/model"
	"github.com/spf13/cobra"
)

// parseResult is the JSON form of a processed message.
type parseResult struct {
	Draft            *model.TransactionDraft  `json:"draft,omitempty"`
	FallbackTemplate *model.StructureTemplate `json:"fallbackTemplate,omitempty"`
	Sender           string                   `json:"sender,omitempty"`
	Message          string                   `json:"message"`
	Origin           model.Origin             `json:"origin,omitempty"`
	TemplateHash     string                   `json:"templateHash"`
	EntryID          string                   `json:"entryId,omitempty"`
	Confidence       float64                  `json:"confidence"`
	Matched          bool                     `json:"matched"`
	ShouldTrain      bool                     `json:"shouldTrain"`
	NeedsAnnotation  bool                     `json:"needsAnnotation"`
}

func newParseResult(message, sender string, out engine.Outcome, needsAnnotation bool) parseResult {
	r := parseResult{
		Draft:            out.Draft,
		FallbackTemplate: out.FallbackTemplate,
		Sender:           sender,
		Message:          message,
		Origin:           out.Origin,
		TemplateHash:     out.TemplateHash,
		Confidence:       out.Confidence,
		Matched:          out.Matched,
		ShouldTrain:      out.ShouldTrain,
		NeedsAnnotation:  needsAnnotation,
	}
	if out.Entry != nil {
		r.EntryID = out.Entry.ID
	}
	return r
}

func parseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parse [message]",
		Short: "Propose a transaction for a message",
		Long: `Run a message through the matching cascade and print the proposed
transaction. The message is read from standard input when no argument is given.`,
		RunE: runParse,
	}
	cmd.Flags().StringP("sender", "s", "", "sender of the message (e.g. the bank's short code)")
	return cmd
}

func runParse(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sender, _ := cmd.Flags().GetString("sender")

	message, err := readMessage(ctx, args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(ctx) }()

	out, err := a.engine.Process(ctx, message, sender)
	if err != nil {
		return fmt.Errorf("failed to process message: %w", err)
	}
	result := newParseResult(message, sender, out, a.engine.NeedsAnnotation(message, sender))

	if jsonOutput() {
		return printJSON(cmd.OutOrStdout(), result)
	}
	return printParseResult(cmd.OutOrStdout(), result, a.opts.MinConfidenceThreshold)
}

func printParseResult(w io.Writer, r parseResult, threshold float64) error {
	if r.Draft == nil {
		_, err := fmt.Fprintln(w, cli.FormatWarning("No transaction found in this message."))
		return err
	}

	lines := []string{cli.RenderDraft(r.Draft, r.Confidence, threshold)}
	if r.NeedsAnnotation {
		lines = append(lines, cli.FormatWarning("This template keeps being rejected. Please confirm it with `smsledger learn`."))
	} else if r.ShouldTrain {
		lines = append(lines, cli.FormatInfo("Low confidence. Confirming this transaction will teach the template."))
	}
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}
