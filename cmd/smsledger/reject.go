package main

import (
	"fmt"

	"github.com/Veraticus/smsledger/internal/cli"
	"github.com/spf13/cobra"
)

func rejectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reject [message]",
		Short: "Report that the proposed transaction was wrong",
		Long: `Record a rejection for the message's template. After repeated rejections
from the same sender the template is flagged for manual annotation.`,
		RunE: runReject,
	}
	cmd.Flags().StringP("sender", "s", "", "sender of the message")
	return cmd
}

func runReject(cmd *cobra.Command, args []string) error {
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

	count := a.engine.Reject(message, sender)
	needs := a.engine.NeedsAnnotation(message, sender)

	if jsonOutput() {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"rejections":      count,
			"threshold":       a.engine.Tracker().Threshold(),
			"needsAnnotation": needs,
		})
	}

	line := cli.FormatInfo(fmt.Sprintf("Rejection recorded (%d of %d).", count, a.engine.Tracker().Threshold()))
	if needs {
		line = cli.FormatWarning("This template needs annotation. Confirm the right values with `smsledger learn`.")
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), line)
	return err
}
