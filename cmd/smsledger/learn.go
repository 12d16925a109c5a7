package main

import (
	"fmt"
	"strings"

	"github.com/Veraticus/smsledger/internal/cli"
	"github.com/Veraticus/smsledger/internal/common"
	"github.com/Veraticus/smsledger/internal/model"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func learnCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "learn [message]",
		Short: "Confirm the transaction for a message",
		Long: `Confirm a transaction so its message template is learned. Values the
engine proposes are used unless overridden with flags.`,
		RunE: runLearn,
	}
	cmd.Flags().StringP("sender", "s", "", "sender of the message")
	cmd.Flags().String("amount", "", "transaction amount")
	cmd.Flags().String("type", "", "transaction type (expense, income, transfer)")
	cmd.Flags().String("currency", "", "ISO currency code")
	cmd.Flags().String("vendor", "", "merchant or counterparty")
	cmd.Flags().String("account", "", "account the money moved from")
	cmd.Flags().String("category", "", "category")
	cmd.Flags().String("subcategory", "", "subcategory")
	cmd.Flags().String("person", "", "person the transaction is attributed to")
	return cmd
}

func runLearn(cmd *cobra.Command, args []string) error {
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

	if !a.opts.LearningEnabled {
		return common.NewUserError("Learning is turned off (learning.enabled)", common.ErrLearningDisabled)
	}

	out, err := a.engine.Process(ctx, message, sender)
	if err != nil {
		return fmt.Errorf("failed to process message: %w", err)
	}

	var draft model.TransactionDraft
	if out.Draft != nil {
		draft = *out.Draft
	}
	if err := applyDraftFlags(&draft, cmd.Flags()); err != nil {
		return err
	}
	if draft.Amount.IsZero() {
		return common.NewUserError("No amount found; pass --amount", common.ErrNoAmount)
	}
	draft.Normalize()

	entry, err := a.engine.Confirm(ctx, message, sender, draft, nil)
	if err != nil {
		return fmt.Errorf("failed to learn transaction: %w", err)
	}

	if jsonOutput() {
		return printJSON(cmd.OutOrStdout(), entry)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf(
		"Learned template %s (%d confirmations, confidence %.0f%%)",
		entry.ID, entry.Confirmations(), entry.ConfidenceValue()*100)))
	return err
}

// applyDraftFlags overrides draft fields with the flags that were set.
func applyDraftFlags(draft *model.TransactionDraft, flags *pflag.FlagSet) error {
	if v, _ := flags.GetString("amount"); v != "" {
		amount, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return common.NewUserError("Invalid --amount", err)
		}
		draft.Amount = amount
	}
	if v, _ := flags.GetString("type"); v != "" {
		t, err := model.ParseTransactionType(strings.ToLower(strings.TrimSpace(v)))
		if err != nil {
			return common.NewUserError("Invalid --type", err)
		}
		draft.Type = t
	}

	set := func(name string, dst *string) {
		if v, _ := flags.GetString(name); v != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set("currency", &draft.Currency)
	set("vendor", &draft.Vendor)
	set("account", &draft.FromAccount)
	set("category", &draft.Category)
	set("subcategory", &draft.Subcategory)
	set("person", &draft.Person)
	draft.Currency = strings.ToUpper(draft.Currency)
	return nil
}
