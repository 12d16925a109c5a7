package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/Veraticus/smsledger/internal/cli"
	"github.com/Veraticus/smsledger/internal/common"
	"github.com/Veraticus/smsledger/internal/model"
	"github.com/Veraticus/smsledger/internal/structure"
	"github.com/spf13/cobra"
)

func templatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Inspect and manage learned templates",
	}
	cmd.AddCommand(templatesListCmd())
	cmd.AddCommand(templatesShowCmd())
	cmd.AddCommand(templatesClearCmd())
	return cmd
}

func templatesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List learned templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(cmd.Context()) }()

			entries, err := a.store.Entries(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			return printTemplateList(cmd.OutOrStdout(), entries)
		},
	}
}

func printTemplateList(w io.Writer, entries []model.LearnedEntry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, cli.FormatInfo("No templates learned yet. Confirm a transaction with `smsledger learn`."))
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tVENDOR\tTYPE\tCONFIRMATIONS\tCONFIDENCE\tHASH")
	for i := range entries {
		e := &entries[i]
		vendor := e.ConfirmedFields.Vendor
		if vendor == "" {
			vendor = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.2f\t%s\n",
			e.ID, vendor, e.ConfirmedFields.Type, e.Confirmations(), e.ConfidenceValue(), e.TemplateHash)
	}
	return tw.Flush()
}

// templateDetail is the JSON form of templates show.
type templateDetail struct {
	Entry     *model.LearnedEntry     `json:"entry"`
	Structure model.StructureTemplate `json:"structure"`
}

func templatesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show one learned template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(cmd.Context()) }()

			entry, err := a.store.Entry(cmd.Context(), args[0])
			if err != nil {
				return common.NewUserError(fmt.Sprintf("No template with id %q", args[0]), err)
			}
			detail := templateDetail{Entry: entry, Structure: structure.BuildTemplate(entry)}
			if jsonOutput() {
				return printJSON(cmd.OutOrStdout(), detail)
			}
			return printTemplateDetail(cmd.OutOrStdout(), detail, a.opts.MinConfidenceThreshold)
		},
	}
}

func printTemplateDetail(w io.Writer, d templateDetail, threshold float64) error {
	e := d.Entry
	c := e.ConfirmedFields
	fields := make([]string, 0, len(d.Structure.Fields))
	for _, f := range d.Structure.Fields {
		fields = append(fields, string(f))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", cli.LabelStyle.Render("ID:"), e.ID)
	fmt.Fprintf(&b, "%s %s\n", cli.LabelStyle.Render("Sender:"), orDash(e.SenderHint))
	fmt.Fprintf(&b, "%s %s\n", cli.LabelStyle.Render("Message:"), e.RawMessage)
	fmt.Fprintf(&b, "%s %s\n", cli.LabelStyle.Render("Amount:"), cli.FormatAmount(c.Amount, c.Currency))
	fmt.Fprintf(&b, "%s %s\n", cli.LabelStyle.Render("Type:"), c.Type)
	fmt.Fprintf(&b, "%s %s\n", cli.LabelStyle.Render("Vendor:"), orDash(c.Vendor))
	fmt.Fprintf(&b, "%s %s\n", cli.LabelStyle.Render("Account:"), orDash(c.Account))
	fmt.Fprintf(&b, "%s %s\n", cli.LabelStyle.Render("Category:"), orDash(c.Category))
	fmt.Fprintf(&b, "%s %d\n", cli.LabelStyle.Render("Confirmed:"), e.Confirmations())
	fmt.Fprintf(&b, "%s %s\n", cli.LabelStyle.Render("Confidence:"), cli.FormatConfidence(e.ConfidenceValue(), threshold))
	fmt.Fprintf(&b, "%s %s\n", cli.LabelStyle.Render("Hash:"), e.TemplateHash)
	fmt.Fprintf(&b, "%s %s\n", cli.LabelStyle.Render("Structure:"), d.Structure.Structure)
	fmt.Fprintf(&b, "%s %s", cli.LabelStyle.Render("Fields:"), strings.Join(fields, ", "))

	_, err := fmt.Fprintln(w, cli.RenderBox("Learned template", b.String()))
	return err
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func templatesClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every learned template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			yes, _ := cmd.Flags().GetBool("yes")
			if !yes {
				return common.NewUserError("Refusing to delete learned templates without --yes", common.ErrNotConfirmed)
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(cmd.Context()) }()

			if err := backupBefore(cmd, a.db, "templates clear"); err != nil {
				return err
			}
			if err := a.store.ClearLearnedEntries(cmd.Context()); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Learned templates cleared."))
			return err
		},
	}
	cmd.Flags().Bool("yes", false, "confirm deletion")
	return cmd
}
