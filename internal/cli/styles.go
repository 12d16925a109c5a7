// Package cli provides styled terminal output using lipgloss.
package cli

import (
	"fmt"
	"strings"

	"github.com/Veraticus/smsledger/internal/model"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
)

var (
	// PrimaryColor is the main theme color.
	PrimaryColor = lipgloss.Color("#5B8DEF")
	// SuccessColor indicates successful operations.
	SuccessColor = lipgloss.Color("#4ECDC4") // Teal
	// WarningColor indicates warnings or caution messages.
	WarningColor = lipgloss.Color("#FFE66D") // Yellow
	// ErrorColor indicates errors or failure messages.
	ErrorColor = lipgloss.Color("#FF6B6B") // Red
	// InfoColor indicates informational messages.
	InfoColor = lipgloss.Color("#95E1D3") // Light teal
	// SubtleColor indicates less prominent UI elements.
	SubtleColor = lipgloss.Color("#666666") // Gray

	// TitleStyle is used for section titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor).
			MarginBottom(1)

	// SuccessStyle formats success messages.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(SuccessColor)

	// WarningStyle formats warning messages.
	WarningStyle = lipgloss.NewStyle().
			Foreground(WarningColor)

	// ErrorStyle formats error messages.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(ErrorColor)

	// InfoStyle formats informational messages.
	InfoStyle = lipgloss.NewStyle().
			Foreground(InfoColor)

	// SubtleStyle formats less prominent text.
	SubtleStyle = lipgloss.NewStyle().
			Foreground(SubtleColor)

	// BoldStyle makes text bold.
	BoldStyle = lipgloss.NewStyle().
			Bold(true)

	// BoxStyle is used for bordered content boxes.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#333")).
			Padding(1, 2)

	// LabelStyle right-aligns field labels in a draft box.
	LabelStyle = lipgloss.NewStyle().
			Foreground(SubtleColor).
			Width(12)
)

// Icons.
const (
	SuccessIcon = "✓"
	ErrorIcon   = "✗"
	WarningIcon = "⚠️"
	InfoIcon    = "ℹ️"
	LedgerIcon  = "📒"
	ChartIcon   = "📊"
)

// originColors distinguishes cascade stages.
var originColors = map[model.Origin]lipgloss.Color{
	model.OriginTemplate:  SuccessColor,
	model.OriginStructure: InfoColor,
	model.OriginML:        WarningColor,
	model.OriginFallback:  ErrorColor,
}

// FormatSuccess formats a success message with icon.
func FormatSuccess(message string) string {
	return SuccessStyle.Render(SuccessIcon + " " + message)
}

// FormatError formats an error message with icon.
func FormatError(message string) string {
	return ErrorStyle.Render(ErrorIcon + " " + message)
}

// FormatWarning formats a warning message with icon.
func FormatWarning(message string) string {
	return WarningStyle.Render(WarningIcon + " " + message)
}

// FormatInfo formats an info message with icon.
func FormatInfo(message string) string {
	return InfoStyle.Render(InfoIcon + " " + message)
}

// FormatTitle formats a title with the ledger icon.
func FormatTitle(title string) string {
	return TitleStyle.Render(LedgerIcon + " " + title)
}

// FormatOrigin renders a cascade origin as a colored badge.
func FormatOrigin(origin model.Origin) string {
	if origin == "" {
		return SubtleStyle.Render("none")
	}
	color, ok := originColors[origin]
	if !ok {
		color = SubtleColor
	}
	return lipgloss.NewStyle().Bold(true).Foreground(color).Render(string(origin))
}

// FormatConfidence renders a confidence as a percentage, colored against
// threshold.
func FormatConfidence(confidence, threshold float64) string {
	text := fmt.Sprintf("%.0f%%", confidence*100)
	switch {
	case confidence >= threshold:
		return SuccessStyle.Render(text)
	case confidence >= threshold/2:
		return WarningStyle.Render(text)
	default:
		return ErrorStyle.Render(text)
	}
}

// FormatAmount renders a signed amount with its currency.
func FormatAmount(amount decimal.Decimal, currency string) string {
	text := strings.TrimSpace(amount.StringFixed(2) + " " + currency)
	if amount.IsNegative() {
		return ErrorStyle.Render(text)
	}
	return SuccessStyle.Render(text)
}

// RenderBox renders content in a styled box.
func RenderBox(title, content string) string {
	boxTitle := TitleStyle.
		UnsetMargins().
		Render(title)

	boxContent := lipgloss.JoinVertical(
		lipgloss.Left,
		boxTitle,
		content,
	)

	return BoxStyle.Render(boxContent)
}

// RenderDraft lays out a transaction draft as labeled lines in a box.
func RenderDraft(d *model.TransactionDraft, confidence, threshold float64) string {
	row := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, LabelStyle.Render(label), value)
	}

	rows := []string{
		row("Amount", FormatAmount(d.Amount, d.Currency)),
		row("Type", string(d.Type)),
	}
	if d.Vendor != "" {
		rows = append(rows, row("Vendor", BoldStyle.Render(d.Vendor)))
	}
	if d.FromAccount != "" {
		rows = append(rows, row("Account", d.FromAccount))
	}
	rows = append(rows,
		row("Date", d.Date.Format("2006-01-02")),
		row("Category", d.Category),
		row("Origin", FormatOrigin(d.Origin)),
		row("Confidence", FormatConfidence(confidence, threshold)),
	)
	return RenderBox("Transaction draft", lipgloss.JoinVertical(lipgloss.Left, rows...))
}
