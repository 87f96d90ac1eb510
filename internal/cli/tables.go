package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/subdupes/internal/detect"
	"github.com/Veraticus/subdupes/internal/model"
	"github.com/Veraticus/subdupes/internal/price"
	"github.com/Veraticus/subdupes/internal/storage"
)

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// FormatAmount renders an amount with its currency symbol.
func FormatAmount(amount decimal.Decimal, currency string) string {
	return price.Symbol(currency) + amount.StringFixed(2)
}

func newTable(w io.Writer, headers ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row(headers))
	return tw
}

// RenderPending writes the pending queue as a table.
func RenderPending(w io.Writer, items []model.PendingSubscription) {
	tw := newTable(w, "ID", "Name", "Plan", "Amount", "Cycle", "Site", "Source", "Saved")
	for _, p := range items {
		tw.AppendRow(table.Row{
			p.ID,
			p.Name,
			p.PlanName,
			FormatAmount(p.Amount, p.Currency),
			p.BillingCycle,
			p.WebsiteURL,
			p.Source,
			p.SavedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{{Number: 4, Align: text.AlignRight}})
	tw.AppendFooter(table.Row{"", "Total", "", strconv.Itoa(len(items))})
	tw.Render()
}

// RenderFields lists stored fields with their encoded size.
func RenderFields(w io.Writer, fields []storage.FieldInfo) {
	tw := newTable(w, "Field", "Bytes", "Updated")
	for _, f := range fields {
		tw.AppendRow(table.Row{f.Name, f.Size, f.UpdatedAt.Local().Format("2006-01-02 15:04")})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	tw.Render()
}

// RenderConflicts writes open conflicts side by side.
func RenderConflicts(w io.Writer, conflicts []model.Conflict) {
	tw := newTable(w, "#", "Pending", "Pending amount", "Existing", "Existing amount", "Site")
	for i, c := range conflicts {
		tw.AppendRow(table.Row{
			i + 1,
			c.Pending.Name,
			FormatAmount(c.Pending.Amount, c.Pending.Currency),
			c.Existing.Name,
			FormatAmount(c.Existing.Amount, c.Existing.Currency),
			c.Pending.WebsiteURL,
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	tw.Render()
}

// RenderBreakdown writes the per-channel confidence scores of a scan.
func RenderBreakdown(w io.Writer, b detect.Breakdown, rules detect.Rules) {
	tw := newTable(w, "Channel", "Score", "Cap")
	tw.AppendRow(table.Row{"URL", b.URL, rules.URL.Cap})
	tw.AppendRow(table.Row{"Keywords", b.Keywords, rules.Keywords.Cap})
	tw.AppendRow(table.Row{"DOM", b.DOM, rules.DOM.Cap})
	tw.AppendRow(table.Row{"Price", b.Price, rules.Price.Cap})
	tw.AppendFooter(table.Row{"Total", b.Total(), fmt.Sprintf("≥%d detect, ≥%d prompt", rules.Threshold, rules.PromptThreshold)})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
	})
	tw.Render()
}

// NewSyncProgress creates a progress bar for a sync of total items. It draws
// nothing when w is not a terminal.
func NewSyncProgress(w io.Writer, total int) *progressbar.ProgressBar {
	if !IsTerminal(w) {
		return progressbar.DefaultSilent(int64(total))
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Syncing subscriptions...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			_, _ = fmt.Fprintln(w)
		}),
	)
}
