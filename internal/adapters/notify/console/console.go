// Package console implementa ports.Notifier imprimiendo cada TimeSlice a un
// io.Writer, siguiendo el mismo patrón compacto/tabla que
// adapters/notify.Console del bot de arbitraje: una línea resumen siempre,
// y una tabla completa opcional vía olekukonko/tablewriter.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/alejandrodnm/marketfeed/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// Console es un ports.Notifier que escribe a out.
type Console struct {
	out   io.Writer
	table bool
}

// New crea un notificador que escribe a stdout.
func New(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewWriter crea un notificador hacia w, para tests.
func NewWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// Notify imprime slice en modo compacto, o en tabla completa si table está activo.
func (c *Console) Notify(_ context.Context, slice *domain.TimeSlice) error {
	if slice.IsTimePulse {
		fmt.Fprintf(c.out, "[%s] time pulse, no data\n", slice.UTCTime.Format("15:04:05.000"))
		return nil
	}

	if !slice.SecurityChanges.IsEmpty() {
		c.printSecurityChanges(slice)
	}

	if slice.Empty() {
		return nil
	}

	if c.table {
		c.printTable(slice)
	} else {
		c.printCompact(slice)
	}
	return nil
}

func (c *Console) printSecurityChanges(slice *domain.TimeSlice) {
	if len(slice.SecurityChanges.Added) > 0 {
		fmt.Fprintf(c.out, "[%s] +%d symbols added: %s\n",
			slice.UTCTime.Format("15:04:05"), len(slice.SecurityChanges.Added), symbolIDs(slice.SecurityChanges.Added))
	}
	if len(slice.SecurityChanges.Removed) > 0 {
		fmt.Fprintf(c.out, "[%s] -%d symbols removed: %s\n",
			slice.UTCTime.Format("15:04:05"), len(slice.SecurityChanges.Removed), symbolIDs(slice.SecurityChanges.Removed))
	}
}

func (c *Console) printCompact(slice *domain.TimeSlice) {
	fmt.Fprintf(c.out, "[%s] %d points (trade:%d quote:%d)\n",
		slice.UTCTime.Format("15:04:05.000"), slice.Data.Count(),
		len(slice.Data.TradeBars), len(slice.Data.QuoteBars))
}

func (c *Console) printTable(slice *domain.TimeSlice) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Symbol", "Type", "Open", "High", "Low", "Close", "Volume", "FF")

	symbols := make([]string, 0, len(slice.Data.TradeBars)+len(slice.Data.QuoteBars))
	for sym := range slice.Data.TradeBars {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		bar := slice.Data.TradeBars[sym]
		table.Append(sym, "Trade",
			fmt.Sprintf("%.4f", bar.Open), fmt.Sprintf("%.4f", bar.High),
			fmt.Sprintf("%.4f", bar.Low), fmt.Sprintf("%.4f", bar.Close),
			fmt.Sprintf("%.2f", bar.Volume), fmt.Sprintf("%v", bar.IsFillForward))
	}

	quoteSymbols := make([]string, 0, len(slice.Data.QuoteBars))
	for sym := range slice.Data.QuoteBars {
		quoteSymbols = append(quoteSymbols, sym)
	}
	sort.Strings(quoteSymbols)
	for _, sym := range quoteSymbols {
		bar := slice.Data.QuoteBars[sym]
		table.Append(sym, "Quote",
			fmt.Sprintf("%.4f", bar.Ask.Open), fmt.Sprintf("%.4f", bar.Ask.High),
			fmt.Sprintf("%.4f", bar.Ask.Low), fmt.Sprintf("%.4f", bar.Ask.Close),
			"-", fmt.Sprintf("%v", bar.IsFillForward))
	}

	table.Render()
	fmt.Fprintf(c.out, "[%s] %d points\n", slice.UTCTime.Format("15:04:05.000"), slice.Data.Count())
}

func symbolIDs(symbols []domain.Symbol) string {
	ids := make([]string, len(symbols))
	for i, s := range symbols {
		ids[i] = s.ID
	}
	return fmt.Sprintf("%v", ids)
}
