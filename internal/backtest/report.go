package backtest

import (
	"fmt"
	"io"
	"sort"

	"github.com/olekukonko/tablewriter"

	"meanrev/internal/model"
	"meanrev/internal/signal"
)

// Render prints the summary and the first maxTrades trades.
func (r Report) Render(w io.Writer, maxTrades int) {
	fmt.Fprintf(w, "Backtest %s: %d candles, %d ticks\n", r.Symbol, r.Candles, r.Ticks)

	summary := tablewriter.NewWriter(w)
	summary.SetHeader([]string{"Metric", "Value"})
	summary.SetAlignment(tablewriter.ALIGN_RIGHT)
	summary.AppendBulk([][]string{
		{"Entries", fmt.Sprint(r.Entries)},
		{"Exits", fmt.Sprint(r.Exits)},
		{"Win rate", fmt.Sprintf("%.1f%%", r.WinRate()*100)},
		{"Avg exit P&L", fmt.Sprintf("%.4f", r.AvgExitPnL)},
		{"Initial capital", fmt.Sprintf("%.2f", r.InitialCapital)},
		{"Final capital", fmt.Sprintf("%.2f", r.FinalCapital)},
		{"Open at end", fmt.Sprint(r.OpenAtEnd)},
		{"Unrealized P&L", fmt.Sprintf("%.4f", r.UnrealizedPnL)},
	})
	summary.Render()

	if len(r.Decisions) > 0 {
		reasons := make([]string, 0, len(r.Decisions))
		for reason := range r.Decisions {
			reasons = append(reasons, string(reason))
		}
		sort.Strings(reasons)

		dec := tablewriter.NewWriter(w)
		dec.SetHeader([]string{"Decision", "Ticks"})
		for _, reason := range reasons {
			dec.Append([]string{reason, fmt.Sprint(r.Decisions[signal.Reason(reason)])})
		}
		dec.Render()
	}

	if len(r.Trades) == 0 || maxTrades == 0 {
		return
	}
	trades := r.Trades
	if maxTrades > 0 && len(trades) > maxTrades {
		trades = trades[:maxTrades]
	}
	tbl := tablewriter.NewWriter(w)
	tbl.SetHeader([]string{"Index", "Time", "Type", "Pos", "Price", "Size", "P&L", "Reason"})
	for _, t := range trades {
		pnl := ""
		if t.Kind == model.TradeExit {
			pnl = fmt.Sprintf("%.4f", t.PnL)
		}
		tbl.Append([]string{
			fmt.Sprint(t.Tick.Index),
			t.Tick.TS.UTC().Format("2006-01-02 15:04"),
			string(t.Kind),
			fmt.Sprint(t.PositionID),
			fmt.Sprintf("%.8g", t.Price),
			fmt.Sprintf("%.8g", t.Size),
			pnl,
			t.Reason,
		})
	}
	tbl.Render()
	if len(trades) < len(r.Trades) {
		fmt.Fprintf(w, "(%d of %d trades shown)\n", len(trades), len(r.Trades))
	}
}
