package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/david/fare-finder/internal/config"
	"github.com/david/fare-finder/internal/db"
	"github.com/david/fare-finder/internal/quota"
	"github.com/jedib0t/go-pretty/v6/table"
)

func main() {
	config.LoadDotEnv()
	cfg, err := config.Load(config.GetEnv("FARE_CONFIG", ""))
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()
	store := db.NewStore(pool)

	provider := cfg.Providers.Primary.Name
	ledger := quota.NewLedger(cfg.Quota.DailyLimit, cfg.Quota.MonthlyLimit, cfg.Location())
	dayStart, monthStart := ledger.Windows()
	today, month, err := store.CountAPICalls(ctx, provider, dayStart, monthStart)
	if err != nil {
		log.Fatal(err)
	}
	ledger.Restore(today, month)
	snap := ledger.Status()

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(fmt.Sprintf("%s quota (%s)", provider, cfg.Quota.Timezone))
	t.AppendHeader(table.Row{"Window", "Used", "Limit", "Remaining", "Percent"})
	t.AppendRow(table.Row{"today", snap.TodayCalls, snap.DailyLimit, snap.RemainingToday, fmt.Sprintf("%.1f%%", snap.DailyPercent)})
	t.AppendRow(table.Row{"month", snap.MonthlyCalls, snap.MonthlyLimit, snap.RemainingMonthly, fmt.Sprintf("%.1f%%", snap.MonthlyPercent)})
	t.AppendFooter(table.Row{"status", snap.Status, "mode", snap.Mode, ""})
	t.Render()

	days, err := store.DailyCallCounts(ctx, provider, dayStart.AddDate(0, 0, -6), cfg.Location())
	if err != nil {
		log.Fatal(err)
	}
	d := table.NewWriter()
	d.SetOutputMirror(os.Stdout)
	d.AppendHeader(table.Row{"Day", "Calls", "Failed", "Avg"})
	for _, day := range days {
		avg := time.Duration(day.Average * float64(time.Millisecond)).Round(time.Millisecond)
		d.AppendRow(table.Row{day.Day.Format("2006-01-02"), day.Calls, day.Failed, avg})
	}
	d.Render()
}
