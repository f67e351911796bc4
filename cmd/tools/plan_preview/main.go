package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/david/fare-finder/internal/config"
	"github.com/david/fare-finder/internal/db"
	"github.com/david/fare-finder/internal/pipeline"
	"github.com/david/fare-finder/internal/planner"
	"github.com/david/fare-finder/internal/quota"
	"github.com/jedib0t/go-pretty/v6/table"
)

// plan_preview prints the allocation the next scheduling cycle would use.
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

	ledger := quota.NewLedger(cfg.Quota.DailyLimit, cfg.Quota.MonthlyLimit, cfg.Location())
	dayStart, monthStart := ledger.Windows()
	if today, month, err := store.CountAPICalls(ctx, cfg.Providers.Primary.Name, dayStart, monthStart); err == nil {
		ledger.Restore(today, month)
	} else {
		log.Printf("[Warn] using an empty ledger: %v", err)
	}

	p := pipeline.New(cfg, pipeline.Deps{
		Routes:  store,
		Samples: store,
		Deals:   store,
		Ledger:  ledger,
	})
	plan, err := p.PreviewPlan(ctx)
	if err != nil {
		log.Fatal(err)
	}

	snap := ledger.Status()
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(fmt.Sprintf("Budget %d scans (%s)", snap.RemainingToday, snap.Status))
	t.AppendHeader(table.Row{"#", "Route", "Tier", "Region", "Seasonal", "Score", "Scans/day", "Every"})
	for _, a := range plan {
		seasonal := ""
		if a.Seasonal {
			seasonal = "🌴"
		}
		t.AppendRow(table.Row{
			a.Rank + 1, a.Route.Pair(), a.Route.Tier, a.Route.Region, seasonal,
			fmt.Sprintf("%.1f", a.Score), a.DailyScans, fmt.Sprintf("%.1fh", a.IntervalHours),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "total", planner.TotalScans(plan), ""})
	t.Render()
}
