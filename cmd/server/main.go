package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/david/fare-finder/internal/alert"
	"github.com/david/fare-finder/internal/api"
	"github.com/david/fare-finder/internal/config"
	"github.com/david/fare-finder/internal/db"
	"github.com/david/fare-finder/internal/deals"
	"github.com/david/fare-finder/internal/models"
	"github.com/david/fare-finder/internal/pipeline"
	"github.com/david/fare-finder/internal/pricesource"
	"github.com/david/fare-finder/internal/quota"
)

func main() {
	config.LoadDotEnv()
	port := config.GetEnv("PORT", "8081")

	cfg, err := config.Load(config.GetEnv("FARE_CONFIG", ""))
	if err != nil {
		log.Fatalf("Failed to load pipeline config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ledger := quota.NewLedger(cfg.Quota.DailyLimit, cfg.Quota.MonthlyLimit, cfg.Location())

	var (
		routes  pipeline.RouteStore
		samples pipeline.SampleStore
		dealDB  pipeline.DealStore
		calls   pipeline.CallLog
	)
	if strings.EqualFold(config.GetEnv("FARE_STORE", "postgres"), "memory") {
		log.Printf("[Config] FARE_STORE=memory, nothing is persisted")
		seeded := make([]models.Route, 0, len(cfg.Routes))
		for _, seed := range cfg.Routes {
			seeded = append(seeded, cfg.NewRoute(seed))
		}
		mem := pipeline.NewMemoryStore(seeded...)
		routes, samples, calls = mem, mem, mem
		dealDB = deals.NewMemoryStore()
	} else {
		pool, err := db.Connect(ctx)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer pool.Close()

		if err := db.ApplyMigrations(ctx, pool); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		store := db.NewStore(pool)
		seedRoutes(ctx, cfg, store)
		restoreLedger(ctx, cfg, store, ledger)
		routes, samples, dealDB, calls = store, store, store, store
	}

	primary := pricesource.NewFlightLabs(cfg.Providers.Primary,
		pricesource.WithAdmission(pipeline.QuotaAdmission(ledger)),
		pricesource.WithRecorder(pipeline.CallLogger(calls)))
	secondary := pricesource.NewTravelPayouts(cfg.Providers.Secondary,
		pricesource.WithRecorder(pipeline.CallLogger(calls)))

	alerters, closeAlerts := buildAlerters()
	defer closeAlerts()

	p := pipeline.New(cfg, pipeline.Deps{
		Routes:    routes,
		Samples:   samples,
		Deals:     dealDB,
		Ledger:    ledger,
		Primary:   primary,
		Secondary: secondary,
		Alerter:   alerters,
	})

	runner := pipeline.NewRunner(p,
		time.Duration(cfg.Scheduler.CycleIntervalMinutes)*time.Minute,
		time.Duration(cfg.Scheduler.SweepIntervalMinutes)*time.Minute).
		WithMaintenance(time.Duration(cfg.Maintain.IntervalMinutes) * time.Minute)
	if config.GetEnv("SCHEDULER_DISABLED", "") == "" {
		runner.Start(ctx)
	}

	srv := api.NewServer(p)
	go func() {
		log.Printf("Server starting on port %s...", port)
		if err := srv.Start(port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Printf("Shutting down...")
	runner.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Warn] server shutdown: %v", err)
	}
}

// seedRoutes upserts the configured routes so config changes reach the
// database on every start.
func seedRoutes(ctx context.Context, cfg *config.Config, store *db.Store) {
	for _, seed := range cfg.Routes {
		r := cfg.NewRoute(seed)
		if err := store.UpsertRoute(ctx, &r); err != nil {
			log.Printf("[Warn] failed to seed route %s: %v", r.Pair(), err)
		}
	}
	log.Printf("[DB] seeded %d routes", len(cfg.Routes))
}

// restoreLedger resumes the quota counters from the persisted call log.
func restoreLedger(ctx context.Context, cfg *config.Config, store *db.Store, ledger *quota.Ledger) {
	dayStart, monthStart := ledger.Windows()
	today, month, err := store.CountAPICalls(ctx, cfg.Providers.Primary.Name, dayStart, monthStart)
	if err != nil {
		log.Printf("[Warn] could not restore quota counters: %v", err)
		return
	}
	ledger.Restore(today, month)
	snap := ledger.Status()
	log.Printf("[Quota] restored %d/%d today, %d/%d this month (%s)",
		snap.TodayCalls, snap.DailyLimit, snap.MonthlyCalls, snap.MonthlyLimit, snap.Status)
}

func buildAlerters() (alert.Multi, func()) {
	alerters := alert.Multi{alert.LogNotifier{}}
	closers := []func(){}

	if url := config.GetEnv("ALERT_WEBHOOK_URL", ""); url != "" {
		alerters = append(alerters, alert.NewWebhookNotifier(url))
	}
	if url := config.GetEnv("AMQP_URL", ""); url != "" {
		pub, err := alert.DialAMQP(url, config.GetEnv("AMQP_QUEUE", "fare_deals"))
		if err != nil {
			log.Printf("[Warn] AMQP alerts disabled: %v", err)
		} else {
			alerters = append(alerters, pub)
			closers = append(closers, func() { _ = pub.Close() })
		}
	}
	return alerters, func() {
		for _, c := range closers {
			c()
		}
	}
}
