package main

import (
	"context"
	"fmt"
	"log"

	"github.com/david/fare-finder/internal/config"
	"github.com/david/fare-finder/internal/db"
	"github.com/david/fare-finder/internal/models"
)

func main() {
	config.LoadDotEnv()
	ctx := context.Background()
	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	var routes, active, seasonal, samples, activeDeals, calls int
	err = pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM routes),
			(SELECT count(*) FROM routes WHERE active),
			(SELECT count(*) FROM routes WHERE seasonal),
			(SELECT count(*) FROM price_samples),
			(SELECT count(*) FROM deals WHERE state = 'active'),
			(SELECT count(*) FROM api_calls)
	`).Scan(&routes, &active, &seasonal, &samples, &activeDeals, &calls)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}

	fmt.Printf("Routes: %d (%d active, %d seasonal)\n", routes, active, seasonal)
	fmt.Printf("Price samples: %d\n", samples)
	fmt.Printf("Active deals: %d\n", activeDeals)
	fmt.Printf("API calls logged: %d\n", calls)

	latest, err := db.NewStore(pool).ListDeals(ctx, models.DealActive, 5)
	if err != nil {
		log.Fatalf("List deals failed: %v", err)
	}
	for _, d := range latest {
		fmt.Printf("  %s %s %.2f %s (-%.0f%%) expires %s\n",
			d.Classification, d.ID, d.DealPrice, d.Currency, d.DiscountPercentage, d.ExpiresAt.Format("2006-01-02 15:04"))
	}
}
