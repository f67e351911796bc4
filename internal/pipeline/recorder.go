package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/david/fare-finder/internal/db"
	"github.com/david/fare-finder/internal/pricesource"
	"github.com/david/fare-finder/internal/quota"
)

const callLogTimeout = 5 * time.Second

// QuotaAdmission charges every primary-provider attempt to the ledger before
// it is sent and refuses attempts once the budget is spent.
func QuotaAdmission(ledger *quota.Ledger) pricesource.Admission {
	return func(context.Context) error {
		snap, err := ledger.Acquire()
		if err != nil {
			log.Printf("⚠️ [Quota] %s: refusing call at %d/%d today, %d/%d this month",
				snap.Status, snap.TodayCalls, snap.DailyLimit, snap.MonthlyCalls, snap.MonthlyLimit)
			return err
		}
		if snap.Status != quota.StatusHealthy && snap.TodayCalls%50 == 0 {
			log.Printf("[Quota] %s: %d/%d today, %d/%d this month",
				snap.Status, snap.TodayCalls, snap.DailyLimit, snap.MonthlyCalls, snap.MonthlyLimit)
		}
		return nil
	}
}

// CallLogger appends every attempt to the call log so the ledger can be
// restored after a restart.
func CallLogger(calls CallLog) pricesource.CallRecorder {
	return func(c pricesource.Call) { logCall(calls, c) }
}

func logCall(calls CallLog, c pricesource.Call) {
	if calls == nil {
		return
	}
	entry := db.APICall{
		Provider:   c.Provider,
		Endpoint:   c.Endpoint,
		StatusCode: c.StatusCode,
		Success:    c.Success(),
		Duration:   c.Duration,
		CalledAt:   c.At,
	}
	if c.Err != nil {
		entry.Error = c.Err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), callLogTimeout)
	defer cancel()
	if err := calls.LogAPICall(ctx, entry); err != nil {
		log.Printf("[Warn] failed to log %s call: %v", c.Provider, err)
	}
}
