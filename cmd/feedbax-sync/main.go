// feedbax-sync triggers a full billing reconciliation sweep against a running
// feedbax instance. It is meant for operators and cron; a non-zero exit code
// signals that the sweep could not be started after all retry attempts.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/feedbax/feedbax/internal/pkg/syncclient"
)

func main() {
	cfg := syncclient.ConfigFromEnv()

	flag.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "base URL of the feedbax instance")
	flag.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "per-request timeout")
	flag.IntVar(&cfg.RetryAttempts, "retry-attempts", cfg.RetryAttempts, "total attempts before giving up")
	flag.DurationVar(&cfg.RetryDelay, "retry-delay", cfg.RetryDelay, "fixed delay between attempts")
	flag.Parse()

	client := syncclient.New(cfg)

	ctx, cancel := context.WithTimeout(context.Background(),
		cfg.Timeout*time.Duration(cfg.RetryAttempts)+cfg.RetryDelay*time.Duration(cfg.RetryAttempts))
	defer cancel()

	start := time.Now()
	resp, err := client.TriggerSweep(ctx)
	if err != nil {
		log.Fatalf("billing sweep failed: %v", err)
	}

	s := resp.Summary
	log.Printf("billing sweep %s finished in %s: total=%d updated=%d already_synced=%d errors=%d partial=%v",
		s.SweepID, time.Since(start).Round(time.Millisecond), s.TotalUsers, s.UpdatedCount, s.AlreadySyncedCount, s.ErrorCount, s.Partial)
}
