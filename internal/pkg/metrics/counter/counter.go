package counter

import (
	"context"
	"strconv"

	"github.com/feedbax/feedbax/internal/pkg/cache"
)

const (
	webhookEventsKey = "billing:counters:webhook_events"
	sweepsKey        = "billing:counters:sweeps"
)

// AddWebhookEvent increments the processed-webhook counter for an event type
// in Redis. Counters are operational texture for the health endpoint, not an
// audit trail; the webhook event table is the durable record.
func AddWebhookEvent(eventType string) error {
	ctx := context.Background()
	if eventType == "" {
		eventType = "unknown"
	}
	return cache.GetClient().HIncrBy(ctx, webhookEventsKey, eventType, 1).Err()
}

// AddSweep increments the completed-sweep counter.
func AddSweep() error {
	ctx := context.Background()
	return cache.GetClient().Incr(ctx, sweepsKey).Err()
}

// WebhookEventCounts returns processed webhook counts by event type.
func WebhookEventCounts() (map[string]int64, error) {
	ctx := context.Background()
	raw, err := cache.GetClient().HGetAll(ctx, webhookEventsKey).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}

// SweepCount returns how many sweeps have completed since the counter was
// last reset.
func SweepCount() (int64, error) {
	val, err := cache.Get(sweepsKey)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}
