package counter

import (
	"context"
	"fmt"
	"time"

	"github.com/quartiero/quartiero/internal/pkg/cache"
)

const (
	webhookReceivedKey  = "billing:counters:webhook_received"
	webhookProcessedKey = "billing:counters:webhook_processed"
	webhookFailedKey    = "billing:counters:webhook_failed"
)

// AddWebhookReceived increments the received counter for an event type in Redis
func AddWebhookReceived(eventType string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookReceivedKey, eventType, 1).Err()
}

// AddWebhookProcessed increments the processed counter for an event type in Redis
func AddWebhookProcessed(eventType string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookProcessedKey, eventType, 1).Err()
}

// AddWebhookFailed increments the failed counter for an event type in Redis
func AddWebhookFailed(eventType string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookFailedKey, eventType, 1).Err()
}

// Snapshot returns the current per-event-type counters for operator visibility.
func Snapshot() (map[string]map[string]string, error) {
	ctx := context.Background()
	out := make(map[string]map[string]string, 3)
	for name, key := range map[string]string{
		"received":  webhookReceivedKey,
		"processed": webhookProcessedKey,
		"failed":    webhookFailedKey,
	} {
		vals, err := cache.GetClient().HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("read counter hash %s: %w", key, err)
		}
		out[name] = vals
	}
	return out, nil
}

// Reset drains all counters atomically via RENAME to a temporary key so
// in-flight increments are not lost.
func Reset() error {
	ctx := context.Background()
	client := cache.GetClient()
	for _, key := range []string{webhookReceivedKey, webhookProcessedKey, webhookFailedKey} {
		tmp := fmt.Sprintf("%s:drain:%d", key, time.Now().UnixNano())
		if err := client.Rename(ctx, key, tmp).Err(); err != nil {
			// Missing key means nothing to drain.
			continue
		}
		if err := client.Del(ctx, tmp).Err(); err != nil {
			return err
		}
	}
	return nil
}
