package fanout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/steelpipe/pkg/metrics"
)

var webhookClient = &http.Client{Timeout: 10 * time.Second}

// drainWebhook reads sub's buffered updates and POSTs each one to its
// webhook URL, rate-limited by sub.limiter. It returns once sub's
// channel is closed (overflow or Unsubscribe).
func (b *Broker) drainWebhook(sub *Subscription) {
	for u := range sub.ch {
		if err := sub.limiter.Wait(context.Background()); err != nil {
			return
		}
		if err := postWebhook(sub.opts.WebhookURL, u); err != nil {
			metrics.WebhookDeliveriesTotal.WithLabelValues(sub.opts.WebhookURL, "error").Inc()
			b.logger.Warn().
				Err(err).
				Str("subscriber_id", sub.opts.SubscriberID).
				Str("webhook_url", sub.opts.WebhookURL).
				Msg("webhook delivery failed")
			continue
		}
		metrics.WebhookDeliveriesTotal.WithLabelValues(sub.opts.WebhookURL, "success").Inc()
	}
}

func postWebhook(url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := webhookClient.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s responded with status %d", url, resp.StatusCode)
	}
	return nil
}
