/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/blnkfinance/collect/config"
	"github.com/blnkfinance/collect/internal/request"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// NewWebhook is the body posted to the operator's webhook endpoint.
type NewWebhook struct {
	Event     string      `json:"event"`
	Payload   interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// SendWebhook queues a webhook delivery. It is a no-op when no endpoint is configured.
func (c *Collector) SendWebhook(ctx context.Context, hook NewWebhook) error {
	if c.config.Notification.Webhook.Url == "" || c.queue == nil {
		return nil
	}
	if hook.Timestamp.IsZero() {
		hook.Timestamp = c.now().UTC()
	}
	return c.queue.EnqueueWebhook(ctx, hook)
}

// emit sends a lifecycle event and only logs delivery problems.
func (c *Collector) emit(ctx context.Context, event string, payload interface{}) {
	if err := c.SendWebhook(ctx, NewWebhook{Event: event, Payload: payload}); err != nil {
		logrus.WithError(err).WithField("event", event).Warn("webhook not queued")
	}
}

// ProcessWebhook posts a queued webhook. Non-2xx answers are returned so asynq retries them.
func ProcessWebhook(ctx context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	var hook NewWebhook
	if err := json.Unmarshal(task.Payload(), &hook); err != nil {
		return fmt.Errorf("decode webhook: %v: %w", err, asynq.SkipRetry)
	}

	if _, err := request.PostJSON(ctx, conf.Notification.Webhook.Url, conf.Notification.Webhook.Headers, hook, nil); err != nil {
		logrus.WithError(err).WithField("event", hook.Event).Warn("webhook delivery failed")
		return err
	}
	logrus.WithField("event", hook.Event).Info("webhook delivered")
	return nil
}
