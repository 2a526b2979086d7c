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

package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/blnkfinance/collect/config"
	"github.com/blnkfinance/collect/internal/request"
	"github.com/sirupsen/logrus"
)

// WebhookSender delivers an event to the operator's webhook endpoint. It is registered
// by the root package at startup so this package does not depend on the queue.
type WebhookSender func(event string, payload interface{}) error

var (
	senderMu      sync.RWMutex
	webhookSender WebhookSender
)

func RegisterWebhookSender(sender WebhookSender) {
	senderMu.Lock()
	defer senderMu.Unlock()
	webhookSender = sender
}

func currentSender() WebhookSender {
	senderMu.RLock()
	defer senderMu.RUnlock()
	return webhookSender
}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

func buildSlackMessage(title string, fields [][2]string, at time.Time) slackMessage {
	msg := slackMessage{Blocks: []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: title, Emoji: true}},
	}}
	for _, f := range append(fields, [2]string{"Time", at.Format(time.RFC822)}) {
		msg.Blocks = append(msg.Blocks, slackBlock{
			Type:   "section",
			Fields: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("*%s:*\n%s", f[0], f[1])}},
		})
	}
	return msg
}

// SlackNotification posts a message to the configured Slack webhook. It is a no-op
// when no webhook URL is set.
func SlackNotification(title string, fields [][2]string) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Slack.WebhookUrl == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = request.PostJSON(ctx, conf.Notification.Slack.WebhookUrl, nil, buildSlackMessage(title, fields, time.Now()), nil)
	return err
}

func NotifyError(systemError error) {
	go func(systemError error) {
		logrus.Error(systemError)
		if err := SlackNotification("Error From Collect 🐞", [][2]string{{"Error", systemError.Error()}}); err != nil {
			logrus.WithError(err).Warn("slack notification failed")
		}
	}(systemError)
}

// NotifyOperator raises an operational event on every configured channel: the log,
// Slack, and the registered webhook sender. It blocks until all channels have been tried.
func NotifyOperator(event, title string, fields [][2]string, payload interface{}) {
	entry := logrus.WithField("event", event)
	for _, f := range fields {
		entry = entry.WithField(f[0], f[1])
	}
	entry.Warn(title)

	if err := SlackNotification(title, fields); err != nil {
		entry.WithError(err).Warn("slack notification failed")
	}
	if sender := currentSender(); sender != nil {
		if err := sender(event, payload); err != nil {
			entry.WithError(err).Warn("webhook notification failed")
		}
	}
}
