package notification

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/blnkfinance/collect/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSlackMessage(t *testing.T) {
	at := time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)
	msg := buildSlackMessage("Batch rejected", [][2]string{{"Batch", `DO20240311-ALL-1 "quoted"`}}, at)

	require.Len(t, msg.Blocks, 3)
	assert.Equal(t, "Batch rejected", msg.Blocks[0].Text.Text)
	assert.Equal(t, "*Batch:*\nDO20240311-ALL-1 \"quoted\"", msg.Blocks[1].Fields[0].Text)

	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.True(t, json.Valid(raw))
}

func TestSlackNotification(t *testing.T) {
	var received slackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	config.MockConfig(&config.Configuration{Notification: config.Notification{Slack: config.SlackWebhook{WebhookUrl: server.URL}}})

	err := SlackNotification("Member escalated", [][2]string{{"Member", "POL-1001"}})
	require.NoError(t, err)
	require.NotEmpty(t, received.Blocks)
	assert.Equal(t, "Member escalated", received.Blocks[0].Text.Text)
}

func TestSlackNotification_NotConfigured(t *testing.T) {
	config.MockConfig(&config.Configuration{})
	assert.NoError(t, SlackNotification("x", nil))
}

func TestNotifyOperator_UsesWebhookSender(t *testing.T) {
	config.MockConfig(&config.Configuration{})

	var gotEvent string
	var gotPayload interface{}
	RegisterWebhookSender(func(event string, payload interface{}) error {
		gotEvent = event
		gotPayload = payload
		return errors.New("endpoint down")
	})
	defer RegisterWebhookSender(nil)

	payload := map[string]string{"member_reference": "POL-1001"}
	NotifyOperator("member.escalated", "Member escalated", [][2]string{{"member_reference", "POL-1001"}}, payload)

	assert.Equal(t, "member.escalated", gotEvent)
	assert.Equal(t, payload, gotPayload)
}

func TestRegisterWebhookSender_ReplacesPrevious(t *testing.T) {
	calls := 0
	RegisterWebhookSender(func(string, interface{}) error { calls = 1; return nil })
	RegisterWebhookSender(func(string, interface{}) error { calls = 2; return nil })
	defer RegisterWebhookSender(nil)

	require.NoError(t, currentSender()("test.event", nil))
	assert.Equal(t, 2, calls)
}
