package notification

import (
	"errors"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"

	"github.com/tumapay/tuma/config"
)

func TestSlackNotification_Delivers(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "http://slack.example.com/hook",
		httpmock.NewStringResponder(200, `{"ok": true}`))

	config.MockConfig(&config.Configuration{
		DataSource:   config.DataSourceConfig{Dns: "postgres://localhost/tuma"},
		Redis:        config.RedisConfig{Dns: "localhost:6379"},
		Notification: config.Notification{Slack: config.SlackWebhook{WebhookUrl: "http://slack.example.com/hook"}},
	})

	SlackNotification(errors.New("webhook rty_1 permanently failed"))

	info := httpmock.GetCallCountInfo()
	assert.Equal(t, 1, info["POST http://slack.example.com/hook"])
}

func TestSlackNotification_NoWebhookConfigured(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	config.MockConfig(&config.Configuration{
		DataSource: config.DataSourceConfig{Dns: "postgres://localhost/tuma"},
		Redis:      config.RedisConfig{Dns: "localhost:6379"},
	})

	SlackNotification(errors.New("drift detected"))
	assert.Empty(t, httpmock.GetCallCountInfo())
}
