package notification

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/tumapay/tuma/config"
	"github.com/tumapay/tuma/internal/request"
)

// SlackNotification posts an error to the configured Slack webhook. Delivery
// is retried with exponential backoff because alerting is the last line of
// visibility for permanently failed webhooks and reconciliation drift.
func SlackNotification(err error) {
	data := json.RawMessage(fmt.Sprintf(`{
		"blocks": [
			{
				"type": "header",
				"text": {
					"type": "plain_text",
					"text": "Tuma alert",
					"emoji": true
				}
			},
			{
				"type": "section",
				"fields": [
					{
						"type": "mrkdwn",
						"text": "*Error:*\n%v"
					},
					{
						"type": "mrkdwn",
						"text": "*Time:*\n%s"
					}
				]
			}
		]
	}`, err, time.Now().Format(time.RFC3339)))

	conf, fetchErr := config.Fetch()
	if fetchErr != nil {
		logrus.Error(fetchErr)
		return
	}
	if conf.Notification.Slack.WebhookUrl == "" {
		return
	}

	send := func() error {
		payload, err := request.ToJsonReq(&data)
		if err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequest("POST", conf.Notification.Slack.WebhookUrl, payload)
		if err != nil {
			return backoff.Permanent(err)
		}
		var response map[string]interface{}
		resp, err := request.Call(req, &response)
		if err != nil && resp == nil {
			return err
		}
		// Slack answers plain "ok", so a JSON decode error with a 2xx
		// status still counts as delivered.
		if resp.StatusCode >= 500 {
			return fmt.Errorf("slack webhook returned %d", resp.StatusCode)
		}
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	if sendErr := backoff.Retry(send, policy); sendErr != nil {
		logrus.Error("notification error ", sendErr)
	}
}

// NotifyError reports an error to the configured notification channel
// without blocking the caller.
func NotifyError(err error) {
	logrus.Error(err)
	go SlackNotification(err)
}
