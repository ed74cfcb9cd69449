package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// SlackNotifier sends notifications via Slack webhook
type SlackNotifier struct {
	WebhookURL string
	Client     *http.Client
}

// NewSlackNotifier creates a new Slack notifier
func NewSlackNotifier() *SlackNotifier {
	return &SlackNotifier{
		WebhookURL: os.Getenv("SLACK_WEBHOOK_URL"),
		Client:     http.DefaultClient,
	}
}

func (s *SlackNotifier) Channel() string {
	return "slack"
}

func (s *SlackNotifier) Send(ctx context.Context, n *Notification) error {
	if s.WebhookURL == "" {
		return fmt.Errorf("SLACK_WEBHOOK_URL not set")
	}

	if len(n.Windows) == 0 {
		return nil
	}

	blocks := []map[string]interface{}{
		{
			"type": "header",
			"text": map[string]interface{}{
				"type":  "plain_text",
				"text":  fmt.Sprintf("⛰ %s 可申請入園時段（%d個）", n.Park, len(n.Windows)),
				"emoji": true,
			},
		},
		{
			"type": "section",
			"text": map[string]string{
				"type": "mrkdwn",
				"text": fmt.Sprintf("*%s*", n.Summary),
			},
		},
		{
			"type": "divider",
		},
	}

	for _, w := range n.Windows {
		blocks = append(blocks, map[string]interface{}{
			"type": "section",
			"fields": []map[string]string{
				{"type": "mrkdwn", "text": fmt.Sprintf("*入園日:*\n%s", w.Start)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*下山日:*\n%s", w.Checkout)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*山屋/營地:*\n%s", strings.Join(w.Lodges, " → "))},
			},
		})
	}

	blocks = append(blocks, map[string]interface{}{
		"type": "context",
		"elements": []map[string]string{
			{"type": "mrkdwn", "text": fmt.Sprintf("隊伍%d人 │ run %s", n.TeamSize, n.RunID)},
		},
	})

	body, err := json.Marshal(map[string]interface{}{"blocks": blocks})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook error: %d", resp.StatusCode)
	}
	return nil
}
