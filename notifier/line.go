package notifier

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// DefaultLINENotifyURL is the LINE Notify endpoint.
const DefaultLINENotifyURL = "https://notify-api.line.me/api/notify"

// LINENotifier sends notifications via LINE Notify
type LINENotifier struct {
	AccessToken string
	Endpoint    string
	Client      *http.Client
}

// NewLINENotifier creates a new LINE notifier
func NewLINENotifier() *LINENotifier {
	return &LINENotifier{
		AccessToken: os.Getenv("LINE_NOTIFY_TOKEN"),
		Endpoint:    getEnv("LINE_NOTIFY_URL", DefaultLINENotifyURL),
		Client:      http.DefaultClient,
	}
}

func (l *LINENotifier) Channel() string {
	return "line"
}

func (l *LINENotifier) Send(ctx context.Context, n *Notification) error {
	if l.AccessToken == "" {
		return fmt.Errorf("LINE_NOTIFY_TOKEN not set")
	}

	if len(n.Windows) == 0 {
		return nil
	}

	form := url.Values{}
	form.Set("message", lineMessage(n))
	endpoint := l.Endpoint
	if endpoint == "" {
		endpoint = DefaultLINENotifyURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", "Bearer "+l.AccessToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("LINE notify error: %d", resp.StatusCode)
	}
	return nil
}

func lineMessage(n *Notification) string {
	var lines []string
	lines = append(lines, fmt.Sprintf("⛰ %s 床位通知", n.Park))
	lines = append(lines, n.Summary)

	for i, w := range n.Windows {
		lines = append(lines, fmt.Sprintf("\n【%d】%s 入園", i+1, w.Start))
		lines = append(lines, fmt.Sprintf("下山: %s", w.Checkout))
		lines = append(lines, fmt.Sprintf("路線: %s", strings.Join(w.Lodges, " → ")))
	}
	return strings.Join(lines, "\n")
}
