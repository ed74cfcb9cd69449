// Package notifier tells a team about the start dates it can apply for.
package notifier

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	worker "permitcheck.dev/worker"
)

// WindowInfo is a single feasible window in a notification
type WindowInfo struct {
	Start    string
	Checkout string
	Lodges   []string
}

// Notification holds every window found by one run
type Notification struct {
	ID       string
	RunID    string
	Park     string
	TeamSize int
	Channel  string // email, line, slack
	Summary  string
	Windows  []WindowInfo
}

// FromReport builds the notification of a run. It returns nil when the run
// found no windows.
func FromReport(r *worker.Report) *Notification {
	if r == nil || len(r.Windows) == 0 {
		return nil
	}
	n := &Notification{
		RunID:    r.RunID,
		Park:     r.Park.String(),
		TeamSize: r.TeamSize,
		Summary:  worker.Summary(r.TeamSize, r.Windows),
	}
	for _, w := range r.Windows {
		n.Windows = append(n.Windows, WindowInfo{
			Start:    w.Start.Format(time.DateOnly),
			Checkout: w.Checkout.Format(time.DateOnly),
			Lodges:   w.Lodges,
		})
	}
	return n
}

// Notifier interface for sending notifications
type Notifier interface {
	Send(ctx context.Context, n *Notification) error
	Channel() string
}

// Result represents the result of a notification attempt
type Result struct {
	NotificationID string
	Channel        string
	Success        bool
	Error          error
}

// Manager manages multiple notifiers
type Manager struct {
	notifiers map[string]Notifier
}

// NewManager creates a new notification manager
func NewManager() *Manager {
	return &Manager{
		notifiers: make(map[string]Notifier),
	}
}

// Register adds a notifier for a channel
func (m *Manager) Register(n Notifier) {
	m.notifiers[n.Channel()] = n
}

// Channels lists the registered channels in name order
func (m *Manager) Channels() []string {
	channels := make([]string, 0, len(m.notifiers))
	for c := range m.notifiers {
		channels = append(channels, c)
	}
	sort.Strings(channels)
	return channels
}

// Send sends a notification using the appropriate channel
func (m *Manager) Send(ctx context.Context, n *Notification) error {
	notifier, ok := m.notifiers[n.Channel]
	if !ok {
		return fmt.Errorf("no notifier registered for channel: %s", n.Channel)
	}
	return notifier.Send(ctx, n)
}

// SendAll sends a copy of the notification on every registered channel.
// Each copy gets its own id.
func (m *Manager) SendAll(ctx context.Context, n *Notification) []Result {
	var results []Result
	for _, channel := range m.Channels() {
		c := *n
		c.ID = uuid.New().String()
		c.Channel = channel
		err := m.notifiers[channel].Send(ctx, &c)
		results = append(results, Result{
			NotificationID: c.ID,
			Channel:        channel,
			Success:        err == nil,
			Error:          err,
		})
	}
	return results
}
