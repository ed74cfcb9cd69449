package notifier

import (
	"context"
	"database/sql"
	"log/slog"
)

// Sender sends run notifications and records each attempt
type Sender struct {
	DB      *sql.DB
	Manager *Manager
}

// NewSender creates a sender with every channel configured in the environment
func NewSender(db *sql.DB) *Sender {
	mgr := NewManager()
	if em := NewEmailNotifier(); em.To != "" {
		mgr.Register(em)
	}
	if ln := NewLINENotifier(); ln.AccessToken != "" {
		mgr.Register(ln)
	}
	if sl := NewSlackNotifier(); sl.WebhookURL != "" {
		mgr.Register(sl)
	}

	return &Sender{
		DB:      db,
		Manager: mgr,
	}
}

// Dispatch sends n on every registered channel. Each result is stored in
// the notifications table when a database is set.
func (s *Sender) Dispatch(ctx context.Context, n *Notification) (sent, failed int) {
	if n == nil {
		return 0, 0
	}
	for _, r := range s.Manager.SendAll(ctx, n) {
		if r.Success {
			slog.Info("notification sent", "id", r.NotificationID, "channel", r.Channel, "run_id", n.RunID, "windows", len(n.Windows))
			sent++
		} else {
			slog.Warn("send notification failed", "id", r.NotificationID, "channel", r.Channel, "error", r.Error)
			failed++
		}
		s.record(ctx, n, r)
	}
	return sent, failed
}

func (s *Sender) record(ctx context.Context, n *Notification, r Result) {
	if s.DB == nil {
		return
	}
	status, errorMsg := "sent", ""
	if !r.Success {
		status = "failed"
		if r.Error != nil {
			errorMsg = r.Error.Error()
		}
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO notifications (id, run_id, channel, status, windows, error_message, created_at, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CASE WHEN ? = 'sent' THEN CURRENT_TIMESTAMP END)
	`, r.NotificationID, n.RunID, r.Channel, status, len(n.Windows), errorMsg, status)
	if err != nil {
		slog.Warn("record notification", "id", r.NotificationID, "error", err)
	}
}
