package notifier

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"
	"os"
	"strings"
)

var emailTemplate = template.Must(template.New("email").Funcs(template.FuncMap{
	"route": func(lodges []string) string { return strings.Join(lodges, " → ") },
}).Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
  <div style="background: #166534; color: white; padding: 20px; border-radius: 8px 8px 0 0;">
    <h1 style="margin: 0;">⛰ {{.Park}}</h1>
  </div>
  <div style="border: 1px solid #e5e7eb; border-top: none; padding: 20px; border-radius: 0 0 8px 8px;">
    <p>{{.Summary}}</p>
    {{range .Windows}}
    <div style="background: #f3f4f6; padding: 15px; border-radius: 8px; margin: 20px 0;">
      <p style="margin: 5px 0;"><strong>入園日:</strong> {{.Start}}</p>
      <p style="margin: 5px 0;"><strong>下山日:</strong> {{.Checkout}}</p>
      <p style="margin: 5px 0;"><strong>路線:</strong> {{route .Lodges}}</p>
    </div>
    {{end}}
    <hr style="border: none; border-top: 1px solid #e5e7eb; margin: 20px 0;">
    <p style="color: #6b7280; font-size: 12px;">run {{.RunID}}</p>
  </div>
</body>
</html>`))

// EmailNotifier sends notifications via email
type EmailNotifier struct {
	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPassword string
	FromAddress  string
	FromName     string
	To           string
}

// NewEmailNotifier creates a new email notifier from environment variables
func NewEmailNotifier() *EmailNotifier {
	return &EmailNotifier{
		SMTPHost:     getEnv("SMTP_HOST", "smtp.gmail.com"),
		SMTPPort:     getEnv("SMTP_PORT", "587"),
		SMTPUser:     os.Getenv("SMTP_USER"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		FromAddress:  getEnv("SMTP_FROM", "noreply@permitcheck.dev"),
		FromName:     getEnv("SMTP_FROM_NAME", "PermitCheck"),
		To:           os.Getenv("NOTIFY_EMAIL_TO"),
	}
}

func (e *EmailNotifier) Channel() string {
	return "email"
}

func (e *EmailNotifier) Send(ctx context.Context, n *Notification) error {
	if len(n.Windows) == 0 {
		return nil
	}
	if e.SMTPUser == "" || e.SMTPPassword == "" {
		slog.Info("smtp not configured; email skipped", "to", e.To, "subject", e.subject(n))
		return nil
	}

	body, err := e.render(n)
	if err != nil {
		return fmt.Errorf("render template: %w", err)
	}

	auth := smtp.PlainAuth("", e.SMTPUser, e.SMTPPassword, e.SMTPHost)
	addr := fmt.Sprintf("%s:%s", e.SMTPHost, e.SMTPPort)

	return smtp.SendMail(addr, auth, e.FromAddress, []string{e.To}, e.message(n, body))
}

func (e *EmailNotifier) subject(n *Notification) string {
	return fmt.Sprintf("【%s】%s", n.Park, n.Summary)
}

func (e *EmailNotifier) message(n *Notification, body string) []byte {
	return []byte(fmt.Sprintf("From: %s <%s>\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: text/html; charset=UTF-8\r\n"+
		"\r\n%s",
		e.FromName, e.FromAddress, e.To, e.subject(n), body))
}

func (e *EmailNotifier) render(n *Notification) (string, error) {
	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, n); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
