// Package notify tells borrowers when their ILL request changes status.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/yourusername/open-ill-broker/pkg/config"
)

// Notice is one status change worth telling the borrower about.
type Notice struct {
	RequestID  int64
	To         string
	PatronName string
	Title      string
	Status     string // status code, e.g. REQ
	Message    string
}

func (n Notice) subject() string {
	return fmt.Sprintf("ILL Request Update: %s", n.Title)
}

func (n Notice) body() string {
	name := n.PatronName
	if name == "" {
		name = "reader"
	}
	return fmt.Sprintf("Dear %s,\r\n\r\nYour interlibrary loan request #%d for %q is now %s.\r\n%s\r\n",
		name, n.RequestID, n.Title, n.Status, n.Message)
}

// Notifier defines the interface for sending notifications
type Notifier interface {
	StatusChanged(ctx context.Context, n Notice) error
}

// LogNotifier writes notices to the log instead of sending them.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (LogNotifier) StatusChanged(ctx context.Context, n Notice) error {
	slog.Info("ill notification",
		"type", "log",
		"request_id", n.RequestID,
		"to", n.To,
		"subject", n.subject(),
		"status", n.Status,
	)
	return nil
}

// EmailService sends notices over SMTP with PLAIN auth.
type EmailService struct {
	cfg      config.SMTPConfig
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailService(cfg config.SMTPConfig) *EmailService {
	return &EmailService{cfg: cfg, sendMail: smtp.SendMail}
}

// New returns an EmailService when SMTP is configured and a LogNotifier
// otherwise.
func New(cfg config.SMTPConfig) Notifier {
	if cfg.Host == "" {
		return NewLogNotifier()
	}
	return NewEmailService(cfg)
}

func (s *EmailService) StatusChanged(ctx context.Context, n Notice) error {
	if n.To == "" {
		slog.Warn("borrower has no email, skipping notice", "request_id", n.RequestID)
		return nil
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", n.To)
	fmt.Fprintf(&msg, "Subject: %s\r\n", n.subject())
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
	msg.WriteString(n.body())

	port := s.cfg.Port
	if port == "" {
		port = "25"
	}
	var auth smtp.Auth
	if s.cfg.User != "" {
		auth = smtp.PlainAuth("", s.cfg.User, s.cfg.Pass, s.cfg.Host)
	}
	if err := s.sendMail(s.cfg.Host+":"+port, auth, s.cfg.From, []string{n.To}, []byte(msg.String())); err != nil {
		slog.Error("failed to send email", "request_id", n.RequestID, "error", err)
		return err
	}
	slog.Info("ill notice sent", "to", n.To, "request_id", n.RequestID, "status", n.Status)
	return nil
}
