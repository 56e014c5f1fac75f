package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"github.com/yourusername/open-ill-broker/pkg/config"
)

func TestNewPicksNotifier(t *testing.T) {
	if _, ok := New(config.SMTPConfig{}).(*LogNotifier); !ok {
		t.Error("expected LogNotifier without smtp host")
	}
	if _, ok := New(config.SMTPConfig{Host: "mail.example"}).(*EmailService); !ok {
		t.Error("expected EmailService with smtp host")
	}
}

func TestEmailService(t *testing.T) {
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	s := NewEmailService(config.SMTPConfig{Host: "mail.example", Port: "587", User: "u", Pass: "p", From: "ill@library.example"})
	s.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}

	err := s.StatusChanged(context.Background(), Notice{RequestID: 7, To: "edna@example.org", PatronName: "Edna", Title: "Dune", Status: "REQ", Message: "Ordered from Alpha."})
	if err != nil {
		t.Fatal(err)
	}
	if gotAddr != "mail.example:587" || len(gotTo) != 1 || gotTo[0] != "edna@example.org" {
		t.Errorf("addr %s to %v", gotAddr, gotTo)
	}
	for _, want := range []string{"Subject: ILL Request Update: Dune", "request #7", "is now REQ", "From: ill@library.example"} {
		if !strings.Contains(gotMsg, want) {
			t.Errorf("message missing %q:\n%s", want, gotMsg)
		}
	}
}

func TestEmailServiceSkipsMissingAddressAndReportsFailure(t *testing.T) {
	calls := 0
	s := NewEmailService(config.SMTPConfig{Host: "mail.example"})
	s.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		calls++
		return errors.New("554 rejected")
	}
	if err := s.StatusChanged(context.Background(), Notice{Title: "x"}); err != nil || calls != 0 {
		t.Errorf("expected silent skip, got err=%v calls=%d", err, calls)
	}
	if err := s.StatusChanged(context.Background(), Notice{To: "a@b", Title: "x"}); err == nil {
		t.Error("expected smtp failure to be returned")
	}
}
