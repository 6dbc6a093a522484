package notify

import (
	"bytes"
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"github.com/org/notaryadmin/pkg/models"
)

func TestConsoleNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewConsoleNotifier(&buf)
	p := &models.Principal{Username: "ahmed", Email: "ahmed@notary.example", FullName: "Ahmed Karimi"}
	if err := n.SendPasswordReset(context.Background(), p, "Xy7!pass"); err != nil {
		t.Fatalf("SendPasswordReset: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "To: ahmed@notary.example") {
		t.Errorf("missing recipient: %q", out)
	}
	if !strings.Contains(out, "Xy7!pass") {
		t.Errorf("missing password: %q", out)
	}
}

func TestSMTPNotifier(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	var gotAuth smtp.Auth
	n := NewSMTPNotifier(SMTPConfig{Addr: "mail.example:587", From: "noreply@notary.example", Username: "relay", Password: "pw"})
	n.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotFrom, gotTo, gotMsg = addr, a, from, to, msg
		return nil
	}
	p := &models.Principal{Username: "sara", Email: "sara@notary.example"}
	if err := n.SendPasswordReset(context.Background(), p, "N3w!secret"); err != nil {
		t.Fatalf("SendPasswordReset: %v", err)
	}
	if gotAddr != "mail.example:587" || gotFrom != "noreply@notary.example" {
		t.Errorf("unexpected envelope: %s %s", gotAddr, gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "sara@notary.example" {
		t.Errorf("unexpected recipients: %v", gotTo)
	}
	if gotAuth == nil {
		t.Error("expected PLAIN auth when a username is configured")
	}
	if !bytes.Contains(gotMsg, []byte("N3w!secret")) {
		t.Error("message should carry the new password")
	}
}

func TestSMTPNotifierErrors(t *testing.T) {
	n := NewSMTPNotifier(SMTPConfig{Addr: "mail.example:25", From: "noreply@notary.example"})
	if err := n.SendPasswordReset(context.Background(), &models.Principal{Username: "nomail"}, "x"); err == nil {
		t.Error("expected error for account without email")
	}
	n.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("relay refused") }
	if err := n.SendPasswordReset(context.Background(), &models.Principal{Username: "a", Email: "a@b.c"}, "x"); err == nil {
		t.Error("expected relay error to propagate")
	}
}
