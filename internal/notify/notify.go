// Package notify delivers generated credentials to account holders.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/smtp"
	"strings"
	"sync"

	"github.com/org/notaryadmin/pkg/models"
	"github.com/rs/zerolog/log"
)

const resetSubject = "Your notary administration password was reset"

func resetBody(p *models.Principal, password string) string {
	return fmt.Sprintf("Hello %s,\r\n\r\nA new password was issued for account %q:\r\n\r\n    %s\r\n\r\nPlease sign in and change it right away.\r\n",
		p.DisplayName(), p.Username, password)
}

// ConsoleNotifier writes reset messages to a writer. It is the development
// channel; messages never go through the application log.
type ConsoleNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleNotifier creates a ConsoleNotifier writing to w.
func NewConsoleNotifier(w io.Writer) *ConsoleNotifier {
	return &ConsoleNotifier{w: w}
}

func (n *ConsoleNotifier) SendPasswordReset(_ context.Context, p *models.Principal, password string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, err := fmt.Fprintf(n.w, "To: %s\r\nSubject: %s\r\n\r\n%s\r\n", p.Email, resetSubject, resetBody(p, password)); err != nil {
		return fmt.Errorf("writing reset notice: %w", err)
	}
	log.Info().Str("username", p.Username).Msg("password reset notice written to console")
	return nil
}

// SMTPConfig holds mail relay settings.
type SMTPConfig struct {
	Addr     string
	From     string
	Username string
	Password string
}

// SMTPNotifier mails reset messages through an SMTP relay.
type SMTPNotifier struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPNotifier creates an SMTPNotifier.
func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg, send: smtp.SendMail}
}

func (n *SMTPNotifier) SendPasswordReset(_ context.Context, p *models.Principal, password string) error {
	if p.Email == "" {
		return fmt.Errorf("account %q has no email address", p.Username)
	}
	var auth smtp.Auth
	if n.cfg.Username != "" {
		host := n.cfg.Addr
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, host)
	}
	msg := strings.Join([]string{
		"From: " + n.cfg.From,
		"To: " + p.Email,
		"Subject: " + resetSubject,
		"Content-Type: text/plain; charset=UTF-8",
		"",
		resetBody(p, password),
	}, "\r\n")
	if err := n.send(n.cfg.Addr, auth, n.cfg.From, []string{p.Email}, []byte(msg)); err != nil {
		return fmt.Errorf("sending reset mail: %w", err)
	}
	log.Info().Str("username", p.Username).Str("relay", n.cfg.Addr).Msg("password reset mail sent")
	return nil
}
