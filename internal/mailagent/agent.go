// Package mailagent implements the mail relay service of §4.12: an HTTP
// endpoint accepting {to, subject, message} form fields and forwarding
// them via the local SMTP relay from a fixed From address. Grounded on
// internal/intake's http.NewServeMux + form-parsing style, generalized
// from queue publication to an outbound net/smtp send.
package mailagent

import (
	"fmt"
	"net/http"
	"net/smtp"
	"strings"

	"github.com/oriys/stoneridge/internal/logging"
)

// Config configures the local SMTP relay and the fixed From address.
type Config struct {
	RelayAddr string
	From      string
}

// Sender delivers one email. The default implementation relays through
// net/smtp; tests substitute a fake to avoid touching a real MTA.
type Sender interface {
	Send(to, subject, message string) error
}

// Agent serves the mail-relay HTTP endpoint.
type Agent struct {
	sender Sender
}

// New builds an Agent relaying through the local SMTP server at
// cfg.RelayAddr from cfg.From.
func New(cfg Config) *Agent {
	return &Agent{sender: &smtpSender{cfg: cfg}}
}

// NewWithSender builds an Agent using an explicit Sender, for tests.
func NewWithSender(sender Sender) *Agent {
	return &Agent{sender: sender}
}

// Handler returns the http.Handler for POST /email.
func (a *Agent) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /email", a.handleEmail)
	return mux
}

func (a *Agent) handleEmail(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	to := r.FormValue("to")
	subject := r.FormValue("subject")
	message := r.FormValue("message")
	if to == "" || message == "" {
		http.Error(w, "to and message are required", http.StatusBadRequest)
		return
	}

	if err := a.sender.Send(to, subject, message); err != nil {
		logging.Op().Error("mailagent: send failed", "to", to, "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	logging.Op().Info("mailagent: sent", "to", to, "subject", subject)
	w.WriteHeader(http.StatusOK)
}

// smtpSender relays through a local MTA with no authentication, which is
// the standard posture for a host-local relay on 127.0.0.1:25.
type smtpSender struct {
	cfg Config
}

func (s *smtpSender) Send(to, subject, message string) error {
	recipients := splitRecipients(to)
	if len(recipients) == 0 {
		return fmt.Errorf("mailagent: no recipients")
	}

	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		s.cfg.From, to, subject, message)

	if err := smtp.SendMail(s.cfg.RelayAddr, nil, s.cfg.From, recipients, []byte(body)); err != nil {
		return fmt.Errorf("mailagent: smtp send: %w", err)
	}
	return nil
}

func splitRecipients(to string) []string {
	parts := strings.Split(to, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
