// Package email mails accepted submissions to the site owner over SMTP.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/DeeparthGupta/dharaniDairyWeb/internal/correlation"
	"github.com/DeeparthGupta/dharaniDairyWeb/internal/form"
)

// Config holds SMTP and addressing settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
	Subject  string
	Timeout  time.Duration
}

type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Publisher sends one email per published event.
type Publisher struct {
	cfg    Config
	sender sender
}

// New validates cfg and builds an SMTP-backed Publisher.
func New(cfg Config) (*Publisher, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp host is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("from address is required")
	}
	if len(cleanAddrs(cfg.To)) == 0 {
		return nil, errors.New("at least one recipient is required")
	}
	return newWithSender(cfg, gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)), nil
}

func newWithSender(cfg Config, s sender) *Publisher {
	if cfg.Subject == "" {
		cfg.Subject = "New contact form submission"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Publisher{cfg: cfg, sender: s}
}

// Publish renders payload into an email and sends it. topic is added to the subject when
// it differs from the default.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	msg, err := p.buildMessage(ctx, topic, payload)
	if err != nil {
		return "", err
	}

	done := make(chan error, 1)
	go func() {
		done <- p.sender.DialAndSend(msg)
	}()

	wait := p.cfg.Timeout
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 && d < wait {
			wait = d
		}
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("send email: %w", err)
		}
		return messageID(msg), nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return "", fmt.Errorf("send email: %w", context.DeadlineExceeded)
	}
}

// Close is a no-op; each send dials its own connection.
func (p *Publisher) Close() error {
	return nil
}

func (p *Publisher) buildMessage(ctx context.Context, topic string, payload any) (*gomail.Message, error) {
	body, err := renderBody(payload)
	if err != nil {
		return nil, err
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", strings.TrimSpace(p.cfg.From))
	msg.SetHeader("To", cleanAddrs(p.cfg.To)...)
	subject := p.cfg.Subject
	if topic != "" {
		subject = fmt.Sprintf("[%s] %s", topic, subject)
	}
	msg.SetHeader("Subject", subject)
	if id := correlation.FromContext(ctx); id != "" {
		msg.SetHeader("X-Request-ID", id)
		msg.SetHeader("Message-ID", fmt.Sprintf("<%s@contactd>", id))
	}
	if event, ok := payload.(form.SubmissionEvent); ok && event.Email != "" {
		msg.SetHeader("Reply-To", event.Email)
	}
	msg.SetBody("text/html", body)
	return msg, nil
}

// renderBody formats a submission event as HTML. Name and message are stored escaped
// already; email and phone are escaped here.
func renderBody(payload any) (string, error) {
	event, ok := payload.(form.SubmissionEvent)
	if !ok {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(payload); err != nil {
			return "", fmt.Errorf("marshal payload: %w", err)
		}
		return "<pre>" + html.EscapeString(buf.String()) + "</pre>", nil
	}

	var b strings.Builder
	b.WriteString("<h2>New contact form submission</h2>\n<table>\n")
	row := func(label, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(&b, "<tr><th align=\"left\">%s</th><td>%s</td></tr>\n", label, value)
	}
	row("ID", fmt.Sprintf("%d", event.ID))
	row("Name", event.Name)
	row("Email", html.EscapeString(event.Email))
	row("Phone", html.EscapeString(event.Phone))
	row("Message", strings.ReplaceAll(event.Message, "\n", "<br>"))
	if !event.SubmittedAt.IsZero() {
		row("Received", event.SubmittedAt.UTC().Format(time.RFC1123))
	}
	row("Request ID", html.EscapeString(event.CorrelationID))
	b.WriteString("</table>\n")
	return b.String(), nil
}

func messageID(msg *gomail.Message) string {
	if ids := msg.GetHeader("Message-ID"); len(ids) > 0 {
		return ids[0]
	}
	return "smtp"
}

func cleanAddrs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
