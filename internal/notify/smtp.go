// Package notify sends failure notifications by mail.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

const DefaultTimeout = 15 * time.Second

// Config is the smtp block of the configuration file.
type Config struct {
	Server    string        `yaml:"server" validate:"required"`
	Port      int           `yaml:"port" validate:"omitempty,min=1,max=65535"`
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"`
	Sender    string        `yaml:"sender" validate:"required"`
	Recipient string        `yaml:"recipient" validate:"required"`
	Timeout   time.Duration `yaml:"timeout"`
}

// SMTP delivers one plain-text mail per Notify call. STARTTLS is used when
// the server offers it; PLAIN auth when a username is configured.
type SMTP struct {
	cfg Config
	now func() time.Time
}

func NewSMTP(cfg Config) *SMTP {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &SMTP{cfg: cfg, now: time.Now}
}

func (s *SMTP) recipients() []string {
	var out []string
	for _, r := range strings.Split(s.cfg.Recipient, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

func (s *SMTP) client() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTimeout(s.cfg.Timeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	return mail.NewClient(s.cfg.Server, opts...)
}

func (s *SMTP) message(subject, body string) (*mail.Msg, error) {
	rcpts := s.recipients()
	if len(rcpts) == 0 {
		return nil, errors.New("smtp: no recipient configured")
	}
	m := mail.NewMsg()
	if err := m.From(s.cfg.Sender); err != nil {
		return nil, fmt.Errorf("smtp: sender: %w", err)
	}
	if err := m.To(rcpts...); err != nil {
		return nil, fmt.Errorf("smtp: recipient: %w", err)
	}
	m.Subject(subject)
	m.SetDateWithValue(s.now())
	m.SetBodyString(mail.TypeTextPlain, body)
	return m, nil
}

func (s *SMTP) Notify(ctx context.Context, subject, body string) error {
	m, err := s.message(subject, body)
	if err != nil {
		return err
	}
	c, err := s.client()
	if err != nil {
		return fmt.Errorf("smtp: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp: send via %s:%d: %w", s.cfg.Server, s.cfg.Port, err)
	}
	return nil
}
