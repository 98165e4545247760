package notify

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	mail "github.com/wneessen/go-mail"

	"github.com/ivankudzin/storefront/internal/pkg/validate"
)

type SMTPConfig struct {
	Addr     string
	Username string
	Password string
	From     string
}

type EmailNotifier struct {
	cfg  SMTPConfig
	send func(ctx context.Context, msgs ...*mail.Msg) error
	now  func() time.Time
}

func NewEmailNotifier(cfg SMTPConfig) (*EmailNotifier, error) {
	if strings.TrimSpace(cfg.Addr) == "" || strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("smtp addr and from are required")
	}
	client, err := newSMTPClient(cfg)
	if err != nil {
		return nil, err
	}
	return &EmailNotifier{cfg: cfg, send: client.DialAndSendWithContext, now: time.Now}, nil
}

// newSMTPClient upgrades to TLS whenever the server offers STARTTLS and
// authenticates with PLAIN when a username is configured.
func newSMTPClient(cfg SMTPConfig) (*mail.Client, error) {
	host, rawPort, err := net.SplitHostPort(strings.TrimSpace(cfg.Addr))
	if err != nil {
		return nil, fmt.Errorf("parse smtp addr: %w", err)
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil {
		return nil, fmt.Errorf("parse smtp port: %w", err)
	}

	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return client, nil
}

func (n *EmailNotifier) Notify(ctx context.Context, msg Message) error {
	if !validate.Email(msg.Email) {
		return fmt.Errorf("%w: invalid recipient %q", ErrPermanent, msg.Email)
	}
	body, err := renderBody(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}

	m := mail.NewMsg(mail.WithEncoding(mail.NoEncoding))
	if err := m.From(n.cfg.From); err != nil {
		return fmt.Errorf("%w: sender: %v", ErrPermanent, err)
	}
	if err := m.To(strings.TrimSpace(msg.Email)); err != nil {
		return fmt.Errorf("%w: recipient: %v", ErrPermanent, err)
	}
	m.Subject(fmt.Sprintf("%s (%s)", headline(msg), msg.OrderID))
	m.SetDateWithValue(n.now().UTC())
	m.SetMessageID()
	m.SetBodyString(mail.TypeTextPlain, body)

	if err := n.send(ctx, m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}
