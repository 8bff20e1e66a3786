package notify

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/sheikh-saqib/personal-finance-ledger/internal/errs"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/interfaces"
)

const defaultSMTPTimeout = 30 * time.Second

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// Timeout bounds each network step of a send. Zero means 30s.
	Timeout time.Duration
}

// EmailSink sends notifications as HTML email with the markdown source as
// the plain-text alternative.
type EmailSink struct {
	cfg      SMTPConfig
	renderer *Renderer
	now      func() time.Time
}

func NewEmailSink(cfg SMTPConfig, renderer *Renderer) *EmailSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSMTPTimeout
	}
	return &EmailSink{cfg: cfg, renderer: renderer, now: time.Now}
}

func (s *EmailSink) Notify(ctx context.Context, n interfaces.Notification) error {
	if n.To == "" {
		return fmt.Errorf("email %q: %w", n.Subject, errs.Invalid("no recipient"))
	}
	msg, err := s.renderer.Render(n)
	if err != nil {
		return err
	}
	m, err := s.message(n.To, msg)
	if err != nil {
		return err
	}

	client, err := s.client(ctx)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send email to %s: %w: %w", n.To, errs.ErrExternalDispatchFailed, err)
	}
	return nil
}

func (s *EmailSink) message(to string, msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return nil, errs.Invalid("sender %q: %v", s.cfg.From, err)
	}
	if err := m.To(to); err != nil {
		return nil, errs.Invalid("recipient %q: %v", to, err)
	}
	m.Subject(msg.Subject)
	m.SetDateWithValue(s.now())
	m.SetBodyString(mail.TypeTextHTML, msg.HTML)
	m.AddAlternativeString(mail.TypeTextPlain, msg.Markdown)
	return m, nil
}

// client builds a go-mail client whose connection is bound to ctx.
func (s *EmailSink) client(ctx context.Context) (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTimeout(s.cfg.Timeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithDialContextFunc(s.dialer(ctx)),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password))
	}
	return mail.NewClient(s.cfg.Host, opts...)
}

// dialer gives every connection a deadline and closes it once ctx ends,
// so a server that stops answering mid-session cannot hold the caller.
// go-mail only bounds the dial itself with its own context.
func (s *EmailSink) dialer(ctx context.Context) mail.DialContextFunc {
	return func(dialCtx context.Context, network, addr string) (net.Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(dialCtx, network, addr)
		if err != nil {
			return nil, err
		}
		if err := conn.SetDeadline(time.Now().Add(s.cfg.Timeout)); err != nil {
			conn.Close()
			return nil, err
		}
		stop := context.AfterFunc(ctx, func() { conn.Close() })
		return &boundConn{Conn: conn, stop: stop}, nil
	}
}

type boundConn struct {
	net.Conn
	stop func() bool
}

func (c *boundConn) Close() error {
	c.stop()
	return c.Conn.Close()
}

var _ interfaces.Notifier = (*EmailSink)(nil)
