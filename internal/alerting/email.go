package alerting

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// EmailOptions configure SMTP delivery.
type EmailOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// EmailNotifier delivers alerts by SMTP to the alert's recipient address.
type EmailNotifier struct {
	opts   EmailOptions
	logger zerolog.Logger
	dialer net.Dialer
}

// NewEmailNotifier builds an SMTP notifier.
func NewEmailNotifier(opts EmailOptions, logger zerolog.Logger) *EmailNotifier {
	if opts.Port == 0 {
		opts.Port = 587
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &EmailNotifier{
		opts:   opts,
		logger: logger.With().Str("component", "alert_email").Logger(),
	}
}

// Notify sends one message. The whole SMTP session shares one deadline taken
// from ctx and the configured timeout; when it expires the connection is
// aborted rather than left to finish in the background.
func (n *EmailNotifier) Notify(ctx context.Context, note Notification) error {
	if strings.TrimSpace(note.Recipient) == "" {
		return fmt.Errorf("email: alert %d has no recipient", note.AlertID)
	}
	to, err := mail.ParseAddress(note.Recipient)
	if err != nil {
		return fmt.Errorf("email: alert %d recipient: %w", note.AlertID, err)
	}
	from, err := mail.ParseAddress(n.opts.From)
	if err != nil {
		return fmt.Errorf("email: sender: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.opts.Timeout)
	defer cancel()

	if err := n.send(ctx, from.Address, to.Address, buildEmail(from, to, note)); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info().Int64("alert_id", note.AlertID).
		Str("product", note.ProductName).
		Msg("alert delivered (email)")
	return nil
}

func (n *EmailNotifier) send(ctx context.Context, from, to string, msg []byte) error {
	addr := net.JoinHostPort(n.opts.Host, fmt.Sprint(n.opts.Port))
	conn, err := n.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return err
		}
	}
	// Cancellation of the parent context interrupts blocked reads and writes.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	client, err := smtp.NewClient(conn, n.opts.Host)
	if err != nil {
		return ctxErr(ctx, err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: n.opts.Host}); err != nil {
			return ctxErr(ctx, err)
		}
	}
	if n.opts.Username != "" {
		auth := smtp.PlainAuth("", n.opts.Username, n.opts.Password, n.opts.Host)
		if err := client.Auth(auth); err != nil {
			return ctxErr(ctx, err)
		}
	}
	if err := client.Mail(from); err != nil {
		return ctxErr(ctx, err)
	}
	if err := client.Rcpt(to); err != nil {
		return ctxErr(ctx, err)
	}
	w, err := client.Data()
	if err != nil {
		return ctxErr(ctx, err)
	}
	if _, err := w.Write(msg); err != nil {
		return ctxErr(ctx, err)
	}
	if err := w.Close(); err != nil {
		return ctxErr(ctx, err)
	}
	// The message is accepted once DATA is acknowledged; a failed QUIT is not a delivery failure.
	if err := client.Quit(); err != nil {
		n.logger.Debug().Err(err).Msg("smtp quit failed")
	}
	return nil
}

// ctxErr prefers the context's error when the deadline caused the failure.
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	return err
}

func buildEmail(from, to *mail.Address, note Notification) []byte {
	var b strings.Builder
	b.WriteString("From: " + from.String() + "\r\n")
	b.WriteString("To: " + to.String() + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", renderSubject(note)) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(renderMessage(note), "\n", "\r\n"))
	return []byte(b.String())
}

var _ Notifier = (*EmailNotifier)(nil)
