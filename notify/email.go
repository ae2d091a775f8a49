package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"sentinel/core"

	"go.uber.org/zap"
)

// EmailDispatcher delivers notifications over SMTP. Every send opens a
// fresh session with STARTTLS so a dead connection never poisons later
// deliveries.
type EmailDispatcher struct {
	timeout time.Duration
	logger  *zap.SugaredLogger
}

// NewEmailDispatcher creates an email dispatcher. The timeout bounds the
// dial and the whole SMTP session.
func NewEmailDispatcher(timeout time.Duration, logger *zap.SugaredLogger) *EmailDispatcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &EmailDispatcher{timeout: timeout, logger: logger}
}

func (d *EmailDispatcher) Type() core.ChannelType {
	return core.ChannelEmail
}

// Deliver sends the notification body to the recipient's email address.
func (d *EmailDispatcher) Deliver(ctx context.Context, channel *core.NotificationChannel, notification *core.Notification, recipient *core.User) (Result, error) {
	cfg, err := channel.EmailConfig()
	if err != nil {
		return Result{}, err
	}

	if recipient.Email == "" {
		return Result{Skipped: true, Detail: "recipient has no email address"}, nil
	}

	message := d.buildMessage(cfg.FromEmail, recipient.Email, notification)
	if err := d.send(ctx, cfg, recipient.Email, message); err != nil {
		return Result{}, err
	}

	d.logger.Infof("Sent email notification %s to %s via %s", notification.ID, recipient.Email, cfg.SMTPHost)
	return Result{}, nil
}

func (d *EmailDispatcher) buildMessage(from, to string, notification *core.Notification) []byte {
	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(notification.Priority), notification.Title)

	var b strings.Builder
	b.WriteString(fmt.Sprintf("From: %s\r\n", from))
	b.WriteString(fmt.Sprintf("To: %s\r\n", to))
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	b.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(notification.Message)
	b.WriteString("\r\n")
	return []byte(b.String())
}

func (d *EmailDispatcher) send(ctx context.Context, cfg *core.EmailConfig, to string, message []byte) error {
	addr := fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort)

	dialer := &net.Dialer{Timeout: d.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}

	// A deadline on the connection bounds every subsequent SMTP command,
	// so a stalled server cannot hold a delivery worker open.
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(d.timeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set SMTP deadline: %w", err)
	}

	client, err := smtp.NewClient(conn, cfg.SMTPHost)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to start SMTP session: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			d.logger.Debugf("Failed to close SMTP client: %v", err)
		}
	}()

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConfig := &tls.Config{
			ServerName: cfg.SMTPHost,
			MinVersion: tls.VersionTLS12,
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if cfg.SMTPUsername != "" {
		auth := smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("failed to authenticate: %w", err)
		}
	}

	if err := client.Mail(cfg.FromEmail); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("failed to set recipient %s: %w", to, err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to initiate data transfer: %w", err)
	}
	if _, err := w.Write(message); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data transfer: %w", err)
	}

	if err := client.Quit(); err != nil {
		return fmt.Errorf("failed to quit: %w", err)
	}
	return nil
}
