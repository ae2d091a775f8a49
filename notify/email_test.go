package notify

import (
	"context"
	"net"
	"testing"
	"time"

	"sentinel/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func emailChannel(t *testing.T) *core.NotificationChannel {
	t.Helper()
	return makeChannel(t, core.ChannelEmail, map[string]interface{}{
		"smtp_host":     "smtp.example.com",
		"smtp_port":     587,
		"smtp_username": "notifier",
		"smtp_password": "secret",
		"from_email":    "noreply@example.com",
	})
}

func TestEmailDispatcher_SkipsRecipientWithoutEmail(t *testing.T) {
	d := NewEmailDispatcher(5*time.Second, zap.NewNop().Sugar())

	recipient := testRecipient()
	recipient.Email = ""

	result, err := d.Deliver(context.Background(), emailChannel(t), testNotification(), recipient)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Contains(t, result.Detail, "no email address")
}

func TestEmailDispatcher_BuildMessage(t *testing.T) {
	d := NewEmailDispatcher(5*time.Second, zap.NewNop().Sugar())

	notification := testNotification()
	message := string(d.buildMessage("noreply@example.com", "analyst@example.com", notification))

	assert.Contains(t, message, "From: noreply@example.com\r\n")
	assert.Contains(t, message, "To: analyst@example.com\r\n")
	assert.Contains(t, message, "Subject: [HIGH] Disk usage critical\r\n")
	assert.Contains(t, message, "Content-Type: text/plain; charset=UTF-8\r\n")
	assert.Contains(t, message, "\r\n\r\nHost db-1 is at 97% disk usage.\r\n")
}

func TestEmailDispatcher_TimesOutOnSilentServer(t *testing.T) {
	// A listener that accepts and never sends the SMTP greeting.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	port := listener.Addr().(*net.TCPAddr).Port
	channel := makeChannel(t, core.ChannelEmail, map[string]interface{}{
		"smtp_host":     "127.0.0.1",
		"smtp_port":     port,
		"smtp_username": "notifier",
		"smtp_password": "secret",
		"from_email":    "noreply@example.com",
	})

	d := NewEmailDispatcher(100*time.Millisecond, zap.NewNop().Sugar())

	start := time.Now()
	_, err = d.Deliver(context.Background(), channel, testNotification(), testRecipient())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second, "a silent SMTP server must not pin the worker")
}

func TestInAppDispatcher_DeliversImmediately(t *testing.T) {
	d := NewInAppDispatcher(zap.NewNop().Sugar())

	result, err := d.Deliver(context.Background(), nil, testNotification(), testRecipient())
	require.NoError(t, err)
	assert.False(t, result.Skipped)
}
