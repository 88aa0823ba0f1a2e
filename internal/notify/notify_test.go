package notify

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestNew(t *testing.T) {
	_, ok := New(SmtpConfig{}).(LogNotifier)
	require.True(t, ok)

	_, ok = New(SmtpConfig{Server: "localhost", Port: 1025, EmailAddress: "ops@example.com"}).(EmailNotifier)
	require.True(t, ok)
}

func TestLogNotifier(t *testing.T) {
	require.NoError(t, LogNotifier{}.Notify(context.Background(), "subject", "body"))
}

func TestEmailNotifierCancelled(t *testing.T) {
	// nothing listens on port 1, the context is already done either way.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	notifier := NewEmailNotifier(SmtpConfig{Server: "127.0.0.1", Port: 1, EmailAddress: "ops@example.com"})
	err := notifier.Notify(ctx, "subject", "body")
	require.Error(t, err)
}

func TestEmailNotifier(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}

	// suppress logging
	testcontainers.Logger = log.New(io.Discard, "", 0)

	smtp, err := testcontainers.GenericContainer(
		context.Background(),
		testcontainers.GenericContainerRequest{
			Started: true,
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "haravich/fake-smtp-server",
				ExposedPorts: []string{"1025:1025", "1080:1080"},
				WaitingFor:   wait.ForLog("smtp://0.0.0.0:1025"),
			},
		},
	)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, smtp.Terminate(context.Background()))
	}()

	notifier := NewEmailNotifier(SmtpConfig{
		Server:       "localhost",
		Port:         1025,
		EmailAddress: "scraper@email.com",
		Password:     "default",
		Recipients:   []string{"ops@email.com"},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err = notifier.Notify(ctx, "plate ABC123 not stored", "POST /vehicles: unexpected status 500")
	require.NoError(t, err)

	res, err := resty.New().R().Get("http://127.0.0.1:1080/messages/1.plain")
	require.NoError(t, err)
	require.Contains(t, res.String(), "POST /vehicles: unexpected status 500")
}
