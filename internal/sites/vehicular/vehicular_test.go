package vehicular

import (
	"context"
	"testing"

	"platescraper/internal/adapter"
	"platescraper/internal/components/telemetry"
	"platescraper/internal/queue"

	"github.com/stretchr/testify/require"
)

func TestParseDataUri(t *testing.T) {
	cases := []struct {
		name      string
		src       string
		expect    string
		expectErr bool
	}{
		{name: "png", src: "data:image/png;base64,iVBORw0KGgo=", expect: "iVBORw0KGgo="},
		{name: "jpeg with spaces", src: "data:image/jpeg;base64, /9j/4AAQ \n", expect: "/9j/4AAQ"},
		{name: "plain url", src: "https://consultavehicular.sunarp.gob.pe/assets/logo.png", expectErr: true},
		{name: "empty payload", src: "data:image/png;base64,", expectErr: true},
		{name: "empty", src: "", expectErr: true},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			image, err := ParseDataUri(test.src)
			if test.expectErr {
				require.ErrorIs(t, err, ErrNoImage)
				return
			}
			require.NoError(t, err)
			require.Equal(t, test.expect, image)
		})
	}
}

type otherSession struct{}

func (otherSession) Tag() string  { return "other" }
func (otherSession) Close() error { return nil }

func TestProcessRejectsForeignSession(t *testing.T) {
	a := New("", nil, &telemetry.Recorder{})
	require.Equal(t, DefaultUrl, a.url)

	_, err := a.Process(context.Background(), otherSession{}, queue.WorkItem{ID: "1", Plate: "ABC123"})
	reason, ok := adapter.ReasonOf(err)
	require.True(t, ok)
	require.Equal(t, adapter.ReasonUnexpectedResponse, reason)
}
