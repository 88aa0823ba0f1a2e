package publish

import (
	"context"
	"errors"
	"testing"

	"platescraper/internal/adapter"
	"platescraper/internal/components/telemetry"
	"platescraper/internal/queue"

	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	posts []string
}

func (s *fakeStore) Post(ctx context.Context, collection string, body any) error {
	s.posts = append(s.posts, collection)
	return nil
}

func (s *fakeStore) Upload(ctx context.Context, collection string, body any) error {
	s.posts = append(s.posts, collection)
	return nil
}

func (s *fakeStore) GetJSON(ctx context.Context, path string, out any) error {
	return nil
}

type fakeArtifact struct {
	plate string
	err   error
}

func (a fakeArtifact) Plate() string { return a.plate }

func (a fakeArtifact) Upload(ctx context.Context, store adapter.Store) error {
	if a.err != nil {
		return a.err
	}
	return store.Upload(ctx, "vehicles", map[string]string{"plateNumber": a.plate})
}

type fakeAck struct {
	acked []queue.WorkItem
	err   error
}

func (a *fakeAck) Acknowledge(ctx context.Context, item queue.WorkItem, outcome queue.Outcome) error {
	if a.err != nil {
		return a.err
	}
	a.acked = append(a.acked, item)
	return nil
}

func TestPublish(t *testing.T) {
	item := queue.WorkItem{ID: "42", Plate: "ABC123"}

	cases := []struct {
		name        string
		artifact    adapter.Artifact
		ackErr      error
		expectErr   error
		expectPosts int
		expectAcks  int
	}{
		{name: "ok", artifact: fakeArtifact{plate: "ABC123"}, expectPosts: 1, expectAcks: 1},
		{name: "upload fails", artifact: fakeArtifact{plate: "ABC123", err: errors.New("status 500")}, expectErr: ErrUpload},
		{name: "ack fails", artifact: fakeArtifact{plate: "ABC123"}, ackErr: errors.New("timeout"), expectErr: ErrAcknowledge, expectPosts: 1},
		{name: "nil artifact", artifact: nil, expectErr: ErrUpload},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			store := &fakeStore{}
			ack := &fakeAck{err: test.ackErr}
			publisher := NewPublisher(store, ack, &telemetry.Recorder{})

			err := publisher.Publish(context.Background(), item, test.artifact)
			if test.expectErr != nil {
				require.ErrorIs(t, err, test.expectErr)
			} else {
				require.NoError(t, err)
			}
			require.Len(t, store.posts, test.expectPosts)
			require.Len(t, ack.acked, test.expectAcks)
		})
	}
}
