// Package publish stores artifacts in the backend and acknowledges the
// plates they belong to.
package publish

import (
	"context"
	"errors"
	"fmt"

	"platescraper/internal/adapter"
	"platescraper/internal/assert"
	"platescraper/internal/components/telemetry"
	"platescraper/internal/queue"
)

const (
	report_publisher_upload      = "publisher.upload"
	report_publisher_acknowledge = "publisher.acknowledge"
)

var (
	// ErrUpload means the artifact was not stored, the plate stays pending.
	ErrUpload = errors.New("upload failed")
	// ErrAcknowledge means the artifact was stored but the plate could not
	// be marked as loaded. It will be processed again.
	ErrAcknowledge = errors.New("acknowledge failed")
)

// Acknowledger is implemented by *queue.Client.
type Acknowledger interface {
	Acknowledge(ctx context.Context, item queue.WorkItem, outcome queue.Outcome) error
}

type Publisher struct {
	store adapter.Store
	queue Acknowledger
	tel   telemetry.API
}

func NewPublisher(store adapter.Store, ack Acknowledger, tel telemetry.API) *Publisher {
	assert.NotNil(store)
	assert.NotNil(ack)
	assert.NotNil(tel)
	return &Publisher{
		store: store,
		queue: ack,
		tel:   telemetry.NewScopedAPI("publish", tel),
	}
}

// Publish uploads artifact and, only if that worked, acknowledges item.
func (p *Publisher) Publish(ctx context.Context, item queue.WorkItem, artifact adapter.Artifact) error {
	if artifact == nil {
		return fmt.Errorf("%w: no artifact for plate %s", ErrUpload, item.Plate)
	}

	err := artifact.Upload(ctx, p.store)
	if err != nil {
		p.tel.ReportBroken(report_publisher_upload, err, item.ID, item.Plate)
		return fmt.Errorf("%w: %w", ErrUpload, err)
	}

	err = p.queue.Acknowledge(ctx, item, queue.OutcomeSuccess)
	if err != nil {
		p.tel.ReportWarning(report_publisher_acknowledge, err, item.ID, item.Plate)
		return fmt.Errorf("%w: %w", ErrAcknowledge, err)
	}
	return nil
}
