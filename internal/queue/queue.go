// Package queue pulls pending plates for one source from the backend and
// acknowledges them once their results are stored.
package queue

import (
	"context"
	"errors"
	"fmt"

	"platescraper/internal/assert"
	"platescraper/internal/backend"
	"platescraper/internal/components/telemetry"
)

const (
	report_client_fetch_next  = "client.fetch-next"
	report_client_acknowledge = "client.acknowledge"
)

// ErrUnavailable wraps every failure to reach the queue.
var ErrUnavailable = errors.New("queue unavailable")

type Status int

const (
	StatusPending Status = iota
	StatusLoaded
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusLoaded:
		return "loaded"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// WorkItem is one pending plate. Its ID is opaque to the consumer.
type WorkItem struct {
	ID     string
	Plate  string
	Status Status
}

type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
)

// Backend is the subset of the backend client the queue needs.
type Backend interface {
	FirstUnloaded(ctx context.Context, source string) (backend.PendingPlate, bool, error)
	MarkLoaded(ctx context.Context, id string, source string) error
}

type Client struct {
	source  string
	backend Backend
	tel     telemetry.API
}

func NewClient(source string, b Backend, tel telemetry.API) *Client {
	assert.NotEmptyStr(source)
	assert.NotNil(b)
	assert.NotNil(tel)

	return &Client{
		source:  source,
		backend: b,
		tel:     telemetry.NewScopedAPI("queue", tel),
	}
}

func (c *Client) Source() string {
	return c.source
}

// FetchNext returns the next pending plate. ok is false when the queue is
// empty, which is not an error.
func (c *Client) FetchNext(ctx context.Context) (item WorkItem, ok bool, err error) {
	plate, ok, err := c.backend.FirstUnloaded(ctx, c.source)
	if err != nil {
		c.tel.ReportWarning(report_client_fetch_next, err, c.source)
		return WorkItem{}, false, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if !ok {
		return WorkItem{}, false, nil
	}
	return WorkItem{
		ID:     plate.ID,
		Plate:  plate.Plate,
		Status: StatusPending,
	}, true, nil
}

// Acknowledge marks the item as loaded when outcome is OutcomeSuccess and
// does nothing otherwise. A failed acknowledgment is returned, it is not
// retried in place.
func (c *Client) Acknowledge(ctx context.Context, item WorkItem, outcome Outcome) error {
	if outcome != OutcomeSuccess {
		return nil
	}

	err := c.backend.MarkLoaded(ctx, item.ID, c.source)
	if err != nil {
		c.tel.ReportBroken(report_client_acknowledge, err, item.ID, item.Plate)
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}
