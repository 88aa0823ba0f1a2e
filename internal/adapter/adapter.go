// Package adapter defines what a source must implement to be driven by the
// worker loop: turn one plate into an artifact the publisher can store.
package adapter

import (
	"context"
	"errors"
	"fmt"

	"platescraper/internal/queue"
	"platescraper/internal/session"
)

type Reason int

const (
	ReasonElementNotFound Reason = iota
	ReasonTimeout
	ReasonCaptcha
	ReasonUnexpectedResponse
	ReasonNetwork
)

func (r Reason) String() string {
	switch r {
	case ReasonElementNotFound:
		return "element_not_found"
	case ReasonTimeout:
		return "timeout"
	case ReasonCaptcha:
		return "captcha"
	case ReasonUnexpectedResponse:
		return "unexpected_response"
	case ReasonNetwork:
		return "network"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Error is returned by every failed Process call. Step names the part of
// the flow that failed, for example "login" or "search".
type Error struct {
	Reason Reason
	Step   string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Step, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", e.Step, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap builds an *Error. Deadline errors are always reported as
// ReasonTimeout, whatever reason is given, and an err that already is an
// *Error is returned as is.
func Wrap(reason Reason, step string, err error) error {
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		reason = ReasonTimeout
	}
	return &Error{Reason: reason, Step: step, Err: err}
}

// ReasonOf returns the reason of the first *Error in err's chain.
func ReasonOf(err error) (Reason, bool) {
	var adapterErr *Error
	if errors.As(err, &adapterErr) {
		return adapterErr.Reason, true
	}
	return 0, false
}

// Store is the part of the backend an artifact writes itself to.
type Store interface {
	Post(ctx context.Context, collection string, body any) error
	Upload(ctx context.Context, collection string, body any) error
	GetJSON(ctx context.Context, path string, out any) error
}

// Artifact is the result of processing one plate. It is transient: it is
// uploaded once and dropped.
type Artifact interface {
	// Plate is the plate the artifact was produced for.
	Plate() string
	// Upload writes the artifact to store with one or more requests.
	Upload(ctx context.Context, store Store) error
}

// SiteAdapter drives one source.
//
// note: fault injection point
type SiteAdapter interface {
	Process(ctx context.Context, s session.Session, item queue.WorkItem) (Artifact, error)
}

// ImageArtifact is a captured result image, stored as
// {plateNumber, imageBase64} in Collection.
type ImageArtifact struct {
	Collection  string
	PlateNumber string
	ImageBase64 string
}

func (a ImageArtifact) Plate() string {
	return a.PlateNumber
}

func (a ImageArtifact) Upload(ctx context.Context, store Store) error {
	return store.Upload(ctx, a.Collection, map[string]string{
		"plateNumber": a.PlateNumber,
		"imageBase64": a.ImageBase64,
	})
}
