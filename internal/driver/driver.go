// Package driver runs the worker loop of one source: get a session, pull a
// plate, scrape it, store the result, repeat.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"platescraper/internal/adapter"
	"platescraper/internal/assert"
	"platescraper/internal/components/telemetry"
	"platescraper/internal/journal"
	"platescraper/internal/notify"
	"platescraper/internal/publish"
	"platescraper/internal/queue"
	"platescraper/internal/session"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("platescraper/internal/driver")
	meter  = otel.Meter("platescraper/internal/driver")
)

const (
	report_loop_session  = "loop.session"
	report_loop_process  = "loop.process"
	report_loop_publish  = "loop.publish"
	report_loop_journal  = "loop.journal"
	report_loop_notify   = "loop.notify"
	report_loop_breaker  = "loop.breaker"
	report_loop_sessions = "sessions_built"
)

// ErrSessionBudgetExhausted is returned by Run when too many consecutive
// session constructions failed.
var ErrSessionBudgetExhausted = errors.New("session construction budget exhausted")

const (
	DefaultEmptyQueueDelay    = 2 * time.Second
	DefaultUnavailableDelay   = 5 * time.Second
	DefaultFailureDelay       = 2 * time.Second
	DefaultSessionRetryDelay  = 5 * time.Second
	DefaultMaxSessionAttempts = 10
	DefaultItemTimeout        = 3 * time.Minute
	DefaultSessionTimeout     = 2 * time.Minute
)

type Config struct {
	// Source is the queue name, it only shows up in logs, spans and the
	// journal.
	Source string

	EmptyQueueDelay   time.Duration
	UnavailableDelay  time.Duration
	FailureDelay      time.Duration
	SessionRetryDelay time.Duration
	// MaxSessionAttempts is the number of consecutive failed session
	// constructions after which Run gives up.
	MaxSessionAttempts int
	// ItemTimeout bounds processing and publishing one plate.
	ItemTimeout time.Duration
	// SessionTimeout bounds one session construction.
	SessionTimeout time.Duration

	// PerItemSession throws the session away after every plate.
	PerItemSession bool
	// Once makes Run return after the first plate, whatever its outcome.
	Once bool
}

func (c Config) withDefaults() Config {
	if c.EmptyQueueDelay <= 0 {
		c.EmptyQueueDelay = DefaultEmptyQueueDelay
	}
	if c.UnavailableDelay <= 0 {
		c.UnavailableDelay = DefaultUnavailableDelay
	}
	if c.FailureDelay <= 0 {
		c.FailureDelay = DefaultFailureDelay
	}
	if c.SessionRetryDelay <= 0 {
		c.SessionRetryDelay = DefaultSessionRetryDelay
	}
	if c.MaxSessionAttempts <= 0 {
		c.MaxSessionAttempts = DefaultMaxSessionAttempts
	}
	if c.ItemTimeout <= 0 {
		c.ItemTimeout = DefaultItemTimeout
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = DefaultSessionTimeout
	}
	return c
}

type Queue interface {
	FetchNext(ctx context.Context) (queue.WorkItem, bool, error)
}

// Sessions is implemented by *session.Manager.
type Sessions interface {
	EnsureReady(ctx context.Context) (session.Session, bool, error)
	Invalidate()
	Shutdown()
}

type Publisher interface {
	Publish(ctx context.Context, item queue.WorkItem, artifact adapter.Artifact) error
}

// Journal is implemented by *journal.Journal.
type Journal interface {
	Record(ctx context.Context, entry journal.Entry) error
}

// Sleeper waits for d or until ctx is done.
//
// note: fault injection point
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type Options struct {
	Config    Config
	Queue     Queue
	Sessions  Sessions
	Adapter   adapter.SiteAdapter
	Publisher Publisher

	// Journal, Notifier and Sleeper are optional.
	Journal  Journal
	Notifier notify.Notifier
	Sleeper  Sleeper
}

type State int

const (
	StateNeedsSession State = iota
	StateFetching
	StateProcessing
	StatePublishing
)

func (s State) String() string {
	switch s {
	case StateNeedsSession:
		return "needs_session"
	case StateFetching:
		return "fetching"
	case StateProcessing:
		return "processing"
	case StatePublishing:
		return "publishing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Driver struct {
	config    Config
	queue     Queue
	sessions  Sessions
	adapter   adapter.SiteAdapter
	publisher Publisher
	journal   Journal
	notifier  notify.Notifier
	sleeper   Sleeper
	tel       telemetry.API

	source        attribute.KeyValue
	processed     metric.Int64Counter
	failed        metric.Int64Counter
	constructions metric.Int64Counter
	built         int64
}

func New(opts Options, tel telemetry.API) (*Driver, error) {
	assert.NotNil(opts.Queue)
	assert.NotNil(opts.Sessions)
	assert.NotNil(opts.Adapter)
	assert.NotNil(opts.Publisher)
	assert.NotNil(tel)

	if opts.Notifier == nil {
		opts.Notifier = notify.LogNotifier{}
	}
	if opts.Sleeper == nil {
		opts.Sleeper = timerSleeper{}
	}

	processed, err := meter.Int64Counter(
		"plates_processed_total",
		metric.WithDescription("Plates whose result was stored in the backend."),
	)
	if err != nil {
		return nil, err
	}
	failed, err := meter.Int64Counter(
		"plates_failed_total",
		metric.WithDescription("Plates that failed to scrape or to store."),
	)
	if err != nil {
		return nil, err
	}
	constructions, err := meter.Int64Counter(
		"session_constructions_total",
		metric.WithDescription("Session construction attempts, by result."),
	)
	if err != nil {
		return nil, err
	}

	return &Driver{
		config:        opts.Config.withDefaults(),
		queue:         opts.Queue,
		sessions:      opts.Sessions,
		adapter:       opts.Adapter,
		publisher:     opts.Publisher,
		journal:       opts.Journal,
		notifier:      opts.Notifier,
		sleeper:       opts.Sleeper,
		tel:           telemetry.NewScopedAPI("driver", tel),
		source:        attribute.String("source", opts.Config.Source),
		processed:     processed,
		failed:        failed,
		constructions: constructions,
	}, nil
}

// Run loops until ctx is cancelled, which makes it return nil, or until
// session construction fails MaxSessionAttempts times in a row. ctx is
// only checked between iterations, a plate being processed is finished
// first. The session is always torn down before Run returns.
func (d *Driver) Run(ctx context.Context) error {
	defer d.sessions.Shutdown()

	state := StateNeedsSession
	attempts := 0
	var current session.Session
	var item queue.WorkItem
	var artifact adapter.Artifact
	var started time.Time

	for {
		switch state {
		case StateNeedsSession:
			if ctx.Err() != nil {
				return nil
			}
			s, err := d.buildSession(ctx)
			if err != nil {
				attempts++
				d.tel.ReportWarning(report_loop_session, err, attempts)
				if attempts >= d.config.MaxSessionAttempts {
					err = fmt.Errorf("%w: %d attempts, last: %w", ErrSessionBudgetExhausted, attempts, err)
					d.tel.ReportBroken(report_loop_breaker, err)
					d.notify(ctx, fmt.Sprintf("[%s] worker stopped", d.config.Source), err.Error())
					return err
				}
				d.sleep(ctx, d.config.SessionRetryDelay)
				continue
			}
			attempts = 0
			current = s
			state = StateFetching

		case StateFetching:
			if ctx.Err() != nil {
				return nil
			}
			next, ok, err := d.queue.FetchNext(ctx)
			if err != nil {
				d.sleep(ctx, d.config.UnavailableDelay)
				continue
			}
			if !ok {
				d.sleep(ctx, d.config.EmptyQueueDelay)
				continue
			}
			item = next
			started = time.Now()
			state = StateProcessing

		case StateProcessing:
			var err error
			artifact, err = d.process(ctx, current, item)
			if err != nil {
				d.failed.Add(ctx, 1, metric.WithAttributes(d.source))
				d.record(ctx, item, started, journal.OutcomeAdapterFailed, err)

				d.sessions.Invalidate()
				current = nil
				item = queue.WorkItem{}
				if d.config.Once {
					return nil
				}
				d.sleep(ctx, d.config.FailureDelay)
				state = StateNeedsSession
				continue
			}
			state = StatePublishing

		case StatePublishing:
			failed := d.publish(ctx, item, artifact, started)
			artifact = nil
			item = queue.WorkItem{}

			state = StateFetching
			if d.config.PerItemSession {
				d.sessions.Invalidate()
				current = nil
				state = StateNeedsSession
			}
			if d.config.Once {
				return nil
			}
			if failed {
				d.sleep(ctx, d.config.FailureDelay)
			}
		}
	}
}

func (d *Driver) sleep(ctx context.Context, duration time.Duration) {
	// cancellation is picked up before the next session or fetch.
	_ = d.sleeper.Sleep(ctx, duration)
}

func (d *Driver) buildSession(ctx context.Context) (session.Session, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.config.SessionTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "driver.session", trace.WithAttributes(
		attribute.String("source", d.config.Source),
	))
	defer span.End()

	s, fresh, err := d.sessions.EnsureReady(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session construction failed")
		d.constructions.Add(ctx, 1, metric.WithAttributes(d.source, attribute.Bool("ok", false)))
		return nil, err
	}
	if fresh {
		d.constructions.Add(ctx, 1, metric.WithAttributes(d.source, attribute.Bool("ok", true)))
		d.built++
		d.tel.ReportCount(report_loop_sessions, d.built)
		d.tel.ReportDebug("new session", "tag", s.Tag())
	}
	return s, nil
}

func (d *Driver) process(ctx context.Context, s session.Session, item queue.WorkItem) (adapter.Artifact, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.config.ItemTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "driver.process", trace.WithAttributes(
		attribute.String("source", d.config.Source),
		attribute.String("plate", item.Plate),
		attribute.String("session", s.Tag()),
	))
	defer span.End()

	artifact, err := d.adapter.Process(ctx, s, item)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "adapter failed")
		d.tel.ReportWarning(report_loop_process, err, item.ID, item.Plate)
		return nil, err
	}
	return artifact, nil
}

// publish stores artifact and reports whether it failed.
func (d *Driver) publish(ctx context.Context, item queue.WorkItem, artifact adapter.Artifact, started time.Time) bool {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.config.ItemTimeout)
	defer cancel()
	pctx, span := tracer.Start(pctx, "driver.publish", trace.WithAttributes(
		attribute.String("source", d.config.Source),
		attribute.String("plate", item.Plate),
	))
	defer span.End()

	err := d.publisher.Publish(pctx, item, artifact)
	switch {
	case err == nil:
		d.processed.Add(pctx, 1, metric.WithAttributes(d.source))
		d.record(ctx, item, started, journal.OutcomeDelivered, nil)
		d.tel.ReportDebug("plate delivered", "plate", item.Plate, "id", item.ID)
		return false
	case errors.Is(err, publish.ErrAcknowledge):
		span.RecordError(err)
		d.processed.Add(pctx, 1, metric.WithAttributes(d.source))
		d.record(ctx, item, started, journal.OutcomeDeliveredUnacked, err)
		d.tel.ReportWarning(report_loop_publish, err, item.ID, item.Plate)
		d.notify(ctx, fmt.Sprintf("[%s] plate %s stored but not acknowledged", d.config.Source, item.Plate), err.Error())
		return true
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		d.failed.Add(pctx, 1, metric.WithAttributes(d.source))
		d.record(ctx, item, started, journal.OutcomePublishFailed, err)
		d.tel.ReportBroken(report_loop_publish, err, item.ID, item.Plate)
		d.notify(ctx, fmt.Sprintf("[%s] plate %s not stored", d.config.Source, item.Plate), err.Error())
		return true
	}
}

func (d *Driver) record(ctx context.Context, item queue.WorkItem, started time.Time, outcome journal.Outcome, cause error) {
	if d.journal == nil {
		return
	}
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	err := d.journal.Record(context.WithoutCancel(ctx), journal.Entry{
		Source:     d.config.Source,
		PlateID:    item.ID,
		Plate:      item.Plate,
		Outcome:    outcome,
		Detail:     detail,
		StartedAt:  started,
		FinishedAt: time.Now(),
	})
	if err != nil {
		d.tel.ReportWarning(report_loop_journal, err)
	}
}

func (d *Driver) notify(ctx context.Context, subject, body string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	err := d.notifier.Notify(ctx, subject, body)
	if err != nil {
		d.tel.ReportWarning(report_loop_notify, err, subject)
	}
}
