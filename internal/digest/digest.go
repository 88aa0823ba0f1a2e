// Package digest sends the operator a periodic summary of the journal and
// prunes runs that are too old to be interesting.
package digest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"platescraper/internal/assert"
	"platescraper/internal/components/chrono"
	"platescraper/internal/components/telemetry"
	"platescraper/internal/journal"
	"platescraper/internal/notify"
	"platescraper/lib/timezone"
)

const (
	report_digest_counts = "digest.counts"
	report_digest_prune  = "digest.prune"
	report_digest_notify = "digest.notify"
)

const (
	DefaultSpec      = "0 8 * * *"
	DefaultWindow    = 24 * time.Hour
	DefaultRetention = 30 * 24 * time.Hour
)

// Journal is implemented by *journal.Journal.
type Journal interface {
	CountsSince(ctx context.Context, source string, since time.Time) (map[journal.Outcome]int64, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

type Options struct {
	Source string
	// Window is how far back a digest looks, 0 means a day.
	Window time.Duration
	// Retention is how long runs are kept, 0 means 30 days.
	Retention time.Duration
	// Now defaults to timezone.Now.
	Now func() time.Time
}

type Digest struct {
	opts     Options
	journal  Journal
	notifier notify.Notifier
	tel      telemetry.API
}

func New(opts Options, j Journal, notifier notify.Notifier, tel telemetry.API) *Digest {
	assert.NotNil(j)
	assert.NotNil(notifier)
	assert.NotNil(tel)
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Now == nil {
		opts.Now = timezone.Now
	}
	return &Digest{
		opts:     opts,
		journal:  j,
		notifier: notifier,
		tel:      telemetry.NewScopedAPI("digest", tel),
	}
}

// Schedule runs Send on spec, an empty spec means DefaultSpec.
func (d *Digest) Schedule(ctx context.Context, cron chrono.CronAPI, spec string) error {
	if spec == "" {
		spec = DefaultSpec
	}
	return cron.Cron(spec, func() {
		err := d.Send(ctx)
		if err != nil {
			d.tel.ReportWarning(report_digest_notify, err)
		}
	})
}

// Body renders counts as one line per outcome followed by the total.
func Body(source string, window time.Duration, counts map[journal.Outcome]int64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Runs of source %s in the last %s:\n\n", source, window)
	var total int64
	for _, outcome := range journal.Outcomes {
		fmt.Fprintf(&b, "%-18s %d\n", outcome, counts[outcome])
		total += counts[outcome]
	}
	fmt.Fprintf(&b, "%-18s %d\n", "total", total)
	return b.String()
}

// Send prunes old runs and mails the counts of the last window.
func (d *Digest) Send(ctx context.Context) error {
	now := d.opts.Now()

	pruned, err := d.journal.Prune(ctx, now.Add(-d.opts.Retention))
	if err != nil {
		d.tel.ReportWarning(report_digest_prune, err)
	} else if pruned > 0 {
		d.tel.ReportDebug("pruned old runs", "count", pruned)
	}

	counts, err := d.journal.CountsSince(ctx, d.opts.Source, now.Add(-d.opts.Window))
	if err != nil {
		d.tel.ReportBroken(report_digest_counts, err)
		return err
	}

	subject := fmt.Sprintf("[%s] daily summary %s", d.opts.Source, now.Format("2006-01-02"))
	return d.notifier.Notify(ctx, subject, Body(d.opts.Source, d.opts.Window, counts))
}
