// Package journal keeps a local sqlite record of every processed plate so an
// operator can see what a worker did without asking the backend.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"platescraper/internal/assert"
	"platescraper/internal/components/telemetry"
	"platescraper/lib/sqliteutil"

	"github.com/google/uuid"
)

//go:embed schema.sql
var Schema string

const report_journal_record = "journal.record"

type Outcome string

const (
	OutcomeDelivered        Outcome = "delivered"
	OutcomeDeliveredUnacked Outcome = "delivered_unacked"
	OutcomeAdapterFailed    Outcome = "adapter_failed"
	OutcomePublishFailed    Outcome = "publish_failed"
)

var Outcomes = []Outcome{
	OutcomeDelivered,
	OutcomeDeliveredUnacked,
	OutcomeAdapterFailed,
	OutcomePublishFailed,
}

type Entry struct {
	ID         string
	Source     string
	PlateID    string
	Plate      string
	Outcome    Outcome
	Detail     string
	StartedAt  time.Time
	FinishedAt time.Time
}

func (e Entry) Duration() time.Duration {
	return e.FinishedAt.Sub(e.StartedAt)
}

type Journal struct {
	db  *sql.DB
	tel telemetry.API
}

// Open opens the journal at path, ":memory:" is accepted.
func Open(ctx context.Context, path string, tel telemetry.API) (*Journal, error) {
	assert.NotNil(tel)
	db, err := sqliteutil.OpenAndApply(ctx, path, Schema)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{
		db:  db,
		tel: telemetry.NewScopedAPI("journal", tel),
	}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Record stores entry, generating its ID when empty.
func (j *Journal) Record(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.FinishedAt.IsZero() {
		entry.FinishedAt = time.Now()
	}
	if entry.StartedAt.IsZero() {
		entry.StartedAt = entry.FinishedAt
	}

	_, err := j.db.ExecContext(
		ctx,
		`insert into runs(id, source, plate_id, plate, outcome, detail, started_at, finished_at)
		values (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.Source,
		entry.PlateID,
		entry.Plate,
		string(entry.Outcome),
		entry.Detail,
		entry.StartedAt.UnixMilli(),
		entry.FinishedAt.UnixMilli(),
	)
	if err != nil {
		j.tel.ReportWarning(report_journal_record, err, entry.Plate)
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. An empty source means
// every source.
func (j *Journal) Recent(ctx context.Context, source string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(
		ctx,
		`select id, source, plate_id, plate, outcome, detail, started_at, finished_at
		from runs
		where ? = '' or source = ?
		order by started_at desc, rowid desc
		limit ?`,
		source, source, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var entry Entry
		var outcome string
		var started, finished int64
		err = rows.Scan(
			&entry.ID,
			&entry.Source,
			&entry.PlateID,
			&entry.Plate,
			&outcome,
			&entry.Detail,
			&started,
			&finished,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		entry.Outcome = Outcome(outcome)
		entry.StartedAt = time.UnixMilli(started)
		entry.FinishedAt = time.UnixMilli(finished)
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Counts returns how many runs ended with each outcome. An empty source
// means every source.
func (j *Journal) Counts(ctx context.Context, source string) (map[Outcome]int64, error) {
	return j.CountsSince(ctx, source, time.Time{})
}

// CountsSince is Counts restricted to runs started at or after since.
func (j *Journal) CountsSince(ctx context.Context, source string, since time.Time) (map[Outcome]int64, error) {
	rows, err := j.db.QueryContext(
		ctx,
		`select outcome, count(*) from runs
		where (? = '' or source = ?) and started_at >= ?
		group by outcome`,
		source, source, since.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("query run counts: %w", err)
	}
	defer rows.Close()

	out := map[Outcome]int64{}
	for rows.Next() {
		var outcome string
		var count int64
		err = rows.Scan(&outcome, &count)
		if err != nil {
			return nil, fmt.Errorf("scan run count: %w", err)
		}
		out[Outcome(outcome)] = count
	}
	return out, rows.Err()
}

// Prune deletes the runs started before before and returns how many were
// deleted.
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `delete from runs where started_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}
