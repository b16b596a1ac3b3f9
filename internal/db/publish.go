package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/gyeh/caremodel/internal/model"
	"github.com/gyeh/caremodel/internal/relation"
	embedsql "github.com/gyeh/caremodel/internal/sql"
)

// Schema is the Postgres schema the warehouse tables live in.
const Schema = "care"

// Publisher replaces warehouse tables in Postgres. Each Write truncates the
// table and refills it with COPY inside one transaction, so concurrent
// readers see the old rows until commit.
type Publisher struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewPublisher returns a Publisher over pool. The schema must already be
// migrated.
func NewPublisher(pool *pgxpool.Pool, log zerolog.Logger) *Publisher {
	return &Publisher{pool: pool, log: log}
}

func (p *Publisher) Write(ctx context.Context, table model.Table, rows relation.Relation) error {
	if err := rows.Err(); err != nil {
		return err
	}
	start := time.Now()
	ident := pgx.Identifier{Schema, table.SQLName}

	var copied int64
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "TRUNCATE "+ident.Sanitize()); err != nil {
			return fmt.Errorf("truncate %s: %w", table.SQLName, err)
		}
		src := NewRelationSource(table, rows)
		n, err := tx.CopyFrom(ctx, ident, table.ColumnNames(), src)
		if err != nil {
			return fmt.Errorf("copy into %s: %w", table.SQLName, err)
		}
		if err := src.Err(); err != nil {
			return err
		}
		copied = n
		return nil
	})
	if err != nil {
		return err
	}

	p.log.Info().
		Str("table", ident.Sanitize()).
		Int64("rows", copied).
		Dur("duration", time.Since(start)).
		Msg("table published")
	return nil
}

// Close is a no-op; the pool is owned by the caller.
func (p *Publisher) Close() error { return nil }

// RecordRun appends the run to care.load_runs.
func (p *Publisher) RecordRun(ctx context.Context, s *model.RunSummary) error {
	runID, err := uuid.Parse(s.RunID)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	_, err = p.pool.Exec(ctx, embedsql.InsertLoadRun,
		runID,
		s.InputPath,
		s.InputSHA256,
		s.RowsRead,
		s.DistinctVisits,
		s.RowsByTable[model.FactVisit.Name],
		s.Mismatches,
		s.UnkeyedRows,
		s.MissingVisits,
		s.Complete,
		s.DurationTotal.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// LoadRun is one row of care.load_runs.
type LoadRun struct {
	RunID       uuid.UUID
	InputSHA256 string
	FactRows    int64
	Mismatches  int64
	Complete    bool
	LoadedAt    time.Time
}

// LatestRun returns the most recent load_runs entry, or nil when there is none.
func (p *Publisher) LatestRun(ctx context.Context) (*LoadRun, error) {
	var r LoadRun
	err := p.pool.QueryRow(ctx, embedsql.LatestLoadRun).
		Scan(&r.RunID, &r.InputSHA256, &r.FactRows, &r.Mismatches, &r.Complete, &r.LoadedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	return &r, nil
}
