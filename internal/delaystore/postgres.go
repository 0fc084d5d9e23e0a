// Package delaystore bulk-loads the merged delay and weather table into
// PostgreSQL for ad-hoc analysis.
package delaystore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/transitx/transitx/internal/transit"
)

// DefaultTable is the table the load stage replaces.
const DefaultTable = "transit_delay_weather"

// Columns are the table columns in COPY order.
var Columns = []string{
	"occurred_at", "service_date", "hour",
	"route", "day", "location", "incident",
	"min_delay", "min_gap", "direction", "vehicle",
	"temperature", "precipitation",
}

// TxBeginner is satisfied by *pgxpool.Pool and *pgx.Conn.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore replaces the table contents in one transaction.
type PostgresStore struct {
	db     TxBeginner
	table  string
	logger zerolog.Logger
}

// NewPostgresStore creates a store writing to table, or DefaultTable when empty.
func NewPostgresStore(db TxBeginner, table string, logger zerolog.Logger) *PostgresStore {
	if table == "" {
		table = DefaultTable
	}
	return &PostgresStore{db: db, table: table, logger: logger}
}

func (s *PostgresStore) createTable() string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			occurred_at   TIMESTAMP,
			service_date  DATE NOT NULL,
			hour          SMALLINT,
			route         TEXT NOT NULL,
			day           TEXT NOT NULL,
			location      TEXT NOT NULL,
			incident      TEXT NOT NULL,
			min_delay     DOUBLE PRECISION NOT NULL,
			min_gap       DOUBLE PRECISION,
			direction     TEXT NOT NULL,
			vehicle       TEXT NOT NULL,
			temperature   DOUBLE PRECISION,
			precipitation DOUBLE PRECISION
		)`, pgx.Identifier{s.table}.Sanitize())
}

// Replace truncates the table and copies records in. Either every row lands
// or none do.
func (s *PostgresStore) Replace(ctx context.Context, records []transit.MergedRecord) (n int64, err error) {
	start := time.Now()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				s.logger.Error().Err(rbErr).Msg("rollback failed")
			}
		}
	}()

	if _, err = tx.Exec(ctx, s.createTable()); err != nil {
		return 0, fmt.Errorf("create table: %w", err)
	}
	if _, err = tx.Exec(ctx, "TRUNCATE "+pgx.Identifier{s.table}.Sanitize()); err != nil {
		return 0, fmt.Errorf("truncate: %w", err)
	}

	n, err = tx.CopyFrom(ctx, pgx.Identifier{s.table}, Columns, pgx.CopyFromRows(Rows(records)))
	if err != nil {
		return 0, fmt.Errorf("copy: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	s.logger.Info().
		Str("table", s.table).
		Int64("rows", n).
		Dur("duration", time.Since(start)).
		Msg("table replaced")
	return n, nil
}

// Rows converts records into COPY rows in Columns order. Records without a
// time of day get NULL occurred_at and hour.
func Rows(records []transit.MergedRecord) [][]any {
	rows := make([][]any, len(records))
	for i, r := range records {
		date := time.Date(r.At.Year(), r.At.Month(), r.At.Day(), 0, 0, 0, 0, time.UTC)
		var occurred, hour any
		if r.TimeKnown {
			occurred, hour = r.At, int16(r.At.Hour())
		}
		rows[i] = []any{
			occurred, date, hour,
			r.Route, r.Day, r.Location, r.Incident,
			r.MinDelay, r.MinGap, r.Direction, r.Vehicle,
			r.Temperature, r.Precipitation,
		}
	}
	return rows
}
