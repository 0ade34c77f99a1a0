package history

import (
	"database/sql"
	"sort"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"

	"github.com/harborquant/cta-engine/internal/types"
	"github.com/harborquant/cta-engine/pkg/errors"
)

// DuckDBSource reads and records bars in a DuckDB file so warm-up data
// accumulates across restarts. An empty path opens an in-memory database.
type DuckDBSource struct {
	db *sql.DB
	sq squirrel.StatementBuilderType
}

// NewDuckDBSource opens (or creates) the database at path and ensures the
// schema exists.
func NewDuckDBSource(path string) (*DuckDBSource, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreUnavailable, "failed to open bar database", err)
	}

	s := &DuckDBSource{
		db: db,
		sq: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}

	if err := s.initialize(); err != nil {
		db.Close()

		return nil, err
	}

	return s, nil
}

func (s *DuckDBSource) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			instrument TEXT,
			interval TEXT,
			ts TIMESTAMP,
			open DOUBLE,
			high DOUBLE,
			low DOUBLE,
			close DOUBLE,
			volume DOUBLE,
			open_interest DOUBLE,
			PRIMARY KEY (instrument, interval, ts)
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreUnavailable, "failed to create bars table", err)
	}

	return nil
}

// WriteBar records a finished bar, replacing any previous bar at the same
// timestamp.
func (s *DuckDBSource) WriteBar(bar types.Bar) error {
	query := s.sq.
		Insert("bars").
		Options("OR REPLACE").
		Columns("instrument", "interval", "ts", "open", "high", "low", "close", "volume", "open_interest").
		Values(
			bar.Instrument, string(bar.Interval), bar.Time,
			bar.Open, bar.High, bar.Low, bar.Close,
			bar.Volume, bar.OpenInterest,
		).
		RunWith(s.db)

	if _, err := query.Exec(); err != nil {
		return errors.Wrapf(errors.ErrCodeStoreWriteFailed, err, "failed to write bar for %s", bar.Instrument)
	}

	return nil
}

// Bars implements BarSource.
func (s *DuckDBSource) Bars(instrument string, interval types.Interval, count int) ([]types.Bar, error) {
	query := s.sq.
		Select("instrument", "interval", "ts", "open", "high", "low", "close", "volume", "open_interest").
		From("bars").
		Where(squirrel.Eq{"instrument": instrument, "interval": string(interval)}).
		OrderBy("ts DESC").
		RunWith(s.db)

	if count > 0 {
		query = query.Limit(uint64(count))
	}

	rows, err := query.Query()
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeStoreReadFailed, err, "failed to query bars for %s", instrument)
	}
	defer rows.Close()

	bars := make([]types.Bar, 0, count)
	for rows.Next() {
		var bar types.Bar
		var interval string
		if err := rows.Scan(
			&bar.Instrument, &interval, &bar.Time,
			&bar.Open, &bar.High, &bar.Low, &bar.Close,
			&bar.Volume, &bar.OpenInterest,
		); err != nil {
			return nil, errors.Wrap(errors.ErrCodeStoreReadFailed, "failed to scan bar", err)
		}
		bar.Interval = types.Interval(interval)
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreReadFailed, "failed to read bars", err)
	}

	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Time.Before(bars[j].Time)
	})

	return bars, nil
}

// Close releases the underlying database.
func (s *DuckDBSource) Close() error {
	return s.db.Close()
}

var _ BarSource = (*DuckDBSource)(nil)
