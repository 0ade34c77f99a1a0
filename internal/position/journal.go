package position

import (
	"database/sql"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"

	"github.com/harborquant/cta-engine/internal/types"
	"github.com/harborquant/cta-engine/pkg/errors"
)

// TradeJournal records every accepted fill for audit and recovery.
type TradeJournal interface {
	Record(trade types.Trade) error
}

// NopJournal discards trades. Used where the journal is not configured.
type NopJournal struct{}

// Record implements TradeJournal.
func (NopJournal) Record(types.Trade) error { return nil }

// DuckDBJournal appends trades to a DuckDB table. An empty path opens an
// in-memory database.
type DuckDBJournal struct {
	db *sql.DB
	sq squirrel.StatementBuilderType
}

// NewDuckDBJournal opens (or creates) the journal database at path.
func NewDuckDBJournal(path string) (*DuckDBJournal, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreUnavailable, "failed to open journal database", err)
	}

	j := &DuckDBJournal{
		db: db,
		sq: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS trades (
			trade_id TEXT PRIMARY KEY,
			order_id TEXT,
			account_id TEXT,
			strategy_id TEXT,
			instrument TEXT,
			direction TEXT,
			side TEXT,
			price DOUBLE,
			volume BIGINT,
			executed_at TIMESTAMP
		)
	`)
	if err != nil {
		db.Close()

		return nil, errors.Wrap(errors.ErrCodeStoreUnavailable, "failed to create trades table", err)
	}

	return j, nil
}

// Record implements TradeJournal.
func (j *DuckDBJournal) Record(trade types.Trade) error {
	query := j.sq.
		Insert("trades").
		Options("OR REPLACE").
		Columns(
			"trade_id", "order_id", "account_id", "strategy_id", "instrument",
			"direction", "side", "price", "volume", "executed_at",
		).
		Values(
			trade.TradeID, trade.OrderID, trade.AccountID, trade.StrategyID, trade.Instrument,
			string(trade.Direction), string(trade.Offset), trade.Price, trade.Volume, trade.ExecutedAt,
		).
		RunWith(j.db)

	if _, err := query.Exec(); err != nil {
		return errors.Wrapf(errors.ErrCodeJournalWriteFailed, err, "failed to journal trade %s", trade.TradeID)
	}

	return nil
}

// Trades returns the journaled fills for the strategy, oldest first.
func (j *DuckDBJournal) Trades(strategyID string) ([]types.Trade, error) {
	query := j.sq.
		Select("trade_id", "order_id", "account_id", "strategy_id", "instrument",
			"direction", "side", "price", "volume", "executed_at").
		From("trades").
		Where(squirrel.Eq{"strategy_id": strategyID}).
		OrderBy("executed_at").
		RunWith(j.db)

	rows, err := query.Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreReadFailed, "failed to query trades", err)
	}
	defer rows.Close()

	trades := make([]types.Trade, 0)
	for rows.Next() {
		var trade types.Trade
		var direction, side string
		if err := rows.Scan(
			&trade.TradeID, &trade.OrderID, &trade.AccountID, &trade.StrategyID, &trade.Instrument,
			&direction, &side, &trade.Price, &trade.Volume, &trade.ExecutedAt,
		); err != nil {
			return nil, errors.Wrap(errors.ErrCodeStoreReadFailed, "failed to scan trade", err)
		}
		trade.Direction = types.Direction(direction)
		trade.Offset = types.Offset(side)
		trades = append(trades, trade)
	}

	return trades, rows.Err()
}

// Close releases the underlying database.
func (j *DuckDBJournal) Close() error {
	return j.db.Close()
}

var (
	_ TradeJournal = (*DuckDBJournal)(nil)
	_ TradeJournal = NopJournal{}
)
