package store

import (
	"database/sql"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"

	"github.com/harborquant/cta-engine/pkg/errors"
)

// DuckDBStore is a Store backed by a DuckDB file. An empty path opens an
// in-memory database.
type DuckDBStore struct {
	db *sql.DB
	sq squirrel.StatementBuilderType
}

// NewDuckDBStore opens (or creates) the database at path and ensures the
// schema exists.
func NewDuckDBStore(path string) (*DuckDBStore, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreUnavailable, "failed to open database", err)
	}

	s := &DuckDBStore{
		db: db,
		sq: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}

	if err := s.initialize(); err != nil {
		db.Close()

		return nil, err
	}

	return s, nil
}

func (s *DuckDBStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS strategy_data (
			key TEXT PRIMARY KEY,
			value TEXT,
			updated_at TIMESTAMP
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreUnavailable, "failed to create strategy_data table", err)
	}

	return nil
}

// Put implements Store.
func (s *DuckDBStore) Put(key string, value []byte) error {
	query := s.sq.
		Insert("strategy_data").
		Options("OR REPLACE").
		Columns("key", "value", "updated_at").
		Values(key, string(value), time.Now()).
		RunWith(s.db)

	if _, err := query.Exec(); err != nil {
		return errors.Wrapf(errors.ErrCodeStoreWriteFailed, err, "failed to put key %s", key)
	}

	return nil
}

// Get implements Store.
func (s *DuckDBStore) Get(key string) ([]byte, bool, error) {
	query := s.sq.
		Select("value").
		From("strategy_data").
		Where(squirrel.Eq{"key": key}).
		RunWith(s.db)

	var value string
	if err := query.QueryRow().Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}

		return nil, false, errors.Wrapf(errors.ErrCodeStoreReadFailed, err, "failed to get key %s", key)
	}

	return []byte(value), true, nil
}

// Exists implements Store.
func (s *DuckDBStore) Exists(key string) (bool, error) {
	query := s.sq.
		Select("COUNT(*)").
		From("strategy_data").
		Where(squirrel.Eq{"key": key}).
		RunWith(s.db)

	var count int
	if err := query.QueryRow().Scan(&count); err != nil {
		return false, errors.Wrapf(errors.ErrCodeStoreReadFailed, err, "failed to check key %s", key)
	}

	return count > 0, nil
}

// Delete implements Store.
func (s *DuckDBStore) Delete(key string) error {
	query := s.sq.
		Delete("strategy_data").
		Where(squirrel.Eq{"key": key}).
		RunWith(s.db)

	if _, err := query.Exec(); err != nil {
		return errors.Wrapf(errors.ErrCodeStoreWriteFailed, err, "failed to delete key %s", key)
	}

	return nil
}

// Keys implements Store.
func (s *DuckDBStore) Keys(prefix string) ([]string, error) {
	query := s.sq.
		Select("key").
		From("strategy_data").
		Where(squirrel.Like{"key": prefix + "%"}).
		OrderBy("key").
		RunWith(s.db)

	rows, err := query.Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreReadFailed, "failed to list keys", err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errors.Wrap(errors.ErrCodeStoreReadFailed, "failed to scan key", err)
		}
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

// Close implements Store.
func (s *DuckDBStore) Close() error {
	return s.db.Close()
}

var _ Store = (*DuckDBStore)(nil)
