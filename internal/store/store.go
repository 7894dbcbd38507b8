// Package store persists the wallet data model of spec §3. The outer
// transaction framework is documented as providing transactional
// key-value storage and committing once per epoch (spec §5); this
// package stands in for that collaborator with an embedded SQLite
// database so the module is runnable and testable standalone, using
// the same raw-SQL, mutex-guarded SQLite3Store shape the rest of the
// federation's stores use.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// Store is the module's SQLite-backed persistence handle.
type Store struct {
	db    *sql.DB
	mutex sync.Mutex
}

// Open creates or attaches to the SQLite database at path and ensures
// the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single-writer SQLite; matches the teacher's SQLite3Store
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS round_consensus (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	block_height INTEGER NOT NULL,
	fee_rate INTEGER NOT NULL,
	randomness_beacon TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS spendable_utxos (
	txid TEXT NOT NULL,
	tx_index INTEGER NOT NULL,
	tweak TEXT NOT NULL,
	amount_sats INTEGER NOT NULL,
	PRIMARY KEY (txid, tx_index)
);

CREATE TABLE IF NOT EXISTS unsigned_transactions (
	txid TEXT PRIMARY KEY,
	psbt TEXT NOT NULL,
	signatures TEXT NOT NULL,
	change_sats INTEGER NOT NULL,
	fee_rate INTEGER NOT NULL,
	total_weight INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_transactions (
	txid TEXT PRIMARY KEY,
	raw_tx TEXT NOT NULL,
	change_tweak TEXT NOT NULL,
	change_sats INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS block_hashes (
	height INTEGER PRIMARY KEY,
	hash TEXT NOT NULL UNIQUE,
	merkle_root TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS output_status (
	out_txid TEXT NOT NULL,
	out_index INTEGER NOT NULL,
	txid TEXT NOT NULL,
	PRIMARY KEY (out_txid, out_index)
);

CREATE TABLE IF NOT EXISTS pending_signature_items (
	txid TEXT PRIMARY KEY,
	signatures TEXT NOT NULL
);
`

// buildInsertionSQL renders a plain "INSERT INTO table (cols) VALUES
// (?,?,...)" statement, matching the teacher's store helper of the same
// name.
func buildInsertionSQL(table string, cols []string) string {
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ","), strings.Join(placeholders, ","))
}

// execOne runs a statement expected to affect exactly one row.
func execOne(ctx context.Context, tx *sql.Tx, query string, args ...any) error {
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return fmt.Errorf("store: expected to affect 1 row, affected %d", affected)
	}
	return nil
}

// checkExistence reports whether query returns any row.
func checkExistence(ctx context.Context, tx *sql.Tx, query string, args ...any) (bool, error) {
	row := tx.QueryRowContext(ctx, query, args...)
	var discard string
	err := row.Scan(&discard)
	switch {
	case err == sql.ErrNoRows:
		return false, nil
	case err != nil:
		return false, err
	default:
		return true, nil
	}
}
