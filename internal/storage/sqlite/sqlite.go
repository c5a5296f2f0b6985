// Package sqlite is the durable Store implementation, backed by an
// embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"mangadrop/internal/storage"
)

type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path, verifies the connection
// and applies the schema. The caller owns Close.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc's driver serializes writes itself, but a single connection
	// avoids SQLITE_BUSY under concurrent claim traffic.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS claims (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			item_id INTEGER NOT NULL,
			claimed_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_claims_user ON claims (user_id, claimed_at)`,
		`CREATE TABLE IF NOT EXISTS accounts (
			user_id TEXT PRIMARY KEY,
			balance REAL NOT NULL DEFAULT 0,
			total_earned REAL NOT NULL DEFAULT 0,
			last_daily TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			amount REAL NOT NULL,
			description TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) RecordClaim(ctx context.Context, userID string, itemID int, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO claims (user_id, item_id, claimed_at) VALUES (?, ?, ?)`,
		userID, itemID, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record claim: %w", err)
	}
	return nil
}

func (s *Store) ClaimsForUser(ctx context.Context, userID string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id
		FROM claims
		WHERE user_id = ?
		GROUP BY item_id
		ORDER BY MAX(claimed_at) DESC, item_id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query claims: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claims: %w", err)
	}
	return ids, nil
}

func (s *Store) RankingByUniqueClaims(ctx context.Context, limit int) ([]storage.RankingEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, COUNT(DISTINCT item_id) AS total
		FROM claims
		GROUP BY user_id
		ORDER BY total DESC, user_id ASC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query ranking: %w", err)
	}
	defer rows.Close()

	var entries []storage.RankingEntry
	for rows.Next() {
		var entry storage.RankingEntry
		if err := rows.Scan(&entry.UserID, &entry.Count); err != nil {
			return nil, fmt.Errorf("scan ranking: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ranking: %w", err)
	}
	return entries, nil
}

func (s *Store) Balance(ctx context.Context, userID string) (storage.BalanceSnapshot, error) {
	var snapshot storage.BalanceSnapshot
	var lastDaily sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT balance, total_earned, last_daily FROM accounts WHERE user_id = ?`,
		userID,
	).Scan(&snapshot.Balance, &snapshot.TotalEarned, &lastDaily)
	if err == sql.ErrNoRows {
		return storage.BalanceSnapshot{}, nil
	}
	if err != nil {
		return storage.BalanceSnapshot{}, fmt.Errorf("query balance: %w", err)
	}
	if lastDaily.Valid {
		snapshot.LastDaily = lastDaily.Time.UTC()
	}
	return snapshot, nil
}

func (s *Store) Credit(ctx context.Context, userID string, amount float64, kind, description string, at time.Time) (float64, error) {
	return s.credit(ctx, userID, amount, kind, description, at, false)
}

func (s *Store) RecordDaily(ctx context.Context, userID string, amount float64, at time.Time) (float64, error) {
	return s.credit(ctx, userID, amount, "daily", "daily reward", at, true)
}

func (s *Store) credit(ctx context.Context, userID string, amount float64, kind, description string, at time.Time, stampDaily bool) (float64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin credit: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO accounts (user_id) VALUES (?) ON CONFLICT (user_id) DO NOTHING`,
		userID,
	); err != nil {
		return 0, fmt.Errorf("ensure account: %w", err)
	}

	update := `UPDATE accounts SET balance = balance + ?, total_earned = total_earned + ? WHERE user_id = ?`
	args := []any{amount, amount, userID}
	if stampDaily {
		update = `UPDATE accounts SET balance = balance + ?, total_earned = total_earned + ?, last_daily = ? WHERE user_id = ?`
		args = []any{amount, amount, at.UTC(), userID}
	}
	if _, err := tx.ExecContext(ctx, update, args...); err != nil {
		return 0, fmt.Errorf("update balance: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (user_id, kind, amount, description, created_at) VALUES (?, ?, ?, ?, ?)`,
		userID, kind, amount, description, at.UTC(),
	); err != nil {
		return 0, fmt.Errorf("log transaction: %w", err)
	}

	var balance float64
	if err := tx.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE user_id = ?`, userID,
	).Scan(&balance); err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit credit: %w", err)
	}
	return balance, nil
}

func (s *Store) RankingByBalance(ctx context.Context, limit int) ([]storage.BalanceEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, balance, total_earned
		FROM accounts
		WHERE balance > 0
		ORDER BY balance DESC, user_id ASC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query balance ranking: %w", err)
	}
	defer rows.Close()

	var entries []storage.BalanceEntry
	for rows.Next() {
		var entry storage.BalanceEntry
		if err := rows.Scan(&entry.UserID, &entry.Balance, &entry.TotalEarned); err != nil {
			return nil, fmt.Errorf("scan balance ranking: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate balance ranking: %w", err)
	}
	return entries, nil
}
