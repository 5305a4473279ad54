package main

import (
	"database/sql"
	"store_bridge/store"
	"strings"
	"time"

	"github.com/ansel1/merry"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

var ErrSessionAlreadyJournaled = merry.New("session already journaled")

const (
	OutcomePending  = "pending"
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeCanceled = "canceled"
)

type CachedProduct struct {
	ID          int64           `json:"id"`
	ProductID   store.ProductID `json:"productId"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Price       float64         `json:"price"`
	Currency    string          `json:"currency"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

type JournalEntry struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	ProductIDs  string     `json:"productIds"`
	Outcome     string     `json:"outcome"`
	Error       string     `json:"error"`
	Unresolved  int64      `json:"unresolved"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt"`
}

var migrations = []func(*sql.Tx) error{
	func(tx *sql.Tx) error {
		_, err := tx.Exec(`
		CREATE TABLE migrations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			version INTEGER NOT NULL,
			migrated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`)
		return merry.Wrap(err)
	},
	func(tx *sql.Tx) error {
		_, err := tx.Exec(`
		CREATE TABLE products (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			product_id TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			price FLOAT NOT NULL DEFAULT 0,
			currency TEXT NOT NULL DEFAULT '',
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`)
		return merry.Wrap(err)
	},
	func(tx *sql.Tx) error {
		_, err := tx.Exec(`
		CREATE TABLE sessions (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			product_ids TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL DEFAULT 'pending',
			error TEXT NOT NULL DEFAULT '',
			unresolved INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME
		)`)
		if err != nil {
			return merry.Wrap(err)
		}
		_, err = tx.Exec(`CREATE INDEX sessions_started_at ON sessions (started_at)`)
		return merry.Wrap(err)
	},
}

func createTables(db *sql.DB) error {
	lastVersion := -1
	err := db.QueryRow(`SELECT version FROM migrations ORDER BY migrated_at DESC, id DESC LIMIT 1`).Scan(&lastVersion)
	if err != nil && err != sql.ErrNoRows && !strings.HasPrefix(err.Error(), "no such table") {
		return merry.Wrap(err)
	}
	for version := lastVersion + 1; version < len(migrations); version += 1 {
		tx, err := db.Begin()
		if err != nil {
			return merry.Wrap(err)
		}
		if err := migrations[version](tx); err != nil {
			tx.Rollback()
			return merry.Wrap(err)
		}
		if _, err := tx.Exec(`INSERT INTO migrations (version) VALUES (?)`, version); err != nil {
			tx.Rollback()
			return merry.Wrap(err)
		}
		if err := tx.Commit(); err != nil {
			tx.Rollback()
			return merry.Wrap(err)
		}
		log.Info().Int("version", version).Msg("migrated DB")
	}
	return nil
}

func setupDB(dbFPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbFPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, merry.Wrap(err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, merry.Wrap(err)
	}
	return db, nil
}

func saveProducts(db *sql.DB, products []store.Product) error {
	if len(products) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return merry.Wrap(err)
	}
	for _, p := range products {
		_, err := tx.Exec(`
			INSERT INTO products (product_id, title, description, price, currency)
			VALUES (?,?,?,?,?)
			ON CONFLICT (product_id) DO UPDATE
			SET title = excluded.title, description = excluded.description,
			    price = excluded.price, currency = excluded.currency,
			    updated_at = CURRENT_TIMESTAMP`,
			p.ID, p.Title, p.Description, p.Price, p.Currency)
		if err != nil {
			tx.Rollback()
			return merry.Wrap(err)
		}
	}
	return merry.Wrap(tx.Commit())
}

func loadCachedProducts(db *sql.DB, beforeID int64, limit int64) ([]*CachedProduct, error) {
	args := []interface{}{}
	query := `SELECT id, product_id, title, description, price, currency, updated_at FROM products`
	if beforeID > 0 {
		query += ` WHERE id < ?`
		args = append(args, beforeID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, merry.Wrap(err)
	}
	defer rows.Close()

	var products []*CachedProduct
	for rows.Next() {
		p := &CachedProduct{}
		err := rows.Scan(&p.ID, &p.ProductID, &p.Title, &p.Description, &p.Price, &p.Currency, &p.UpdatedAt)
		if err != nil {
			return nil, merry.Wrap(err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, merry.Wrap(err)
	}
	return products, nil
}

func journalSessionStart(db *sql.DB, sess *store.Session) error {
	ids := make([]string, len(sess.ProductIDs()))
	for i, id := range sess.ProductIDs() {
		ids[i] = string(id)
	}
	_, err := db.Exec(`INSERT INTO sessions (id, kind, product_ids) VALUES (?,?,?)`,
		sess.ID(), sess.Kind().String(), strings.Join(ids, ","))
	if sqlite3Error, ok := err.(sqlite3.Error); ok {
		if sqlite3Error.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || sqlite3Error.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrSessionAlreadyJournaled.Here()
		}
	}
	return merry.Wrap(err)
}

// journalSessionEnd records the outcome. A session marked canceled may still be
// completed by a late event, a completed one is never overwritten.
func journalSessionEnd(db *sql.DB, sessID, outcome, errText string, unresolved int) error {
	_, err := db.Exec(`
		UPDATE sessions
		SET outcome = ?, error = ?, unresolved = ?, completed_at = CURRENT_TIMESTAMP
		WHERE id = ? AND outcome IN (?, ?)`,
		outcome, errText, unresolved,
		sessID, OutcomePending, OutcomeCanceled)
	return merry.Wrap(err)
}

func loadJournal(db *sql.DB, limit int64) ([]*JournalEntry, error) {
	rows, err := db.Query(`
		SELECT id, kind, product_ids, outcome, error, unresolved, started_at, completed_at
		FROM sessions ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, merry.Wrap(err)
	}
	defer rows.Close()

	var entries []*JournalEntry
	for rows.Next() {
		e := &JournalEntry{}
		var completedAt sql.NullTime
		err := rows.Scan(&e.ID, &e.Kind, &e.ProductIDs, &e.Outcome, &e.Error, &e.Unresolved, &e.StartedAt, &completedAt)
		if err != nil {
			return nil, merry.Wrap(err)
		}
		if completedAt.Valid {
			e.CompletedAt = &completedAt.Time
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, merry.Wrap(err)
	}
	return entries, nil
}
