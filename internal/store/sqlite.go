package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "ibkr-dashboard/internal/errors"
	"ibkr-dashboard/internal/models"
)

// SQLiteBackend stores watchlists in an embedded SQLite database. Save
// rewrites both tables inside one transaction.
type SQLiteBackend struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteBackend opens (or creates) the database at dbPath.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	if dbPath == "" {
		return nil, apperrors.NewPersistenceError("open", fmt.Errorf("path is required"))
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, apperrors.NewPersistenceError("open", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, apperrors.NewPersistenceError("open", fmt.Errorf("failed to open database: %w", err))
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	b := &SQLiteBackend{db: db}
	if err := b.initSchema(); err != nil {
		db.Close()
		return nil, apperrors.NewPersistenceError("open", fmt.Errorf("failed to initialize schema: %w", err))
	}

	return b, nil
}

func (b *SQLiteBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS watchlists (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		position INTEGER NOT NULL,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS watchlist_instruments (
		watchlist_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		conid TEXT NOT NULL,
		company_name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		price REAL,
		price_change REAL,
		price_change_pct REAL,
		volume REAL,
		last_update TEXT,
		PRIMARY KEY (watchlist_id, position),
		FOREIGN KEY (watchlist_id) REFERENCES watchlists(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_watchlists_position ON watchlists(position);
	CREATE INDEX IF NOT EXISTS idx_watchlist_instruments_conid ON watchlist_instruments(conid);
	`

	_, err := b.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// Load reads every watchlist and its instruments in stored order.
func (b *SQLiteBackend) Load(ctx context.Context) (*models.Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rows, err := b.db.QueryContext(ctx, `SELECT id, name FROM watchlists ORDER BY position ASC`)
	if err != nil {
		return nil, apperrors.NewPersistenceError("load", fmt.Errorf("failed to query watchlists: %w", err))
	}

	doc := &models.Document{}
	index := make(map[int64]int)
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			rows.Close()
			return nil, apperrors.NewPersistenceError("load", fmt.Errorf("failed to scan watchlist: %w", err))
		}
		index[id] = len(doc.Watchlists)
		doc.Watchlists = append(doc.Watchlists, models.Watchlist{Name: name, Instruments: []models.Instrument{}})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, apperrors.NewPersistenceError("load", err)
	}
	rows.Close()

	if err := b.loadInstruments(ctx, doc, index); err != nil {
		return nil, apperrors.NewPersistenceError("load", err)
	}
	return normalize(doc), nil
}

func (b *SQLiteBackend) loadInstruments(ctx context.Context, doc *models.Document, index map[int64]int) error {
	rows, err := b.db.QueryContext(ctx, `
		SELECT watchlist_id, symbol, conid, company_name, description,
			price, price_change, price_change_pct, volume, last_update
		FROM watchlist_instruments
		ORDER BY watchlist_id ASC, position ASC
	`)
	if err != nil {
		return fmt.Errorf("failed to query instruments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			watchlistID                      int64
			inst                             models.Instrument
			conid                            string
			price, change, changePct, volume sql.NullFloat64
			lastUpdate                       sql.NullString
		)
		if err := rows.Scan(&watchlistID, &inst.Symbol, &conid, &inst.CompanyName, &inst.Description,
			&price, &change, &changePct, &volume, &lastUpdate); err != nil {
			return fmt.Errorf("failed to scan instrument: %w", err)
		}

		inst.Conid = models.Conid(conid)
		inst.Price = nullFloat(price)
		inst.PriceChange = nullFloat(change)
		inst.PriceChangePct = nullFloat(changePct)
		inst.Volume = nullFloat(volume)
		if lastUpdate.Valid && lastUpdate.String != "" {
			ts, err := time.Parse(time.RFC3339Nano, lastUpdate.String)
			if err != nil {
				return fmt.Errorf("failed to parse last_update %q: %w", lastUpdate.String, err)
			}
			inst.LastUpdate = &ts
		}

		i, ok := index[watchlistID]
		if !ok {
			continue
		}
		doc.Watchlists[i].Instruments = append(doc.Watchlists[i].Instruments, inst)
	}
	return rows.Err()
}

// Save replaces the stored watchlists with doc.
func (b *SQLiteBackend) Save(ctx context.Context, doc *models.Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewPersistenceError("save", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM watchlist_instruments`); err != nil {
		return apperrors.NewPersistenceError("save", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM watchlists`); err != nil {
		return apperrors.NewPersistenceError("save", err)
	}

	listStmt, err := tx.PrepareContext(ctx, `INSERT INTO watchlists (position, name) VALUES (?, ?)`)
	if err != nil {
		return apperrors.NewPersistenceError("save", fmt.Errorf("failed to prepare statement: %w", err))
	}
	defer listStmt.Close()

	instStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO watchlist_instruments (
			watchlist_id, position, symbol, conid, company_name, description,
			price, price_change, price_change_pct, volume, last_update
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return apperrors.NewPersistenceError("save", fmt.Errorf("failed to prepare statement: %w", err))
	}
	defer instStmt.Close()

	for pos, w := range doc.Watchlists {
		res, err := listStmt.ExecContext(ctx, pos, w.Name)
		if err != nil {
			return apperrors.NewPersistenceError("save", fmt.Errorf("failed to insert watchlist %q: %w", w.Name, err))
		}
		id, err := res.LastInsertId()
		if err != nil {
			return apperrors.NewPersistenceError("save", err)
		}

		for ipos, inst := range w.Instruments {
			var lastUpdate any
			if inst.LastUpdate != nil {
				lastUpdate = inst.LastUpdate.UTC().Format(time.RFC3339Nano)
			}
			_, err := instStmt.ExecContext(ctx, id, ipos, inst.Symbol, inst.Conid.String(),
				inst.CompanyName, inst.Description,
				floatArg(inst.Price), floatArg(inst.PriceChange), floatArg(inst.PriceChangePct), floatArg(inst.Volume),
				lastUpdate)
			if err != nil {
				return apperrors.NewPersistenceError("save", fmt.Errorf("failed to insert instrument %s: %w", inst.Symbol, err))
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewPersistenceError("save", fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return models.Float(v.Float64)
}

func floatArg(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
