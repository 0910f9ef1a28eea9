package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
)

var (
	// ErrPathRequired is returned when the backing store path is missing.
	ErrPathRequired = errors.New("feederd storage path must be configured")
	// ErrNotFound is returned when no publication exists for a symbol.
	ErrNotFound = errors.New("feederd storage: not found")
)

// Storage persists fetched samples and published observations.
type Storage struct {
	db *sql.DB
}

// Sample is one price fetched from one source.
type Sample struct {
	Symbol     string
	Source     string
	Price      uint64
	Decimals   uint8
	ObservedAt time.Time
	RecordedAt time.Time
}

// Publication is one observation accepted by the node.
type Publication struct {
	Symbol      string
	Price       uint64
	Decimals    uint8
	Sources     []string
	RunID       string
	PublishedAt time.Time
}

// Open initialises the backing store using a sqlite-compatible DSN.
func Open(dsn string) (*Storage, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// sqlite serialises writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close releases database resources.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordSample persists a raw source price.
func (s *Storage) RecordSample(ctx context.Context, sample Sample) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	recorded := sample.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO price_samples(symbol, source, price, decimals, observed_at, recorded_at)
        VALUES(?, ?, ?, ?, ?, ?)
    `, normaliseSymbol(sample.Symbol), strings.ToLower(strings.TrimSpace(sample.Source)),
		strconv.FormatUint(sample.Price, 10), int(sample.Decimals), sample.ObservedAt.UTC().Unix(), recorded.UTC().Unix())
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

// RecordPublication stores an observation the node accepted.
func (s *Storage) RecordPublication(ctx context.Context, pub Publication) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO publications(symbol, price, decimals, sources, run_id, published_at)
        VALUES(?, ?, ?, ?, ?, ?)
    `, normaliseSymbol(pub.Symbol), strconv.FormatUint(pub.Price, 10), int(pub.Decimals),
		strings.Join(pub.Sources, ","), pub.RunID, pub.PublishedAt.UTC().Unix())
	if err != nil {
		return fmt.Errorf("insert publication: %w", err)
	}
	return nil
}

// LastPublication returns the most recent publication for symbol, or
// ErrNotFound when nothing was published yet.
func (s *Storage) LastPublication(ctx context.Context, symbol string) (Publication, error) {
	result := Publication{}
	if s == nil {
		return result, fmt.Errorf("storage not configured")
	}
	row := s.db.QueryRowContext(ctx, `
        SELECT symbol, price, decimals, sources, run_id, published_at
        FROM publications
        WHERE symbol = ?
        ORDER BY id DESC
        LIMIT 1
    `, normaliseSymbol(symbol))
	var (
		price     string
		decimals  int
		sources   string
		published int64
	)
	if err := row.Scan(&result.Symbol, &price, &decimals, &sources, &result.RunID, &published); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return result, ErrNotFound
		}
		return result, fmt.Errorf("query publication: %w", err)
	}
	parsed, err := strconv.ParseUint(price, 10, 64)
	if err != nil {
		return result, fmt.Errorf("decode publication price %q: %w", price, err)
	}
	result.Price = parsed
	result.Decimals = uint8(decimals)
	if sources != "" {
		result.Sources = strings.Split(sources, ",")
	}
	result.PublishedAt = time.Unix(published, 0).UTC()
	return result, nil
}

// SamplesSince returns the samples for symbol recorded at or after since,
// oldest first.
func (s *Storage) SamplesSince(ctx context.Context, symbol string, since time.Time) ([]Sample, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT symbol, source, price, decimals, observed_at, recorded_at
        FROM price_samples
        WHERE symbol = ? AND recorded_at >= ?
        ORDER BY id ASC
    `, normaliseSymbol(symbol), since.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()
	var out []Sample
	for rows.Next() {
		var (
			sample             Sample
			price              string
			decimals           int
			observed, recorded int64
		)
		if err := rows.Scan(&sample.Symbol, &sample.Source, &price, &decimals, &observed, &recorded); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		sample.Price, err = strconv.ParseUint(price, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode sample price %q: %w", price, err)
		}
		sample.Decimals = uint8(decimals)
		sample.ObservedAt = time.Unix(observed, 0).UTC()
		sample.RecordedAt = time.Unix(recorded, 0).UTC()
		out = append(out, sample)
	}
	return out, rows.Err()
}

// PruneSamples deletes samples recorded before cutoff and reports how many
// rows were removed.
func (s *Storage) PruneSamples(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil {
		return 0, fmt.Errorf("storage not configured")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM price_samples WHERE recorded_at < ?`, cutoff.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("prune samples: %w", err)
	}
	return res.RowsAffected()
}

func normaliseSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

const schema = `
CREATE TABLE IF NOT EXISTS price_samples (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    symbol TEXT NOT NULL,
    source TEXT NOT NULL,
    price TEXT NOT NULL,
    decimals INTEGER NOT NULL,
    observed_at INTEGER NOT NULL,
    recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_price_samples_symbol_ts ON price_samples(symbol, recorded_at);

CREATE TABLE IF NOT EXISTS publications (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    symbol TEXT NOT NULL,
    price TEXT NOT NULL,
    decimals INTEGER NOT NULL,
    sources TEXT NOT NULL,
    run_id TEXT NOT NULL,
    published_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_publications_symbol ON publications(symbol, id);
`
