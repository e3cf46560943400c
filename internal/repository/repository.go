package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/septivank/linky-feed-ingester/internal/db"
)

// StorageError reports a failed store operation
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// Page is one page of samples, newest first, with the total row count
type Page struct {
	Samples    []db.ConsumptionSample `json:"data"`
	TotalCount int64                  `json:"total"`
}

// Repository handles database operations
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Close releases the underlying pool
func (r *Repository) Close() {
	r.pool.Close()
}

const sampleColumns = `timestamp, original_timestamp, day, papp, iinst, ptec, hchc, hchp`

const upsertSampleQuery = `
	INSERT INTO consumption_data (` + sampleColumns + `, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	ON CONFLICT (timestamp) DO UPDATE SET
		original_timestamp = EXCLUDED.original_timestamp,
		day = EXCLUDED.day,
		papp = EXCLUDED.papp,
		iinst = EXCLUDED.iinst,
		ptec = EXCLUDED.ptec,
		hchc = EXCLUDED.hchc,
		hchp = EXCLUDED.hchp,
		updated_at = NOW()
`

func sampleArgs(sample db.ConsumptionSample) []any {
	return []any{
		sample.Timestamp,
		sample.OriginalTimestamp,
		sample.Day,
		sample.Papp,
		sample.Iinst,
		sample.Ptec,
		sample.Hchc,
		sample.Hchp,
	}
}

// Upsert inserts a sample or overwrites every non-key field of the existing one.
// Concurrent writers to the same timestamp resolve last-writer-wins.
func (r *Repository) Upsert(ctx context.Context, sample db.ConsumptionSample) error {
	if _, err := r.pool.Exec(ctx, upsertSampleQuery, sampleArgs(sample)...); err != nil {
		return storageErr("upsert", fmt.Errorf("failed to upsert sample %s: %w", sample.Timestamp, err))
	}
	return nil
}

// ReplaceSamples swaps every stored sample for samples in one transaction.
// Settings are left untouched.
func (r *Repository) ReplaceSamples(ctx context.Context, samples []db.ConsumptionSample) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return storageErr("replace", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM consumption_data`); err != nil {
		return storageErr("replace", err)
	}
	for _, sample := range samples {
		if _, err := tx.Exec(ctx, upsertSampleQuery, sampleArgs(sample)...); err != nil {
			return storageErr("replace", fmt.Errorf("failed to insert sample %s: %w", sample.Timestamp, err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return storageErr("replace", fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// ReadRange returns samples whose day is within [startDay, endDay], oldest first
func (r *Repository) ReadRange(ctx context.Context, startDay, endDay string) ([]db.ConsumptionSample, error) {
	query := `
		SELECT ` + sampleColumns + `
		FROM consumption_data
		WHERE day BETWEEN $1 AND $2
		ORDER BY timestamp ASC
	`
	return r.querySamples(ctx, "read range", query, startDay, endDay)
}

// ReadByDay returns the samples of one calendar day, oldest first
func (r *Repository) ReadByDay(ctx context.Context, day string) ([]db.ConsumptionSample, error) {
	query := `
		SELECT ` + sampleColumns + `
		FROM consumption_data
		WHERE day = $1
		ORDER BY timestamp ASC
	`
	return r.querySamples(ctx, "read day", query, day)
}

// ReadAll returns every stored sample, oldest first
func (r *Repository) ReadAll(ctx context.Context) ([]db.ConsumptionSample, error) {
	query := `SELECT ` + sampleColumns + ` FROM consumption_data ORDER BY timestamp ASC`
	return r.querySamples(ctx, "read all", query)
}

// ReadPage returns limit samples starting at offset, newest first
func (r *Repository) ReadPage(ctx context.Context, offset, limit int) (Page, error) {
	query := `
		SELECT ` + sampleColumns + `
		FROM consumption_data
		ORDER BY timestamp DESC
		LIMIT $1 OFFSET $2
	`
	samples, err := r.querySamples(ctx, "read page", query, limit, offset)
	if err != nil {
		return Page{}, err
	}

	total, err := r.Count(ctx)
	if err != nil {
		return Page{}, err
	}

	return Page{Samples: samples, TotalCount: total}, nil
}

// Count returns the number of stored samples
func (r *Repository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM consumption_data`).Scan(&count); err != nil {
		return 0, storageErr("count", err)
	}
	return count, nil
}

// ReadSetting returns the JSON value stored under key, or false when absent
func (r *Repository) ReadSetting(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var value []byte
	err := r.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storageErr("read setting", fmt.Errorf("failed to query setting %q: %w", key, err))
	}
	return json.RawMessage(value), true, nil
}

// WriteSetting stores value JSON-encoded under key
func (r *Repository) WriteSetting(ctx context.Context, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode setting %q: %w", key, err)
	}

	query := `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	if _, err := r.pool.Exec(ctx, query, key, encoded); err != nil {
		return storageErr("write setting", fmt.Errorf("failed to save setting %q: %w", key, err))
	}
	return nil
}

// Reset deletes every sample and setting in one transaction
func (r *Repository) Reset(ctx context.Context) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return storageErr("reset", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	for _, stmt := range []string{`DELETE FROM consumption_data`, `DELETE FROM settings`} {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return storageErr("reset", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return storageErr("reset", fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

func (r *Repository) querySamples(ctx context.Context, op, query string, args ...any) ([]db.ConsumptionSample, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, fmt.Errorf("failed to query samples: %w", err))
	}
	defer rows.Close()

	samples := []db.ConsumptionSample{}
	for rows.Next() {
		var s db.ConsumptionSample
		if err := rows.Scan(
			&s.Timestamp,
			&s.OriginalTimestamp,
			&s.Day,
			&s.Papp,
			&s.Iinst,
			&s.Ptec,
			&s.Hchc,
			&s.Hchp,
		); err != nil {
			return nil, storageErr(op, fmt.Errorf("failed to scan sample: %w", err))
		}
		samples = append(samples, s)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr(op, fmt.Errorf("rows iteration error: %w", err))
	}

	return samples, nil
}
