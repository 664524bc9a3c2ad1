package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps one JSONB row per device.
type PostgresStore struct {
	pool     *pgxpool.Pool
	deviceID string
}

func NewPostgresStore(pool *pgxpool.Pool, deviceID string) *PostgresStore {
	return &PostgresStore{pool: pool, deviceID: deviceID}
}

func (s *PostgresStore) Name() string { return "postgres" }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec.Bounded())
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	const upsertSQL = `
	INSERT INTO meter_state (device_id, record, updated_at)
	VALUES ($1, $2, now())
	ON CONFLICT (device_id) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at
	`
	if _, err := s.pool.Exec(ctx, upsertSQL, s.deviceID, payload); err != nil {
		return err
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (Record, error) {
	const query = `SELECT record FROM meter_state WHERE device_id = $1`

	var payload []byte
	if err := s.pool.QueryRow(ctx, query, s.deviceID).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}
