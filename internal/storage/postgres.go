// Package storage provides the durable event archive written by the
// persistence handler.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/lodeworks/speedlayer/internal/event"
	"github.com/lodeworks/speedlayer/internal/jsoncodec"
)

// PostgresConfig holds the archive's connection settings.
type PostgresConfig struct {
	// ConnectionString is the PostgreSQL connection string.
	ConnectionString string
	// SchemaName is the schema to use for tables. Defaults to "speedlayer".
	SchemaName string
	// MaxOpenConns sets the maximum number of open connections.
	MaxOpenConns int
	// MaxIdleConns sets the maximum number of idle connections.
	MaxIdleConns int
}

func (c PostgresConfig) withDefaults() PostgresConfig {
	if c.SchemaName == "" {
		c.SchemaName = "speedlayer"
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 5
	}
	return c
}

// PostgresEventStore archives events as wire-format JSON rows. Inserts are
// idempotent on event id, matching the pipeline's at-least-once delivery.
type PostgresEventStore struct {
	db     *sql.DB
	config PostgresConfig
	ownsDB bool
}

// NewPostgresEventStore opens a connection pool, verifies it, and creates
// the archive table if needed.
func NewPostgresEventStore(cfg PostgresConfig) (*PostgresEventStore, error) {
	if cfg.ConnectionString == "" {
		return nil, fmt.Errorf("PostgreSQL connection string is required")
	}

	cfg = cfg.withDefaults()

	db, err := sql.Open("postgres", cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	s := &PostgresEventStore{db: db, config: cfg, ownsDB: true}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// NewPostgresEventStoreWithDB wraps an existing pool. The schema is assumed
// to exist; the caller owns the pool's lifecycle.
func NewPostgresEventStoreWithDB(db *sql.DB, cfg PostgresConfig) *PostgresEventStore {
	return &PostgresEventStore{db: db, config: cfg.withDefaults()}
}

func (s *PostgresEventStore) initSchema() error {
	// #nosec G201 - schema name comes from config, not user input
	_, err := s.db.Exec(fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, s.config.SchemaName))
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	// #nosec G201 - schema name comes from config, not user input
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s.events (
		event_id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		source TEXT NOT NULL,
		priority TEXT NOT NULL,
		payload JSONB NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL,
		archived_at TIMESTAMPTZ DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_events_type ON %[1]s.events(event_type);
	CREATE INDEX IF NOT EXISTS idx_events_occurred_at ON %[1]s.events(occurred_at);
	`, s.config.SchemaName)

	_, err = s.db.Exec(schema)
	return err
}

// Store archives one event. Replaying the same event id is a no-op.
func (s *PostgresEventStore) Store(ctx context.Context, evt event.Event) error {
	payload, err := jsoncodec.Marshal(evt.ToDict())
	if err != nil {
		return fmt.Errorf("encode event %s: %w", evt.Meta().EventID, err)
	}

	meta := evt.Meta()
	// #nosec G201 - schema name comes from config, not user input
	query := fmt.Sprintf(`
		INSERT INTO %s.events (event_id, event_type, source, priority, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING
	`, s.config.SchemaName)

	_, err = s.db.ExecContext(ctx, query,
		meta.EventID,
		string(evt.Type()),
		string(meta.Source),
		evt.EventPriority().String(),
		payload,
		meta.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("archive event %s: %w", meta.EventID, err)
	}
	return nil
}

// Close releases the connection pool when the store owns it.
func (s *PostgresEventStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}
