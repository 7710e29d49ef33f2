// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

// Package database wraps the embedded DuckDB store that holds all
// authoritative state: experiments, sticky assignments, the arm catalog,
// policy learning state, the recommendation event log and the decision
// audit log.
//
// DuckDB is an embedded analytical engine, so the same file serves both
// the request path (single-row reads and upserts) and the analytics
// surface (window scans and aggregations) without a second system.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/banditlabs/banditd/internal/config"
	"github.com/banditlabs/banditd/internal/logging"
)

// DB wraps the DuckDB connection and provides data access methods.
type DB struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig

	// stateLocks serializes writers per (policy, arm, context_key) row so
	// concurrent read-modify-write cycles on policy state never interleave.
	stateLocks sync.Map
}

// New opens (or creates) the database at cfg.Path and initializes the
// schema. Use ":memory:" for an ephemeral database in tests.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	if cfg.Path != ":memory:" {
		dir := filepath.Dir(cfg.Path)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
			}
		}
	}

	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "2GB"
	}

	// Auto-install/auto-load stay off so startup never reaches for the
	// network in restricted environments.
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, threads, maxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db := &DB{conn: conn, cfg: cfg}

	// DuckDB is embedded; a single writer connection avoids write-write
	// conflicts while still allowing concurrent reads through it.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := db.initialize(); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("initializing database: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Int("threads", threads).
		Str("max_memory", maxMemory).
		Msg("Database opened")

	return db, nil
}

// Conn exposes the raw connection for the analytics layer.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Ping verifies the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	if db.conn == nil {
		return fmt.Errorf("database connection is nil")
	}
	return db.conn.PingContext(ctx)
}

// Close checkpoints and closes the database.
func (db *DB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.Checkpoint(ctx); err != nil {
		logging.Warn().Err(err).Msg("Checkpoint before close failed")
	}
	return db.conn.Close()
}

// Checkpoint flushes the WAL into the database file.
func (db *DB) Checkpoint(ctx context.Context) error {
	_, err := db.conn.ExecContext(ctx, "CHECKPOINT")
	return err
}

func (db *DB) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.createSchema(ctx); err != nil {
		return err
	}

	// Flush the WAL so a crash right after schema creation replays cleanly.
	if err := db.Checkpoint(ctx); err != nil {
		logging.Warn().Err(err).Msg("Checkpoint after schema initialization failed")
	}
	return nil
}

// stateLock returns the mutex serializing writes for one policy-state row.
func (db *DB) stateLock(policy, armID, contextKey string) *sync.Mutex {
	key := policy + "\x00" + armID + "\x00" + contextKey
	mu, _ := db.stateLocks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func closeQuietly(c *sql.DB) {
	if err := c.Close(); err != nil {
		logging.Debug().Err(err).Msg("Error closing database connection")
	}
}
