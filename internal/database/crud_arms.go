// Banditd - Online Bandit Experimentation Platform
// Copyright 2026 Bandit Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/banditlabs/banditd

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/banditlabs/banditd/internal/models"
)

// UpsertArm registers an arm in the catalog, updating title and metadata
// if it already exists. CreatedAt is preserved on update.
func (db *DB) UpsertArm(ctx context.Context, arm *models.Arm) error {
	if arm.CreatedAt.IsZero() {
		arm.CreatedAt = time.Now().UTC()
	}
	meta, err := marshalJSONColumn(arm.Metadata)
	if err != nil {
		return fmt.Errorf("encoding arm metadata: %w", err)
	}
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO arm_catalog (arm_id, title, metadata, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (arm_id) DO UPDATE SET title = excluded.title, metadata = excluded.metadata`,
		arm.ArmID, arm.Title, meta, arm.CreatedAt)
	if err != nil {
		return fmt.Errorf("upserting arm %s: %w", arm.ArmID, err)
	}
	return nil
}

// GetArm fetches one catalog entry.
func (db *DB) GetArm(ctx context.Context, armID string) (*models.Arm, error) {
	var arm models.Arm
	var meta sql.NullString
	err := db.conn.QueryRowContext(ctx, `
		SELECT arm_id, title, metadata::VARCHAR, created_at FROM arm_catalog WHERE arm_id = ?`, armID).
		Scan(&arm.ArmID, &arm.Title, &meta, &arm.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("arm %s: %w", armID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching arm %s: %w", armID, err)
	}
	if err := unmarshalJSONColumn(meta, &arm.Metadata); err != nil {
		return nil, fmt.Errorf("decoding arm metadata: %w", err)
	}
	return &arm, nil
}

// ListArms returns the full catalog ordered by arm id.
func (db *DB) ListArms(ctx context.Context) ([]*models.Arm, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT arm_id, title, metadata::VARCHAR, created_at FROM arm_catalog ORDER BY arm_id`)
	if err != nil {
		return nil, fmt.Errorf("listing arms: %w", err)
	}
	defer closeRows(rows)

	var out []*models.Arm
	for rows.Next() {
		var arm models.Arm
		var meta sql.NullString
		if err := rows.Scan(&arm.ArmID, &arm.Title, &meta, &arm.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning arm: %w", err)
		}
		if err := unmarshalJSONColumn(meta, &arm.Metadata); err != nil {
			return nil, fmt.Errorf("decoding arm metadata: %w", err)
		}
		out = append(out, &arm)
	}
	return out, rows.Err()
}

// marshalJSONColumn encodes a value for a JSON column, mapping nil to SQL NULL.
func marshalJSONColumn(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// unmarshalJSONColumn decodes a nullable JSON column into out.
func unmarshalJSONColumn(col sql.NullString, out interface{}) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), out)
}
