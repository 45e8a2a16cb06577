// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

// Package postgres is a PostgreSQL-backed audit.Store, for SP deployments
// that need the log to survive process restarts and be queryable outside
// the SP process.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sgx-ra/sgxra/sp/audit"
)

// Store implements audit.Store against a PostgreSQL table:
//
//	CREATE TABLE attestation_audit_records (
//	    id                       TEXT PRIMARY KEY,
//	    gid                      BYTEA NOT NULL,
//	    quote_status             TEXT NOT NULL,
//	    pse_manifest_status      TEXT NOT NULL DEFAULT '',
//	    is_enclave_trusted       BOOLEAN NOT NULL,
//	    is_pse_manifest_trusted  BOOLEAN NOT NULL,
//	    epid_pseudonym           TEXT NOT NULL DEFAULT '',
//	    created_at               TIMESTAMPTZ NOT NULL,
//	    signature                BYTEA -- NULL for an unsigned record
//	);
type Store struct {
	pool *pgxpool.Pool
}

// NewStore opens a connection pool against dsn (a libpq connection
// string or URL) and verifies it with a ping.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Put(ctx context.Context, r *audit.Record) error {
	const query = `
		INSERT INTO attestation_audit_records
			(id, gid, quote_status, pse_manifest_status, is_enclave_trusted, is_pse_manifest_trusted, epid_pseudonym, created_at, signature)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.pool.Exec(ctx, query,
		r.ID, r.Gid[:], r.QuoteStatus, r.PseManifestStatus,
		r.IsEnclaveTrusted, r.IsPseManifestTrusted, r.EpidPseudonym, r.CreatedAt, r.Signature,
	)
	if err != nil {
		return fmt.Errorf("audit: insert record: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*audit.Record, error) {
	const query = `
		SELECT id, gid, quote_status, pse_manifest_status, is_enclave_trusted, is_pse_manifest_trusted, epid_pseudonym, created_at, signature
		FROM attestation_audit_records
		WHERE id = $1
	`
	r := &audit.Record{}
	var gid []byte
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&r.ID, &gid, &r.QuoteStatus, &r.PseManifestStatus,
		&r.IsEnclaveTrusted, &r.IsPseManifestTrusted, &r.EpidPseudonym, &r.CreatedAt, &r.Signature,
	)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("audit: record not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("audit: get record: %w", err)
	}
	copy(r.Gid[:], gid)
	return r, nil
}

func (s *Store) List(ctx context.Context, limit, offset int) ([]*audit.Record, error) {
	const query = `
		SELECT id, gid, quote_status, pse_manifest_status, is_enclave_trusted, is_pse_manifest_trusted, epid_pseudonym, created_at, signature
		FROM attestation_audit_records
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("audit: list records: %w", err)
	}
	defer rows.Close()

	var records []*audit.Record
	for rows.Next() {
		r := &audit.Record{}
		var gid []byte
		if err := rows.Scan(
			&r.ID, &gid, &r.QuoteStatus, &r.PseManifestStatus,
			&r.IsEnclaveTrusted, &r.IsPseManifestTrusted, &r.EpidPseudonym, &r.CreatedAt, &r.Signature,
		); err != nil {
			return nil, fmt.Errorf("audit: scan record: %w", err)
		}
		copy(r.Gid[:], gid)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate records: %w", err)
	}
	return records, nil
}

func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM attestation_audit_records WHERE created_at < $1`
	result, err := s.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit: delete old records: %w", err)
	}
	return result.RowsAffected(), nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	const query = `SELECT COUNT(*) FROM attestation_audit_records`
	var count int64
	if err := s.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("audit: count records: %w", err)
	}
	return count, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
