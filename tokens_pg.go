package main

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgStore backs the credential table with PostgreSQL:
//
//	CREATE TABLE tokens (
//	    purchase_code text NOT NULL,
//	    site_url      text NOT NULL,
//	    token         text PRIMARY KEY
//	);
type pgStore struct {
	pool *pgxpool.Pool
}

func newPGStore(ctx context.Context, dsn string) (*pgStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &pgStore{pool: pool}, nil
}

func (s *pgStore) insert(ctx context.Context, purchaseCode, siteURL, token string) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO tokens (purchase_code, site_url, token) VALUES ($1, $2, $3)",
		purchaseCode, siteURL, token)
	return err
}

func (s *pgStore) exists(ctx context.Context, token string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		"SELECT 1 FROM tokens WHERE token = $1", token).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *pgStore) match(ctx context.Context, purchaseCode, token string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		"SELECT 1 FROM tokens WHERE purchase_code = $1 AND token = $2",
		purchaseCode, token).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *pgStore) delete(ctx context.Context, purchaseCode, token string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM tokens WHERE purchase_code = $1 AND token = $2",
		purchaseCode, token)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *pgStore) close() {
	s.pool.Close()
}
