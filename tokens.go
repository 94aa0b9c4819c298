package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
)

// tokenStore persists issued credentials: one row per token, keyed by
// the purchase code and site that bought it. Lookups may block on I/O;
// callers must not hold hub locks across them.
type tokenStore interface {
	// insert persists a newly issued token.
	insert(ctx context.Context, purchaseCode, siteURL, token string) error
	// exists reports whether any row carries this token.
	exists(ctx context.Context, token string) (bool, error)
	// match reports whether a row carries this purchase code and token.
	match(ctx context.Context, purchaseCode, token string) (bool, error)
	// delete removes the matching row, reporting whether one existed.
	delete(ctx context.Context, purchaseCode, token string) (bool, error)
	close()
}

// generateToken returns a fresh 64-character lowercase hex credential.
func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// memStore keeps tokens in process memory. Used for development and
// tests; production runs postgres or redis.
type memStore struct {
	mu   sync.RWMutex
	rows map[string]memRow // token -> row
}

type memRow struct {
	purchaseCode string
	siteURL      string
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]memRow)}
}

func (s *memStore) insert(_ context.Context, purchaseCode, siteURL, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[token] = memRow{purchaseCode: purchaseCode, siteURL: siteURL}
	return nil
}

func (s *memStore) exists(_ context.Context, token string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rows[token]
	return ok, nil
}

func (s *memStore) match(_ context.Context, purchaseCode, token string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[token]
	return ok && row.purchaseCode == purchaseCode, nil
}

func (s *memStore) delete(_ context.Context, purchaseCode, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[token]
	if !ok || row.purchaseCode != purchaseCode {
		return false, nil
	}
	delete(s.rows, token)
	return true, nil
}

func (s *memStore) close() {}
