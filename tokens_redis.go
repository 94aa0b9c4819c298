package main

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// redisStore keeps each credential under two keys: a hash
// token:<token> holding the issuance metadata, and a marker
// pc:<purchase_code>:<token> so match and delete can pair the two
// fields without scanning.
type redisStore struct {
	rdb *redis.Client
}

func newRedisStore(ctx context.Context, addr string) (*redisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return &redisStore{rdb: rdb}, nil
}

func tokenKey(token string) string { return "token:" + token }

func matchKey(purchaseCode, token string) string {
	return "pc:" + purchaseCode + ":" + token
}

func (s *redisStore) insert(ctx context.Context, purchaseCode, siteURL, token string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, tokenKey(token),
			"purchase_code", purchaseCode,
			"site_url", siteURL)
		pipe.Set(ctx, matchKey(purchaseCode, token), "1", 0)
		return nil
	})
	return err
}

func (s *redisStore) exists(ctx context.Context, token string) (bool, error) {
	n, err := s.rdb.Exists(ctx, tokenKey(token)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *redisStore) match(ctx context.Context, purchaseCode, token string) (bool, error) {
	n, err := s.rdb.Exists(ctx, matchKey(purchaseCode, token)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *redisStore) delete(ctx context.Context, purchaseCode, token string) (bool, error) {
	n, err := s.rdb.Del(ctx, matchKey(purchaseCode, token)).Result()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if err := s.rdb.Del(ctx, tokenKey(token)).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *redisStore) close() {
	s.rdb.Close()
}
