package main

import (
	"context"
	"errors"
	"fmt"
)

var (
	// errAuthentication: no token was presented at all.
	errAuthentication = errors.New("authentication error")
	// errInvalidToken: the store has no row for this token.
	errInvalidToken = errors.New("invalid token")
	// errVerificationFailed: the store lookup itself failed.
	errVerificationFailed = errors.New("token verification failed")
)

// gate decides whether a connection attempt is admitted. All three
// failure modes are terminal for the attempt; there is no retry here.
type gate struct {
	store tokenStore
}

func newGate(store tokenStore) *gate {
	return &gate{store: store}
}

// authenticate validates the token presented at connection
// establishment. The hub is not touched until this returns nil.
func (g *gate) authenticate(ctx context.Context, token string) error {
	if token == "" {
		return errAuthentication
	}
	ok, err := g.store.exists(ctx, token)
	if err != nil {
		return fmt.Errorf("%w: %v", errVerificationFailed, err)
	}
	if !ok {
		return errInvalidToken
	}
	return nil
}

// verify is the management-path lookup: does this purchase code own
// this token. Pure read, no side effects.
func (g *gate) verify(ctx context.Context, purchaseCode, token string) (bool, error) {
	return g.store.match(ctx, purchaseCode, token)
}
