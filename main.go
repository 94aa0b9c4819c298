// Command echohub relays real-time notifications to token-gated
// websocket clients.
//
//	echohub -addr=:3000 -store=postgres -dsn=postgres://...
//
// Clients open a websocket to /connect presenting a bearer token; every
// connection holding the same token forms one channel. A management
// backend issues and revokes tokens (POST /token, /check, /delete) and
// pushes named events to a channel or to everyone (POST /notify), with
// an optional volatile mode that drops frames instead of queueing them
// on a slow client. Nothing is persisted but the tokens themselves: an
// event is fanned out to whoever is connected right now and forgotten.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/facebookgo/httpdown"
	"github.com/rs/zerolog"
)

var logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
	With().Timestamp().Logger()

func main() {
	server := &http.Server{
		Addr: "127.0.0.1:3000",
	}
	hd := &httpdown.HTTP{
		StopTimeout: 10 * time.Second,
		KillTimeout: 1 * time.Second,
	}

	flag.StringVar(&server.Addr, "addr", server.Addr, "http service address")
	flag.DurationVar(&hd.StopTimeout, "stop-timeout", hd.StopTimeout, "stop timeout")
	flag.DurationVar(&hd.KillTimeout, "kill-timeout", hd.KillTimeout, "kill timeout")
	origin := flag.String("origin", "", "websocket server checks Origin headers against this scheme://host[:port]")
	storeKind := flag.String("store", "postgres", "token store backend: postgres, redis or memory")
	dsn := flag.String("dsn", os.Getenv("DATABASE_URL"), "postgres connection string")
	redisAddr := flag.String("redis", "127.0.0.1:6379", "redis address for -store=redis")
	level := flag.String("log-level", "info", "log level: debug, info, warn or error")
	flag.Parse()

	if lvl, err := zerolog.ParseLevel(*level); err == nil {
		logger = logger.Level(lvl)
	}

	store, err := openStore(*storeKind, *dsn, *redisAddr)
	if err != nil {
		logger.Fatal().Err(err).Str("store", *storeKind).Msg("token store unavailable")
	}
	defer store.close()

	h := newHub()
	d := newDispatcher(h)
	g := newGate(store)
	ticker := newMTicker(pingPeriod)
	defer ticker.stop()

	server.Handler = newHandler(h, d, g, ticker, *origin)
	startMetrics()
	defer finalMetrics()

	logger.Info().Str("addr", server.Addr).Str("store", *storeKind).Msg("listening")
	if err := httpdown.ListenAndServe(server, hd); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

func openStore(kind, dsn, redisAddr string) (tokenStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	switch kind {
	case "redis":
		return newRedisStore(ctx, redisAddr)
	case "memory":
		return newMemStore(), nil
	default:
		return newPGStore(ctx, dsn)
	}
}
