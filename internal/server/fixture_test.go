package server_test

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat-relay/internal/autoreply"
	"github.com/Tyrowin/gochat-relay/internal/history"
	"github.com/Tyrowin/gochat-relay/internal/notify"
	"github.com/Tyrowin/gochat-relay/internal/relay"
	"github.com/Tyrowin/gochat-relay/internal/server"
	"github.com/Tyrowin/gochat-relay/internal/testhelpers"
	"github.com/Tyrowin/gochat-relay/internal/upload"
)

type fixtureOptions struct {
	broadcast bool
	store     history.Store
	notifier  relay.Notifier
	configure func(*server.Config)
}

type fixture struct {
	hub     *server.Hub
	store   history.Store
	subs    *notify.MemorySubscriptions
	uploads *upload.Service
	srv     *httptest.Server
	wsURL   string
}

// newFixture starts a hub and an httptest server wired like cmd/server.
func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	logger := zerolog.New(io.Discard)

	cfg := server.DefaultConfig()
	cfg.AllowedOrigins = []string{testhelpers.TestOrigin}
	cfg.RateLimit.Burst = 100
	if opts.configure != nil {
		opts.configure(&cfg)
	}

	store := opts.store
	if store == nil {
		store = history.NewMemoryStore()
	}

	uploads, err := upload.NewService(t.TempDir(), server.UploadsPath, logger)
	if err != nil {
		t.Fatalf("upload.NewService failed: %v", err)
	}

	hub := server.NewHub(logger)
	var handler relay.Handler
	mode := "rooms"
	if opts.broadcast {
		handler = relay.NewBroadcast(hub, logger)
		mode = "broadcast"
	} else {
		handler = relay.NewDispatcher(store, autoreply.Default(), hub, opts.notifier, logger)
	}

	subs := notify.NewMemorySubscriptions()
	srv := server.New(cfg, server.Deps{
		Hub:           hub,
		Handler:       handler,
		Store:         store,
		Subscriptions: subs,
		Uploads:       uploads,
		Mode:          mode,
	}, logger)

	go hub.Run()
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		_ = hub.Shutdown(2 * time.Second)
		ts.Close()
	})

	return &fixture{
		hub:     hub,
		store:   store,
		subs:    subs,
		uploads: uploads,
		srv:     ts,
		wsURL:   testhelpers.WebSocketURL(ts.URL),
	}
}
