// cmd/server is the realtime chess backend process: it wires the durable
// store, identity provider, persistence projector, session registry,
// matchmaker and realtime gateway together and serves both the websocket
// and HTTP surfaces on one listener.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vimsent/chessrt/internal/chess"
	"github.com/vimsent/chessrt/internal/clock"
	"github.com/vimsent/chessrt/internal/config"
	"github.com/vimsent/chessrt/internal/eventbus"
	"github.com/vimsent/chessrt/internal/gateway"
	"github.com/vimsent/chessrt/internal/identity"
	"github.com/vimsent/chessrt/internal/log"
	"github.com/vimsent/chessrt/internal/matchmaker"
	"github.com/vimsent/chessrt/internal/projector"
	"github.com/vimsent/chessrt/internal/registry"
	"github.com/vimsent/chessrt/internal/session"
	"github.com/vimsent/chessrt/internal/store"
)

func main() {
	cfg := config.Load()

	backend, closeStore := openStore(cfg)
	defer closeStore()

	proj := projector.New(projector.Config{
		Store: backend,
		EloK:  cfg.EloKFactor,
	})

	engine := chess.NewNotnilEngine()
	factory := projectingFactory(engine, proj)

	reg := registry.New(registry.Config{
		MaxActiveGames: cfg.UserMaxActiveGames,
		RetireAfter:    cfg.SessionRetireAfter,
		NewSession:     factory,
		BacklogSize:    proj.BacklogSize,
	})
	defer reg.Stop()

	mm := matchmaker.New(reg)

	idp := identity.NewJWTProvider(cfg.IdentityJWTSecret)

	gw := gateway.New(gateway.Config{
		Registry:       reg,
		Matchmaker:     mm,
		Identity:       idp,
		MovesPerMinute: cfg.RateLimitMovesPerMin,
		LobbyCacheTTL:  cfg.CacheTTL,
		WriteQueueSize: cfg.GatewayWriteQueueSize,
	})

	mux := http.NewServeMux()
	gw.Routes(mux)
	mux.HandleFunc("/healthz", handleHealth(reg))
	mux.HandleFunc("/admin/status", handleAdminStatus(reg, proj))

	addr := fmt.Sprintf(":%d", cfg.ListenPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server: listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server: listen error: %v", err)
		}
	}()

	waitForShutdown()
	log.Info("server: shutdown signal received, draining")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server: graceful shutdown failed: %v", err)
	}
	proj.Wait()
	log.Info("server: exited cleanly")
}

// projectingFactory builds sessions wired to proj, the one place a
// Session's Config.Projector field gets set outside tests.
func projectingFactory(engine chess.Engine, proj *projector.Projector) registry.SessionFactory {
	return func(id string, mode session.GameMode, spec clock.Spec) *session.Session {
		return session.New(session.Config{
			ID:        id,
			Engine:    engine,
			Mode:      mode,
			Spec:      spec,
			Bus:       eventbus.New(),
			Projector: proj,
		})
	}
}

// openStore picks MongoStore when STORE_DSN is set, otherwise an in-memory
// store, keeping the binary runnable with no external dependencies.
func openStore(cfg config.Config) (store.Store, func()) {
	if cfg.StoreDSN == "" {
		log.Warn("server: STORE_DSN unset, using in-memory store (not durable across restarts)")
		return store.NewMemoryStore(), func() {}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.StoreDSN))
	if err != nil {
		log.Error("server: mongo connect failed, falling back to in-memory store: %v", err)
		return store.NewMemoryStore(), func() {}
	}
	if err := client.Ping(ctx, nil); err != nil {
		log.Error("server: mongo ping failed, falling back to in-memory store: %v", err)
		return store.NewMemoryStore(), func() {}
	}
	db := client.Database("chessrt")
	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(ctx)
	}
	return store.NewMongoStore(db), closeFn
}

func handleHealth(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"sessions":%d}`, reg.Count())
	}
}

// handleAdminStatus is the operational surface cmd/admin polls: total
// tracked sessions, open Lobby count, and the projector's outstanding
// write backlog (the divergence signal).
func handleAdminStatus(reg *registry.Registry, proj *projector.Projector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"sessions":%d,"lobby":%d,"persistenceBacklog":%d}`,
			reg.Count(), len(reg.ListLobby()), proj.BacklogSize())
	}
}

// waitForShutdown blocks until SIGINT/SIGTERM.
func waitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}
