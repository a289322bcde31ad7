package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cardfield/cardfield/internal/config"
	"github.com/cardfield/cardfield/internal/httpapi"
	"github.com/cardfield/cardfield/internal/hub"
	"github.com/cardfield/cardfield/internal/relay"
	"github.com/cardfield/cardfield/internal/store"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Fatal("store", zap.Error(err))
		}
		st = pg
	} else {
		log.Warn("DATABASE_URL unset, using in-memory store")
		st = store.NewMemoryStore()
	}

	var rel relay.Relay
	if cfg.RedisAddr != "" {
		r, err := relay.NewRedisRelay(ctx, cfg.RedisAddr, log)
		if err != nil {
			log.Fatal("relay", zap.Error(err))
		}
		defer r.Close()
		rel = r
	}

	h := hub.NewHub(ctx, hub.Deps{
		Store:  st,
		Relay:  rel,
		NodeID: uuid.NewString(),
		Log:    log,
	})

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: httpapi.SetupRoutes(h, st, log, cfg.AllowedOrigins),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		h.Inbox() <- hub.ShutdownHub{}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal("server", zap.Error(err))
	}
}
