package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"offersearch/api/internal/app"
	"offersearch/api/internal/config"
	"offersearch/api/internal/docstore"
	"offersearch/api/internal/entitydata"
	"offersearch/api/internal/kstream"
	"offersearch/api/internal/search"
	"offersearch/api/internal/syncer"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore := openStore(cfg)
	defer closeStore()

	checks := map[string]app.Pinger{}
	var provider entitydata.Provider
	if cfg.DatabaseURL != "" {
		db, err := entitydata.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer closeDB(db)
		if cfg.MigrateEntities {
			if err := entitydata.Migrate(ctx, db); err != nil {
				log.Fatalf("entity migrations failed: %v", err)
			}
		}
		pg := entitydata.NewPostgres(db)
		provider = pg
		checks["entitydata"] = pg
	} else {
		log.Printf("DATABASE_URL not set; entity lookups will miss and rely on sync commands")
		provider = entitydata.NewStatic()
	}
	if cfg.RedisURL != "" {
		cache, err := entitydata.NewCache(cfg.RedisURL, provider, cfg.EntityCacheTTL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer cache.Close()
		provider = cache
		checks["cache"] = cache
	}

	synchronizer := syncer.New(store, provider, syncer.WithPageSize(cfg.SyncPageSize))

	var consumer *kstream.Consumer
	var consumerDone chan error
	if len(cfg.KafkaBrokers) > 0 {
		consumer = kstream.NewConsumer(kstream.Config{
			Brokers:  cfg.KafkaBrokers,
			Topic:    cfg.SyncTopic,
			GroupID:  cfg.SyncGroupID,
			DLQTopic: cfg.SyncDLQTopic,
			Workers:  cfg.SyncWorkers,
		}, synchronizer)
		consumerDone = make(chan error, 1)
		go func() {
			consumerDone <- consumer.Run(ctx)
			close(consumerDone)
		}()
	} else {
		log.Printf("KAFKA_BROKERS not set; sync ingress disabled")
	}

	var jwtSecret []byte
	if cfg.JWTSecret != "" {
		jwtSecret = []byte(cfg.JWTSecret)
	} else {
		log.Printf("JWT_SECRET not set; caller identity is taken from request fields")
	}
	httpServer := app.NewHTTPServer(search.NewService(store), app.ServerOptions{
		CORSOrigin: cfg.CORSOrigin,
		JWTSecret:  jwtSecret,
		Checks:     checks,
	})
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("offer search API listening on %s (backend %s)", cfg.Addr, cfg.SearchBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-consumerDone:
		// the consumer only returns early on a broker failure
		if err != nil {
			log.Printf("sync consumer failed: %v", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	if consumer != nil {
		<-consumerDone
		if err := consumer.Close(); err != nil {
			log.Printf("consumer close error: %v", err)
		}
	}
}

func openStore(cfg config.Config) (docstore.Store, func()) {
	switch cfg.SearchBackend {
	case "elastic":
		es, err := docstore.NewElastic(cfg.ElasticURL, cfg.OfferIndex)
		if err != nil {
			log.Fatalf("elasticsearch setup failed: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := es.EnsureIndex(ctx); err != nil {
			log.Printf("WARNING: elasticsearch index setup failed (retry via /api/admin/reindex): %v", err)
		}
		return es, func() {}
	case "memory":
		log.Printf("using in-memory document store; documents are lost on restart")
		return docstore.NewMemory(), func() {}
	case "meili", "":
		m := docstore.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, cfg.OfferIndex, int64(cfg.MeiliMaxTotalHits))
		return m, m.Close
	default:
		log.Fatalf("unknown SEARCH_BACKEND %q (want meili, elastic or memory)", cfg.SearchBackend)
		return nil, nil
	}
}

func closeDB(db *sql.DB) {
	if err := db.Close(); err != nil {
		log.Printf("database close error: %v", err)
	}
}
