package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/linkloom/linkloom/api"
	"github.com/linkloom/linkloom/config"
	"github.com/linkloom/linkloom/db"
	"github.com/linkloom/linkloom/enrich"
	"github.com/linkloom/linkloom/llm"
	"github.com/linkloom/linkloom/search"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(".")
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithField("level", cfg.LogLevel).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	store, err := db.New(db.Config{DSN: cfg.DatabaseDSN})
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer store.Close()

	gateway := llm.NewClient(llm.Config{
		BaseURL: cfg.AIGatewayURL,
		APIKey:  cfg.AIGatewayKey,
		Model:   cfg.AIModel,
	})
	if !gateway.Configured() {
		log.Warn("AI gateway key not set; summaries and search are disabled")
	}

	enricher := enrich.New(enrich.Config{HTTPTimeout: cfg.HTTPTimeout}, store, gateway, log)
	searcher := search.New(store, gateway, log)

	server := api.NewServer(api.Config{
		Addr:        cfg.ServerAddr,
		CORSEnabled: cfg.CORSEnabled,
	}, store, enricher, searcher, log)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
	log.Info("server stopped")
}
