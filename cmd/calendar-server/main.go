package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/calsync/project/internal/app/calendarapi"
	"github.com/calsync/project/internal/app/fanout"
	"github.com/calsync/project/internal/app/hub"
	"github.com/calsync/project/internal/app/storage"
	"github.com/calsync/project/internal/platform/env"
	"github.com/calsync/project/internal/platform/logging"
	"github.com/calsync/project/internal/platform/natsutil"
)

func main() {
	if err := env.LoadDotenv(); err != nil {
		log.Fatal(err)
	}
	logging.SetLevel(logging.ParseLevel(env.String("LOG_LEVEL", "info")))

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := env.String("CALENDAR_ADDR", env.DefaultServerAddr)
	if port := env.String("PORT", ""); port != "" {
		addr = ":" + port
	}
	rootPath := env.String("ROOT_PATH", env.DefaultRootPath)
	allowedOrigin := env.String("UI_ORIGIN", "*")
	shutdownTimeout := env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second)

	loc, err := time.LoadLocation(env.String("TIMEZONE", env.DefaultTimezone))
	if err != nil {
		log.Fatal(err)
	}

	repo, err := storage.Open(runCtx, env.String("DATABASE_URL", ""), env.String("SQLITE_PATH", env.DefaultSQLitePath))
	if err != nil {
		log.Fatal(err)
	}
	defer repo.Close()
	if err := storage.WaitReady(runCtx, repo, env.Duration("STORAGE_READY_TIMEOUT", 30*time.Second)); err != nil {
		log.Fatal(err)
	}

	service := calendarapi.NewService(repo, nil, loc)
	live := hub.New(service, hub.Options{
		AllowedOrigin:  allowedOrigin,
		RequestTimeout: env.Duration("REQUEST_TIMEOUT", 5*time.Second),
	})
	service.Changes = live

	handler := calendarapi.NewHandler(service, live, rootPath, allowedOrigin)

	if natsURL := env.String("NATS_URL", ""); natsURL != "" {
		client, err := natsutil.ConnectJetStreamWithRetry(runCtx, natsURL, "calendar-server", env.Duration("NATS_CONNECT_TIMEOUT", 30*time.Second))
		if err != nil {
			log.Fatal(err)
		}
		defer client.Close()

		bus := fanout.NewBus(natsutil.JetStreamPublisher{JS: client.JS}.Publish, live.PublishChange)
		sub, err := bus.Subscribe(client.JS)
		if err != nil {
			log.Fatal(err)
		}
		defer drain(sub)
		service.Changes = bus
		handler.Ready = func(context.Context) error { return client.Ready() }
		logging.Info("change fan-out over nats enabled", "url", natsURL)
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	fmt.Printf("Calendar server listening on %s%s (%s)\n", addr, handler.RootPath, loc)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		log.Fatal(err)
	case <-runCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	live.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("calendar-server graceful shutdown failed: %v", err)
	}
}

func drain(sub *nats.Subscription) {
	if err := sub.Drain(); err != nil {
		logging.Error("drain change subscription", err)
	}
}
