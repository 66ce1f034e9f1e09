package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Martin-Hayot/auction-house/configs"
	"github.com/Martin-Hayot/auction-house/internal/auth"
	"github.com/Martin-Hayot/auction-house/internal/bidding"
	"github.com/Martin-Hayot/auction-house/internal/dashboard"
	"github.com/Martin-Hayot/auction-house/internal/database"
	"github.com/Martin-Hayot/auction-house/internal/events"
	"github.com/Martin-Hayot/auction-house/internal/handlers/api"
	"github.com/Martin-Hayot/auction-house/internal/handlers/websocket"
	"github.com/Martin-Hayot/auction-house/internal/registry"
	"github.com/Martin-Hayot/auction-house/internal/scheduler"
	"github.com/Martin-Hayot/auction-house/internal/settlement"
	"github.com/Martin-Hayot/auction-house/internal/wallet"
	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatal("auction house stopped", "err", err)
	}
}

func run() error {
	// Load configurations
	cfg, err := configs.LoadConfig()
	if err != nil {
		return err
	}

	// Setup logger
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "debug"
	}
	logLevel, err := log.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		log.Error("Invalid log level", "level", cfg.Server.LogLevel, "err", err)
		logLevel = log.InfoLevel
	}
	log.SetLevel(logLevel)
	log.SetReportTimestamp(true)

	// Component loggers copy the default writer, so redirect before wiring.
	var logBuffer *dashboard.LogBuffer
	if cfg.Features.Dashboard {
		logBuffer = &dashboard.LogBuffer{}
		log.SetOutput(logBuffer)
	}

	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}

	if cfg.Server.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := database.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	publisher, err := events.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer publisher.Close()

	ledger := wallet.New(store)
	reg := registry.New(store)
	rooms := bidding.NewManager(reg, ledger, publisher)
	engine := settlement.New(reg, ledger)

	sched, err := scheduler.New(reg, store, rooms, engine, publisher, cfg.Scheduler.ReconcileSpec)
	if err != nil {
		return err
	}
	reg.AttachScheduler(sched)
	if err := sched.Reconcile(ctx); err != nil {
		log.Warn("startup reconciliation incomplete", "err", err)
	}
	sched.Start()

	authn := auth.NewCookieAuthenticator(cfg.Auth.SecretKey, cfg.Auth.CookieName)
	wsHandler := websocket.NewAuctionWebSocketHandler(rooms, authn, websocket.Options{
		PingInterval:   cfg.PingInterval(),
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		RateLimit:      cfg.WebSocket.RateLimit,
		RateBurst:      cfg.WebSocket.RateBurst,
		AllowAnyOrigin: cfg.Features.AllowCrossOrigin,
	})

	server := api.NewServer(reg, ledger, rooms, store.Health, api.Options{
		AllowCrossOrigin: cfg.Features.AllowCrossOrigin,
		LiveHandler:      wsHandler,
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           server.Router(authn),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("Server started on port %s", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if cfg.Features.Dashboard {
		if err := dashboard.Run(reg, logBuffer); err != nil {
			log.Error("dashboard failed", "err", err)
		}
	} else {
		select {
		case <-ctx.Done():
		case err := <-serveErr:
			if err != nil {
				log.Error("server failed", "err", err)
			}
		}
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "err", err)
	}
	wsHandler.Shutdown()
	sched.Stop()
	rooms.CloseAll()
	return nil
}
