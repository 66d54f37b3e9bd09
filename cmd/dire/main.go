// Command dire runs the matching engine behind its REST, WebSocket and FIX
// adapters.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dire-exchange/dire-engine/internal/api"
	"github.com/dire-exchange/dire-engine/internal/audit"
	"github.com/dire-exchange/dire-engine/internal/auth"
	"github.com/dire-exchange/dire-engine/internal/config"
	"github.com/dire-exchange/dire-engine/internal/engine"
	"github.com/dire-exchange/dire-engine/internal/fix"
	"github.com/dire-exchange/dire-engine/internal/ws"
	"github.com/dire-exchange/dire-engine/pkg/logger"
	"github.com/dire-exchange/dire-engine/pkg/models"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.New(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync() //nolint:errcheck

	eng := engine.New(zapLogger)
	for _, inst := range cfg.Instruments {
		if err := eng.AddInstrument(models.InstrumentID(inst.ID), inst.Symbol); err != nil {
			zapLogger.Fatal("Failed to add instrument",
				zap.Uint64("instrument_id", inst.ID), zap.Error(err))
		}
	}

	hub := ws.NewHub(zapLogger, 1000)
	sink := audit.NewZapSink(zapLogger)
	authn := auth.New(cfg.Auth.Keys)
	if authn.Open() {
		zapLogger.Warn("No API keys configured, authentication disabled")
	}

	server := api.NewServer(zapLogger, eng, hub, authn, sink, cfg.Server.DepthLevels)
	httpSrv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      server.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		zapLogger.Info("Starting HTTP server", zap.String("addr", cfg.Server.Address))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	var acceptor *fix.Acceptor
	if cfg.FIX.Enabled {
		acceptor = fix.NewAcceptor(zapLogger, eng, cfg.FIX.SenderCompID,
			time.Duration(cfg.FIX.HeartbeatSeconds)*time.Second)
		acceptor.SetPublisher(hub)
		go func() {
			if err := acceptor.ListenAndServe(cfg.FIX.Address); err != nil && !errors.Is(err, net.ErrClosed) {
				zapLogger.Error("FIX acceptor stopped", zap.Error(err))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down...")

	if acceptor != nil {
		if err := acceptor.Close(); err != nil {
			zapLogger.Error("Failed to close FIX acceptor", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownSeconds)*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		zapLogger.Error("HTTP shutdown failed", zap.Error(err))
	}

	zapLogger.Info("Server exited properly")
}
