package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/ventosilenzioso/gorudt/internal/config"
	"github.com/ventosilenzioso/gorudt/internal/metrics"
	"github.com/ventosilenzioso/gorudt/internal/netio"
	"github.com/ventosilenzioso/gorudt/internal/xferrors"
	"github.com/ventosilenzioso/gorudt/pkg/logger"
	"github.com/ventosilenzioso/gorudt/pkg/pktbuf"
	"github.com/ventosilenzioso/gorudt/pkg/sender"
)

const version = "1.0.0"

func main() {
	logger.Banner("Reliable UDP file transfer - sender", version)

	transferID := uuid.New().String()
	logger.SetTransferID(transferID)

	cfg, err := config.ParseSender(os.Args[1:])
	if err != nil {
		logger.Fatal("Invalid arguments: %v", err)
	}

	logger.Info("Transfer ID: %s", transferID)
	logger.Info("Sending to [%s]:%s", cfg.Host, cfg.Port)
	logger.Info("Send buffer size: %d slots", cfg.BufSize)

	rec := metrics.New(transferID)
	if cfg.MetricsAddr != "" {
		go func() {
			logger.Info("Exposing metrics on %s/metrics", cfg.MetricsAddr)
			http.Handle("/metrics", rec.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
				logger.Error("Metrics server stopped: %v", err)
			}
		}()
	}

	sock, err := netio.OpenSocket(cfg.Host, cfg.Port, netio.ConnectOnly)
	if err != nil {
		logger.Fatal("Failed to resolve receiver address: %v", err)
	}

	var shutdown xferrors.Shutdown
	defer func() {
		shutdown.Add(sock.Close())
		shutdown.Add(cfg.File.Close())
		if err := shutdown.Err(); err != nil {
			logger.Error("Errors during shutdown: %v", err)
		}
	}()

	buf := pktbuf.New(cfg.BufSize)
	engine := sender.New(sock, cfg.File, buf, rec)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() { errChan <- engine.Run() }()

	select {
	case err := <-errChan:
		if err != nil {
			if xferrors.Aborted(err) {
				logger.Fatal("Transfer aborted: %v", err)
			}
			logger.Fatal("Transmission error: %v", err)
		}
		logger.Success("Done")
	case sig := <-sigChan:
		logger.Warn("Received signal: %v, aborting transfer", sig)
		os.Exit(1)
	}
}
