package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/WendelHime/peerfs/internal/config"
	"github.com/WendelHime/peerfs/internal/decoder"
	"github.com/WendelHime/peerfs/internal/logging"
	"github.com/WendelHime/peerfs/internal/logic"
	"github.com/WendelHime/peerfs/internal/p2p"
	"github.com/WendelHime/peerfs/internal/shared/models"
	"github.com/WendelHime/peerfs/internal/tracker"
)

func runPeer(args []string, _, stderr io.Writer) error {
	cfg, err := config.ParseRunConfig(args)
	if err != nil {
		return err
	}
	logger := logging.New("peerfs", cfg.LogLevel, cfg.LogFormat, stderr)

	host, err := logic.NewHost(cfg.Listen, logger,
		p2p.WithCapacity(cfg.Capacity),
		p2p.WithDialTimeout(cfg.DialTimeout),
		p2p.WithPollTimeout(cfg.PollTimeout),
	)
	if err != nil {
		return err
	}
	defer host.Close()
	logger.Info("peer listening", slog.Int("port", int(host.Port())))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	seedPeers(ctx, host, cfg, logger)

	if err := host.Run(ctx); err != nil {
		return err
	}

	if cfg.SavePeers != "" {
		peers := host.Peers()
		addrs := make([]models.Addr, 0, len(peers))
		for _, p := range peers {
			addrs = append(addrs, p.Addr)
		}
		if err := tracker.SavePeers(cfg.SavePeers, decoder.NewDecoder(), addrs); err != nil {
			return err
		}
		logger.Info("peers saved", slog.String("path", cfg.SavePeers), slog.Int("peers", len(addrs)))
	}
	return nil
}

// seedPeers adds the configured peers as undefined. Unavailable sources are logged and skipped.
func seedPeers(ctx context.Context, host *logic.Host, cfg config.RunConfig, logger *slog.Logger) {
	for _, p := range cfg.Peers {
		addr, err := models.ResolveAddr(p)
		if err != nil {
			logger.Warn("invalid peer", slog.String("peer", p), slog.Any("error", err))
			continue
		}
		host.AddPeer(addr)
	}

	for _, source := range []string{cfg.SeedFile, cfg.TrackerURL} {
		if source == "" {
			continue
		}
		peers, err := tracker.NewTracker(source).GetPeers(ctx, host.Port())
		if err != nil {
			logger.Warn("failed to get peers", slog.String("source", source), slog.Any("error", err))
			continue
		}
		logger.Info("retrieved peers", slog.String("source", source), slog.Int("peers", len(peers)))
		for _, addr := range peers {
			host.AddPeer(addr)
		}
	}
}

func runTracker(args []string, _, stderr io.Writer) error {
	cfg, err := config.ParseTrackerConfig(args)
	if err != nil {
		return err
	}
	logger := logging.New("peerfs-tracker", cfg.LogLevel, cfg.LogFormat, stderr)

	mux := http.NewServeMux()
	mux.Handle("/announce", tracker.NewServer(cfg.Interval, logger))
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdown)
	}()

	logger.Info("seed tracker listening", slog.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
