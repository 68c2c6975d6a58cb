package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgnsrekt/traffic_agent/internal/api"
	"github.com/dgnsrekt/traffic_agent/internal/browser"
	"github.com/dgnsrekt/traffic_agent/internal/cdp"
	"github.com/dgnsrekt/traffic_agent/internal/config"
	"github.com/dgnsrekt/traffic_agent/internal/netutil"
	"github.com/dgnsrekt/traffic_agent/internal/notify"
	"github.com/dgnsrekt/traffic_agent/internal/recorder"
	"github.com/dgnsrekt/traffic_agent/internal/snapshot"
	"github.com/dgnsrekt/traffic_agent/internal/storage"
	"github.com/dgnsrekt/traffic_agent/internal/stream"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	if err := os.MkdirAll("logs", 0o755); err != nil {
		slog.Debug("log directory creation failed", "error", err)
	}

	logWriter := &lumberjack.Logger{
		Filename:   "logs/recorder.log",
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slog.LevelDebug})
	slog.SetDefault(slog.New(handler))

	slog.Info("Starting network traffic recorder")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Configuration loaded",
		"cdp_address", cfg.CDPAddress,
		"cdp_port", cfg.CDPPort,
		"api_port", cfg.APIPort,
		"data_dir", cfg.DataDir,
		"page_url_filter", cfg.PageURLFilter,
		"session_id", cfg.SessionID,
		"capture_websockets", cfg.CaptureWebSockets,
		"mirror_resources", cfg.MirrorResources,
		"use_chromedp", cfg.UseChromedp,
		"launch_browser", cfg.LaunchBrowser,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	notifier := notify.NewNotifier(cfg.NtfyEndpoint, nil)

	if cfg.LaunchBrowser {
		launcher := browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			ProfileDir: cfg.ProfileDir,
		})
		if err := launcher.Launch(ctx); err != nil {
			slog.Error("Failed to launch browser", "error", err)
			os.Exit(1)
		}
		defer launcher.Stop()
	}

	store := storage.NewJSONLStore(cfg.DataDir, cfg.BufferSize, cfg.MaxFileSizeMB)
	if cfg.MirrorResources {
		store.EnableResourceMirror()
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("Failed to close record store", "error", err)
		}
	}()

	transport, err := connectTransport(ctx, cfg)
	if err != nil {
		slog.Error("Failed to connect to browser", "error", err)
		os.Exit(1)
	}
	defer transport.Close()

	facade := cdp.NewFacade()
	facade.Attach(transport)

	pipeline := recorder.NewPipeline(facade, facade, store, cfg.MaxBodyBytes)
	if cfg.CaptureWebSockets {
		pipeline.EnableWebSocketCapture(store, cfg.MaxFrameBytes)
	}

	broker := stream.NewBroker()
	publisher := stream.NewPublisher(broker, loadStreamFeeds(cfg.StreamConfigPath))
	pipeline.SetRecordObserver(publisher)
	pipeline.SetFrameObserver(publisher)

	snapshots, err := snapshot.NewStore(cfg.DataDir + "/snapshots")
	if err != nil {
		slog.Error("Failed to open snapshot store", "error", err)
		os.Exit(1)
	}

	// Session and subscriptions must be in place before the Network
	// domain starts delivering events.
	if cfg.SessionID != "" {
		pipeline.StartSession(cfg.SessionID, nil)
	}
	pipeline.Start()

	if err := facade.EnableDomain(ctx, "Network"); err != nil {
		slog.Error("Failed to enable Network domain", "error", err)
		os.Exit(1)
	}

	bindAddr, err := netutil.SelectBindAddr(
		fmt.Sprintf(":%d", cfg.APIPort),
		[]string{fmt.Sprintf(":%d", cfg.APIPort+1), fmt.Sprintf(":%d", cfg.APIPort+2)},
		true,
	)
	if err != nil {
		slog.Error("No available control API address", "error", err)
		os.Exit(1)
	}

	apiServer := &http.Server{
		Addr: bindAddr,
		Handler: api.NewServer(api.Deps{
			Service:   pipeline,
			Broker:    broker,
			Snapshots: snapshots,
			Commander: facade,
		}),
	}
	go func() {
		slog.Info("Control API listening", "addr", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Control API failed", "error", err)
			sigCh <- syscall.SIGTERM
		}
	}()

	if err := notifier.Sendf(ctx, "traffic recorder up, control API on %s", bindAddr); err != nil {
		slog.Warn("Startup notification failed", "error", err)
	}

	<-sigCh
	slog.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Control API shutdown failed", "error", err)
	}

	if err := facade.DisableDomain(shutdownCtx, "Network"); err != nil {
		slog.Warn("Failed to disable Network domain", "error", err)
	}
	pipeline.Stop()
	facade.UnsubscribeAll()

	if err := notifier.Send(shutdownCtx, "traffic recorder shut down"); err != nil {
		slog.Warn("Shutdown notification failed", "error", err)
	}
}

// loadStreamFeeds loads the optional feed configuration; without one
// the live stream still carries the built-in records feed.
func loadStreamFeeds(path string) []stream.FeedConfig {
	if path == "" {
		return nil
	}
	cfg, err := stream.LoadConfig(path)
	if err != nil {
		slog.Warn("Failed to load stream config, live feeds disabled", "path", path, "error", err)
		return nil
	}
	slog.Info("Stream feeds configured", "count", len(cfg.Feeds))
	return cfg.Feeds
}

func connectTransport(ctx context.Context, cfg *config.Config) (cdp.Transport, error) {
	if cfg.UseChromedp {
		return cdp.AttachChromedp(ctx, cfg.GetCDPURL(), cfg.PageURLFilter)
	}
	transport := cdp.NewWSTransport(cfg.GetCDPURL())
	if err := transport.Connect(ctx, cfg.PageURLFilter); err != nil {
		return nil, err
	}
	return transport, nil
}
