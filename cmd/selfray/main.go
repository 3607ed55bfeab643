package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"selfray/internal/auth"
	"selfray/internal/bot"
	"selfray/internal/config"
	"selfray/internal/logutil"
	"selfray/internal/notify"
	"selfray/internal/reconciler"
	"selfray/internal/storage"
	"selfray/internal/web"
	"selfray/internal/xray"
)

func main() {
	cfg := config.Load()
	logutil.Configure(cfg.Debug, cfg.LogFormat, cfg.LogLevel)
	logger := slog.With("component", "main")
	logger.Info("Starting selfray panel", "data_dir", cfg.DataDir)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		fatal(logger, "create data dir failed", "error", err)
	}

	store, err := storage.OpenSQLite(cfg.DBPath)
	if err != nil {
		fatal(logger, "open database failed", "error", err)
	}
	defer store.Close()

	if err := bootstrapAdmin(store, logger); err != nil {
		fatal(logger, "admin bootstrap failed", "error", err)
	}

	supervisor := xray.NewSupervisor(store, cfg.XrayExecutablePath, cfg.XrayConfigPath, cfg.StopGracePeriod)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inboundCount, err := store.CountInbounds()
	if err != nil {
		fatal(logger, "count inbounds failed", "error", err)
	}
	if supervisor.Installed() && inboundCount > 0 {
		if err := supervisor.Start(ctx); err != nil {
			logger.Error("initial engine start failed", "error", err)
		}
	} else {
		logger.Info("engine not started", "installed", supervisor.Installed(), "inbounds", inboundCount)
	}

	notifier := notify.NewTelegram(store)
	go reconciler.New(store, supervisor, notifier, cfg.ReconcileInterval).Run(ctx)

	if adminBot := maybeStartBot(store, supervisor, logger); adminBot != nil {
		go adminBot.Start(ctx)
	}

	server, err := web.NewServer(store, supervisor, notifier)
	if err != nil {
		fatal(logger, "web server setup failed", "error", err)
	}

	host, err := store.GetSetting("panel_host", "0.0.0.0")
	if err != nil {
		fatal(logger, "read panel host failed", "error", err)
	}
	port, err := store.GetSetting("panel_port", "8443")
	if err != nil {
		fatal(logger, "read panel port failed", "error", err)
	}
	addr := net.JoinHostPort(host, port)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Panel listening", "address", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "http server failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down selfray")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 6*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	supervisor.Stop()
}

// bootstrapAdmin creates the first admin account with a random password
// logged exactly once. Later password changes go through the panel or bot.
func bootstrapAdmin(store storage.Store, logger *slog.Logger) error {
	count, err := store.CountAdmins()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	password := auth.RandomSecret(12)
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if err := store.CreateAdmin("admin", hash); err != nil {
		return err
	}
	logger.Warn("admin account created", "username", "admin")
	// Printed raw on purpose: the structured logger redacts credential
	// attributes, and this value is shown exactly once.
	fmt.Fprintf(os.Stdout, "\n  Initial admin credentials\n  username: admin\n  password: %s\n\n", password)
	return nil
}

func maybeStartBot(store storage.Store, supervisor *xray.Supervisor, logger *slog.Logger) *bot.Bot {
	token, err := store.GetSetting("tg_bot_token", "")
	if err != nil || token == "" {
		return nil
	}
	chatRaw, err := store.GetSetting("tg_chat_id", "")
	if err != nil || chatRaw == "" {
		return nil
	}
	chatID, err := strconv.ParseInt(chatRaw, 10, 64)
	if err != nil {
		logger.Error("invalid tg_chat_id setting", "value", chatRaw)
		return nil
	}

	adminBot, err := bot.New(token, chatID, store, supervisor)
	if err != nil {
		logger.Error("bot setup failed", "error", err)
		return nil
	}
	return adminBot
}

func fatal(logger *slog.Logger, msg string, args ...any) {
	logger.Error(msg, args...)
	os.Exit(1)
}
