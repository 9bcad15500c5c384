package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"meetup-bot/internal/config"
	"meetup-bot/internal/pricing"
	"meetup-bot/internal/server"
	"meetup-bot/internal/sheets"
	"meetup-bot/internal/storage"
	"meetup-bot/internal/tgbot"
)

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancelConnect := context.WithTimeout(ctx, 15*time.Second)
	store, err := storage.New(connectCtx, cfg.MongoURL, cfg.MongoDatabase)
	cancelConnect()
	if err != nil {
		logger.Fatal("mongo", zap.Error(err))
	}

	prices, err := pricing.Load(cfg.EventCatalogFile)
	if err != nil {
		logger.Fatal("event catalog", zap.Error(err))
	}

	var opts []tgbot.Option
	if cfg.SheetsEnabled() {
		creds, err := cfg.GoogleCredentials()
		if err != nil {
			logger.Fatal("google credentials", zap.Error(err))
		}
		sheetsClient, err := sheets.New(ctx, creds, cfg.SpreadsheetID, cfg.SheetName)
		if err != nil {
			logger.Fatal("sheets", zap.Error(err))
		}
		opts = append(opts, tgbot.WithSheets(sheetsClient))
	} else {
		logger.Info("google sheets export disabled")
	}

	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		logger.Fatal("telegram", zap.Error(err))
	}
	api.Debug = false
	logger.Info("authorized", zap.String("bot", api.Self.UserName))

	botApp := tgbot.New(cfg, api, store, prices, logger, opts...)
	httpSrv := server.New(cfg, store, botApp, logger)

	// Start HTTP server
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", zap.Error(err))
			stop()
		}
	}()

	// Start Telegram
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := botApp.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("bot stopped", zap.Error(err))
		}
		stop()
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("bot did not stop in time")
	}
	if err := store.Close(shutdownCtx); err != nil {
		logger.Warn("mongo disconnect", zap.Error(err))
	}

	logger.Info("bye")
}
