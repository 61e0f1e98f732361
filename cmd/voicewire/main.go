package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/adhikara/voicewire/adapters/device"
	"github.com/adhikara/voicewire/adapters/memory"
	"github.com/adhikara/voicewire/adapters/mongo"
	"github.com/adhikara/voicewire/adapters/playback"
	"github.com/adhikara/voicewire/domain/entities"
	"github.com/adhikara/voicewire/domain/repositories"
	"github.com/adhikara/voicewire/internal/auth"
	"github.com/adhikara/voicewire/internal/capture"
	"github.com/adhikara/voicewire/internal/config"
	"github.com/adhikara/voicewire/internal/connection"
	"github.com/adhikara/voicewire/internal/metrics"
	"github.com/adhikara/voicewire/usecase"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	// Session persistence: MongoDB when configured, in-memory otherwise.
	var sessions repositories.SessionRepository
	if cfg.MongoURI != "" {
		client, err := mongo.NewClient(cfg.MongoURI, cfg.MongoDatabase, logger)
		if err != nil {
			logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			client.Close(ctx)
		}()
		sessions = mongo.NewSessionRepository(client.Database)
	} else {
		sessions = memory.NewSessionRepository()
	}

	connOpts := []connection.Option{connection.WithLogCap(cfg.WireLogCap)}
	if cfg.AuthSecret != "" {
		signer := auth.NewSigner(cfg.AuthSecret, 24*time.Hour)
		token, err := signer.GenerateToken(cfg.ClientID)
		if err != nil {
			logger.Fatal("Failed to issue dial token", zap.Error(err))
		}
		connOpts = append(connOpts, connection.WithAuthToken(token))
	}

	conn := connection.NewSession(logger, m, connOpts...)
	cap := capture.NewSession(
		device.NewSynthetic(),
		playback.NewPlayer(logger),
		device.StaticPermissions{Permission: entities.MicPermissionGranted},
		logger, m,
		capture.WithMaxDuration(cfg.MaxRecordingDuration),
	)

	store := usecase.NewConversationStore(sessions, logger)
	transcriber := usecase.NewTranscriptionService(store, logger, m)
	engine := usecase.NewVoiceEngine(conn, cap, store, transcriber, logger)

	engine.Connect(cfg.ServerURL)

	// Wait for the connection before opening the audio stream.
	deadline := time.Now().Add(10 * time.Second)
	for !store.IsConnected() {
		if time.Now().After(deadline) {
			logger.Fatal("Could not connect", zap.String("url", cfg.ServerURL), zap.String("reason", store.LastError()))
		}
		time.Sleep(50 * time.Millisecond)
	}

	if err := engine.StartConversation(context.Background()); err != nil {
		logger.Fatal("Failed to start conversation", zap.Error(err))
	}

	logger.Info("Conversation running", zap.String("url", cfg.ServerURL))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	engine.StopConversation()
	engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Flush(ctx); err != nil {
		logger.Error("Failed to persist conversation", zap.Error(err))
	}

	stats := store.Stats()
	logger.Info("Conversation ended",
		zap.Int("messages", stats.Total),
		zap.Int("fromUser", stats.FromUser),
		zap.Int("fromAgent", stats.FromAgent))
}
