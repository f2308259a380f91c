// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mailmind/assistant/internal/app"
	"github.com/mailmind/assistant/internal/config"
	"github.com/mailmind/assistant/internal/conversation"
	"github.com/mailmind/assistant/internal/handler"
	natsclient "github.com/mailmind/assistant/internal/nats"
	"github.com/mailmind/assistant/internal/service"
	"github.com/mailmind/assistant/pkg/logger"
	"github.com/mailmind/assistant/pkg/tracing"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server")

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "mailmind-assistant", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	synth, synthName, err := app.NewSynthesizer(cfg)
	if err != nil {
		log.Warn("falling back to echo replies", zap.String("synthesizer", cfg.Synthesizer), zap.Error(err))
		synth, synthName = conversation.NewEchoSynthesizer(cfg.ReplyDelay), config.SynthesizerEcho
	}
	log.Info("reply synthesizer ready", zap.String("synthesizer", synthName))

	opts := service.Options{
		MaxConversations: cfg.MaxConversations,
		Location:         conversation.LoadLocation(cfg.DisplayTimezone),
	}

	// Optional event fan-out
	var natsClient *natsclient.Client
	if cfg.NATSURL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		natsClient, err = natsclient.Connect(connectCtx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		cancel()
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			os.Exit(1)
		}
		defer natsClient.Close()

		publisher := natsclient.NewPublisher(natsClient.Conn(), log)
		opts.Observers = append(opts.Observers, publisher.Observe)
	}

	conversationSvc := service.NewConversationService(
		conversation.Instrument(synthName, synth), opts, log)
	messageSvc := service.NewMessageService(conversationSvc)

	router := handler.NewRouter(handler.RouterConfig{
		Conversations:     conversationSvc,
		Messages:          messageSvc,
		NATS:              natsClient,
		Synthesizer:       synthName,
		Logger:            log,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Ends open SSE streams when shutdown starts.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	server.BaseContext = func(net.Listener) context.Context { return baseCtx }
	server.RegisterOnShutdown(cancelBase)

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	// Replies already started always complete.
	if err := conversationSvc.WaitAll(shutdownCtx); err != nil {
		log.Warn("pending replies abandoned", zap.Error(err))
	}

	log.Info("server stopped")
}
