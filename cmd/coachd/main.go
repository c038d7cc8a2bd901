package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/config"
	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/coordinator"
	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/messaging"
	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/metrics"
	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/stt"
	"github.com/MariuszPieniakKID/sales-assistant-sub000/pkg/suggest"
)

var logger = logrus.New() // Using logrus for structured logging

func init() {
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)
	logger.SetLevel(logrus.InfoLevel)
}

func main() {
	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	metrics.EnableMetrics(cfg.MetricsEnabled)
	metrics.Init(logger)

	providers := registerProviders(cfg)

	var generator suggest.Generator
	if client, err := suggest.NewClient(cfg.Suggest, logger); err != nil {
		logger.WithError(err).Warn("Suggestion service disabled")
	} else {
		generator = client
	}

	publisher := messaging.NewPublisher(logger, cfg.AMQP)
	go publisher.Connect()

	server := coordinator.NewServer(logger, cfg, providers, generator, publisher)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", server.HandleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", metrics.Handler())
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  0, // WebSocket connections are long-lived
		WriteTimeout: 0,
	}

	go func() {
		logStartupConfig(cfg)
		logger.Infof("Starting coaching coordinator on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	// Graceful shutdown handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Println("Received shutdown signal, cleaning up...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("HTTP server shutdown was not clean")
	}
	publisher.Close()
	logger.Println("Cleanup complete. Shutting down.")
}

func registerProviders(cfg *config.Config) *stt.ProviderManager {
	manager := stt.NewProviderManager(logger, cfg.STT.DefaultVendor)

	candidates := []stt.Provider{
		stt.NewDeepgramProvider(logger, &cfg.STT),
		stt.NewGoogleProvider(logger, &cfg.STT),
		stt.NewAmazonProvider(logger, &cfg.STT),
	}
	for _, provider := range candidates {
		if err := manager.RegisterProvider(provider); err != nil {
			logger.WithError(err).Warnf("Speech-to-text provider %s unavailable", provider.Name())
		}
	}

	if _, ok := manager.GetDefaultProvider(); !ok {
		logger.Warnf("Default STT vendor %s not available, remote sessions will fail", cfg.STT.DefaultVendor)
	}
	return manager
}

func logStartupConfig(cfg *config.Config) {
	logger.Infof("Coaching coordinator is starting with the following configuration:")
	logger.Infof("HTTP Address: %s", cfg.HTTPAddr)
	logger.Infof("Metrics Enabled: %v", cfg.MetricsEnabled)
	logger.Infof("Speech-to-Text Vendor: %s", cfg.STT.DefaultVendor)
	logger.Infof("Sample Rate: %d", cfg.STT.SampleRate)
	logger.Infof("Language: %s", cfg.STT.Language)
	logger.Infof("AMQP Enabled: %v", cfg.AMQP.Enabled)
	if cfg.AMQP.Enabled {
		logger.Infof("AMQP Queue: %s", cfg.AMQP.QueueName)
	}
	logger.Infof("Log Level: %s", cfg.LogLevel)
}
