package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/tripmarket/booking-core/internal/config"
	"github.com/tripmarket/booking-core/internal/logging"
	"github.com/tripmarket/booking-core/internal/notifications"
)

// The notifier worker consumes the RabbitMQ queue the server publishes to
// in amqp mode and delivers each message over SMTP, or to the log when no
// SMTP host is configured.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger, logCloser := logging.New(cfg.Server)
	defer logCloser.Close()

	if cfg.Notification.AMQPURL == "" {
		logger.Fatal("AMQP_URL is required for the notifier worker")
	}

	var next notifications.Dispatcher = notifications.NewLogDispatcher(logger)
	if cfg.Notification.SMTPHost != "" {
		next = notifications.NewSMTPDispatcher(cfg.Notification, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.WithField("queue", cfg.Notification.AMQPQueue).Info("Starting notifier worker")
	if err := notifications.Consume(ctx, cfg.Notification.AMQPURL, cfg.Notification.AMQPQueue, next, cfg.Notification.SendTimeout, logger); err != nil {
		logger.WithError(err).Error("Notifier worker stopped")
		return
	}
	logger.Info("Notifier worker exited")
}
