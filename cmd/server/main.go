package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/booking-core/internal/config"
	"github.com/tripmarket/booking-core/internal/database"
	"github.com/tripmarket/booking-core/internal/handlers"
	"github.com/tripmarket/booking-core/internal/logging"
	"github.com/tripmarket/booking-core/internal/messaging"
	"github.com/tripmarket/booking-core/internal/middleware"
	"github.com/tripmarket/booking-core/internal/models"
	"github.com/tripmarket/booking-core/internal/notifications"
	"github.com/tripmarket/booking-core/internal/services"
	"github.com/tripmarket/booking-core/pkg/jwt"
	"golang.org/x/sync/errgroup"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger, logCloser := logging.New(cfg.Server)
	defer logCloser.Close()

	logger.Info("Starting TripMarket booking core")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database connection. The service starts degraded when the
	// database is down and reconnects on the next call.
	logger.Info("Connecting to database...")
	db, err := database.ConnectWithRetry(ctx, cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Warn("Database unavailable, starting in degraded mode")
	}
	defer db.Close()

	// Optional Redis for payment locks and rate limits
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = connectRedis(ctx, cfg.Redis.URL)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, using in-process locks and rate limits")
			redisClient = nil
		} else {
			defer redisClient.Close()
			logger.Info("Redis connection established")
		}
	}

	// Repositories
	bookingRepo := database.NewBookingRepository(db)
	paymentRepo := database.NewPaymentRepository(db)
	methodRepo := database.NewPaymentMethodRepository(db)
	outboxRepo := database.NewOutboxRepository(db)
	auditRepo := database.NewPaymentAuditRepository(db, logger)
	referenceRepo := database.NewReferenceRepository(db)

	// Notifications
	dispatcher, err := newDispatcher(cfg.Notification, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize notifications: %v", err)
	}
	if closer, ok := dispatcher.(io.Closer); ok {
		defer closer.Close()
	}
	asyncDispatcher := notifications.NewAsyncDispatcher(
		dispatcher,
		cfg.Notification.Workers,
		cfg.Notification.QueueSize,
		cfg.Notification.SendTimeout,
		logger,
	)
	notifier := notifications.NewNotifier(asyncDispatcher, referenceRepo, logger)

	// Services
	logger.Info("Initializing services...")
	policy, err := services.NewCancellationPolicy(cfg.Cancellation, cfg.TripLocation())
	if err != nil {
		logger.Fatalf("Invalid cancellation policy: %v", err)
	}

	var locker services.PaymentLocker = services.NewLocalLocker()
	if redisClient != nil {
		locker = services.NewRedisLocker(redisClient)
	}

	gateway := newGateway(&cfg.Payment, logger)
	logger.WithField("provider", gateway.Name()).Info("Payment gateway initialized")

	availabilityService := services.NewAvailabilityService(bookingRepo, referenceRepo, logger)
	bookingService := services.NewBookingService(
		db,
		bookingRepo,
		paymentRepo,
		outboxRepo,
		auditRepo,
		referenceRepo,
		availabilityService,
		policy,
		notifier,
		logger,
	)
	paymentService := services.NewPaymentService(
		db,
		bookingRepo,
		paymentRepo,
		methodRepo,
		outboxRepo,
		auditRepo,
		gateway,
		locker,
		notifier,
		&cfg.Payment,
		logger,
	)
	reconciliationService := services.NewReconciliationService(paymentService, cfg.Jobs, logger)

	// Initialize and start cron service
	cronService := services.NewCronService(reconciliationService, cfg.Jobs.ReconciliationSchedule, logger)
	if err := cronService.Start(); err != nil {
		logger.Fatalf("Failed to start cron service: %v", err)
	}
	defer cronService.Stop()

	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessTokenExpiry)
	logger.Info("Services initialized")

	// Initialize handlers
	bookingHandler := handlers.NewBookingHandler(bookingService, logger)
	paymentHandler := handlers.NewPaymentHandler(paymentService, logger)
	vehicleHandler := handlers.NewVehicleHandler(availabilityService, logger)
	adminHandler := handlers.NewAdminHandler(reconciliationService, logger)

	// Rate limits
	generalLimit, err := newRateLimit(redisClient, "general", cfg.RateLimit.GeneralRate)
	if err != nil {
		logger.Fatalf("Invalid general rate limit: %v", err)
	}
	paymentLimit, err := newRateLimit(redisClient, "payments", cfg.RateLimit.PaymentRate)
	if err != nil {
		logger.Fatalf("Invalid payment rate limit: %v", err)
	}

	// Initialize Gin router
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestMeta())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.Metrics())

	// CORS configuration
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// Health check and metrics
	router.GET("/health", handlers.HealthCheck(db, version))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(generalLimit)
	v1.Use(middleware.AuthMiddleware(jwtService))
	{
		touristOnly := middleware.RequireRole(string(models.RoleTourist))

		bookings := v1.Group("/bookings")
		{
			bookings.POST("", touristOnly, bookingHandler.CreateBooking)
			bookings.GET("", bookingHandler.ListBookings)
			bookings.GET("/:id", bookingHandler.GetBooking)
			bookings.PATCH("/:id/status", bookingHandler.UpdateStatus)
			bookings.POST("/:id/cancel", bookingHandler.CancelBooking)
		}

		v1.POST("/payments", touristOnly, paymentLimit, paymentHandler.ProcessPayment)

		methods := v1.Group("/payment-methods")
		methods.Use(touristOnly)
		{
			methods.GET("", paymentHandler.ListPaymentMethods)
			methods.PUT("/:id/default", paymentHandler.SetDefaultPaymentMethod)
			methods.DELETE("/:id", paymentHandler.DeletePaymentMethod)
		}

		v1.GET("/vehicles/available", vehicleHandler.ListAvailable)

		admin := v1.Group("/admin")
		admin.Use(middleware.RequireRole(string(models.RoleAdmin)))
		{
			admin.GET("/reconciliation", adminHandler.GetReconciliationQueue)
			admin.POST("/reconciliation/run", adminHandler.RunReconciliation)
		}
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return asyncDispatcher.Run(gctx)
	})

	if len(cfg.Kafka.Brokers) > 0 {
		producer := messaging.NewKafkaProducer(messaging.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		})
		defer producer.Close()

		relay := services.NewOutboxRelay(outboxRepo, producer, cfg.Kafka.PollInterval, cfg.Kafka.BatchSize, logger)
		g.Go(func() error {
			return relay.Run(gctx)
		})
	} else {
		logger.Info("No Kafka brokers configured, booking events stay in the outbox")
	}

	g.Go(func() error {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("Server forced to shutdown: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Server stopped with error")
		return
	}
	logger.Info("Server exited successfully")
}

func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func newGateway(cfg *config.PaymentConfig, logger *logrus.Logger) services.PaymentGateway {
	switch cfg.Provider {
	case "payable":
		return services.NewPayableGateway(cfg, logger)
	case "razorpay":
		return services.NewRazorpayGateway(cfg.RazorpayKeyID, cfg.RazorpayKeySecret, logger)
	default:
		logger.Warn("Using sandbox payment gateway, no real charges will be made")
		return services.NewSandboxGateway()
	}
}

func newDispatcher(cfg config.NotificationConfig, logger *logrus.Logger) (notifications.Dispatcher, error) {
	switch cfg.Mode {
	case "smtp":
		logger.WithField("host", cfg.SMTPHost).Info("Notifications delivered over SMTP")
		return notifications.NewSMTPDispatcher(cfg, logger), nil
	case "amqp":
		logger.WithField("queue", cfg.AMQPQueue).Info("Notifications published to RabbitMQ")
		return notifications.NewAMQPDispatcher(cfg.AMQPURL, cfg.AMQPQueue)
	default:
		logger.Info("Notifications in log mode (nothing is delivered)")
		return notifications.NewLogDispatcher(logger), nil
	}
}

func newRateLimit(client *redis.Client, routeID, rate string) (gin.HandlerFunc, error) {
	store, err := middleware.NewLimiterStore(client, routeID)
	if err != nil {
		return nil, err
	}
	return middleware.RateLimit(store, rate)
}
