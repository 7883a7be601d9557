// Entry point for the attendance record-store API.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"recordstore.service/internal/api"
	"recordstore.service/internal/api/handler"
	"recordstore.service/internal/config"
	core "recordstore.service/internal/core"
	"recordstore.service/internal/core/notify"
	"recordstore.service/internal/ports/source"
	"recordstore.service/internal/ports/storage"
	awsboot "recordstore.service/pkg/aws"
	"recordstore.service/pkg/database"
	"recordstore.service/pkg/logger"
	"recordstore.service/pkg/telemetry"
)

func main() {
	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load configuration")
	}

	// Configure structured logging
	logger.Setup("recordstore-api", cfg.IsLocalDev)

	// Configure OpenTelemetry tracing
	shutdownTracer, err := telemetry.InitTracer("recordstore-api", cfg.IsLocalDev)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init tracer")
	}
	defer func() {
		_ = shutdownTracer(context.Background())
	}()

	// DB connection
	db, err := database.NewInstrumentedConnection(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening database")
	}
	defer db.Close()
	log.Info().Msg("Successfully connected to the database.")

	// AWS SDK config
	awsCfg, err := awsboot.NewAWSConfig(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load SDK config")
	}

	// Initialize dependencies
	sqsClient := sqs.NewFromConfig(awsCfg)
	feed := source.NewSQSFeed(sqsClient, cfg.FeedSQSQueueURL)
	src := source.NewPostgresSource(db, feed)

	notifier := notify.NewSESNotifier(ses.NewFromConfig(awsCfg), cfg.AlertSender, cfg.AlertRecipient)
	uploader := storage.NewS3Uploader(s3.NewFromConfig(awsCfg), cfg.PhotoBaseURL)

	viewService := core.NewViewService(src, notifier, log.Logger)

	// Activate the view: initial load + change-feed subscription.
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	if err := viewService.Activate(rootCtx); err != nil {
		// Transient fetch failures are recoverable via /records/refresh;
		// start anyway and serve the (empty) last known state.
		log.Error().Err(err).Msg("Initial load failed, serving empty view until refresh")
	}
	defer viewService.Deactivate()

	// Setup router and server
	router := api.NewRouter(&handler.RecordHandler{
		Service:     viewService,
		Uploader:    uploader,
		PhotoBucket: cfg.PhotoBucket,
	})

	// Middleware to inject logger with trace ID
	loggerMiddleware := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := logger.EnrichContextWithLogger(r.Context())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}

	// Wrap the router with OpenTelemetry middleware to create spans per request
	h := otelhttp.NewHandler(loggerMiddleware(router), "api")

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: h,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", cfg.ServerPort).Msg("Record store API starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exiting")
}
