// Entry point for the change-feed relay: receives change notifications
// from the hosted store's webhook and forwards them onto the SQS queue the
// record-store views poll.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"recordstore.service/internal/config"
	"recordstore.service/internal/ports/source"
	awsboot "recordstore.service/pkg/aws"
	"recordstore.service/pkg/logger"
	"recordstore.service/pkg/telemetry"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load configuration")
	}

	logger.Setup("recordstore-feed-relay", cfg.IsLocalDev)

	shutdownTracer, err := telemetry.InitTracer("recordstore-feed-relay", cfg.IsLocalDev)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init tracer")
	}
	defer func() {
		_ = shutdownTracer(context.Background())
	}()

	awsCfg, err := awsboot.NewAWSConfig(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load SDK config")
	}

	publisher := source.NewSQSPublisher(sqs.NewFromConfig(awsCfg), cfg.FeedSQSQueueURL)

	r := mux.NewRouter()
	r.HandleFunc("/feed", func(w http.ResponseWriter, req *http.Request) {
		var ev source.ChangeEvent
		if err := json.NewDecoder(req.Body).Decode(&ev); err != nil {
			http.Error(w, "Invalid change event", http.StatusBadRequest)
			return
		}
		if ev.Table == "" || ev.Type == "" {
			http.Error(w, "table and eventType are required", http.StatusBadRequest)
			return
		}

		if err := publisher.Publish(req.Context(), ev); err != nil {
			log.Ctx(req.Context()).Error().Err(err).Msg("Failed to publish change event")
			http.Error(w, "Failed to enqueue change event", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}).Methods(http.MethodPost)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:    ":" + cfg.RelayPort,
		Handler: otelhttp.NewHandler(r, "feed-relay"),
	}

	go func() {
		log.Info().Str("port", cfg.RelayPort).Msg("Feed relay starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down relay...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Relay forced to shutdown")
	}

	log.Info().Msg("Relay exiting")
}
