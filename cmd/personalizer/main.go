// main package for the personalizer service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/clipgreet/personalizer/internal/avatar"
	"github.com/clipgreet/personalizer/internal/config"
	"github.com/clipgreet/personalizer/internal/gateway"
	"github.com/clipgreet/personalizer/internal/jobcache"
	"github.com/clipgreet/personalizer/internal/media"
	"github.com/clipgreet/personalizer/internal/messaging"
	"github.com/clipgreet/personalizer/internal/pipeline"
	"github.com/clipgreet/personalizer/internal/speech"
	"github.com/clipgreet/personalizer/internal/worker"
)

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "personalizer-bootstrap.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create bootstrap logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		// If bootstrap logger fails, we can only print to stderr
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	return serve(cfg, finalLog)
}

// serve wires the collaborators and runs the worker until a shutdown signal.
func serve(cfg *config.Config, log *logger.Logger) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	cache, err := jobcache.New(jetstreamContext, cfg.NATS.PreviewCacheBucket, cfg.PreviewTTL())
	if err != nil {
		return fmt.Errorf("failed to initialize preview cache: %w", err)
	}

	orchestrator := buildOrchestrator(cfg, cache, log)

	natsWorker, err := worker.NewNatsWorker(
		natsConnection,
		cfg.NATS.JobSubject,
		cfg.NATS.OutcomeSubject,
		orchestrator,
		log,
	)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.System("Personalizer initialized. Listening for jobs on subject: %s", cfg.NATS.JobSubject)

	runErr := natsWorker.Run(ctx)
	if runErr != nil {
		return fmt.Errorf("worker stopped: %w", runErr)
	}

	return nil
}

func buildOrchestrator(cfg *config.Config, cache *jobcache.NatsJobCache, log *logger.Logger) *pipeline.Orchestrator {
	speechGateway := gateway.NewClient(
		cfg.Speech.BaseURL,
		&gateway.StaticKey{Header: "apikey", Key: cfg.Speech.APIKey},
		time.Duration(cfg.Speech.TimeoutSeconds)*time.Second,
		log,
	)
	speechClient := speech.NewClient(speechGateway, log)

	tool := media.NewAdapter(cfg.Media.FFmpegPath, cfg.Media.FFprobePath)
	engine := media.NewEngine(tool, log)

	avatarTimeout := time.Duration(cfg.Avatar.TimeoutSeconds) * time.Second
	avatarSession := gateway.NewSession(avatar.TokenRefresher(cfg.Avatar.BaseURL, cfg.Avatar.APIKey, avatarTimeout))
	avatarGateway := gateway.NewClient(cfg.Avatar.BaseURL, avatarSession, avatarTimeout, log)
	avatarService := avatar.NewService(avatarGateway, tool, cfg.PollInterval(), cfg.PollBudget(), log)

	messagingGateway := gateway.NewClient(
		cfg.Messaging.BaseURL,
		&gateway.StaticKey{Header: "apikey", Key: cfg.Messaging.APIKey},
		time.Duration(cfg.Messaging.TimeoutSeconds)*time.Second,
		log,
	)
	sender := messaging.NewSender(
		messagingGateway,
		cfg.Messaging.Instance,
		cfg.Messaging.SendRetries,
		cfg.SendBackoff(),
		cfg.Messaging.MediaSizeLimit,
		log,
	)

	var notifier *messaging.WebhookNotifier

	if cfg.Messaging.WebhookURL != "" {
		webhookGateway := gateway.NewClient(
			cfg.Messaging.WebhookURL,
			&gateway.StaticKey{Header: "", Key: ""},
			time.Duration(cfg.Messaging.TimeoutSeconds)*time.Second,
			log,
		)
		notifier = messaging.NewWebhookNotifier(webhookGateway, log)
	}

	deps := pipeline.Deps{
		Transcriber: speechClient,
		Voices:      speechClient,
		Avatars:     avatarService,
		Splicer:     engine,
		Media:       tool,
		Messenger:   sender,
		Notifier:    nil,
		Cache:       cache,
		Persist:     nil,
		Log:         log,
	}
	if notifier != nil {
		deps.Notifier = notifier
	}

	return pipeline.New(deps, pipeline.Options{
		ContextBefore:   cfg.ContextBefore(),
		ContextAfter:    cfg.Pipeline.ContextAfter,
		PadMs:           cfg.Pipeline.PadMs,
		MinClipSeconds:  cfg.Pipeline.MinClipSeconds,
		OverlayWidth:    cfg.Media.OverlayWidth,
		OverlayPosition: cfg.Media.OverlayPosition,
		WorkDir:         cfg.Paths.WorkDir,
	})
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
