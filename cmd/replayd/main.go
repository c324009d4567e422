package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
	"github.com/sicko7947/replayflow/api"
	"github.com/sicko7947/replayflow/browser"
	"github.com/sicko7947/replayflow/engine"
	"github.com/sicko7947/replayflow/events"
	"github.com/sicko7947/replayflow/store"
	cli "github.com/urfave/cli/v3"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cmd := &cli.Command{
		Name:                  "replayd",
		Usage:                 "Replay recorded browser workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file",
				Sources: cli.EnvVars("REPLAYD_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (json, console)",
				Value:   "json",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
			&cli.StringFlag{
				Name:    "dynamodb-endpoint",
				Usage:   "Override the DynamoDB endpoint (local testing)",
				Sources: cli.EnvVars("DYNAMODB_ENDPOINT"),
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			initTableCommand(),
			eventsCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Fatal().Err(err).Msg("replayd failed")
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API and the run workers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "listen",
				Aliases: []string{"l"},
				Usage:   "Address to listen on",
				Value:   ":8080",
				Sources: cli.EnvVars("LISTEN_ADDR"),
			},
			&cli.StringFlag{
				Name:    "templates",
				Usage:   "Directory of workflow templates loaded at startup",
				Sources: cli.EnvVars("TEMPLATES_DIR"),
			},
			&cli.IntFlag{
				Name:    "workers",
				Usage:   "Maximum concurrent runs",
				Sources: cli.EnvVars("WORKERS"),
			},
			&cli.BoolFlag{
				Name:    "headless",
				Usage:   "Run Chrome headless",
				Sources: cli.EnvVars("BROWSER_HEADLESS"),
			},
			&cli.StringFlag{
				Name:    "browser-url",
				Usage:   "DevTools websocket URL of a running browser",
				Sources: cli.EnvVars("BROWSER_URL"),
			},
			&cli.StringFlag{
				Name:    "store",
				Usage:   "Run store backend (memory, dynamodb)",
				Sources: cli.EnvVars("STORE_BACKEND"),
			},
			&cli.StringFlag{
				Name:    "table",
				Usage:   "DynamoDB table name",
				Sources: cli.EnvVars("DYNAMODB_TABLE"),
			},
			&cli.StringFlag{
				Name:    "artifacts-dir",
				Usage:   "Write screenshots to this directory",
				Sources: cli.EnvVars("ARTIFACTS_DIR"),
			},
			&cli.StringFlag{
				Name:    "events",
				Usage:   "Run event backend (none, gochannel, kafka)",
				Sources: cli.EnvVars("EVENTS_BACKEND"),
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				Usage:   "Kafka brokers for run events",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringSliceFlag{
				Name:    "auth-url-pattern",
				Usage:   "Extra URL substring that marks an authentication page",
				Sources: cli.EnvVars("AUTH_URL_PATTERNS"),
			},
		},
		Action: serve,
	}
}

func serve(ctx context.Context, command *cli.Command) error {
	logger := setupLogging(command.String("log-level"), command.String("log-format"))

	cfg, err := loadConfig(command)
	if err != nil {
		return err
	}
	logger.Info().Int("workers", cfg.Workers).Str("store", cfg.Store.Backend).Msg("Initializing replayd")

	st, err := newStore(ctx, cfg.Store, command.String("dynamodb-endpoint"), logger)
	if err != nil {
		return err
	}

	artifactStore, err := newArtifacts(ctx, cfg.Artifacts)
	if err != nil {
		return fmt.Errorf("failed to create artifact store: %w", err)
	}

	bus, err := newEventBus(cfg.Events, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close event bus")
		}
	}()
	if bus.subscriber != nil {
		if err := logEvents(ctx, bus.subscriber, cfg.Events.Topic, logger); err != nil {
			return err
		}
	}

	n, err := loadTemplates(ctx, command.String("templates"), st, logger)
	if err != nil {
		return err
	}
	logger.Info().Int("templates", n).Msg("Workflow templates loaded")

	eng := engine.NewEngine(st, browser.NewChromeLauncher(cfg.Browser, logger),
		engine.WithLogger(logger),
		engine.WithConfig(cfg),
		engine.WithArtifacts(artifactStore),
		engine.WithEvents(bus.sink),
	)

	recovered, err := eng.RecoverInterrupted(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to recover interrupted runs")
	} else if recovered > 0 {
		logger.Warn().Int("runs", recovered).Msg("Marked interrupted runs as failed")
	}

	app := api.NewHandlers(eng, logger).App()

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- app.Listen(command.String("listen"), fiber.ListenConfig{DisableStartupMessage: true})
	}()
	logger.Info().Str("addr", command.String("listen")).Msg("HTTP API listening")

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down")
	case err := <-listenErr:
		if err != nil {
			logger.Error().Err(err).Msg("HTTP server stopped")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to stop HTTP server")
	}
	if err := eng.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func initTableCommand() *cli.Command {
	return &cli.Command{
		Name:  "init-table",
		Usage: "Create the DynamoDB table and its indexes",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "table",
				Usage:    "DynamoDB table name",
				Required: true,
				Sources:  cli.EnvVars("DYNAMODB_TABLE"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := setupLogging(command.String("log-level"), command.String("log-format"))

			client, err := newDynamoDBClient(ctx, command.String("dynamodb-endpoint"))
			if err != nil {
				return err
			}

			table := command.String("table")
			if err := store.CreateTable(ctx, client, table); err != nil {
				return err
			}
			logger.Info().Str("table", table).Msg("Table ready")
			return nil
		},
	}
}

func eventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Inspect run events",
		Commands: []*cli.Command{
			{
				Name:  "tail",
				Usage: "Print run events from Kafka as JSON lines",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:     "kafka-brokers",
						Usage:    "Kafka brokers",
						Required: true,
						Sources:  cli.EnvVars("KAFKA_BROKERS"),
					},
					&cli.StringFlag{
						Name:    "topic",
						Usage:   "Run event topic",
						Value:   "replayflow.runs",
						Sources: cli.EnvVars("EVENTS_TOPIC"),
					},
					&cli.StringFlag{
						Name:    "group",
						Usage:   "Kafka consumer group",
						Value:   "replayd-tail",
						Sources: cli.EnvVars("KAFKA_GROUP"),
					},
					&cli.StringFlag{
						Name:  "run",
						Usage: "Only print events of this run",
					},
				},
				Action: tailEvents,
			},
		},
	}
}

func tailEvents(ctx context.Context, command *cli.Command) error {
	logger := setupLogging(command.String("log-level"), command.String("log-format"))

	sub, err := events.NewKafkaSubscriber(command.StringSlice("kafka-brokers"), command.String("group"), events.NewLoggerAdapter(logger))
	if err != nil {
		return fmt.Errorf("failed to create kafka subscriber: %w", err)
	}
	defer func() {
		if err := sub.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close subscriber")
		}
	}()

	stream, err := events.Subscribe(ctx, sub, command.String("topic"), logger)
	if err != nil {
		return err
	}

	out := log.Output(os.Stdout)
	runID := command.String("run")
	for ev := range stream {
		if runID != "" && ev.RunID != runID {
			continue
		}
		out.Log().
			Str("type", ev.Type).
			Str("run_id", ev.RunID).
			Str("status", ev.Status.String()).
			Int("current_step", ev.Step).
			Interface("log", ev.Log).
			Msg("")
	}

	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
