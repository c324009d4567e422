package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sicko7947/replayflow"
	"github.com/sicko7947/replayflow/artifacts"
	"github.com/sicko7947/replayflow/builder"
	"github.com/sicko7947/replayflow/events"
	"github.com/sicko7947/replayflow/store"
	"github.com/urfave/cli/v3"
)

// setupLogging configures the global zerolog logger
func setupLogging(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.Logger = log.Logger.With().Str("service", "replayd").Logger()
	return log.Logger
}

// loadConfig reads the config file and applies flags that were set
func loadConfig(command *cli.Command) (replayflow.Config, error) {
	cfg, err := replayflow.LoadConfig(command.String("config"))
	if err != nil {
		return cfg, err
	}

	if command.IsSet("workers") {
		cfg.Workers = command.Int("workers")
	}
	if command.IsSet("headless") {
		cfg.Browser.Headless = command.Bool("headless")
	}
	if command.IsSet("browser-url") {
		cfg.Browser.RemoteURL = command.String("browser-url")
	}
	if command.IsSet("store") {
		cfg.Store.Backend = command.String("store")
	}
	if command.IsSet("table") {
		cfg.Store.TableName = command.String("table")
	}
	if command.IsSet("artifacts-dir") {
		cfg.Artifacts.Backend = "fs"
		cfg.Artifacts.Dir = command.String("artifacts-dir")
	}
	if command.IsSet("events") {
		cfg.Events.Backend = command.String("events")
	}
	if command.IsSet("kafka-brokers") {
		cfg.Events.Brokers = command.StringSlice("kafka-brokers")
	}
	if command.IsSet("auth-url-pattern") {
		cfg.Auth.URLPatterns = append(cfg.Auth.URLPatterns, command.StringSlice("auth-url-pattern")...)
	}

	return cfg, cfg.Validate()
}

func newDynamoDBClient(ctx context.Context, endpoint string) (*dynamodb.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

func newStore(ctx context.Context, cfg replayflow.StoreConfig, endpoint string, logger zerolog.Logger) (replayflow.Store, error) {
	switch cfg.Backend {
	case "dynamodb":
		client, err := newDynamoDBClient(ctx, endpoint)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("table", cfg.TableName).Msg("Using DynamoDB store")
		return store.NewDynamoDBStore(client, cfg.TableName), nil
	case "memory", "":
		logger.Warn().Msg("Using in-memory store, runs are lost on restart")
		return store.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unsupported store backend %q", cfg.Backend)
}

func newArtifacts(ctx context.Context, cfg replayflow.ArtifactsConfig) (artifacts.Store, error) {
	switch cfg.Backend {
	case "minio":
		client, err := artifacts.NewMinioClient(cfg.MinIO)
		if err != nil {
			return nil, err
		}
		return artifacts.NewMinioStore(ctx, client, cfg.MinIO)
	case "fs", "":
		return artifacts.NewFileStore(cfg.Dir)
	}
	return nil, fmt.Errorf("unsupported artifacts backend %q", cfg.Backend)
}

// eventBus holds the publisher side and, for in-process delivery, the
// subscriber side of the run event topic
type eventBus struct {
	sink       events.Sink
	subscriber message.Subscriber
	closers    []func() error
}

func (b *eventBus) Close() error {
	var errs []error
	for _, c := range b.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newEventBus(cfg replayflow.EventsConfig, logger zerolog.Logger) (*eventBus, error) {
	adapter := events.NewLoggerAdapter(logger)

	switch cfg.Backend {
	case "kafka":
		pub, err := events.NewKafkaPublisher(cfg.Brokers, adapter)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
		}
		p := events.NewPublisher(pub, cfg.Topic)
		return &eventBus{sink: p, closers: []func() error{p.Close}}, nil
	case "gochannel":
		ch := events.NewGoChannel(adapter)
		return &eventBus{
			sink:       events.NewPublisher(ch, cfg.Topic),
			subscriber: ch,
			closers:    []func() error{ch.Close},
		}, nil
	case "none", "":
		return &eventBus{sink: events.Nop{}}, nil
	}
	return nil, fmt.Errorf("unsupported events backend %q", cfg.Backend)
}

// logEvents writes in-process run events to the debug log until ctx is done
func logEvents(ctx context.Context, sub message.Subscriber, topic string, logger zerolog.Logger) error {
	stream, err := events.Subscribe(ctx, sub, topic, logger)
	if err != nil {
		return err
	}
	go func() {
		for ev := range stream {
			logger.Debug().
				Str("event_type", ev.Type).
				Str("run_id", ev.RunID).
				Str("status", ev.Status.String()).
				Int("current_step", ev.Step).
				Msg("Run event")
		}
	}()
	return nil
}

// loadTemplates saves every YAML or JSON template under dir to the store.
// Selectors already learned for an unchanged step survive the reload.
func loadTemplates(ctx context.Context, dir string, st replayflow.Store, logger zerolog.Logger) (int, error) {
	if dir == "" {
		return 0, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read templates directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}

		path := filepath.Join(dir, entry.Name())
		wf, err := builder.LoadTemplate(path)
		if err != nil {
			return loaded, fmt.Errorf("template %s: %w", path, err)
		}
		kept := 0
		existing, err := st.GetWorkflow(ctx, wf.WorkflowID)
		switch {
		case err == nil:
			wf, kept = keepLearnedSelectors(wf, existing)
			wf.CreatedAt = existing.CreatedAt
		case !errors.Is(err, replayflow.ErrNotFound):
			return loaded, fmt.Errorf("failed to read workflow %s: %w", wf.WorkflowID, err)
		}
		if err := st.SaveWorkflow(ctx, wf); err != nil {
			return loaded, fmt.Errorf("failed to save template %s: %w", wf.WorkflowID, err)
		}
		logger.Info().
			Str("workflow_id", wf.WorkflowID).
			Int("steps", len(wf.Steps)).
			Int("learned_kept", kept).
			Msg("Loaded workflow template")
		loaded++
	}
	return loaded, nil
}

// keepLearnedSelectors copies selectors learned on stored into the freshly
// parsed template. A step keeps its selector only while its kind and target
// hints are unchanged and the file does not set one itself.
func keepLearnedSelectors(wf, stored *replayflow.WorkflowTemplate) (*replayflow.WorkflowTemplate, int) {
	kept := 0
	for i, step := range wf.Steps {
		if i >= len(stored.Steps) {
			break
		}
		fresh, ok := step.(replayflow.Targeted)
		if !ok {
			continue
		}
		old, ok := stored.Steps[i].(replayflow.Targeted)
		if !ok || old.Kind() != fresh.Kind() || old.TargetHints() != fresh.TargetHints() {
			continue
		}
		if sel, _ := fresh.LearnedSelector(); sel != "" {
			continue
		}
		sel, frame := old.LearnedSelector()
		if sel == "" {
			continue
		}
		wf.Steps[i] = fresh.WithLearnedSelector(sel, frame)
		kept++
	}
	return wf, kept
}
