package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sicko7947/replayflow"
	"github.com/sicko7947/replayflow/artifacts"
	"github.com/sicko7947/replayflow/browser"
	"github.com/sicko7947/replayflow/engine"
	"github.com/sicko7947/replayflow/example/contact_form"
	"github.com/sicko7947/replayflow/store"
)

func main() {
	startURL := flag.String("url", "https://example.com/contact", "contact page")
	name := flag.String("name", "Alex", "name to submit")
	email := flag.String("email", "alex@example.com", "email to submit")
	topic := flag.String("topic", "Support", "topic to choose")
	headless := flag.Bool("headless", false, "run Chrome headless")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workflowStore := store.NewMemoryStore()
	wf, err := contact_form.NewContactFormWorkflow(*startURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build contact form workflow")
	}
	if err := workflowStore.SaveWorkflow(ctx, wf); err != nil {
		log.Fatal().Err(err).Msg("Failed to save workflow")
	}

	artifactStore, err := artifacts.NewFileStore("artifacts")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create artifact store")
	}

	cfg := replayflow.DefaultConfig()
	cfg.Workers = 1
	cfg.Browser.Headless = *headless

	wfEngine := engine.NewEngine(
		workflowStore,
		browser.NewChromeLauncher(cfg.Browser, log.Logger),
		engine.WithLogger(log.Logger),
		engine.WithConfig(cfg),
		engine.WithArtifacts(artifactStore),
	)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := wfEngine.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Engine forced to shutdown")
		}
	}()

	runID, err := wfEngine.CreateRun(ctx, contact_form.WorkflowID, map[string]string{
		"name":  *name,
		"email": *email,
		"topic": *topic,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start run")
	}
	log.Info().Str("run_id", runID).Msg("Run started")

	if err := drive(ctx, wfEngine, runID, bufio.NewReader(os.Stdin)); err != nil {
		log.Error().Err(err).Msg("Run did not finish")
	}
}

// drive polls the run and answers pauses from the terminal
func drive(ctx context.Context, eng *engine.Engine, runID string, in *bufio.Reader) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	seen := 0
	for {
		select {
		case <-ctx.Done():
			_ = eng.Cancel(context.Background(), runID, "interrupted")
			return ctx.Err()
		case <-ticker.C:
		}

		view, err := eng.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		for _, entry := range view.Logs[seen:] {
			fmt.Printf("[%s] %s\n", entry.Level, entry.Message)
		}
		seen = len(view.Logs)

		switch view.Status {
		case replayflow.RunStatusSucceeded:
			fmt.Printf("Done: %d/%d steps\n", view.CurrentStep, view.TotalSteps)
			return nil

		case replayflow.RunStatusFailed:
			return fmt.Errorf("%s: %s", view.ErrorCode, view.ErrorMessage)

		case replayflow.RunStatusWaitingForAuth:
			fmt.Print("Sign in in the browser window, then press Enter to continue: ")
			if _, err := in.ReadString('\n'); err != nil {
				return err
			}
			if err := eng.ContinueAfterAuth(ctx, runID); err != nil {
				return err
			}

		case replayflow.RunStatusNeedsUserDisambiguation:
			choice, err := ask(view.Disambiguation, in)
			if err != nil {
				return err
			}
			if err := eng.ChooseCandidate(ctx, runID, view.Disambiguation.StepIndex, choice); err != nil {
				fmt.Println(err)
			}
		}
	}
}

func ask(d *replayflow.DisambiguationPayload, in *bufio.Reader) (int, error) {
	fmt.Printf("Step %d (%s): %s\n", d.StepIndex+1, d.StepDescription, d.Reason)
	for _, c := range d.Candidates {
		fmt.Printf("  %d) %s at %s (%.2f)\n", c.Index, c.Label, c.Location, c.Confidence)
	}
	fmt.Print("Which one? ")

	line, err := in.ReadString('\n')
	if err != nil {
		return 0, err
	}
	choice, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", strings.TrimSpace(line))
	}
	return choice, nil
}
