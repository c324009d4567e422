package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sicko7947/replayflow"
	"github.com/sicko7947/replayflow/artifacts"
	"github.com/sicko7947/replayflow/browser"
	"github.com/sicko7947/replayflow/resolver"
)

// Interpreter executes one step against a live page
type Interpreter struct {
	resolver  *resolver.Resolver
	auth      *AuthDetector
	artifacts artifacts.Store
	config    replayflow.Config
	logger    zerolog.Logger
}

// NewInterpreter creates an interpreter
func NewInterpreter(res *resolver.Resolver, auth *AuthDetector, store artifacts.Store, config replayflow.Config, logger zerolog.Logger) *Interpreter {
	return &Interpreter{
		resolver:  res,
		auth:      auth,
		artifacts: store,
		config:    config,
		logger:    logger,
	}
}

// StepInput is everything a step needs besides the page
type StepInput struct {
	RunID    string
	StartURL string
	Index    int
	Step     replayflow.Step // parameters already substituted

	// Learned is the selector chosen for this step, if any, and
	// LearnedFrame the frame it applies to
	Learned      string
	LearnedFrame []int
}

// StepOutput reports side results of a step
type StepOutput struct {
	ScreenshotPath string // set by SCREENSHOT steps
}

// Execute runs in.Step. Pause signals and failures come back as the typed
// errors of the root package.
func (it *Interpreter) Execute(ctx context.Context, page browser.Page, in StepInput) (*StepOutput, error) {
	switch s := in.Step.(type) {
	case replayflow.GotoStep:
		return &StepOutput{}, it.gotoURL(ctx, page, in, s)
	case replayflow.ClickStep:
		return &StepOutput{}, it.click(ctx, page, in, s)
	case replayflow.TypeStep:
		return &StepOutput{}, it.typeText(ctx, page, in, s)
	case replayflow.SelectStep:
		return &StepOutput{}, it.selectOption(ctx, page, in, s)
	case replayflow.WaitStep:
		return &StepOutput{}, it.wait(ctx, page, s)
	case replayflow.ScrollStep:
		return &StepOutput{}, it.scroll(ctx, page, s)
	case replayflow.ScreenshotStep:
		return it.screenshot(ctx, page, in, s)
	case nil:
		return nil, replayflow.NewActionError("execute step", fmt.Errorf("step %d is nil", in.Index))
	}
	return nil, replayflow.NewActionError("execute step", fmt.Errorf("unsupported step kind %s", in.Step.Kind()))
}

func (it *Interpreter) gotoURL(ctx context.Context, page browser.Page, in StepInput, s replayflow.GotoStep) error {
	url := s.URL
	if url == "" {
		url = in.StartURL
	}
	if url == "" {
		return replayflow.NewActionError("navigate", fmt.Errorf("no url and no start url"))
	}
	if err := page.Navigate(ctx, url); err != nil {
		return replayflow.NewActionError("navigate to "+url, err)
	}
	return nil
}

func (it *Interpreter) locate(ctx context.Context, page browser.Page, in StepInput, s replayflow.Targeted) (*resolver.Match, error) {
	return it.resolver.Resolve(ctx, page, resolver.Request{
		StepIndex:    in.Index,
		Kind:         s.Kind(),
		Description:  s.Describe(),
		Target:       s.TargetHints(),
		Learned:      in.Learned,
		LearnedFrame: in.LearnedFrame,
	})
}

func (it *Interpreter) click(ctx context.Context, page browser.Page, in StepInput, s replayflow.ClickStep) error {
	m, err := it.locate(ctx, page, in, s)
	if err != nil {
		return err
	}
	if err := page.Click(ctx, m.Element); err != nil {
		return replayflow.NewActionError("click", err)
	}
	return nil
}

func (it *Interpreter) typeText(ctx context.Context, page browser.Page, in StepInput, s replayflow.TypeStep) error {
	m, err := it.locate(ctx, page, in, s)
	if err != nil {
		return err
	}
	res, err := page.Type(ctx, m.Element, s.Value, s.ClearFirst)
	if err != nil {
		return replayflow.NewActionError("type", err)
	}
	if res.Verifiable && !strings.Contains(res.Value, s.Value) {
		return replayflow.NewActionError("type", fmt.Errorf("field value %q does not contain the typed text", res.Value))
	}
	return nil
}

func (it *Interpreter) selectOption(ctx context.Context, page browser.Page, in StepInput, s replayflow.SelectStep) error {
	m, err := it.locate(ctx, page, in, s)
	if err != nil {
		return err
	}
	res, err := page.SelectOption(ctx, m.Element, s.Value)
	if err != nil {
		return replayflow.NewActionError("select", err)
	}
	if res.Native {
		if !res.Selected {
			return replayflow.NewActionError("select", fmt.Errorf("option %q not found; available: %s",
				s.Value, strings.Join(res.Options, ", ")))
		}
		return nil
	}

	// Custom dropdown: open it, type the value and confirm
	if err := page.Click(ctx, m.Element); err != nil {
		return replayflow.NewActionError("open dropdown", err)
	}
	if _, err := page.Type(ctx, m.Element, s.Value, true); err != nil {
		return replayflow.NewActionError("type option", err)
	}
	if err := page.PressEnter(ctx); err != nil {
		return replayflow.NewActionError("confirm option", err)
	}
	return nil
}

func (it *Interpreter) wait(ctx context.Context, page browser.Page, s replayflow.WaitStep) error {
	if !s.HasCondition() {
		return sleepCtx(ctx, time.Duration(s.Seconds*float64(time.Second)))
	}

	timeout := it.config.Wait.DefaultTimeout
	if s.TimeoutSeconds > 0 {
		timeout = time.Duration(s.TimeoutSeconds * float64(time.Second))
	}
	deadline := time.Now().Add(timeout)

	for {
		ok, err := it.conditionHolds(ctx, page, s)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if pause := it.auth.Check(ctx, page); pause != nil {
			return pause
		}
		if !time.Now().Before(deadline) {
			return &replayflow.TimeoutError{
				Condition: s.Describe(),
				After:     timeout,
				PageInfo:  pageInfo(ctx, page),
			}
		}
		if err := sleepCtx(ctx, it.config.Wait.PollInterval); err != nil {
			return err
		}
	}
}

// conditionHolds checks every condition set on s; all must hold
func (it *Interpreter) conditionHolds(ctx context.Context, page browser.Page, s replayflow.WaitStep) (bool, error) {
	if s.UntilURLContains != "" {
		url, _, err := page.Location(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return false, nil
		}
		if !strings.Contains(url, s.UntilURLContains) {
			return false, nil
		}
	}
	if s.UntilSelector != "" {
		m, err := it.resolver.FirstVisible(ctx, page, s.UntilSelector, 0)
		if err != nil {
			return false, err
		}
		if m == nil {
			return false, nil
		}
	}
	if s.UntilTextVisible != "" {
		text, err := page.VisibleText(ctx, it.config.Resolver.MaxFrameDepth)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return false, nil
		}
		if !strings.Contains(strings.ToLower(text), strings.ToLower(s.UntilTextVisible)) {
			return false, nil
		}
	}
	return true, nil
}

func (it *Interpreter) scroll(ctx context.Context, page browser.Page, s replayflow.ScrollStep) error {
	if s.TargetSelector != "" {
		m, err := it.resolver.FirstVisible(ctx, page, s.TargetSelector, it.config.Resolver.SelectorTimeout)
		if err != nil {
			return err
		}
		if m == nil {
			return &replayflow.ElementNotFoundError{
				Step:     s.Describe(),
				Tried:    []string{"selector " + s.TargetSelector},
				PageInfo: pageInfo(ctx, page),
			}
		}
		if err := page.ScrollIntoView(ctx, m.Element); err != nil {
			return replayflow.NewActionError("scroll into view", err)
		}
		return nil
	}

	pixels := s.Pixels
	if pixels == 0 {
		pixels = replayflow.DefaultScrollPixels
	}
	if s.Direction == replayflow.ScrollUp {
		pixels = -pixels
	}
	if err := page.ScrollBy(ctx, 0, pixels); err != nil {
		return replayflow.NewActionError("scroll", err)
	}
	return nil
}

func (it *Interpreter) screenshot(ctx context.Context, page browser.Page, in StepInput, s replayflow.ScreenshotStep) (*StepOutput, error) {
	name := s.Filename
	if name == "" {
		name = fmt.Sprintf("screenshot_%d.png", in.Index)
	}
	name, err := artifacts.CleanName(name)
	if err != nil {
		return nil, replayflow.NewActionError("screenshot", err)
	}

	data, err := page.Screenshot(ctx)
	if err != nil {
		return nil, replayflow.NewActionError("screenshot", err)
	}
	path, err := it.artifacts.Put(ctx, in.RunID, name, data)
	if err != nil {
		return nil, replayflow.NewActionError("save screenshot", err)
	}
	return &StepOutput{ScreenshotPath: path}, nil
}

// pageInfo renders the page location for error messages
func pageInfo(ctx context.Context, page browser.Page) string {
	url, title, err := page.Location(ctx)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("url=%s title=%q", url, title)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
