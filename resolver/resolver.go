// Package resolver locates the element a step acts on.
//
// Strategies run in priority order: the selector learned from an earlier
// disambiguation, the CSS hint recorded with the step, then a heuristic scan
// of visible elements across the page and its frames. The first strategy with
// a visible match wins. Several heuristic matches are returned to the caller
// as a DisambiguationNeeded signal instead of being guessed.
package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sicko7947/replayflow"
	"github.com/sicko7947/replayflow/browser"
)

// Request describes what to look for
type Request struct {
	StepIndex   int
	Kind        replayflow.StepKind
	Description string
	Target      replayflow.Target

	// Learned is tried first when set, and only in the document at
	// LearnedFrame (empty is the top document)
	Learned      string
	LearnedFrame browser.FramePath
}

// Match is a single resolved element
type Match struct {
	Element    browser.Element
	Frame      browser.FramePath
	Strategy   Strategy
	Confidence float64
	Selector   string // selector that found it, empty for heuristics
}

// Resolver finds elements on a page
type Resolver struct {
	config replayflow.ResolverConfig
	logger zerolog.Logger
}

// Option configures a Resolver
type Option func(*Resolver)

// WithLogger sets the resolver logger
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// New creates a resolver
func New(config replayflow.ResolverConfig, opts ...Option) *Resolver {
	if config.MaxCandidates <= 0 {
		config.MaxCandidates = 5
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 250 * time.Millisecond
	}
	r := &Resolver{config: config, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the single element req refers to. It fails with
// *replayflow.ElementNotFoundError when nothing visible matches and with
// *replayflow.DisambiguationNeeded when the heuristics find several.
func (r *Resolver) Resolve(ctx context.Context, page browser.Page, req Request) (*Match, error) {
	logger := r.logger.With().Int("step_index", req.StepIndex).Logger()
	var tried []string

	if req.Learned != "" {
		tried = append(tried, learnedLabel(req.Learned, req.LearnedFrame))
		m, err := r.FirstVisibleIn(ctx, page, req.Learned, req.LearnedFrame, r.config.SelectorTimeout)
		if err != nil {
			return nil, err
		}
		if m != nil {
			m.Strategy, m.Confidence = StrategyLearned, ScoreLearned
			logger.Debug().Str("selector", req.Learned).Str("frame", req.LearnedFrame.String()).Msg("Resolved with learned selector")
			return m, nil
		}
		logger.Debug().Str("selector", req.Learned).Msg("Learned selector matched nothing, falling through")
	}

	if hint := req.Target.CSSHint; hint != "" && hint != req.Learned {
		tried = append(tried, "css hint "+hint)
		m, err := r.FirstVisible(ctx, page, hint, r.config.SelectorTimeout)
		if err != nil {
			return nil, err
		}
		if m != nil {
			m.Strategy, m.Confidence = StrategyCSSHint, ScoreCSSHint
			logger.Debug().Str("selector", hint).Msg("Resolved with css hint")
			return m, nil
		}
	}

	if req.Target.TextHint == "" && req.Target.Semantic == "" && req.Kind != replayflow.StepKindType {
		return nil, r.notFound(ctx, page, req, tried)
	}

	tried = append(tried, "heuristics")
	candidates, snap, err := r.search(ctx, page, req)
	if err != nil {
		return nil, err
	}

	switch len(candidates) {
	case 0:
		return nil, r.notFound(ctx, page, req, tried)
	case 1:
		c := candidates[0]
		logger.Debug().
			Str("strategy", string(c.Strategy)).
			Float64("confidence", c.Confidence).
			Str("frame", c.Element.Frame.String()).
			Msg("Resolved with heuristics")
		return &Match{Element: c.Element, Frame: c.Element.Frame, Strategy: c.Strategy, Confidence: c.Confidence}, nil
	}

	total := len(candidates)
	if total > r.config.MaxCandidates {
		candidates = candidates[:r.config.MaxCandidates]
	}
	logger.Info().Int("found", total).Int("offered", len(candidates)).Msg("Multiple candidates, disambiguation needed")

	return nil, &replayflow.DisambiguationNeeded{
		Step:       req.Description,
		Reason:     fmt.Sprintf("%d visible elements match %s", total, describeTarget(req.Target)),
		Candidates: Describe(candidates, snap.Viewport),
	}
}

// search polls heuristic snapshots until something matches or the timeout passes
func (r *Resolver) search(ctx context.Context, page browser.Page, req Request) ([]Candidate, *browser.Snapshot, error) {
	deadline := time.Now().Add(r.config.HeuristicTimeout)
	for {
		snap, err := page.Snapshot(ctx, r.config.MaxFrameDepth)
		if err != nil {
			return nil, nil, replayflow.NewActionError("scan page", err)
		}
		candidates := rank(snap, req.Kind, req.Target)
		if len(candidates) > 0 || !time.Now().Before(deadline) {
			if len(snap.Truncated) > 0 {
				r.logger.Warn().
					Int("step_index", req.StepIndex).
					Strs("documents", snap.Truncated).
					Int("limit", browser.MaxScanElements).
					Msg("Page scan truncated, candidates past the limit were not considered")
			}
			return candidates, snap, nil
		}
		if err := sleep(ctx, r.config.PollInterval); err != nil {
			return nil, nil, err
		}
	}
}

// FirstVisible polls selector until a visible element matches or timeout
// passes, returning nil without error on timeout. An invalid selector is
// logged and treated as matching nothing.
func (r *Resolver) FirstVisible(ctx context.Context, page browser.Page, selector string, timeout time.Duration) (*Match, error) {
	return r.firstVisible(ctx, page, selector, nil, timeout)
}

// FirstVisibleIn is FirstVisible restricted to the document at frame
func (r *Resolver) FirstVisibleIn(ctx context.Context, page browser.Page, selector string, frame browser.FramePath, timeout time.Duration) (*Match, error) {
	return r.firstVisible(ctx, page, selector, func(el browser.Element) bool {
		return el.Frame.Equal(frame)
	}, timeout)
}

func (r *Resolver) firstVisible(ctx context.Context, page browser.Page, selector string, keep func(browser.Element) bool, timeout time.Duration) (*Match, error) {
	deadline := time.Now().Add(timeout)
	for {
		snap, err := page.Query(ctx, selector, r.config.MaxFrameDepth)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Warn().Err(err).Str("selector", selector).Msg("Selector query failed")
			return nil, nil
		}
		for _, el := range snap.Visible() {
			if keep == nil || keep(el) {
				return &Match{Element: el, Frame: el.Frame, Selector: selector}, nil
			}
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		if err := sleep(ctx, r.config.PollInterval); err != nil {
			return nil, err
		}
	}
}

func (r *Resolver) notFound(ctx context.Context, page browser.Page, req Request, tried []string) error {
	e := &replayflow.ElementNotFoundError{Step: req.Description, Tried: tried}
	if url, title, err := page.Location(ctx); err == nil {
		e.PageInfo = fmt.Sprintf("url=%s title=%q", url, title)
	}
	return e
}

func learnedLabel(selector string, frame browser.FramePath) string {
	if len(frame) == 0 {
		return "learned selector " + selector
	}
	return fmt.Sprintf("learned selector %s (frame %s)", selector, frame)
}

func describeTarget(t replayflow.Target) string {
	switch {
	case t.TextHint != "":
		return fmt.Sprintf("text %q", t.TextHint)
	case t.Semantic != "":
		return fmt.Sprintf("%q", t.Semantic)
	}
	return "the step target"
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
