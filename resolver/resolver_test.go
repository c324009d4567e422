package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sicko7947/replayflow"
	"github.com/sicko7947/replayflow/browser"
	"github.com/sicko7947/replayflow/browser/browsertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() replayflow.ResolverConfig {
	return replayflow.ResolverConfig{MaxFrameDepth: 3, MaxCandidates: 5}
}

func click(text string) Request {
	return Request{Kind: replayflow.StepKindClick, Description: "Click " + text, Target: replayflow.Target{TextHint: text}}
}

func TestResolve_SingleExactMatch(t *testing.T) {
	page := browsertest.NewPage()
	page.SetDOM("https://x.test", "Form",
		browsertest.Button("b1", "Next", 100, 100),
		browsertest.Button("b2", "Back", 300, 100),
	)

	m, err := New(testConfig()).Resolve(context.Background(), page, click("Next"))
	require.NoError(t, err)
	assert.Equal(t, "b1", m.Element.Ref)
	assert.Equal(t, StrategyExactText, m.Strategy)
	assert.Equal(t, ScoreExactText, m.Confidence)
}

func TestResolve_HiddenElementsIgnored(t *testing.T) {
	hidden := browsertest.Button("b1", "Next", 100, 100)
	hidden.Visible = false

	page := browsertest.NewPage()
	page.SetDOM("https://x.test", "Form", hidden, browsertest.Button("b2", "Next", 300, 100))

	m, err := New(testConfig()).Resolve(context.Background(), page, click("Next"))
	require.NoError(t, err)
	assert.Equal(t, "b2", m.Element.Ref)
}

func TestResolve_NoMatch(t *testing.T) {
	page := browsertest.NewPage()
	page.SetDOM("https://x.test/form", "Form", browsertest.Button("b1", "Back", 0, 0))

	_, err := New(testConfig()).Resolve(context.Background(), page, click("Next"))
	require.Error(t, err)
	assert.True(t, replayflow.IsElementNotFound(err))
	assert.Contains(t, err.Error(), "url=https://x.test/form")
}

func TestResolve_TwoButtonsNeedDisambiguation(t *testing.T) {
	page := browsertest.NewPage()
	page.SetDOM("https://x.test", "Form",
		browsertest.Button("b1", "Next", 50, 50),
		browsertest.Button("b2", "Next", 1100, 850),
	)

	_, err := New(testConfig()).Resolve(context.Background(), page, click("Next"))
	d, ok := replayflow.AsDisambiguation(err)
	require.True(t, ok, "expected disambiguation, got %v", err)
	require.Len(t, d.Candidates, 2)
	assert.Equal(t, "top-left", d.Candidates[0].Location)
	assert.Equal(t, "bottom-right", d.Candidates[1].Location)
	assert.Equal(t, 0, d.Candidates[0].Index)
	assert.Equal(t, 1, d.Candidates[1].Index)
}

func TestResolve_CandidatesCappedAndSorted(t *testing.T) {
	var elements []browser.Element
	// substring matches first in document order, exact match last
	for i := 0; i < 6; i++ {
		elements = append(elements, browsertest.Button(fmt.Sprintf("s%d", i), fmt.Sprintf("Next %d", i), float64(i*10), 10))
	}
	elements = append(elements, browsertest.Button("exact", "Next", 500, 500))

	page := browsertest.NewPage()
	page.SetDOM("https://x.test", "Form", elements...)

	_, err := New(testConfig()).Resolve(context.Background(), page, click("Next"))
	d, ok := replayflow.AsDisambiguation(err)
	require.True(t, ok)
	require.Len(t, d.Candidates, 5)
	assert.Equal(t, ScoreExactText, d.Candidates[0].Confidence)
	for i := 1; i < len(d.Candidates); i++ {
		assert.GreaterOrEqual(t, d.Candidates[i-1].Confidence, d.Candidates[i].Confidence)
	}
	assert.Contains(t, d.Reason, "7 visible elements")
}

func TestResolve_LearnedSelectorSkipsHeuristics(t *testing.T) {
	b1 := browsertest.Button("b1", "Next", 50, 50)
	b2 := browsertest.Button("b2", "Next", 500, 50)
	b2.ID = "next-secondary"
	b2.IDCount = 1

	page := browsertest.NewPage()
	page.SetDOM("https://x.test", "Form", b1, b2)

	req := click("Next")
	req.Learned = "#next-secondary"
	m, err := New(testConfig()).Resolve(context.Background(), page, req)
	require.NoError(t, err)
	assert.Equal(t, "b2", m.Element.Ref)
	assert.Equal(t, StrategyLearned, m.Strategy)

	snapshots, _ := page.Counts()
	assert.Zero(t, snapshots, "heuristic search must not run")
}

func TestResolve_LearnedSelectorFallsThrough(t *testing.T) {
	page := browsertest.NewPage()
	page.SetDOM("https://x.test", "Form", browsertest.Button("b1", "Next", 50, 50))

	req := click("Next")
	req.Learned = "#gone"
	m, err := New(testConfig()).Resolve(context.Background(), page, req)
	require.NoError(t, err)
	assert.Equal(t, "b1", m.Element.Ref)
	assert.Equal(t, StrategyExactText, m.Strategy)
}

func TestResolve_CSSHint(t *testing.T) {
	b := browsertest.Button("b1", "Continue", 50, 50)
	b.Classes = []string{"btn", "primary"}

	page := browsertest.NewPage()
	page.SetDOM("https://x.test", "Form", b, browsertest.Button("b2", "Continue", 200, 50))

	req := click("Continue")
	req.Target.CSSHint = "button.btn.primary"
	m, err := New(testConfig()).Resolve(context.Background(), page, req)
	require.NoError(t, err)
	assert.Equal(t, "b1", m.Element.Ref)
	assert.Equal(t, StrategyCSSHint, m.Strategy)
}

func TestResolve_FrameCandidate(t *testing.T) {
	framed := browsertest.Button("f1", "Pay", 400, 400)
	framed.Frame = browser.FramePath{0, 1}

	page := browsertest.NewPage()
	page.SetDOM("https://x.test", "Checkout", framed)

	m, err := New(testConfig()).Resolve(context.Background(), page, click("Pay"))
	require.NoError(t, err)
	assert.Equal(t, browser.FramePath{0, 1}, m.Frame)
}

func TestResolve_LearnedSelectorBoundToFrame(t *testing.T) {
	top := browsertest.Button("top", "Next", 100, 100)
	top.ID, top.IDCount = "go", 1
	framed := browsertest.Button("framed", "Next", 600, 500)
	framed.ID, framed.IDCount = "go", 1
	framed.Frame = browser.FramePath{0}

	page := browsertest.NewPage()
	page.SetDOM("https://x.test", "Form", top, framed)
	r := New(testConfig())

	_, err := r.Resolve(context.Background(), page, click("Next"))
	d, ok := replayflow.AsDisambiguation(err)
	require.True(t, ok, "expected disambiguation, got %v", err)
	require.Len(t, d.Candidates, 2)

	var chosen replayflow.DisambiguationCandidate
	for _, c := range d.Candidates {
		if len(c.FramePath) > 0 {
			chosen = c
		}
	}
	assert.Equal(t, "#go", chosen.CSS)
	assert.Equal(t, []int{0}, chosen.FramePath)

	req := click("Next")
	req.Learned, req.LearnedFrame = chosen.CSS, chosen.FramePath
	m, err := r.Resolve(context.Background(), page, req)
	require.NoError(t, err)
	assert.Equal(t, "framed", m.Element.Ref)
	assert.Equal(t, StrategyLearned, m.Strategy)

	req.LearnedFrame = nil
	m, err = r.Resolve(context.Background(), page, req)
	require.NoError(t, err)
	assert.Equal(t, "top", m.Element.Ref)
}

func TestResolve_LearnedSelectorMissingFromFrame(t *testing.T) {
	top := browsertest.Button("top", "Next", 100, 100)
	top.ID, top.IDCount = "go", 1

	page := browsertest.NewPage()
	page.SetDOM("https://x.test", "Form", top)

	req := click("Next")
	req.Learned, req.LearnedFrame = "#go", browser.FramePath{0}
	m, err := New(testConfig()).Resolve(context.Background(), page, req)
	require.NoError(t, err)
	assert.Equal(t, StrategyExactText, m.Strategy, "falls through to heuristics")
}

func TestResolve_FrameDepthBounded(t *testing.T) {
	deep := browsertest.Button("f1", "Pay", 400, 400)
	deep.Frame = browser.FramePath{0, 0, 0, 0}

	page := browsertest.NewPage()
	page.SetDOM("https://x.test", "Checkout", deep)

	_, err := New(testConfig()).Resolve(context.Background(), page, click("Pay"))
	assert.True(t, replayflow.IsElementNotFound(err))
}

func TestResolve_TruncatedScanLogged(t *testing.T) {
	page := browsertest.NewPage()
	page.SetDOM("https://x.test", "Catalog", browsertest.Button("b1", "Next", 100, 100))
	page.Truncated = []string{"", "0"}

	var buf bytes.Buffer
	r := New(testConfig(), WithLogger(zerolog.New(&buf)))

	m, err := r.Resolve(context.Background(), page, click("Next"))
	require.NoError(t, err)
	assert.Equal(t, "b1", m.Element.Ref)

	type logEntry struct {
		Level     string   `json:"level"`
		Message   string   `json:"message"`
		Documents []string `json:"documents"`
		Limit     int      `json:"limit"`
	}
	var warns []logEntry
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var e logEntry
		require.NoError(t, json.Unmarshal(line, &e))
		if e.Level == "warn" {
			warns = append(warns, e)
		}
	}
	require.Len(t, warns, 1)
	entry := warns[0]
	assert.Contains(t, entry.Message, "Page scan truncated")
	assert.Equal(t, []string{"", "0"}, entry.Documents)
	assert.Equal(t, browser.MaxScanElements, entry.Limit)
}

func TestResolve_TypeByAttribute(t *testing.T) {
	page := browsertest.NewPage()
	page.SetDOM("https://x.test", "Form",
		browsertest.Input("i1", "email", "Email address", 100, 100),
		browsertest.Input("i2", "phone", "Phone", 100, 200),
	)

	req := Request{Kind: replayflow.StepKindType, Target: replayflow.Target{Semantic: "email"}}
	m, err := New(testConfig()).Resolve(context.Background(), page, req)
	require.NoError(t, err)
	assert.Equal(t, "i1", m.Element.Ref)
	assert.Equal(t, StrategyAttribute, m.Strategy)
}

func TestResolve_TypeRoleFallback(t *testing.T) {
	page := browsertest.NewPage()
	page.SetDOM("https://x.test", "Form", browsertest.Input("i1", "q", "", 100, 100))

	req := Request{Kind: replayflow.StepKindType, Target: replayflow.Target{Semantic: "full name"}}
	m, err := New(testConfig()).Resolve(context.Background(), page, req)
	require.NoError(t, err)
	assert.Equal(t, StrategyTypeRole, m.Strategy)
	assert.Equal(t, ScoreTypeRole, m.Confidence)
}

func TestResolve_ContainerCollapsedIntoButton(t *testing.T) {
	button := browsertest.Button("b1", "Next", 50, 50)
	button.DOMPath = "1/2"
	span := browser.Element{Ref: "s1", Tag: "span", Text: "Next", OwnText: "Next", Visible: true, DOMPath: "1/2/0", Rect: button.Rect}
	wrapper := browser.Element{Ref: "d1", Tag: "div", Text: "Next", Visible: true, DOMPath: "1", Rect: button.Rect}

	page := browsertest.NewPage()
	page.SetDOM("https://x.test", "Form", wrapper, button, span)

	m, err := New(testConfig()).Resolve(context.Background(), page, click("Next"))
	require.NoError(t, err)
	assert.Equal(t, "b1", m.Element.Ref)
}
