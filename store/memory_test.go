package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sicko7947/replayflow"
)

func newTestRun(id, workflowID string, status replayflow.RunStatus, createdAt time.Time) *replayflow.Run {
	return &replayflow.Run{
		RunID:      id,
		WorkflowID: workflowID,
		Status:     status,
		TotalSteps: 3,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
}

func newTestWorkflow(id string) *replayflow.WorkflowTemplate {
	return &replayflow.WorkflowTemplate{
		WorkflowID: id,
		Name:       "Test workflow",
		StartURL:   "https://example.com/form",
		Steps: replayflow.StepList{
			replayflow.GotoStep{URL: "https://example.com/form"},
			replayflow.ClickStep{Target: replayflow.Target{TextHint: "Next"}},
			replayflow.WaitStep{Seconds: 1},
		},
	}
}

func TestNewMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	if store == nil {
		t.Fatal("NewMemoryStore() returned nil")
	}

	// Verify it implements the interface
	var _ replayflow.Store = store
}

func TestMemoryStore_CreateRun(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	run := newTestRun("test-run-1", "test-workflow", replayflow.RunStatusQueued, time.Now())
	run.Params = map[string]string{"name": "Alex"}

	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() failed: %v", err)
	}

	// Mutating the caller's copy must not leak into the store
	run.Params["name"] = "Sam"

	retrieved, err := store.GetRun(ctx, run.RunID)
	if err != nil {
		t.Fatalf("GetRun() failed: %v", err)
	}
	if retrieved.RunID != run.RunID {
		t.Errorf("Retrieved run ID = %s, want %s", retrieved.RunID, run.RunID)
	}
	if retrieved.Params["name"] != "Alex" {
		t.Errorf("Params[name] = %s, want Alex", retrieved.Params["name"])
	}
}

func TestMemoryStore_CreateRun_Duplicate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	run := newTestRun("test-run-1", "test-workflow", replayflow.RunStatusQueued, time.Now())
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("First CreateRun() failed: %v", err)
	}
	if err := store.CreateRun(ctx, run); err == nil {
		t.Error("Expected error when creating duplicate run")
	}
}

func TestMemoryStore_GetRun_NotFound(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.GetRun(context.Background(), "non-existent")
	if !errors.Is(err, replayflow.ErrNotFound) {
		t.Errorf("GetRun() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_UpdateRun(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	run := newTestRun("test-run-1", "test-workflow", replayflow.RunStatusQueued, time.Now())
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() failed: %v", err)
	}

	run.Status = replayflow.RunStatusNeedsUserDisambiguation
	run.CurrentStep = 1
	run.Disambiguation = &replayflow.DisambiguationPayload{
		StepIndex:  1,
		Candidates: []replayflow.DisambiguationCandidate{{Index: 0, CSS: "#a"}, {Index: 1, CSS: "#b"}},
	}
	if err := store.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun() failed: %v", err)
	}

	retrieved, err := store.GetRun(ctx, run.RunID)
	if err != nil {
		t.Fatalf("GetRun() failed: %v", err)
	}
	if retrieved.Status != replayflow.RunStatusNeedsUserDisambiguation {
		t.Errorf("Status = %s, want %s", retrieved.Status, replayflow.RunStatusNeedsUserDisambiguation)
	}
	if retrieved.CurrentStep != 1 {
		t.Errorf("CurrentStep = %d, want 1", retrieved.CurrentStep)
	}
	if retrieved.Disambiguation == nil || len(retrieved.Disambiguation.Candidates) != 2 {
		t.Errorf("Disambiguation = %+v, want 2 candidates", retrieved.Disambiguation)
	}
}

func TestMemoryStore_UpdateRun_NotFound(t *testing.T) {
	store := NewMemoryStore()

	run := newTestRun("missing", "test-workflow", replayflow.RunStatusRunning, time.Now())
	err := store.UpdateRun(context.Background(), run)
	if !errors.Is(err, replayflow.ErrNotFound) {
		t.Errorf("UpdateRun() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_ListRuns(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	runs := []*replayflow.Run{
		newTestRun("run-1", "wf-1", replayflow.RunStatusSucceeded, base),
		newTestRun("run-2", "wf-1", replayflow.RunStatusFailed, base.Add(time.Minute)),
		newTestRun("run-3", "wf-2", replayflow.RunStatusSucceeded, base.Add(2*time.Minute)),
		newTestRun("run-4", "wf-1", replayflow.RunStatusSucceeded, base.Add(3*time.Minute)),
	}
	for _, run := range runs {
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun() failed: %v", err)
		}
	}

	succeeded := replayflow.RunStatusSucceeded

	tests := []struct {
		name   string
		filter replayflow.RunFilter
		want   []string
	}{
		{
			name:   "all runs newest first",
			filter: replayflow.RunFilter{},
			want:   []string{"run-4", "run-3", "run-2", "run-1"},
		},
		{
			name:   "filter by workflow",
			filter: replayflow.RunFilter{WorkflowID: "wf-1"},
			want:   []string{"run-4", "run-2", "run-1"},
		},
		{
			name:   "filter by status",
			filter: replayflow.RunFilter{Status: &succeeded},
			want:   []string{"run-4", "run-3", "run-1"},
		},
		{
			name:   "filter by workflow and status",
			filter: replayflow.RunFilter{WorkflowID: "wf-1", Status: &succeeded},
			want:   []string{"run-4", "run-1"},
		},
		{
			name:   "limit",
			filter: replayflow.RunFilter{Limit: 2},
			want:   []string{"run-4", "run-3"},
		},
		{
			name:   "unknown workflow",
			filter: replayflow.RunFilter{WorkflowID: "nope"},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListRuns(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListRuns() failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ListRuns() returned %d runs, want %d", len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].RunID != id {
					t.Errorf("runs[%d] = %s, want %s", i, got[i].RunID, id)
				}
			}
		})
	}
}

func TestMemoryStore_AppendLog(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	run := newTestRun("run-1", "wf-1", replayflow.RunStatusRunning, time.Now())
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() failed: %v", err)
	}

	for i := 1; i <= 3; i++ {
		entry := &replayflow.LogEntry{
			RunID:     run.RunID,
			Seq:       i,
			Timestamp: time.Now(),
			Level:     replayflow.LogLevelInfo,
			Message:   fmt.Sprintf("step %d done", i),
			StepIndex: replayflow.ToPtr(i - 1),
		}
		if err := store.AppendLog(ctx, entry); err != nil {
			t.Fatalf("AppendLog(%d) failed: %v", i, err)
		}
	}

	logs, err := store.ListLogs(ctx, run.RunID)
	if err != nil {
		t.Fatalf("ListLogs() failed: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("ListLogs() returned %d entries, want 3", len(logs))
	}
	for i, entry := range logs {
		if entry.Seq != i+1 {
			t.Errorf("logs[%d].Seq = %d, want %d", i, entry.Seq, i+1)
		}
	}
}

func TestMemoryStore_AppendLog_Rejects(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	run := newTestRun("run-1", "wf-1", replayflow.RunStatusRunning, time.Now())
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() failed: %v", err)
	}
	if err := store.AppendLog(ctx, &replayflow.LogEntry{RunID: run.RunID, Seq: 2, Message: "first"}); err != nil {
		t.Fatalf("AppendLog() failed: %v", err)
	}

	tests := []struct {
		name  string
		entry *replayflow.LogEntry
	}{
		{"unknown run", &replayflow.LogEntry{RunID: "missing", Seq: 1}},
		{"zero seq", &replayflow.LogEntry{RunID: run.RunID, Seq: 0}},
		{"duplicate seq", &replayflow.LogEntry{RunID: run.RunID, Seq: 2}},
		{"out of order", &replayflow.LogEntry{RunID: run.RunID, Seq: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := store.AppendLog(ctx, tt.entry); err == nil {
				t.Error("AppendLog() expected error")
			}
		})
	}

	logs, _ := store.ListLogs(ctx, run.RunID)
	if len(logs) != 1 {
		t.Errorf("ListLogs() returned %d entries, want 1", len(logs))
	}
}

func TestMemoryStore_ListLogs_EmptyRun(t *testing.T) {
	store := NewMemoryStore()

	logs, err := store.ListLogs(context.Background(), "non-existent")
	if err != nil {
		t.Fatalf("ListLogs() failed: %v", err)
	}
	if len(logs) != 0 {
		t.Errorf("ListLogs() returned %d entries, want 0", len(logs))
	}
}

func TestMemoryStore_SaveAndGetWorkflow(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	wf := newTestWorkflow("wf-1")
	if err := store.SaveWorkflow(ctx, wf); err != nil {
		t.Fatalf("SaveWorkflow() failed: %v", err)
	}

	wf.Steps[0] = replayflow.GotoStep{URL: "https://changed.example.com"}

	got, err := store.GetWorkflow(ctx, "wf-1")
	if err != nil {
		t.Fatalf("GetWorkflow() failed: %v", err)
	}
	if got.Steps[0].(replayflow.GotoStep).URL != "https://example.com/form" {
		t.Errorf("stored workflow was mutated through the caller's copy")
	}

	if _, err := store.GetWorkflow(ctx, "missing"); !errors.Is(err, replayflow.ErrNotFound) {
		t.Errorf("GetWorkflow() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_GetResolvedSelector_NotFound(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.GetResolvedSelector(context.Background(), "wf-1", 1)
	if !errors.Is(err, replayflow.ErrNotFound) {
		t.Errorf("GetResolvedSelector() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_RecordResolution(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	if err := store.SaveWorkflow(ctx, newTestWorkflow("wf-1")); err != nil {
		t.Fatalf("SaveWorkflow() failed: %v", err)
	}

	sel, err := store.RecordResolution(ctx, "wf-1", 1, "#next-b", nil)
	if err != nil {
		t.Fatalf("RecordResolution() failed: %v", err)
	}
	if sel.UsageCount != 1 || sel.Selector != "#next-b" || !sel.CreatedAt.Equal(fixed) {
		t.Errorf("RecordResolution() = %+v", sel)
	}

	sel, err = store.RecordResolution(ctx, "wf-1", 1, "#next-b", nil)
	if err != nil {
		t.Fatalf("RecordResolution() failed: %v", err)
	}
	if sel.UsageCount != 2 {
		t.Errorf("UsageCount = %d, want 2", sel.UsageCount)
	}

	// A different choice resets the counter
	sel, err = store.RecordResolution(ctx, "wf-1", 1, "#next-a", nil)
	if err != nil {
		t.Fatalf("RecordResolution() failed: %v", err)
	}
	if sel.UsageCount != 1 || sel.Selector != "#next-a" {
		t.Errorf("RecordResolution() = %+v, want reset to #next-a", sel)
	}

	stored, err := store.GetResolvedSelector(ctx, "wf-1", 1)
	if err != nil {
		t.Fatalf("GetResolvedSelector() failed: %v", err)
	}
	if stored.Selector != "#next-a" {
		t.Errorf("stored selector = %s, want #next-a", stored.Selector)
	}

	wf, err := store.GetWorkflow(ctx, "wf-1")
	if err != nil {
		t.Fatalf("GetWorkflow() failed: %v", err)
	}
	click := wf.Steps[1].(replayflow.ClickStep)
	if click.ResolvedCSSSelector != "#next-a" {
		t.Errorf("workflow step selector = %q, want #next-a", click.ResolvedCSSSelector)
	}

	// The same selector chosen inside a frame is another element
	sel, err = store.RecordResolution(ctx, "wf-1", 1, "#next-a", []int{0})
	if err != nil {
		t.Fatalf("RecordResolution() failed: %v", err)
	}
	if sel.UsageCount != 1 || len(sel.FramePath) != 1 || sel.FramePath[0] != 0 {
		t.Errorf("RecordResolution() in frame = %+v, want reset with frame [0]", sel)
	}
	wf, err = store.GetWorkflow(ctx, "wf-1")
	if err != nil {
		t.Fatalf("GetWorkflow() failed: %v", err)
	}
	click = wf.Steps[1].(replayflow.ClickStep)
	if len(click.ResolvedFramePath) != 1 || click.ResolvedFramePath[0] != 0 {
		t.Errorf("workflow step frame path = %v, want [0]", click.ResolvedFramePath)
	}
}

func TestMemoryStore_RecordResolution_Errors(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.RecordResolution(ctx, "missing", 1, "#a", nil); !errors.Is(err, replayflow.ErrNotFound) {
		t.Errorf("RecordResolution() unknown workflow error = %v, want ErrNotFound", err)
	}

	if err := store.SaveWorkflow(ctx, newTestWorkflow("wf-1")); err != nil {
		t.Fatalf("SaveWorkflow() failed: %v", err)
	}

	// Step 0 is a GOTO and has no target
	if _, err := store.RecordResolution(ctx, "wf-1", 0, "#a", nil); err == nil {
		t.Error("RecordResolution() on untargeted step expected error")
	}
	if _, err := store.RecordResolution(ctx, "wf-1", 9, "#a", nil); err == nil {
		t.Error("RecordResolution() out of range expected error")
	}
	if _, err := store.GetResolvedSelector(ctx, "wf-1", 0); !errors.Is(err, replayflow.ErrNotFound) {
		t.Errorf("failed resolution left a selector behind: %v", err)
	}
}

func TestMemoryStore_ThreadSafety(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.SaveWorkflow(ctx, newTestWorkflow("wf-1")); err != nil {
		t.Fatalf("SaveWorkflow() failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			run := newTestRun(fmt.Sprintf("run-%d", i), "wf-1", replayflow.RunStatusQueued, time.Now())
			if err := store.CreateRun(ctx, run); err != nil {
				t.Errorf("CreateRun() failed: %v", err)
				return
			}
			run.Status = replayflow.RunStatusRunning
			_ = store.UpdateRun(ctx, run)
			_, _ = store.ListRuns(ctx, replayflow.RunFilter{WorkflowID: "wf-1"})
			_, _ = store.RecordResolution(ctx, "wf-1", 1, "#next", nil)
		}(i)
	}
	wg.Wait()

	runs, err := store.ListRuns(ctx, replayflow.RunFilter{})
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if len(runs) != 20 {
		t.Errorf("ListRuns() returned %d runs, want 20", len(runs))
	}

	sel, err := store.GetResolvedSelector(ctx, "wf-1", 1)
	if err != nil {
		t.Fatalf("GetResolvedSelector() failed: %v", err)
	}
	if sel.UsageCount != 20 {
		t.Errorf("UsageCount = %d, want 20", sel.UsageCount)
	}
}
