package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sicko7947/replayflow"
)

type selectorKey struct {
	workflowID string
	stepIndex  int
}

// MemoryStore implements replayflow.Store using in-memory storage
type MemoryStore struct {
	runs      map[string]*replayflow.Run
	logs      map[string][]*replayflow.LogEntry // runID -> entries in seq order
	workflows map[string]*replayflow.WorkflowTemplate
	selectors map[selectorKey]*replayflow.ResolvedSelector
	mu        sync.RWMutex
	now       func() time.Time
}

var _ replayflow.Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:      make(map[string]*replayflow.Run),
		logs:      make(map[string][]*replayflow.LogEntry),
		workflows: make(map[string]*replayflow.WorkflowTemplate),
		selectors: make(map[selectorKey]*replayflow.ResolvedSelector),
		now:       time.Now,
	}
}

// Run operations

func (s *MemoryStore) CreateRun(ctx context.Context, run *replayflow.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.RunID]; exists {
		return fmt.Errorf("run %s already exists", run.RunID)
	}

	s.runs[run.RunID] = run.Clone()
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, runID string) (*replayflow.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[runID]
	if !exists {
		return nil, fmt.Errorf("run %s: %w", runID, replayflow.ErrNotFound)
	}
	return run.Clone(), nil
}

func (s *MemoryStore) UpdateRun(ctx context.Context, run *replayflow.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.RunID]; !exists {
		return fmt.Errorf("run %s: %w", run.RunID, replayflow.ErrNotFound)
	}

	s.runs[run.RunID] = run.Clone()
	return nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, filter replayflow.RunFilter) ([]*replayflow.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []*replayflow.Run
	for _, run := range s.runs {
		if filter.WorkflowID != "" && run.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != nil && run.Status != *filter.Status {
			continue
		}
		runs = append(runs, run.Clone())
	}

	return sortAndLimit(runs, filter.Limit), nil
}

// Log operations

func (s *MemoryStore) AppendLog(ctx context.Context, entry *replayflow.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[entry.RunID]; !exists {
		return fmt.Errorf("run %s: %w", entry.RunID, replayflow.ErrNotFound)
	}

	entries := s.logs[entry.RunID]
	if entry.Seq <= 0 {
		return fmt.Errorf("log entry for run %s has no sequence number", entry.RunID)
	}
	if n := len(entries); n > 0 && entries[n-1].Seq >= entry.Seq {
		return fmt.Errorf("log entry %d for run %s is out of order", entry.Seq, entry.RunID)
	}

	entryCopy := *entry
	s.logs[entry.RunID] = append(entries, &entryCopy)
	return nil
}

func (s *MemoryStore) ListLogs(ctx context.Context, runID string) ([]*replayflow.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.logs[runID]
	out := make([]*replayflow.LogEntry, 0, len(entries))
	for _, e := range entries {
		entryCopy := *e
		out = append(out, &entryCopy)
	}
	return out, nil
}

// Workflow operations

func (s *MemoryStore) SaveWorkflow(ctx context.Context, wf *replayflow.WorkflowTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.workflows[wf.WorkflowID] = wf.Clone()
	return nil
}

func (s *MemoryStore) GetWorkflow(ctx context.Context, workflowID string) (*replayflow.WorkflowTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, exists := s.workflows[workflowID]
	if !exists {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, replayflow.ErrNotFound)
	}
	return wf.Clone(), nil
}

func (s *MemoryStore) GetResolvedSelector(ctx context.Context, workflowID string, stepIndex int) (*replayflow.ResolvedSelector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sel, exists := s.selectors[selectorKey{workflowID, stepIndex}]
	if !exists {
		return nil, fmt.Errorf("resolved selector %s/%d: %w", workflowID, stepIndex, replayflow.ErrNotFound)
	}
	selCopy := *sel
	return &selCopy, nil
}

// RecordResolution updates the selector and the workflow step under one lock
func (s *MemoryStore) RecordResolution(ctx context.Context, workflowID string, stepIndex int, selector string, frame []int) (*replayflow.ResolvedSelector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, exists := s.workflows[workflowID]
	if !exists {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, replayflow.ErrNotFound)
	}
	updated, err := wf.WithLearnedSelector(stepIndex, selector, frame)
	if err != nil {
		return nil, err
	}

	key := selectorKey{workflowID, stepIndex}
	next := s.selectors[key].Next(workflowID, stepIndex, selector, frame, s.now())

	s.workflows[workflowID] = updated
	s.selectors[key] = next

	out := *next
	return &out, nil
}
