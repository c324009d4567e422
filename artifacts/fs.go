package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore writes artifacts to <dir>/<run id>/<name>
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir, creating it if needed
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("artifact directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Put writes data and returns the file path
func (s *FileStore) Put(ctx context.Context, runID, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean, err := CleanName(name)
	if err != nil {
		return "", err
	}
	runDir := filepath.Join(s.dir, filepath.Base(runID))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create run directory: %w", err)
	}

	path := filepath.Join(runDir, clean)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	return path, nil
}
