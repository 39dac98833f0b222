// Package workspace manages the scratch directory tree for a single run.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gantryci/gantry/internal/logfields"
)

// Manager owns one run directory. Each matrix job gets its own subdirectory
// beneath it, so parallel jobs never share a filesystem.
type Manager struct {
	baseDir string
	runDir  string
}

// NewManager creates a workspace manager rooted at baseDir, or the system
// temp directory when baseDir is empty.
func NewManager(baseDir string) *Manager {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	return &Manager{baseDir: baseDir}
}

// Create makes a fresh run directory. Concurrent runs under the same root
// each get a unique directory.
func (m *Manager) Create() error {
	runDir, err := os.MkdirTemp(m.baseDir, "gantry-run-")
	if err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	m.runDir = runDir
	slog.Info("Created workspace", logfields.Path(runDir))
	return nil
}

// GetPath returns the run directory, or "" before Create.
func (m *Manager) GetPath() string {
	return m.runDir
}

// Cleanup removes the run directory and everything the jobs left in it.
func (m *Manager) Cleanup() error {
	if m.runDir == "" {
		return nil
	}

	if err := os.RemoveAll(m.runDir); err != nil {
		return fmt.Errorf("failed to cleanup workspace: %w", err)
	}

	slog.Info("Cleaned up workspace", logfields.Path(m.runDir))
	m.runDir = ""
	return nil
}

// CreateSubdir creates a job subdirectory within the run directory.
func (m *Manager) CreateSubdir(name string) (string, error) {
	if m.runDir == "" {
		return "", fmt.Errorf("workspace not created")
	}

	subdir := filepath.Join(m.runDir, name)
	if err := os.MkdirAll(subdir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create subdirectory: %w", err)
	}

	return subdir, nil
}
