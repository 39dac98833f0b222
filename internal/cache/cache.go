// Package cache persists a fixed set of directories between runs, keyed by a
// content-free identifier. Restores are bounded: exceeding the bound is a
// cache miss, never an error.
package cache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gantryci/gantry/internal/config"
	"github.com/gantryci/gantry/internal/logfields"
	"github.com/gantryci/gantry/internal/metrics"
)

// Manager stores and restores the cache directory set for job directories.
type Manager struct {
	key            string
	root           string
	directories    []string
	restoreTimeout time.Duration

	mu sync.Mutex // serializes Save so archives never interleave writers
}

// NewManager creates a cache manager from the descriptor's cache section.
func NewManager(cfg config.CacheConfig) *Manager {
	return &Manager{
		key:            cfg.Key,
		root:           cfg.Directory,
		directories:    append([]string(nil), cfg.Directories...),
		restoreTimeout: cfg.RestoreTimeout.Std(),
	}
}

// archiveDir is where the cached copy of one configured directory lives.
func (m *Manager) archiveDir(dir string) string {
	// "target" -> target, ".cargo" -> .cargo; nested paths are flattened.
	name := strings.ReplaceAll(dir, string(filepath.Separator), "__")
	return filepath.Join(m.root, m.key, name)
}

// Restore copies cached directories into dir, bounded by the restore timeout.
// A missing archive is a miss; exceeding the bound abandons the partial
// restore and reports a timeout, which callers treat exactly like a miss.
func (m *Manager) Restore(ctx context.Context, dir string) metrics.CacheResultLabel {
	if len(m.directories) == 0 {
		return metrics.CacheMiss
	}

	restoreCtx := ctx
	if m.restoreTimeout > 0 {
		var cancel context.CancelFunc
		restoreCtx, cancel = context.WithTimeout(ctx, m.restoreTimeout)
		defer cancel()
	}

	hit := false
	var restored []string
	for _, d := range m.directories {
		src := m.archiveDir(d)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		dst := filepath.Join(dir, d)
		if err := copyTreeContext(restoreCtx, src, dst); err != nil {
			if restoreCtx.Err() != nil {
				m.abandonRestore(dir, append(restored, d))
				slog.Warn("Cache restore exceeded time bound, proceeding uncached",
					logfields.CacheKey(m.key),
					slog.Duration("bound", m.restoreTimeout))
				return metrics.CacheTimeout
			}
			slog.Warn("Cache restore failed, proceeding uncached",
				logfields.CacheKey(m.key),
				logfields.Path(d),
				logfields.Error(err))
			m.abandonRestore(dir, append(restored, d))
			return metrics.CacheMiss
		}
		restored = append(restored, d)
		hit = true
	}

	if !hit {
		return metrics.CacheMiss
	}
	slog.Debug("Cache restored", logfields.CacheKey(m.key), slog.Int("directories", len(restored)))
	return metrics.CacheHit
}

// abandonRestore removes partially restored directories so a job never sees a
// half-populated cache.
func (m *Manager) abandonRestore(dir string, dirs []string) {
	for _, d := range dirs {
		if err := os.RemoveAll(filepath.Join(dir, d)); err != nil {
			slog.Warn("Failed to remove partial cache restore", logfields.Path(d), logfields.Error(err))
		}
	}
}

// Save copies the configured directories out of dir into the archive,
// replacing any previous content for this key. Each directory is staged
// beside its archive and swapped in with a rename, so the archive always
// holds the complete output of exactly one writer.
func (m *Manager) Save(dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.directories {
		src := filepath.Join(dir, d)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		dst := m.archiveDir(d)
		staging := dst + ".staging"
		if err := os.RemoveAll(staging); err != nil {
			return fmt.Errorf("failed to clear cache staging for %s: %w", d, err)
		}
		if err := copyTreeContext(context.Background(), src, staging); err != nil {
			_ = os.RemoveAll(staging)
			return fmt.Errorf("failed to save cache directory %s: %w", d, err)
		}
		if err := os.RemoveAll(dst); err != nil {
			return fmt.Errorf("failed to clear cache archive for %s: %w", d, err)
		}
		if err := os.Rename(staging, dst); err != nil {
			return fmt.Errorf("failed to publish cache archive for %s: %w", d, err)
		}
	}
	return nil
}

// copyTreeContext recursively copies src to dst, checking ctx between entries
// so a bounded restore can be abandoned promptly.
func copyTreeContext(ctx context.Context, src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, srcInfo.Mode()); err != nil {
		return err
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())
		if entry.IsDir() {
			if err := copyTreeContext(ctx, srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := copyFileEntry(srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}

func copyFileEntry(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		_ = out.Close()
	}()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}

	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.Chmod(dst, info.Mode())
}
