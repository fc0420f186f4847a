// Package stager provisions and templates job input files into a per-run
// staging directory. Concurrent requests for the same destination file are
// deduplicated: the first caller copies or renders, the rest observe the
// staged result.
package stager

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/gvallee/go_util/pkg/util"

	"jobforge/internal/apperrors"
)

// MetricsRecorder is an optional interface for recording staging metrics.
type MetricsRecorder interface {
	RecordFileStaged(ctx context.Context, rendered bool)
	RecordStagingSkipped(ctx context.Context)
}

// Config holds stager construction parameters.
type Config struct {
	// Dir is the staging directory. Empty forces a fresh run directory
	// under BaseDir.
	Dir string
	// BaseDir is the parent for generated run directories. Defaults to the
	// system temp directory.
	BaseDir string
	// Mkdtemp nests a fresh run directory under Dir (or BaseDir).
	Mkdtemp bool
	// Cleanup marks the directory as owned: Close removes it.
	Cleanup bool

	RenderVariables map[string]string
	CustomLogFile   string

	Metrics MetricsRecorder
}

// Stager owns one staging directory and the per-destination lock set that
// serializes shared provisioning.
type Stager struct {
	dir             string
	owned           bool
	renderVariables map[string]string
	customLogFile   string
	metrics         MetricsRecorder
	logger          *slog.Logger

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	closed bool
}

// New resolves the staging directory and creates it if needed. When no
// directory is supplied, a fresh run directory is always allocated.
func New(cfg Config) (*Stager, error) {
	base := cfg.BaseDir
	if base == "" {
		base = os.TempDir()
	}

	dir := cfg.Dir
	mkdtemp := cfg.Mkdtemp
	if dir == "" {
		dir = base
		mkdtemp = true
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.Internal("stager.mkdir", err)
	}
	if mkdtemp {
		dir = filepath.Join(dir, "run-"+uuid.NewString()[:8])
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperrors.Internal("stager.mkdir", err)
		}
	}

	s := &Stager{
		dir:             dir,
		owned:           cfg.Cleanup || mkdtemp,
		renderVariables: maps.Clone(cfg.RenderVariables),
		customLogFile:   cfg.CustomLogFile,
		metrics:         cfg.Metrics,
		logger:          slog.With("component", "stager", "dir", dir),
		locks:           make(map[string]*sync.Mutex),
	}
	if s.renderVariables == nil {
		s.renderVariables = make(map[string]string)
	}
	s.logger.Debug("Staging directory ready", "owned", s.owned)
	return s, nil
}

// Dir returns the staging directory path.
func (s *Stager) Dir() string {
	return s.dir
}

// Close removes the staging directory if it is owned. Safe to call multiple
// times.
func (s *Stager) Close() error {
	return s.CleanupDir(false)
}

// CleanupDir removes the staging directory. Without force, externally
// supplied directories are left in place.
func (s *Stager) CleanupDir(force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || (!s.owned && !force) {
		return nil
	}
	if util.PathExists(s.dir) {
		if err := os.RemoveAll(s.dir); err != nil {
			return apperrors.Internal("stager.cleanupDir", err)
		}
	}
	s.closed = true
	s.logger.Debug("Staging directory removed")
	return nil
}

// lockFor returns the mutex guarding a destination path, creating it on
// first use. Two callers racing on a brand-new path get the same mutex.
func (s *Stager) lockFor(dst string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[dst]
	if !ok {
		l = &sync.Mutex{}
		s.locks[dst] = l
	}
	return l
}

// ProvideInput copies or renders a source file into destDir (defaulting to
// the staging directory) under its postfixed base name and returns the
// destination path. With skipExisting, concurrent callers racing on the same
// destination serialize per path and only the first provisions the file.
func (s *Stager) ProvideInput(ctx context.Context, src string, postfix Postfix, destDir string, renderVariables map[string]string, skipExisting bool) (string, error) {
	if destDir == "" {
		destDir = s.dir
	}
	if real, err := filepath.EvalSymlinks(destDir); err == nil {
		destDir = real
	}
	dst := filepath.Join(destDir, filepath.Base(PostfixInputFile(src, postfix)))

	if skipExisting {
		l := s.lockFor(dst)
		l.Lock()
		defer l.Unlock()

		if util.FileExists(dst) {
			if s.metrics != nil {
				s.metrics.RecordStagingSkipped(ctx)
			}
			return dst, nil
		}
	}

	rendered := len(renderVariables) > 0
	if rendered {
		if err := RenderFile(src, dst, renderVariables, postfix, true); err != nil {
			return "", err
		}
	} else {
		if err := copyFile(src, dst); err != nil {
			return "", err
		}
	}
	if s.metrics != nil {
		s.metrics.RecordFileStaged(ctx, rendered)
	}
	return dst, nil
}

// Settings is the closed set of per-create configuration attributes, filled
// from overrides where given and the stager's own defaults otherwise.
type Settings struct {
	Dir             string
	RenderVariables map[string]string
	CustomLogFile   string
}

// Overrides carries optional per-call settings. Nil fields fall back to the
// stager's defaults.
type Overrides struct {
	Dir             *string
	RenderVariables map[string]string
	CustomLogFile   *string
}

// GetConfig merges overrides with the stager's defaults into a Settings
// value. Map values are copied so callers cannot mutate the defaults.
func (s *Stager) GetConfig(o Overrides) Settings {
	cfg := Settings{
		Dir:             s.dir,
		RenderVariables: maps.Clone(s.renderVariables),
		CustomLogFile:   s.customLogFile,
	}
	if o.Dir != nil {
		cfg.Dir = *o.Dir
	}
	if o.RenderVariables != nil {
		cfg.RenderVariables = maps.Clone(o.RenderVariables)
	}
	if o.CustomLogFile != nil {
		cfg.CustomLogFile = *o.CustomLogFile
	}
	return cfg
}

// copyFile copies src to dst preserving mode and modification time.
func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return apperrors.Internal("stager.copyFile", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return apperrors.Internal("stager.copyFile", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return apperrors.Internal("stager.copyFile", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return apperrors.Internal("stager.copyFile", err)
	}
	if err := out.Close(); err != nil {
		return apperrors.Internal("stager.copyFile", err)
	}
	if err := os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return apperrors.Internal("stager.copyFile", err)
	}
	return nil
}
