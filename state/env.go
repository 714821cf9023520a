// Package state defines shared program state.
package state

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/encoding"

	"fbm/config"
	"fbm/misc"
)

type envKey struct{}

// LocalEnv keeps everything program needs in a single place.
type LocalEnv struct {
	Cfg *config.Config
	Rpt *config.Report
	Log *zap.Logger

	// used by merge subcommand
	Overwrite bool
	CodePage  encoding.Encoding

	workDir       string
	start         time.Time
	restoreStdLog func()
}

func EnvFromContext(ctx context.Context) *LocalEnv {
	if env, ok := ctx.Value(envKey{}).(*LocalEnv); ok {
		return env
	}
	// this should never happen
	panic("localenv not found in context")
}

func ContextWithEnv(ctx context.Context) context.Context {
	return context.WithValue(ctx, envKey{}, &LocalEnv{start: time.Now()})
}

func (e *LocalEnv) Uptime() time.Duration {
	return time.Since(e.start)
}

// WorkDir returns program scratch directory creating it on first use.
// Extracted archive entries and spilled document bodies live there.
func (e *LocalEnv) WorkDir() (string, error) {
	if len(e.workDir) > 0 {
		return e.workDir, nil
	}
	dir, err := os.MkdirTemp("", misc.GetAppName()+"-work-")
	if err != nil {
		return "", fmt.Errorf("unable to create work directory: %w", err)
	}
	e.workDir = dir
	e.Rpt.Store("work", dir)
	return dir, nil
}

// RemoveWorkDir removes scratch directory, it has to be called after debug
// report is finalized.
func (e *LocalEnv) RemoveWorkDir() {
	if len(e.workDir) == 0 {
		return
	}
	if err := os.RemoveAll(e.workDir); err != nil && e.Log != nil {
		e.Log.Warn("Unable to remove work directory", zap.String("dir", e.workDir), zap.Error(err))
	}
	e.workDir = ""
}

func (e *LocalEnv) RedirectStdLog() {
	if e.Log == nil {
		return
	}
	e.restoreStdLog = zap.RedirectStdLog(e.Log)
}

func (e *LocalEnv) RestoreStdLog() {
	if e.Log != nil {
		_ = e.Log.Sync()
	}
	if e.restoreStdLog != nil {
		e.restoreStdLog()
	}
}
