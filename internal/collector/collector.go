package collector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"price-ingest-alerts/internal/snapshot"
)

// Collector produces a freshly staged snapshot. A nil document with a nil error
// means the task succeeded without new data.
type Collector interface {
	Collect(ctx context.Context) (*snapshot.Document, error)
	Clear(ctx context.Context) error
}

// Failure reports an abnormal collector completion.
type Failure struct {
	ExitCode int
	TimedOut bool
	Stderr   string
	Err      error
}

func (f *Failure) Error() string {
	switch {
	case f.TimedOut:
		return "collector timed out"
	case f.ExitCode != 0:
		return fmt.Sprintf("collector exited with status %d: %s", f.ExitCode, f.Stderr)
	default:
		return fmt.Sprintf("collector failed: %v", f.Err)
	}
}

func (f *Failure) Unwrap() error { return f.Err }

// FormatError reports a staged document that violates the staging schema.
type FormatError struct {
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("staged data: %s: %v", e.Reason, e.Err)
	}
	return "staged data: " + e.Reason
}

func (e *FormatError) Unwrap() error { return e.Err }

// CommandOptions configure an external collector task.
type CommandOptions struct {
	Command     string
	Args        []string
	Dir         string
	Env         []string
	StagingPath string
	Timeout     time.Duration
}

// CommandCollector runs an external process that writes the staging document.
type CommandCollector struct {
	opts   CommandOptions
	logger zerolog.Logger
	now    func() time.Time
}

// NewCommand builds a collector around an external command.
func NewCommand(opts CommandOptions, logger zerolog.Logger) *CommandCollector {
	if opts.Timeout <= 0 {
		opts.Timeout = 4 * time.Minute
	}
	return &CommandCollector{
		opts:   opts,
		logger: logger.With().Str("component", "collector").Logger(),
		now:    time.Now,
	}
}

// Collect runs the command and parses whatever it staged.
func (c *CommandCollector) Collect(ctx context.Context) (*snapshot.Document, error) {
	if c.opts.Command == "" {
		return nil, errors.New("collector command not configured")
	}
	if c.opts.StagingPath == "" {
		return nil, errors.New("collector staging path not configured")
	}

	if err := c.run(ctx); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(c.opts.StagingPath)
	if errors.Is(err, fs.ErrNotExist) {
		c.logger.Info().Msg("collector finished without staged output")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read staged output: %w", err)
	}

	doc, err := ParseStaged(raw)
	if err != nil {
		c.reject()
		return nil, err
	}
	return doc, nil
}

func (c *CommandCollector) run(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.opts.Command, c.opts.Args...)
	cmd.Dir = c.opts.Dir
	if len(c.opts.Env) > 0 {
		cmd.Env = append(os.Environ(), c.opts.Env...)
	}
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	started := c.now()
	err := cmd.Run()
	elapsed := c.now().Sub(started)

	if err == nil {
		c.logger.Debug().Dur("elapsed", elapsed).Msg("collector finished")
		return nil
	}

	failure := &Failure{Err: err, Stderr: tail(stderr.String(), 512)}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		failure.TimedOut = true
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		failure.ExitCode = exitErr.ExitCode()
	}
	return failure
}

func (c *CommandCollector) reject() {
	target := fmt.Sprintf("%s.rejected-%d", c.opts.StagingPath, c.now().Unix())
	if err := os.Rename(c.opts.StagingPath, target); err != nil {
		c.logger.Warn().Err(err).Msg("failed to move rejected staging file aside")
		return
	}
	c.logger.Warn().Str("path", target).Msg("rejected staging file kept for inspection")
}

// Clear removes the staged document after it has been merged.
func (c *CommandCollector) Clear(ctx context.Context) error {
	if err := os.Remove(c.opts.StagingPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear staged output: %w", err)
	}
	return nil
}

func tail(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}

var _ Collector = (*CommandCollector)(nil)
