package enhance

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// stderrTail bounds how much of the enhancer's stderr is kept for the
// failure message.
const stderrTail = 2048

// CommandConfig configures an external enhancer binary.
type CommandConfig struct {
	Path string
	Args []string
	// WaitDelay bounds how long the process may linger after cancellation.
	WaitDelay time.Duration
}

// Command runs an external enhancer binary once per job. The binary is
// called as
//
//	<path> <args...> --input IN --output OUT --attenuation-limit-db A --output-gain-db G
//
// and may print "stage=<name>" or "progress=<n>" lines on stdout.
type Command struct {
	cfg    CommandConfig
	logger *slog.Logger
}

// NewCommandFactory returns a Factory for Command enhancers.
func NewCommandFactory(cfg CommandConfig, logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return func() (Enhancer, error) {
		if _, err := exec.LookPath(cfg.Path); err != nil {
			return nil, fmt.Errorf("enhancer command %q not found: %w", cfg.Path, err)
		}
		return &Command{cfg: cfg, logger: logger.With("component", "command_enhancer")}, nil
	}
}

// Args returns the full argument list for req.
func (c *Command) Args(req Request) []string {
	args := append([]string{}, c.cfg.Args...)
	args = append(args,
		"--input", req.InputPath,
		"--output", req.OutputPath,
		"--attenuation-limit-db", strconv.FormatFloat(req.Params.AttenuationLimitDB, 'f', -1, 64),
		"--output-gain-db", strconv.FormatFloat(req.Params.OutputGainDB, 'f', -1, 64),
	)
	return args
}

// Enhance implements Enhancer.
func (c *Command) Enhance(ctx context.Context, req Request, progress ProgressFunc) error {
	cmd := exec.CommandContext(ctx, c.cfg.Path, c.Args(req)...)
	if c.cfg.WaitDelay > 0 {
		cmd.WaitDelay = c.cfg.WaitDelay
	}

	stdout, stdoutW := io.Pipe()
	cmd.Stdout = stdoutW
	stderr := &tailBuffer{limit: stderrTail}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		_ = stdoutW.Close()
		return fmt.Errorf("failed to start enhancer: %w", err)
	}

	lastStage := make(chan Stage, 1)
	go func() {
		last := StageLoad
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			stage, percent, ok := ParseProgressLine(scanner.Text())
			if !ok {
				continue
			}
			if stage != "" {
				last = stage
			}
			if progress != nil {
				progress(percent)
			}
		}
		// Drain so the process never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, stdout)
		lastStage <- last
	}()

	err := cmd.Wait()
	_ = stdoutW.Close()
	last := <-lastStage
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = fmt.Sprintf("enhancer exited with status %d", exitErr.ExitCode())
		}
		c.logger.Warn("enhancer command failed",
			"job_id", req.JobID,
			"exit_code", exitErr.ExitCode(),
			"stage", last)
		if strings.Contains(strings.ToLower(msg), "out of memory") {
			return fmt.Errorf("%w: %s", ErrResourceExhausted, msg)
		}
		return NewTransformError(last, msg, err)
	}
	return fmt.Errorf("enhancer command: %w", err)
}

// Close implements Enhancer.
func (c *Command) Close() error {
	return nil
}

// ParseProgressLine reads one stdout line of the enhancer protocol. It
// returns the stage (empty for bare progress lines) and the progress value.
func ParseProgressLine(line string) (Stage, int, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return "", 0, false
	}
	value = strings.TrimSpace(value)

	switch strings.TrimSpace(key) {
	case "stage":
		stage := Stage(strings.ToLower(value))
		p, ok := Milestone(stage)
		return stage, p, ok
	case "progress":
		n, err := strconv.Atoi(strings.TrimSuffix(value, "%"))
		if err != nil {
			return "", 0, false
		}
		return "", max(0, min(100, n)), true
	default:
		return "", 0, false
	}
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
