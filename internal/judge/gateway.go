package judge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultExecutable     = "claude"
	DefaultModel          = "sonnet"
	DefaultTimeout        = 30 * time.Second
	DefaultMaxOutputBytes = 1 << 20

	// NestedEnv is set in the oracle's environment. The oracle may itself
	// fire agent hooks; those invocations see it and allow immediately.
	NestedEnv = "STOPGATE_NESTED"
)

// ErrOutputTooLarge is returned when the oracle writes more than the
// configured stdout cap.
var ErrOutputTooLarge = errors.New("oracle output exceeds size limit")

// Invocation is one oracle process launch.
type Invocation struct {
	Executable     string
	Args           []string
	Stdin          string
	Env            []string
	MaxOutputBytes int
}

// ProcessRunner launches an oracle process and returns its stdout.
// This abstraction allows mocking in tests.
type ProcessRunner func(ctx context.Context, inv Invocation) ([]byte, error)

// ProcessError describes an oracle process that ran but failed.
type ProcessError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("oracle exited with code %d: %v", e.ExitCode, e.Err)
	}
	return fmt.Sprintf("oracle exited with code %d: %v (stderr: %s)", e.ExitCode, e.Err, e.Stderr)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// cappedBuffer keeps at most limit bytes and remembers whether more arrived.
// It never returns a write error so the child is not stalled on a full pipe.
type cappedBuffer struct {
	buf      bytes.Buffer
	limit    int
	overflow bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.limit - c.buf.Len()
	if len(p) > room {
		c.overflow = true
		if room > 0 {
			c.buf.Write(p[:room])
		}
		return len(p), nil
	}
	return c.buf.Write(p)
}

// ExecRunner runs the oracle as a real subprocess. Context expiry kills it.
func ExecRunner(ctx context.Context, inv Invocation) ([]byte, error) {
	cmd := exec.CommandContext(ctx, inv.Executable, inv.Args...)
	cmd.Stdin = strings.NewReader(inv.Stdin)
	cmd.Env = inv.Env
	// Bound Wait when a grandchild keeps the output pipes open after the kill.
	cmd.WaitDelay = 2 * time.Second

	stdout := &cappedBuffer{limit: inv.MaxOutputBytes}
	stderr := &cappedBuffer{limit: 4096}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &ProcessError{
				ExitCode: exitErr.ExitCode(),
				Stderr:   strings.TrimSpace(stderr.buf.String()),
				Err:      err,
			}
		}
		return nil, fmt.Errorf("starting oracle: %w", err)
	}
	if stdout.overflow {
		return nil, fmt.Errorf("%w (%d bytes)", ErrOutputTooLarge, inv.MaxOutputBytes)
	}
	return stdout.buf.Bytes(), nil
}

// CLIGateway consults the oracle by launching an agent CLI in one-shot
// print mode. Zero-valued fields take the package defaults.
type CLIGateway struct {
	Executable     string
	Model          string
	Timeout        time.Duration
	MaxOutputBytes int
	Runner         ProcessRunner // if nil, uses ExecRunner
	Logger         *zap.Logger
}

// Evaluate implements Judge.
func (g *CLIGateway) Evaluate(ctx context.Context, req Request) Verdict {
	start := time.Now()
	v, err := g.evaluate(ctx, req)
	if err != nil {
		g.logger().Warn("judge unavailable; failing open",
			zap.Error(err),
			zap.Duration("elapsed", time.Since(start)),
		)
		return FailOpen(err)
	}
	g.logger().Debug("judge verdict",
		zap.Bool("pass", v.Pass),
		zap.Int("missing_items", len(v.MissingItems)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return v
}

func (g *CLIGateway) evaluate(ctx context.Context, req Request) (Verdict, error) {
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	runner := g.Runner
	if runner == nil {
		runner = ExecRunner
	}

	out, err := runner(ctx, g.invocation(BuildPrompt(req)))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Verdict{}, fmt.Errorf("oracle timed out after %v: %w", timeout, err)
		}
		return Verdict{}, err
	}

	v, err := ParseResponse(out)
	if err != nil {
		return Verdict{}, fmt.Errorf("parsing oracle response: %w", err)
	}
	return v, nil
}

func (g *CLIGateway) invocation(prompt string) Invocation {
	exe := g.Executable
	if exe == "" {
		exe = DefaultExecutable
	}
	model := g.Model
	if model == "" {
		model = DefaultModel
	}
	maxOut := g.MaxOutputBytes
	if maxOut <= 0 {
		maxOut = DefaultMaxOutputBytes
	}
	return Invocation{
		Executable: exe,
		Args: []string{
			"-p",
			"--output-format", "json",
			"--model", model,
			"--max-turns", "1",
			"--tools", "",
			"--system-prompt", SystemPrompt,
			"--json-schema", VerdictSchema,
		},
		Stdin:          prompt,
		Env:            append(os.Environ(), NestedEnv+"=1"),
		MaxOutputBytes: maxOut,
	}
}

func (g *CLIGateway) logger() *zap.Logger {
	if g.Logger == nil {
		return zap.NewNop()
	}
	return g.Logger
}
