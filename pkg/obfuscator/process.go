package obfuscator

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/polisai/obfuscator-api/pkg/preset"
)

// Placeholders substituted into each argument of the engine command.
const (
	PlaceholderInput  = "{input}"
	PlaceholderOutput = "{output}"
	PlaceholderPreset = "{preset}"
)

const (
	// waitDelay is how long a cancelled process may hold its pipes open.
	waitDelay = 2 * time.Second

	// maxCapturedOutput caps the stderr and stdout kept per run.
	maxCapturedOutput = 8 << 10
)

// DefaultCommand runs the Prometheus CLI from the engine working directory.
var DefaultCommand = []string{"lua", "cli.lua", "--preset", PlaceholderPreset, "--out", PlaceholderOutput, PlaceholderInput}

// ProcessConfig describes how to launch the engine.
type ProcessConfig struct {
	Command []string
	WorkDir string
	Env     []string
}

// ProcessEngine runs the engine as one child process per invocation.
type ProcessEngine struct {
	config ProcessConfig
	logger *slog.Logger
}

// NewProcessEngine validates cfg. The command must reference both the input
// and output placeholders.
func NewProcessEngine(cfg ProcessConfig, logger *slog.Logger) (*ProcessEngine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("engine command cannot be empty")
	}
	joined := strings.Join(cfg.Command, " ")
	for _, ph := range []string{PlaceholderInput, PlaceholderOutput} {
		if !strings.Contains(joined, ph) {
			return nil, fmt.Errorf("engine command must contain %s", ph)
		}
	}

	cfg.Command = slices.Clone(cfg.Command)
	return &ProcessEngine{config: cfg, logger: logger}, nil
}

// Transform runs the engine and waits for it to exit.
func (e *ProcessEngine) Transform(ctx context.Context, inputPath, outputPath string, p preset.Preset) error {
	argv := e.expand(inputPath, outputPath, p)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if e.config.WorkDir != "" {
		cmd.Dir = e.config.WorkDir
	}
	cmd.Env = e.environ(ctx)
	cmd.WaitDelay = waitDelay

	stdout := &cappedBuffer{limit: maxCapturedOutput}
	stderr := &cappedBuffer{limit: maxCapturedOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()

	e.logOutput(ctx, stderr.Bytes())
	if stdout.Len() > 0 {
		e.logger.DebugContext(ctx, "Engine stdout", "output", stdout.String())
	}

	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("engine process interrupted: %w", ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ProcessError{
				ExitCode: exitErr.ExitCode(),
				Stderr:   strings.TrimSpace(stderr.String()),
			}
		}
		return fmt.Errorf("failed to run engine: %w", err)
	}

	e.logger.DebugContext(ctx, "Engine process exited", "preset", p, "duration", time.Since(start))
	return nil
}

func (e *ProcessEngine) expand(inputPath, outputPath string, p preset.Preset) []string {
	r := strings.NewReplacer(
		PlaceholderInput, inputPath,
		PlaceholderOutput, outputPath,
		PlaceholderPreset, string(p),
	)
	argv := make([]string, len(e.config.Command))
	for i, arg := range e.config.Command {
		argv[i] = r.Replace(arg)
	}
	return argv
}

// environ returns the inherited environment plus configured variables, with
// the current trace context injected so the engine can join the trace.
func (e *ProcessEngine) environ(ctx context.Context) []string {
	env := append(os.Environ(), e.config.Env...)

	carrier := envCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		env = append(env, strings.ToUpper(k)+"="+v)
	}
	return env
}

func (e *ProcessEngine) logOutput(ctx context.Context, stderr []byte) {
	scanner := bufio.NewScanner(bytes.NewReader(stderr))
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			e.logger.WarnContext(ctx, "Engine stderr", "output", line)
		}
	}
}

// envCarrier collects propagation fields for the child environment.
type envCarrier map[string]string

var _ propagation.TextMapCarrier = envCarrier{}

func (c envCarrier) Get(key string) string { return c[key] }
func (c envCarrier) Set(key, value string) { c[key] = value }
func (c envCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// cappedBuffer keeps the first limit bytes written and drops the rest.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) Bytes() []byte  { return b.buf.Bytes() }
func (b *cappedBuffer) String() string { return b.buf.String() }
func (b *cappedBuffer) Len() int       { return b.buf.Len() }
