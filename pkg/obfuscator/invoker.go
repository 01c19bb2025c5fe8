package obfuscator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/obfuscator-api/pkg/artifact"
	"github.com/polisai/obfuscator-api/pkg/preset"
)

// DefaultTimeout bounds a single engine invocation.
const DefaultTimeout = 30 * time.Second

// OutputSuffix is the extension given to output artifacts.
const OutputSuffix = ".lua"

// Invocation outcomes reported to Metrics.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeTimeout   = "timeout"
	OutcomeMalformed = "malformed"
)

const tracerName = "github.com/polisai/obfuscator-api/pkg/obfuscator"

// Metrics records engine invocations.
type Metrics interface {
	ObserveEngine(p preset.Preset, outcome string, duration time.Duration)
}

// InvokerConfig configures an Invoker.
type InvokerConfig struct {
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics Metrics
}

// Invoker runs one engine call per request.
type Invoker struct {
	engine  Engine
	timeout time.Duration
	logger  *slog.Logger
	metrics Metrics
	tracer  trace.Tracer
}

// NewInvoker wraps engine. A zero timeout selects DefaultTimeout.
func NewInvoker(engine Engine, cfg InvokerConfig) *Invoker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Invoker{
		engine:  engine,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		tracer:  otel.Tracer(tracerName),
	}
}

// Timeout returns the bound applied to each invocation.
func (inv *Invoker) Timeout() time.Duration {
	return inv.timeout
}

// Invoke obfuscates the file at inputPath with preset p. The output artifact
// is acquired in scope, so the caller's scope releases it on every path.
// Artifact allocation failures are returned as-is; engine failures as *EngineError.
func (inv *Invoker) Invoke(ctx context.Context, scope *artifact.Scope, inputPath string, p preset.Preset) (*artifact.Artifact, error) {
	ctx, span := inv.tracer.Start(ctx, "obfuscator.invoke",
		trace.WithAttributes(attribute.String("obfuscator.preset", string(p))),
	)
	defer span.End()

	out, err := scope.Acquire(OutputSuffix)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "output artifact")
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	start := time.Now()
	err = inv.engine.Transform(runCtx, inputPath, out.Path(), p)
	if err == nil {
		err = checkOutput(out)
	}
	elapsed := time.Since(start)

	outcome := OutcomeSuccess
	if err != nil {
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			outcome = OutcomeTimeout
			err = fmt.Errorf("%w after %s", ErrEngineTimeout, inv.timeout)
		case errors.Is(err, ErrMalformedOutput):
			outcome = OutcomeMalformed
		default:
			outcome = OutcomeFailure
		}
	}

	if inv.metrics != nil {
		inv.metrics.ObserveEngine(p, outcome, elapsed)
	}
	span.SetAttributes(
		attribute.String("obfuscator.outcome", outcome),
		attribute.Int64("obfuscator.duration_ms", elapsed.Milliseconds()),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		inv.logger.WarnContext(ctx, "Engine invocation failed",
			"preset", p,
			"outcome", outcome,
			"duration", elapsed,
			"error", err,
		)
		return nil, &EngineError{Preset: p, Err: err}
	}

	span.SetStatus(codes.Ok, "")
	inv.logger.DebugContext(ctx, "Engine invocation complete", "preset", p, "duration", elapsed)
	return out, nil
}

func checkOutput(out *artifact.Artifact) error {
	size, err := out.Size()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if size == 0 {
		return ErrMalformedOutput
	}
	return nil
}
