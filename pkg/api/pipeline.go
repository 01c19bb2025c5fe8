package api

import (
	"context"
	"fmt"

	"github.com/polisai/obfuscator-api/pkg/artifact"
	"github.com/polisai/obfuscator-api/pkg/obfuscator"
	"github.com/polisai/obfuscator-api/pkg/preset"
)

// inputSuffix is the extension of input artifacts; the engine expects Lua files.
const inputSuffix = ".lua"

// obfuscate runs source through the engine. Both temporary files live in one
// scope that is closed before returning, whatever the outcome. A close
// failure is logged and never replaces the pipeline's own result.
func (s *Server) obfuscate(ctx context.Context, source []byte, p preset.Preset) ([]byte, error) {
	logger := s.requestLogger(ctx)

	scope := s.artifacts.NewScope()
	defer func() {
		if err := scope.Close(); err != nil {
			logger.Error("Failed to release artifacts", "error", err)
		}
	}()

	input, err := scope.Acquire(inputSuffix)
	if err != nil {
		return nil, fmt.Errorf("failed to create input artifact: %w", err)
	}
	if err := input.Write(source); err != nil {
		return nil, fmt.Errorf("failed to write input artifact: %w", err)
	}

	digest := artifact.Digest(source)
	logger.Info("Obfuscating source",
		"preset", p,
		"bytes", len(source),
		"digest", digest,
	)

	output, err := s.invoker.Invoke(ctx, scope, input.Path(), p)
	if err != nil {
		return nil, err
	}

	code, err := output.ReadAll()
	if err != nil {
		return nil, &obfuscator.EngineError{
			Preset: p,
			Err:    fmt.Errorf("%w: %v", obfuscator.ErrMalformedOutput, err),
		}
	}

	logger.Info("Obfuscation complete",
		"preset", p,
		"digest", digest,
		"output_bytes", len(code),
	)
	return code, nil
}
