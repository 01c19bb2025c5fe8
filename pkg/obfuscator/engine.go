package obfuscator

import (
	"context"

	"github.com/polisai/obfuscator-api/pkg/preset"
)

// Engine transforms the Lua file at inputPath and writes the result to outputPath.
// Implementations must honour ctx cancellation.
type Engine interface {
	Transform(ctx context.Context, inputPath, outputPath string, p preset.Preset) error
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(ctx context.Context, inputPath, outputPath string, p preset.Preset) error

func (f EngineFunc) Transform(ctx context.Context, inputPath, outputPath string, p preset.Preset) error {
	return f(ctx, inputPath, outputPath, p)
}
