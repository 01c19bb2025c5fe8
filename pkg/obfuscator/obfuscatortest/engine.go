// Package obfuscatortest provides an in-process Engine for tests.
package obfuscatortest

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/polisai/obfuscator-api/pkg/preset"
)

// Call records one Transform invocation.
type Call struct {
	InputPath  string
	OutputPath string
	Preset     preset.Preset
}

// Engine is a fake obfuscation engine. By default it writes Output(p, input)
// to the output path. Set Err, Delay or Empty to simulate failures.
type Engine struct {
	Err   error
	Delay time.Duration
	Empty bool

	mu    sync.Mutex
	calls []Call
}

// Output is what Engine writes for the given preset and input.
func Output(p preset.Preset, input []byte) string {
	return fmt.Sprintf("-- obfuscated with %s\n%s", p, input)
}

// Transform implements obfuscator.Engine.
func (e *Engine) Transform(ctx context.Context, inputPath, outputPath string, p preset.Preset) error {
	e.mu.Lock()
	e.calls = append(e.calls, Call{InputPath: inputPath, OutputPath: outputPath, Preset: p})
	e.mu.Unlock()

	if e.Delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.Delay):
		}
	}
	if e.Err != nil {
		return e.Err
	}
	if e.Empty {
		return nil
	}

	input, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, []byte(Output(p, input)), 0o600)
}

// Calls returns a copy of the recorded invocations.
func (e *Engine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Call, len(e.calls))
	copy(out, e.calls)
	return out
}
