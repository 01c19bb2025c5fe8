package obfuscator

import (
	"errors"
	"fmt"

	"github.com/polisai/obfuscator-api/pkg/preset"
)

var (
	// ErrEngineFailed matches every *EngineError.
	ErrEngineFailed = errors.New("obfuscation engine failed")

	// ErrEngineTimeout indicates the engine did not finish within the invoker timeout.
	ErrEngineTimeout = errors.New("engine timed out")

	// ErrMalformedOutput indicates the engine reported success without usable output.
	ErrMalformedOutput = errors.New("engine produced no output")
)

// EngineError is the terminal failure of a single engine invocation.
type EngineError struct {
	Preset preset.Preset
	Err    error
}

func (e *EngineError) Error() string {
	return e.Err.Error()
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) Is(target error) bool {
	return target == ErrEngineFailed
}

// ProcessError describes an engine process that exited non-zero.
type ProcessError struct {
	ExitCode int
	Stderr   string
}

func (e *ProcessError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("engine exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("engine exited with code %d: %s", e.ExitCode, e.Stderr)
}
