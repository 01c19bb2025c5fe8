// Package preset defines the closed set of obfuscation intensity levels
// accepted by the API.
package preset

import (
	"errors"
	"fmt"
	"strings"
)

// Preset names an intensity level understood by the obfuscation engine.
type Preset string

const (
	Weak   Preset = "Weak"
	Medium Preset = "Medium"
	Strong Preset = "Strong"
	Minify Preset = "Minify"
)

// ErrUnknownPreset is returned by Parse for names outside the registry.
var ErrUnknownPreset = errors.New("unknown preset")

// ordered is the discovery order returned by All.
var ordered = [...]Preset{Weak, Medium, Strong, Minify}

var descriptions = map[Preset]string{
	Weak:   "Light obfuscation (~8x size, fast)",
	Medium: "String encryption + VM (~57x size, moderate)",
	Strong: "Multiple VM layers (~101x size, slower)",
	Minify: "Basic compression (~1x size, very fast)",
}

// Default returns the preset used when a request does not name one.
func Default() Preset {
	return Medium
}

// All returns every preset in a fixed order. The slice is a copy.
func All() []Preset {
	out := make([]Preset, len(ordered))
	copy(out, ordered[:])
	return out
}

// Names returns the preset names in the same order as All.
func Names() []string {
	names := make([]string, len(ordered))
	for i, p := range ordered {
		names[i] = string(p)
	}
	return names
}

// IsValid reports whether name is exactly one of the registered presets.
func IsValid(name string) bool {
	for _, p := range ordered {
		if string(p) == name {
			return true
		}
	}
	return false
}

// Parse converts name into a Preset.
func Parse(name string) (Preset, error) {
	if !IsValid(name) {
		return "", fmt.Errorf("%w %q: valid presets are %s", ErrUnknownPreset, name, List())
	}
	return Preset(name), nil
}

// List renders the registry as "Weak, Medium, Strong, Minify".
func List() string {
	return strings.Join(Names(), ", ")
}

// Describe returns a short human description of p, or "" if p is unknown.
func Describe(p Preset) string {
	return descriptions[p]
}

func (p Preset) String() string {
	return string(p)
}
