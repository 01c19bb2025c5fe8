package api

import "github.com/polisai/obfuscator-api/pkg/preset"

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// PresetsResponse is the body of GET /presets. Descriptions is filled only
// when verbose output is requested.
type PresetsResponse struct {
	Presets      []preset.Preset          `json:"presets"`
	Descriptions map[preset.Preset]string `json:"descriptions,omitempty"`
}

// ObfuscationResult is the body of a successful obfuscation.
type ObfuscationResult struct {
	Success          bool          `json:"success"`
	Preset           preset.Preset `json:"preset"`
	OriginalFilename string        `json:"originalFilename,omitempty"`
	ObfuscatedCode   string        `json:"obfuscatedCode"`
}

// TextRequest is the body of POST /obfuscate-text.
type TextRequest struct {
	Code   *string `json:"code"`
	Preset *string `json:"preset,omitempty"`
}
