package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/polisai/obfuscator-api/pkg/obfuscator"
	"github.com/polisai/obfuscator-api/pkg/preset"
	"github.com/polisai/obfuscator-api/pkg/upload"
)

// Client input failures detected by the handlers.
var (
	ErrNoFile        = errors.New("no file uploaded")
	ErrNoCode        = errors.New("no code provided")
	ErrInvalidPreset = errors.New("invalid preset")
	ErrCodeTooLarge  = errors.New("code too large")
	ErrInvalidBody   = errors.New("invalid request body")
)

// Rejection reasons reported to metrics and logs.
const (
	reasonNoFile        = "no_file"
	reasonNoCode        = "no_code"
	reasonInvalidPreset = "invalid_preset"
	reasonTooLarge      = "too_large"
	reasonExtension     = "extension"
	reasonMalformed     = "malformed"
	reasonEngine        = "engine"
	reasonInternal      = "internal"
)

// ValidationError is a client input failure. Message is shown to the caller
// verbatim and Details carries the specific value that failed.
type ValidationError struct {
	Err     error
	Message string
	Details string
}

func (e *ValidationError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

func noFileError() *ValidationError {
	return &ValidationError{
		Err:     ErrNoFile,
		Message: "No file uploaded. Please upload a .lua file.",
		Details: fmt.Sprintf("multipart field %q is required", upload.FileField),
	}
}

func noCodeError() *ValidationError {
	return &ValidationError{
		Err:     ErrNoCode,
		Message: `No code provided. Please include "code" in the request body.`,
		Details: `field "code" must be a non-empty string`,
	}
}

func invalidPresetError(name string) *ValidationError {
	return &ValidationError{
		Err:     ErrInvalidPreset,
		Message: "Invalid preset. Valid presets are: " + preset.List(),
		Details: fmt.Sprintf("unknown preset %q", name),
	}
}

func codeTooLargeError(size, limit int64) *ValidationError {
	return &ValidationError{
		Err:     ErrCodeTooLarge,
		Message: fmt.Sprintf("Code too large. Maximum size is %d bytes.", limit),
		Details: fmt.Sprintf("code is %d bytes", size),
	}
}

func invalidBodyError(err error) *ValidationError {
	return &ValidationError{
		Err:     ErrInvalidBody,
		Message: "Invalid JSON body.",
		Details: err.Error(),
	}
}

// translation is the HTTP form of a failure.
type translation struct {
	status int
	body   ErrorResponse
	reason string
}

// translate maps any error to a status and body. It never fails: unknown
// errors become a generic 500.
func translate(err error) translation {
	var (
		validation *ValidationError
		sizeErr    *upload.SizeLimitError
	)

	switch {
	case errors.As(err, &validation):
		return translation{
			status: http.StatusBadRequest,
			body:   ErrorResponse{Error: validation.Message, Details: validation.Details},
			reason: validationReason(validation),
		}

	case errors.As(err, &sizeErr):
		return translation{
			status: http.StatusBadRequest,
			body: ErrorResponse{
				Error:   fmt.Sprintf("File too large. Maximum size is %d bytes.", sizeErr.Limit),
				Details: err.Error(),
			},
			reason: reasonTooLarge,
		}

	case errors.Is(err, upload.ErrExtensionNotAllowed):
		return translation{
			status: http.StatusBadRequest,
			body:   ErrorResponse{Error: "Only .lua files are allowed", Details: err.Error()},
			reason: reasonExtension,
		}

	case errors.Is(err, upload.ErrTooManyFiles):
		return translation{
			status: http.StatusBadRequest,
			body:   ErrorResponse{Error: "Only one file may be uploaded", Details: err.Error()},
			reason: reasonMalformed,
		}

	case errors.Is(err, upload.ErrMalformedForm):
		return translation{
			status: http.StatusBadRequest,
			body:   ErrorResponse{Error: "Malformed multipart form", Details: err.Error()},
			reason: reasonMalformed,
		}

	case errors.Is(err, obfuscator.ErrEngineFailed):
		return translation{
			status: http.StatusInternalServerError,
			body:   ErrorResponse{Error: "Obfuscation failed", Details: err.Error()},
			reason: reasonEngine,
		}

	default:
		return translation{
			status: http.StatusInternalServerError,
			body:   ErrorResponse{Error: "Internal server error", Details: err.Error()},
			reason: reasonInternal,
		}
	}
}

func validationReason(v *ValidationError) string {
	switch {
	case errors.Is(v, ErrNoFile):
		return reasonNoFile
	case errors.Is(v, ErrNoCode):
		return reasonNoCode
	case errors.Is(v, ErrInvalidPreset):
		return reasonInvalidPreset
	case errors.Is(v, ErrCodeTooLarge):
		return reasonTooLarge
	default:
		return reasonMalformed
	}
}
