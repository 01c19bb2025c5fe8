package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/polisai/obfuscator-api/pkg/preset"
)

const healthMessage = "Prometheus Obfuscator API is running"

// textBodyOverhead is added to the JSON body cap on top of the worst-case
// escaped size of the code field.
const textBodyOverhead = 64 << 10

// Source labels for metrics.
const (
	sourceFile = "file"
	sourceText = "text"
)

// knownPaths maps served paths to their method for 405 responses.
var knownPaths = map[string]string{
	"/health":         http.MethodGet,
	"/presets":        http.MethodGet,
	"/obfuscate":      http.MethodPost,
	"/obfuscate-text": http.MethodPost,
}

// handleHealth handles GET /health requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Message: healthMessage})
}

// handlePresets handles GET /presets requests. ?verbose=true adds a short
// description of each preset.
func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	resp := PresetsResponse{Presets: preset.All()}

	if verbose, _ := strconv.ParseBool(r.URL.Query().Get("verbose")); verbose {
		resp.Descriptions = make(map[preset.Preset]string, len(resp.Presets))
		for _, p := range resp.Presets {
			resp.Descriptions[p] = preset.Describe(p)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleObfuscateFile handles POST /obfuscate with a multipart upload.
// Transport checks (extension, size) run while the body is read; the file
// and preset are checked afterwards, before any temporary file exists.
func (s *Server) handleObfuscateFile(w http.ResponseWriter, r *http.Request) {
	form, err := s.validator.ReadMultipart(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if form.File == nil {
		s.fail(w, r, noFileError())
		return
	}

	p := preset.Default()
	if form.Preset != "" {
		if p, err = preset.Parse(form.Preset); err != nil {
			s.fail(w, r, invalidPresetError(form.Preset))
			return
		}
	}

	s.metrics.RecordSource(sourceFile, len(form.File.Data))

	code, err := s.obfuscate(r.Context(), form.File.Data, p)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ObfuscationResult{
		Success:          true,
		Preset:           p,
		OriginalFilename: form.File.Name,
		ObfuscatedCode:   string(code),
	})
}

// handleObfuscateText handles POST /obfuscate-text with a JSON body.
func (s *Server) handleObfuscateText(w http.ResponseWriter, r *http.Request) {
	limit := s.validator.MaxBytes
	r.Body = http.MaxBytesReader(w, r.Body, 6*limit+textBodyOverhead)

	var req TextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			s.fail(w, r, noCodeError())
		case errors.As(err, &maxErr):
			s.fail(w, r, &ValidationError{
				Err:     ErrCodeTooLarge,
				Message: fmt.Sprintf("Code too large. Maximum size is %d bytes.", limit),
				Details: fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit),
			})
		default:
			s.fail(w, r, invalidBodyError(err))
		}
		return
	}

	if req.Code == nil || *req.Code == "" {
		s.fail(w, r, noCodeError())
		return
	}

	p := preset.Default()
	if req.Preset != nil {
		var err error
		if p, err = preset.Parse(*req.Preset); err != nil {
			s.fail(w, r, invalidPresetError(*req.Preset))
			return
		}
	}

	source := []byte(*req.Code)
	if size := int64(len(source)); size > limit {
		s.fail(w, r, codeTooLargeError(size, limit))
		return
	}

	s.metrics.RecordSource(sourceText, len(source))

	code, err := s.obfuscate(r.Context(), source, p)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ObfuscationResult{
		Success:        true,
		Preset:         p,
		ObfuscatedCode: string(code),
	})
}

// handleNotFound answers every unmatched request with a JSON error.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	if method, ok := knownPaths[r.URL.Path]; ok {
		w.Header().Set("Allow", method)
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{
			Error:   "Method not allowed",
			Details: fmt.Sprintf("%s %s is not supported", r.Method, r.URL.Path),
		})
		return
	}
	writeJSON(w, http.StatusNotFound, ErrorResponse{
		Error:   "Not found",
		Details: fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path),
	})
}

// fail logs err and writes its translated response.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	t := writeError(w, s.metrics, err)

	logger := s.requestLogger(r.Context())
	if t.status >= http.StatusInternalServerError {
		logger.Error("Obfuscation request failed", "reason", t.reason, "error", err)
		return
	}
	logger.Warn("Obfuscation request rejected", "reason", t.reason, "error", err)
}

func (s *Server) requestLogger(ctx context.Context) *slog.Logger {
	if id, ok := RequestIDFromContext(ctx); ok {
		return s.logger.With("request_id", id)
	}
	return s.logger
}

// writeError translates err, records the failure and writes the body.
func writeError(w http.ResponseWriter, metrics *Metrics, err error) translation {
	t := translate(err)
	if metrics != nil {
		metrics.RecordFailure(t.reason)
	}
	writeJSON(w, t.status, t.body)
	return t
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
