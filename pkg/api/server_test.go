package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/obfuscator-api/pkg/config"
	"github.com/polisai/obfuscator-api/pkg/obfuscator/obfuscatortest"
	"github.com/polisai/obfuscator-api/pkg/preset"
)

const sampleSource = "local x = 1\nprint(x)\n"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, engine *obfuscatortest.Engine, mutate ...func(*config.Config)) *Server {
	t.Helper()

	cfg := config.Default()
	cfg.Artifacts.Dir = t.TempDir()
	for _, fn := range mutate {
		fn(cfg)
	}

	srv, err := NewServer(cfg, engine, WithLogger(discardLogger()))
	require.NoError(t, err)
	return srv
}

func multipartRequest(t *testing.T, path, filename string, content []byte, presetValue *string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if presetValue != nil {
		require.NoError(t, mw.WriteField("preset", *presetValue))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func textRequest(t *testing.T, payload any) *http.Request {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/obfuscate-text", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) ObfuscationResult {
	t.Helper()
	var resp ObfuscationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func assertNoArtifacts(t *testing.T, srv *Server) {
	t.Helper()
	entries, err := os.ReadDir(srv.Artifacts().Dir())
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary files left behind")
	assert.Zero(t, srv.Artifacts().Active())
}

func ptr(s string) *string {
	return &s
}

func TestNewServer_RequiresEngine(t *testing.T) {
	_, err := NewServer(config.Default(), nil)
	assert.Error(t, err)
}

func TestNewServer_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Limits.MaxSourceBytes = 0

	_, err := NewServer(cfg, &obfuscatortest.Engine{})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &obfuscatortest.Engine{})

	for range 3 {
		rec := serve(srv, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, HealthResponse{Status: "ok", Message: "Prometheus Obfuscator API is running"}, resp)
	}
}

func TestPresets(t *testing.T) {
	srv := newTestServer(t, &obfuscatortest.Engine{})

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/presets", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"presets":["Weak","Medium","Strong","Minify"]}`, rec.Body.String())

	again := serve(srv, httptest.NewRequest(http.MethodGet, "/presets", nil))
	assert.Equal(t, rec.Body.String(), again.Body.String())
}

func TestPresets_Verbose(t *testing.T) {
	srv := newTestServer(t, &obfuscatortest.Engine{})

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/presets?verbose=true", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PresetsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, preset.All(), resp.Presets)
	require.Len(t, resp.Descriptions, 4)
	for _, p := range preset.All() {
		assert.Equal(t, preset.Describe(p), resp.Descriptions[p])
	}
}

func TestObfuscateFile_AllPresets(t *testing.T) {
	engine := &obfuscatortest.Engine{}
	srv := newTestServer(t, engine)

	for _, p := range preset.All() {
		t.Run(string(p), func(t *testing.T) {
			rec := serve(srv, multipartRequest(t, "/obfuscate", "script.lua", []byte(sampleSource), ptr(string(p))))
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			resp := decodeResult(t, rec)
			assert.True(t, resp.Success)
			assert.Equal(t, p, resp.Preset)
			assert.Equal(t, "script.lua", resp.OriginalFilename)
			assert.Equal(t, obfuscatortest.Output(p, []byte(sampleSource)), resp.ObfuscatedCode)
			assertNoArtifacts(t, srv)
		})
	}
	assert.Len(t, engine.Calls(), 4)
}

func TestObfuscateFile_DefaultPreset(t *testing.T) {
	srv := newTestServer(t, &obfuscatortest.Engine{})

	tests := []struct {
		name   string
		preset *string
	}{
		{name: "absent", preset: nil},
		{name: "empty", preset: ptr("")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(srv, multipartRequest(t, "/obfuscate", "a.lua", []byte(sampleSource), tt.preset))
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, preset.Medium, decodeResult(t, rec).Preset)
		})
	}
}

func TestObfuscateFile_UppercaseExtension(t *testing.T) {
	srv := newTestServer(t, &obfuscatortest.Engine{})

	rec := serve(srv, multipartRequest(t, "/obfuscate", "MAIN.LUA", []byte(sampleSource), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MAIN.LUA", decodeResult(t, rec).OriginalFilename)
}

func TestObfuscateFile_Rejections(t *testing.T) {
	atLimit := bytes.Repeat([]byte("a"), int(config.DefaultMaxSourceBytes))
	overLimit := bytes.Repeat([]byte("a"), int(config.DefaultMaxSourceBytes)+1)

	tests := []struct {
		name      string
		req       func(t *testing.T) *http.Request
		wantError string
	}{
		{
			name: "no file",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/obfuscate", "", nil, ptr("Weak"))
			},
			wantError: "No file uploaded. Please upload a .lua file.",
		},
		{
			name: "not multipart",
			req: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/obfuscate", strings.NewReader("x"))
			},
			wantError: "No file uploaded. Please upload a .lua file.",
		},
		{
			name: "wrong extension",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/obfuscate", "script.txt", []byte(sampleSource), nil)
			},
			wantError: "Only .lua files are allowed",
		},
		{
			name: "too large",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/obfuscate", "big.lua", overLimit, nil)
			},
			wantError: "File too large. Maximum size is 40000 bytes.",
		},
		{
			name: "invalid preset",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/obfuscate", "script.lua", atLimit, ptr("Bogus"))
			},
			wantError: "Invalid preset. Valid presets are: Weak, Medium, Strong, Minify",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &obfuscatortest.Engine{}
			srv := newTestServer(t, engine)

			rec := serve(srv, tt.req(t))
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantError, decodeError(t, rec).Error)
			assert.Empty(t, engine.Calls())
			assertNoArtifacts(t, srv)
		})
	}
}

func TestObfuscateFile_AtLimit(t *testing.T) {
	srv := newTestServer(t, &obfuscatortest.Engine{})
	content := bytes.Repeat([]byte("a"), int(config.DefaultMaxSourceBytes))

	rec := serve(srv, multipartRequest(t, "/obfuscate", "big.lua", content, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assertNoArtifacts(t, srv)
}

func TestObfuscateText(t *testing.T) {
	engine := &obfuscatortest.Engine{}
	srv := newTestServer(t, engine)

	rec := serve(srv, textRequest(t, map[string]any{"code": sampleSource, "preset": "Strong"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeResult(t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, preset.Strong, resp.Preset)
	assert.Empty(t, resp.OriginalFilename)
	assert.Equal(t, obfuscatortest.Output(preset.Strong, []byte(sampleSource)), resp.ObfuscatedCode)
	assert.NotContains(t, rec.Body.String(), "originalFilename")
	assertNoArtifacts(t, srv)

	calls := engine.Calls()
	require.Len(t, calls, 1)
	assert.True(t, strings.HasSuffix(calls[0].InputPath, ".lua"))
	assert.NotEqual(t, calls[0].InputPath, calls[0].OutputPath)
}

func TestObfuscateText_DefaultPreset(t *testing.T) {
	srv := newTestServer(t, &obfuscatortest.Engine{})

	rec := serve(srv, textRequest(t, map[string]any{"code": sampleSource}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, preset.Medium, decodeResult(t, rec).Preset)
}

func TestObfuscateText_PreservesBytes(t *testing.T) {
	srv := newTestServer(t, &obfuscatortest.Engine{})
	code := "print(\"héllo <wörld> & 你好\")\r\n"

	rec := serve(srv, textRequest(t, map[string]any{"code": code, "preset": "Minify"}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, obfuscatortest.Output(preset.Minify, []byte(code)), decodeResult(t, rec).ObfuscatedCode)
}

func TestObfuscateText_Rejections(t *testing.T) {
	limit := int(config.DefaultMaxSourceBytes)

	tests := []struct {
		name      string
		body      string
		wantError string
	}{
		{name: "empty body", body: "", wantError: `No code provided. Please include "code" in the request body.`},
		{name: "missing code", body: `{"preset":"Weak"}`, wantError: `No code provided. Please include "code" in the request body.`},
		{name: "empty code", body: `{"code":""}`, wantError: `No code provided. Please include "code" in the request body.`},
		{name: "malformed", body: `{"code":`, wantError: "Invalid JSON body."},
		{name: "invalid preset", body: `{"code":"x","preset":"Bogus"}`, wantError: "Invalid preset. Valid presets are: Weak, Medium, Strong, Minify"},
		{name: "empty preset", body: `{"code":"x","preset":""}`, wantError: "Invalid preset. Valid presets are: Weak, Medium, Strong, Minify"},
		{
			name:      "too large",
			body:      fmt.Sprintf(`{"code":%q}`, strings.Repeat("a", limit+1)),
			wantError: "Code too large. Maximum size is 40000 bytes.",
		},
		{
			name:      "too large multibyte",
			body:      fmt.Sprintf(`{"code":%q}`, strings.Repeat("é", limit/2)+"a"),
			wantError: "Code too large. Maximum size is 40000 bytes.",
		},
		{
			name:      "body over cap",
			body:      `{"code":"` + strings.Repeat("a", 6*limit+textBodyOverhead) + `"}`,
			wantError: "Code too large. Maximum size is 40000 bytes.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &obfuscatortest.Engine{}
			srv := newTestServer(t, engine)

			req := httptest.NewRequest(http.MethodPost, "/obfuscate-text", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")

			rec := serve(srv, req)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantError, decodeError(t, rec).Error)
			assert.Empty(t, engine.Calls())
			assertNoArtifacts(t, srv)
		})
	}
}

func TestObfuscateText_AtLimit(t *testing.T) {
	srv := newTestServer(t, &obfuscatortest.Engine{})

	rec := serve(srv, textRequest(t, map[string]any{"code": strings.Repeat("a", int(config.DefaultMaxSourceBytes))}))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestObfuscate_EngineFailures(t *testing.T) {
	tests := []struct {
		name        string
		engine      *obfuscatortest.Engine
		timeout     time.Duration
		wantDetails string
	}{
		{
			name:        "engine error",
			engine:      &obfuscatortest.Engine{Err: errors.New("lua: cli.lua:12: bad argument")},
			wantDetails: "lua: cli.lua:12: bad argument",
		},
		{
			name:        "empty output",
			engine:      &obfuscatortest.Engine{Empty: true},
			wantDetails: "engine produced no output",
		},
		{
			name:        "timeout",
			engine:      &obfuscatortest.Engine{Delay: 5 * time.Second},
			timeout:     50 * time.Millisecond,
			wantDetails: "engine timed out after 50ms",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.engine, func(cfg *config.Config) {
				if tt.timeout > 0 {
					cfg.Engine.Timeout = tt.timeout
				}
			})

			for _, req := range []*http.Request{
				multipartRequest(t, "/obfuscate", "script.lua", []byte(sampleSource), nil),
				textRequest(t, map[string]any{"code": sampleSource}),
			} {
				rec := serve(srv, req)
				require.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())

				resp := decodeError(t, rec)
				assert.Equal(t, "Obfuscation failed", resp.Error)
				assert.Contains(t, resp.Details, tt.wantDetails)
				assertNoArtifacts(t, srv)
			}
		})
	}
}

func TestUnknownRoutes(t *testing.T) {
	srv := newTestServer(t, &obfuscatortest.Engine{})

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not found", decodeError(t, rec).Error)

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/obfuscate", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
}

func TestRoutes(t *testing.T) {
	srv := newTestServer(t, &obfuscatortest.Engine{})
	assert.Equal(t, []string{
		"GET /health", "GET /presets", "POST /obfuscate", "POST /obfuscate-text", "GET /metrics",
	}, srv.Routes())

	disabled := newTestServer(t, &obfuscatortest.Engine{}, func(cfg *config.Config) {
		cfg.Metrics.Enabled = false
	})
	assert.Len(t, disabled.Routes(), 4)
}

func TestServeAndStop(t *testing.T) {
	srv := newTestServer(t, &obfuscatortest.Engine{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	url := "http://" + ln.Addr().String() + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
	require.NoError(t, <-errCh)

	assert.NoError(t, srv.Stop(ctx), "second stop is a no-op")
}
