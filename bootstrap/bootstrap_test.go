package bootstrap_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/apiforge/adapters/auth"
	"github.com/artpar/apiforge/bootstrap"
	"github.com/artpar/apiforge/config"
)

const notes = `
name: Notes
version: 1.0.0
entities:
  - name: Note
    properties:
      body: { type: string, constraints: { minLength: 1 } }
    policies:
      "*": public
      delete: authenticated
`

const notesWithTags = `
name: Notes
version: 1.1.0
entities:
  - name: Note
    properties:
      body: { type: string, constraints: { minLength: 1 } }
    policies:
      "*": public
      delete: authenticated
  - name: Tag
    properties:
      label: string
    policies:
      "*": public
`

func writeSchema(t *testing.T, dir, src string) string {
	t.Helper()
	path := filepath.Join(dir, "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(src), 0644))
	return path
}

func testConfig(t *testing.T, schema string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TEST_SCHEMA", writeSchema(t, dir, schema))
	t.Setenv("TEST_DSN", filepath.Join(dir, "test.db"))

	cfg, err := config.Parse([]byte(`
schema:
  path: ${TEST_SCHEMA}
database:
  dsn: ${TEST_DSN}
logging:
  level: debug
`))
	require.NoError(t, err)
	return cfg
}

func newApp(t *testing.T, cfg *config.Config) *bootstrap.App {
	t.Helper()
	app, err := bootstrap.New(context.Background(), cfg, bootstrap.Options{Version: "test", LogOutput: io.Discard})
	require.NoError(t, err)
	t.Cleanup(func() { app.Shutdown() })
	return app
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") && rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func TestBootstrap_ServesSchema(t *testing.T) {
	app := newApp(t, testConfig(t, notes))
	h := app.Handler()

	require.NotNil(t, app.Store)
	require.NotNil(t, app.Registry.Current())
	assert.Equal(t, 1, app.Registry.Current().Version)

	rec, body := do(t, h, http.MethodPost, "/api/notes", `{"body":"hello"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := body["data"].(map[string]any)["id"].(string)
	assert.Equal(t, "/api/notes/"+id, rec.Header().Get("Location"))

	rec, body = do(t, h, http.MethodGet, "/api/notes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["meta"].(map[string]any)["total"])

	rec, _ = do(t, h, http.MethodPost, "/api/notes", `{"body":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Auth mode none: every caller is anonymous.
	rec, _ = do(t, h, http.MethodDelete, "/api/notes/"+id, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBootstrap_Endpoints(t *testing.T) {
	app := newApp(t, testConfig(t, notes))
	h := app.Handler()

	rec, body := do(t, h, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, body = do(t, h, http.MethodGet, "/version", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test", body["version"])
	assert.EqualValues(t, 1, body["schema_version"])

	rec, body = do(t, h, http.MethodGet, "/api/openapi.json", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Notes", body["info"].(map[string]any)["title"])

	do(t, h, http.MethodGet, "/api/notes", "")
	rec, _ = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `apiforge_registry_version 1`)
	assert.Contains(t, rec.Body.String(), `apiforge_operations_total{entity="Note",operation="list",outcome="ok"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestBootstrap_MetricsDisabled(t *testing.T) {
	cfg := testConfig(t, notes)
	cfg.Metrics.Enabled = false
	app := newApp(t, cfg)

	assert.Nil(t, app.Metrics)
	rec, _ := do(t, app.Handler(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBootstrap_InvalidSchemaFailsStartup(t *testing.T) {
	cfg := testConfig(t, `
name: Broken
entities:
  - name: Note
    belongsTo: [Missing]
`)
	_, err := bootstrap.New(context.Background(), cfg, bootstrap.Options{LogOutput: io.Discard})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load schema")
}

func TestBootstrap_MissingSchemaFailsStartup(t *testing.T) {
	cfg := testConfig(t, notes)
	cfg.Schema.Path = filepath.Join(t.TempDir(), "absent.yaml")

	_, err := bootstrap.New(context.Background(), cfg, bootstrap.Options{LogOutput: io.Discard})
	require.Error(t, err)
}

func TestBootstrap_Reload(t *testing.T) {
	cfg := testConfig(t, notes)
	app := newApp(t, cfg)
	h := app.Handler()
	ctx := context.Background()

	rec, _ := do(t, h, http.MethodGet, "/api/tags", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, os.WriteFile(cfg.Schema.Path, []byte(notesWithTags), 0644))
	require.NoError(t, app.Reload(ctx, "test"))
	assert.Equal(t, 2, app.Registry.Current().Version)

	rec, _ = do(t, h, http.MethodGet, "/api/tags", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// A broken file keeps the active schema serving.
	require.NoError(t, os.WriteFile(cfg.Schema.Path, []byte("entities: ["), 0644))
	require.Error(t, app.Reload(ctx, "test"))
	assert.Equal(t, 2, app.Registry.Current().Version)

	rec, _ = do(t, h, http.MethodGet, "/api/tags", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBootstrap_WatchReloadsOnFileChange(t *testing.T) {
	cfg := testConfig(t, notes)
	cfg.Schema.Watch = true
	app := newApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, app.Start(ctx))

	require.NoError(t, os.WriteFile(cfg.Schema.Path, []byte(notesWithTags), 0644))

	assert.Eventually(t, func() bool {
		rec, _ := do(t, app.Handler(), http.MethodGet, "/api/tags", "")
		return rec.Code == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
}

func TestBootstrap_RedisReload(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig(t, notes)
	cfg.Reload.RedisURL = "redis://" + mr.Addr()
	app := newApp(t, cfg)

	// The startup schema's fingerprint is recorded.
	fp, err := mr.Get(cfg.Reload.FingerprintKey)
	require.NoError(t, err)
	assert.Equal(t, app.Registry.Current().Fingerprint, fp)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, app.Start(ctx))

	require.NoError(t, os.WriteFile(cfg.Schema.Path, []byte(notesWithTags), 0644))

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	assert.Eventually(t, func() bool {
		// Publish until the trigger's subscription is active.
		client.Publish(ctx, cfg.Reload.Channel, "deploy")
		return app.Registry.Current().Version == 2
	}, 5*time.Second, 50*time.Millisecond)

	assert.Eventually(t, func() bool {
		fp, _ := mr.Get(cfg.Reload.FingerprintKey)
		return fp == app.Registry.Current().Fingerprint
	}, 2*time.Second, 20*time.Millisecond)
}

func TestBootstrap_JWTIdentity(t *testing.T) {
	cfg := testConfig(t, notes)
	cfg.Auth.Mode = "jwt"
	cfg.Auth.JWTSecret = "test-secret"
	app := newApp(t, cfg)
	h := app.Handler()

	rec, body := do(t, h, http.MethodPost, "/api/notes", `{"body":"signed"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := body["data"].(map[string]any)["id"].(string)

	token, _, err := auth.NewTokenService("test-secret", "", "roles", time.Hour).GenerateToken("user-1", nil)
	require.NoError(t, err)

	rec, _ = do(t, h, http.MethodDelete, "/api/notes/"+id, "", "Authorization", "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, h, http.MethodDelete, "/api/notes/"+id, "", "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestBootstrap_ShutdownIdempotent(t *testing.T) {
	app, err := bootstrap.New(context.Background(), testConfig(t, notes), bootstrap.Options{LogOutput: io.Discard})
	require.NoError(t, err)

	assert.NoError(t, app.Shutdown())
	assert.NoError(t, app.Shutdown())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := bootstrap.NewLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Str("k", "v").Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"message":"shown"`)
	assert.Contains(t, out, `"k":"v"`)

	buf.Reset()
	logger = bootstrap.NewLogger(config.LoggingConfig{Level: "bogus", Format: "console"}, &buf)
	logger.Debug().Msg("debug")
	logger.Info().Msg("info line")
	assert.NotContains(t, buf.String(), "debug")
	assert.Contains(t, buf.String(), "info line")
	assert.NotContains(t, buf.String(), `"message"`)
}
