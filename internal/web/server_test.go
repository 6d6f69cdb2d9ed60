package web

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/multiimport/internal/catalog"
	"github.com/JonMunkholm/multiimport/internal/config"
	"github.com/JonMunkholm/multiimport/internal/core"
	"github.com/JonMunkholm/multiimport/internal/store"
)

const peopleCSV = "person_id,first_name,last_name,state\n,Justin,Trudeau,texas\n,Margaret,Sinclair,\n"

type testEnv struct {
	server *Server
	store  *store.Memory
}

func testConfig() *config.Config {
	return &config.Config{
		Import: config.ImportConfig{
			MaxFileSize:   1 << 20,
			MaxConcurrent: 1,
			MaxWaitTime:   time.Second,
			Timeout:       time.Minute,
			ExportFormat:  "csv",
			ZipName:       "export",
		},
	}
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	cat, descs, err := catalog.LoadDescriptors("../catalog/testdata/library.yaml")
	require.NoError(t, err)

	st := store.NewMemory(cat)
	mi, err := core.NewMultiImporter(st, cat, descs)
	require.NoError(t, err)

	svc := core.NewService(mi, core.ServiceConfig{
		MaxFileSize:   cfg.Import.MaxFileSize,
		MaxConcurrent: cfg.Import.MaxConcurrent,
		MaxWait:       cfg.Import.MaxWaitTime,
		Timeout:       cfg.Import.Timeout,
		DefaultFormat: cfg.Import.ExportFormat,
		ZipName:       cfg.Import.ZipName,
	})
	srv := NewServer(svc, cfg)
	t.Cleanup(srv.stopLimiters)
	return &testEnv{server: srv, store: st}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, path string, files map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeImport(t *testing.T, rec *httptest.ResponseRecorder) (map[string]any, []core.Diff) {
	t.Helper()
	var raw struct {
		Result map[string]any `json:"result"`
		Diffs  []core.Diff    `json:"diffs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw), rec.Body.String())
	return raw.Result, raw.Diffs
}

// =============================================================================
// Entities
// =============================================================================

func TestListEntities(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/entities", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var infos []core.EntityInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 3)
	assert.Equal(t, "chapter", infos[0].Key)
	assert.Equal(t, "person", infos[1].Key)
	assert.Equal(t, "book", infos[2].Key)
	assert.True(t, infos[2].Restricted)
	assert.Equal(t, []string{"Person", "Chapter"}, infos[2].DependsOn)
}

func TestIndexPage(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<td>person_id</td>")
	assert.Contains(t, body, "/api/template?keys=book&amp;format=xlsx")
}

// =============================================================================
// Import
// =============================================================================

func TestPreview_DoesNotSave(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(uploadRequest(t, "/api/import/preview", map[string]string{"people.csv": peopleCSV}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	result, diffs := decodeImport(t, rec)
	assert.Equal(t, true, result["valid"])
	assert.Equal(t, 2.0, result["num_changes"])
	require.Len(t, diffs, 1)
	assert.Equal(t, "person", diffs[0].Model)
	assert.Len(t, diffs[0].NewObjects, 2)
	assert.Equal(t, 0, env.store.Count("Person"))
}

func TestCommit_Saves(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(uploadRequest(t, "/api/import/commit", map[string]string{"people.csv": peopleCSV}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, env.store.Count("Person"))

	// Importing the same file again changes nothing.
	rec = env.do(uploadRequest(t, "/api/import/commit", map[string]string{"people.csv": peopleCSV}))
	require.Equal(t, http.StatusOK, rec.Code)
	result, _ := decodeImport(t, rec)
	assert.Equal(t, 0.0, result["num_changes"])
	assert.Equal(t, 2, env.store.Count("Person"))
}

func TestCommit_UnknownFileRejectsEverything(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(uploadRequest(t, "/api/import/commit", map[string]string{
		"people.csv": peopleCSV,
		"other.csv":  "foo,bar\n1,2\n",
	}))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	result, _ := decodeImport(t, rec)
	assert.Equal(t, false, result["valid"])
	errs, ok := result["errors"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{"Columns should match those in the import template."}, errs["other.csv"])
	assert.Equal(t, 0, env.store.Count("Person"))
}

func TestImport_NoFiles(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(uploadRequest(t, "/api/import/preview", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "FILE004", resp.Code)
}

func TestImport_FileTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Import.MaxFileSize = 64
	env := newTestEnv(t, cfg)

	rec := env.do(uploadRequest(t, "/api/import/preview", map[string]string{"people.csv": peopleCSV}))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestReplay_CommitsPreview(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(uploadRequest(t, "/api/import/preview", map[string]string{"people.csv": peopleCSV}))
	require.Equal(t, http.StatusOK, rec.Code)
	_, diffs := decodeImport(t, rec)

	body, err := json.Marshal(ReplayRequest{Diffs: diffs})
	require.NoError(t, err)
	rec = env.do(httptest.NewRequest(http.MethodPost, "/api/import/replay", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, env.store.Count("Person"))
}

func TestReplay_InvalidBody(t *testing.T) {
	env := newTestEnv(t, testConfig())

	for _, body := range []string{"", "{", `{"diffs": []}`} {
		rec := env.do(httptest.NewRequest(http.MethodPost, "/api/import/replay", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "IMP004", resp.Code)
	}
}

// =============================================================================
// Export
// =============================================================================

func TestExport_SingleEntity(t *testing.T) {
	env := newTestEnv(t, testConfig())
	rec := env.do(uploadRequest(t, "/api/import/commit", map[string]string{"people.csv": peopleCSV}))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/export?keys=person", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="person.csv"`, rec.Header().Get("Content-Disposition"))

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "person_id,first_name,last_name,state,partner,children"), body)
	assert.Contains(t, body, "Justin,Trudeau,TX")
}

func TestTemplate_SeveralEntitiesAreZipped(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/template?keys=person,book&format=json", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"person.json", "book.json"}, names)
}

func TestExport_Errors(t *testing.T) {
	env := newTestEnv(t, testConfig())

	tests := []struct {
		path string
		code string
	}{
		{"/api/export?keys=person,spaceship", "IMP001"},
		{"/api/export?format=pdf", "IMP005"},
	}
	for _, tt := range tests {
		rec := env.do(httptest.NewRequest(http.MethodGet, tt.path, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, tt.path)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, tt.code, resp.Code, tt.path)
	}
}

func TestExport_HTMXError(t *testing.T) {
	env := newTestEnv(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/export?keys=spaceship", nil)
	req.Header.Set("HX-Request", "true")
	rec := env.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Code: IMP001")
}

// =============================================================================
// Limits
// =============================================================================

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2, ImportLimit: 1}
	env := newTestEnv(t, cfg)

	for i := 0; i < 2; i++ {
		rec := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"secret"}}
	env := newTestEnv(t, cfg)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/entities", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/entities", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = env.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health checks stay open.
	rec = env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"max_concurrent":1`)
}
