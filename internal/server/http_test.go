package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csvquery/csvbrowse/internal/metacache"
	"github.com/csvquery/csvbrowse/internal/query"
	"github.com/csvquery/csvbrowse/internal/store"
)

const peopleCSV = "name,age\nAlice,30\nBob,25\nCara,25\n"

type testEnv struct {
	engine *query.Engine
	store  *store.Store
	cache  *metacache.Cache
}

func newTestEnv(t *testing.T, maxBytes int64) *testEnv {
	t.Helper()
	st, err := store.New(store.Config{UploadDir: t.TempDir(), MaxUploadBytes: maxBytes}, nil)
	require.NoError(t, err)

	cache := metacache.New(metacache.Config{})
	t.Cleanup(cache.Close)

	engine := query.NewEngine(st, cache)
	st.OnDelete(engine.OnFileDeleted)
	return &testEnv{engine: engine, store: st, cache: cache}
}

func (e *testEnv) save(t *testing.T, content string) string {
	t.Helper()
	id, err := e.store.Save(context.Background(), "data.csv", strings.NewReader(content))
	require.NoError(t, err)
	return id
}

func newTestHTTP(t *testing.T, env *testEnv) *httptest.Server {
	t.Helper()
	s := NewHTTPServer(DefaultHTTPConfig(), DefaultLimits(), env.engine, env.store, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func upload(t *testing.T, url, filename, content string) (*http.Response, map[string]any) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("comment", "ignored"))
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(url+"/api/upload", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestHTTP_UploadAndBrowse(t *testing.T) {
	env := newTestEnv(t, 0)
	ts := newTestHTTP(t, env)

	resp, out := upload(t, ts.URL, "people.csv", peopleCSV)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, []any{"name", "age"}, out["headers"])
	assert.Equal(t, float64(3), out["totalRows"])
	fileID := out["fileId"].(string)
	assert.True(t, env.store.Exists(fileID))

	var headers struct {
		Headers []string `json:"headers"`
	}
	status := doJSON(t, http.MethodGet, ts.URL+"/api/file/"+fileID+"/headers", &headers)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"name", "age"}, headers.Headers)

	var rows struct {
		Rows       []map[string]string `json:"rows"`
		Pagination Pagination          `json:"pagination"`
	}
	status = doJSON(t, http.MethodGet, ts.URL+"/api/file/"+fileID+"/rows?page=2&pageSize=2", &rows)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []map[string]string{{"name": "Cara", "age": "25"}}, rows.Rows)
	assert.Equal(t, Pagination{Page: 2, PageSize: 2, Total: 3, TotalPages: 2}, rows.Pagination)

	status = doJSON(t, http.MethodGet, ts.URL+"/api/file/"+fileID+"/rows?search=25", &rows)
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, rows.Rows, 2)
	assert.Equal(t, Pagination{Page: 1, PageSize: 50, Total: 2, TotalPages: 1}, rows.Pagination)

	var search struct {
		Results []map[string]string `json:"results"`
		Count   int                 `json:"count"`
	}
	status = doJSON(t, http.MethodGet, ts.URL+"/api/file/"+fileID+"/search?q=bob", &search)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, search.Count)
	assert.Equal(t, "Bob", search.Results[0]["name"])
}

func TestHTTP_RowsPreserveColumnOrder(t *testing.T) {
	env := newTestEnv(t, 0)
	ts := newTestHTTP(t, env)
	fileID := env.save(t, "z,a,m\n1,2,3\n")

	resp, err := http.Get(ts.URL + "/api/file/" + fileID + "/rows")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"rows":[{"z":"1","a":"2","m":"3"}]`)
}

func TestHTTP_PageSizeIsCapped(t *testing.T) {
	env := newTestEnv(t, 0)
	ts := newTestHTTP(t, env)

	var b strings.Builder
	b.WriteString("id\n")
	for i := 0; i < 250; i++ {
		fmt.Fprintf(&b, "%d\n", i)
	}
	fileID := env.save(t, b.String())

	var rows struct {
		Rows       []map[string]string `json:"rows"`
		Pagination Pagination          `json:"pagination"`
	}
	status := doJSON(t, http.MethodGet, ts.URL+"/api/file/"+fileID+"/rows?pageSize=1000&page=abc", &rows)
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, rows.Rows, 100)
	assert.Equal(t, Pagination{Page: 1, PageSize: 100, Total: 250, TotalPages: 3}, rows.Pagination)

	var search struct {
		Count int `json:"count"`
	}
	status = doJSON(t, http.MethodGet, ts.URL+"/api/file/"+fileID+"/search?q=id&limit=9999", &search)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 250, search.Count)

	status = doJSON(t, http.MethodGet, ts.URL+"/api/file/"+fileID+"/search?q=id&limit=7", &search)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 7, search.Count)
}

func TestHTTP_Errors(t *testing.T) {
	env := newTestEnv(t, 0)
	ts := newTestHTTP(t, env)
	fileID := env.save(t, peopleCSV)
	badID := env.save(t, "a,b\n1,2\n\"broken,3\n")

	tests := []struct {
		name   string
		method string
		path   string
		status int
		msg    string
	}{
		{"missing headers", http.MethodGet, "/api/file/file-nope.csv/headers", http.StatusNotFound, "File not found"},
		{"missing rows", http.MethodGet, "/api/file/file-nope.csv/rows", http.StatusNotFound, "File not found"},
		{"missing search", http.MethodGet, "/api/file/file-nope.csv/search?q=x", http.StatusNotFound, "File not found"},
		{"search without q", http.MethodGet, "/api/file/" + fileID + "/search", http.StatusBadRequest, "Search query is required"},
		{"negative page", http.MethodGet, "/api/file/" + fileID + "/rows?page=-1", http.StatusBadRequest, ""},
		{"malformed file", http.MethodGet, "/api/file/" + badID + "/rows", http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out map[string]string
			status := doJSON(t, tt.method, ts.URL+tt.path, &out)
			assert.Equal(t, tt.status, status)
			assert.NotEmpty(t, out["error"])
			if tt.msg != "" {
				assert.Equal(t, tt.msg, out["error"])
			}
		})
	}
}

func TestHTTP_Delete(t *testing.T) {
	env := newTestEnv(t, 0)
	ts := newTestHTTP(t, env)
	fileID := env.save(t, peopleCSV)

	var headers map[string]any
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/api/file/"+fileID+"/headers", &headers))
	assert.Equal(t, 1, env.cache.Len())

	var out map[string]bool
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodDelete, ts.URL+"/api/file/"+fileID, &out))
	assert.True(t, out["success"])
	assert.False(t, env.store.Exists(fileID))
	assert.Zero(t, env.cache.Len(), "delete must invalidate cached metadata")

	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodDelete, ts.URL+"/api/file/"+fileID, &out), "deleting twice succeeds")

	var errOut map[string]string
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, ts.URL+"/api/file/"+fileID+"/headers", &errOut))
}

func TestHTTP_UploadErrors(t *testing.T) {
	env := newTestEnv(t, 32)
	ts := newTestHTTP(t, env)

	resp, out := upload(t, ts.URL, "notes.txt", "hello")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, out["error"])

	resp, out = upload(t, ts.URL, "big.csv", strings.Repeat("x", 64))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "File too large", out["error"])

	r, err := http.Post(ts.URL+"/api/upload", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer r.Body.Close()
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
}

func TestHTTP_CORSAndHealth(t *testing.T) {
	env := newTestEnv(t, 0)
	ts := newTestHTTP(t, env)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/upload", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "content-type", resp.Header.Get("Access-Control-Allow-Headers"))

	var health map[string]string
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/healthz", &health))
	assert.Equal(t, "ok", health["status"])
}

func TestLimits(t *testing.T) {
	l := DefaultLimits()
	assert.Equal(t, 50, l.PageSize(0))
	assert.Equal(t, 20, l.PageSize(20))
	assert.Equal(t, 100, l.PageSize(500))
	assert.Equal(t, 100, l.SearchLimit(0))
	assert.Equal(t, 500, l.SearchLimit(501))

	assert.Equal(t, int64(0), newPagination(1, 50, 0).TotalPages)
	assert.Equal(t, int64(1), newPagination(1, 50, 50).TotalPages)
	assert.Equal(t, int64(2), newPagination(1, 50, 51).TotalPages)
}
