package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csvquery/csvbrowse/internal/query"
)

func writeCSV(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func runQueryJSON(t *testing.T, action, path string, opts queryOptions) map[string]any {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, runQuery(context.Background(), &out, action, path, opts))
	var m map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &m))
	return m
}

func TestRunQuery(t *testing.T) {
	path := writeCSV(t, "people.csv", "name,age\nAlice,30\nBob,25\nCara,25\n")
	defaults := queryOptions{page: 1, pageSize: 50, limit: 100}

	m := runQueryJSON(t, "describe", path, defaults)
	assert.Equal(t, []any{"name", "age"}, m["headers"])
	assert.Equal(t, float64(3), m["totalRows"])

	opts := defaults
	opts.page, opts.pageSize = 2, 2
	m = runQueryJSON(t, "rows", path, opts)
	assert.Equal(t, []any{map[string]any{"name": "Cara", "age": "25"}}, m["rows"])

	opts = defaults
	opts.search = "25"
	m = runQueryJSON(t, "search", path, opts)
	assert.Equal(t, float64(2), m["count"])

	m = runQueryJSON(t, "count", path, opts)
	assert.Equal(t, float64(2), m["count"])

	m = runQueryJSON(t, "count", path, defaults)
	assert.Equal(t, float64(3), m["count"])
}

func TestRunQuery_Separator(t *testing.T) {
	path := writeCSV(t, "semi.csv", "a;b\n1;2\n")

	m := runQueryJSON(t, "describe", path, queryOptions{comma: ";"})
	assert.Equal(t, []any{"a", "b"}, m["headers"])
}

func TestRunQuery_Errors(t *testing.T) {
	path := writeCSV(t, "people.csv", "name\nAlice\n")
	var out bytes.Buffer

	err := runQuery(context.Background(), &out, "search", path, queryOptions{limit: 10})
	assert.ErrorIs(t, err, query.ErrInvalidQuery)

	err = runQuery(context.Background(), &out, "describe", filepath.Join(filepath.Dir(path), "missing.csv"), queryOptions{})
	assert.ErrorIs(t, err, query.ErrNotFound)

	err = runQuery(context.Background(), &out, "explode", path, queryOptions{})
	assert.Error(t, err)

	err = runQuery(context.Background(), &out, "describe", path, queryOptions{comma: "ab"})
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "csvbrowse "+Version)
}
