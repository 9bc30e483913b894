package commands

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newModelServer serves OpenAI-style chat completions with a fixed body and
// counts the calls it receives.
func newModelServer(t *testing.T, content string, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)

		var req struct {
			Model string `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		body := map[string]any{
			"model": req.Model,
			"choices": []map[string]any{
				{
					"message":       map[string]any{"role": "assistant", "content": content},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]any{
				"prompt_tokens":     100,
				"completion_tokens": 50,
				"total_tokens":      150,
			},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(body))
	}))
}

// isolatedEnv points every settings layer at temp locations so the test
// never touches the developer's real config or cache, and resets the
// convert flags left behind by earlier command executions.
func isolatedEnv(t *testing.T, baseURL string) {
	t.Helper()
	convertOutput = ""
	convertPipeline = ""
	convertAgent = ""
	convertModel = ""
	convertWorkers = 0
	convertNoCache = false
	convertPerPage = false
	convertCustomDirs = nil
	t.Setenv("HOME", t.TempDir())
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_BASE_URL", baseURL)
	t.Setenv("INKWELL_CACHE_DB_PATH", filepath.Join(t.TempDir(), "cache.db"))

	orig, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(orig) })
}

func TestConvertEndToEndTwoStepPipeline(t *testing.T) {
	var calls int32
	server := newModelServer(t, "# Invoice\n\nextracted text\n\n[confidence: HIGH]", &calls)
	defer server.Close()
	isolatedEnv(t, server.URL)

	pageDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(pageDir, "page1.png"), []byte("fake png bytes"), 0644))
	outPath := filepath.Join(t.TempDir(), "out.md")

	rootCmd.SetArgs([]string{"convert", pageDir, "--pipeline", "generic", "-o", outPath})
	require.NoError(t, Execute())

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "extracted text")
	assert.NotContains(t, string(data), "[confidence:")

	// generic runs extract then polish: one model call each.
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestConvertSecondRunServedFromCache(t *testing.T) {
	var calls int32
	server := newModelServer(t, "# Report\n\nstable output\n\n[confidence: HIGH]", &calls)
	defer server.Close()
	isolatedEnv(t, server.URL)

	pageDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(pageDir, "page1.png"), []byte("fake png bytes"), 0644))
	outPath := filepath.Join(t.TempDir(), "out.md")

	rootCmd.SetArgs([]string{"convert", pageDir, "--pipeline", "generic", "-o", outPath})
	require.NoError(t, Execute())
	after := atomic.LoadInt32(&calls)

	// Same input, same config: the persistent tier answers everything.
	rootCmd.SetArgs([]string{"convert", pageDir, "--pipeline", "generic", "-o", outPath})
	require.NoError(t, Execute())
	assert.Equal(t, after, atomic.LoadInt32(&calls))

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "stable output")
}

func TestConvertSingleAgent(t *testing.T) {
	var calls int32
	server := newModelServer(t, "| a | b |\n|---|---|\n| 1 | 2 |\n\n[confidence: MEDIUM]", &calls)
	defer server.Close()
	isolatedEnv(t, server.URL)

	pagePath := filepath.Join(t.TempDir(), "table.png")
	require.NoError(t, os.WriteFile(pagePath, []byte("fake png bytes"), 0644))
	outPath := filepath.Join(t.TempDir(), "table.md")

	rootCmd.SetArgs([]string{"convert", pagePath, "--agent", "table-extractor", "-o", outPath})
	require.NoError(t, Execute())

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "| a | b |")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestConvertUnknownPipelineFails(t *testing.T) {
	var calls int32
	server := newModelServer(t, "unused", &calls)
	defer server.Close()
	isolatedEnv(t, server.URL)

	pagePath := filepath.Join(t.TempDir(), "page.png")
	require.NoError(t, os.WriteFile(pagePath, []byte("fake png bytes"), 0644))

	rootCmd.SetArgs([]string{"convert", pagePath, "--pipeline", "does-not-exist"})
	err := Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does-not-exist")
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}
