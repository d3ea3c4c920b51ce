package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/prompttune/internal/app"
	"github.com/pbaille/prompttune/internal/domain"
	"github.com/pbaille/prompttune/internal/kv"
	"github.com/pbaille/prompttune/internal/optimizer"
	"github.com/pbaille/prompttune/internal/store"
)

type stubOptimizer struct {
	out string
	err error
}

func (o *stubOptimizer) Optimize(ctx context.Context, prompt string) (string, error) {
	if o.err != nil {
		return "", o.err
	}
	return o.out, nil
}

func newTestServer(t *testing.T, opt app.Optimizer) (*Server, *kv.Memory) {
	t.Helper()
	backend := kv.NewMemory()
	require.NoError(t, backend.Set(store.PromptsKey, `[
 {"id":"a1b2","title":"Alpha","category":"Content","tags":["blog"],"text":"alpha text","usageCount":2},
 {"id":"c3d4","title":"Beta","category":"Development","tags":["go"],"text":"beta text","usageCount":0}
]`))
	st, err := store.Open(backend)
	require.NoError(t, err)
	return New(app.New(st, opt, zerolog.Nop()), ":0", zerolog.Nop()), backend
}

func do(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

type listResponse struct {
	Prompts []domain.PromptRecord `json:"prompts"`
	Total   int                   `json:"total"`
}

func TestHealthAndCategories(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, s, http.MethodGet, "/categories", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var cats struct {
		Categories []string `json:"categories"`
	}
	decode(t, rec, &cats)
	assert.Equal(t, []string{"Content", "Development", "Analytics", "Marketing", "Business"}, cats.Categories)
}

func TestSearchPrompts(t *testing.T) {
	s, _ := newTestServer(t, nil)

	var all listResponse
	decode(t, do(t, s, http.MethodGet, "/prompts", nil), &all)
	require.Len(t, all.Prompts, 2)
	assert.Equal(t, "a1b2", all.Prompts[0].ID)

	var filtered listResponse
	decode(t, do(t, s, http.MethodGet, "/prompts?q=GO&category=Development", nil), &filtered)
	require.Len(t, filtered.Prompts, 1)
	assert.Equal(t, "c3d4", filtered.Prompts[0].ID)

	var limited listResponse
	decode(t, do(t, s, http.MethodGet, "/prompts?limit=1", nil), &limited)
	assert.Len(t, limited.Prompts, 1)
}

func TestCreateGetUpdateDelete(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/prompts", domain.PromptInput{
		Title:    "Translator",
		Category: domain.CategoryContent,
		Tags:     []string{"i18n"},
		Text:     "Translate to French.",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created PromptResponse
	decode(t, rec, &created)
	require.NotNil(t, created.Prompt)
	id := created.Prompt.ID
	assert.Empty(t, created.Warning)

	rec = do(t, s, http.MethodGet, "/prompts/"+id[:8], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got PromptResponse
	decode(t, rec, &got)
	assert.Equal(t, "Translator", got.Prompt.Title)

	rec = do(t, s, http.MethodPut, "/prompts/"+id, domain.PromptInput{
		Title:    "Translator v2",
		Category: domain.CategoryBusiness,
		Text:     "Translate to German.",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated PromptResponse
	decode(t, rec, &updated)
	assert.Equal(t, id, updated.Prompt.ID)
	assert.Equal(t, "Translate to German.", updated.Prompt.Text)

	rec = do(t, s, http.MethodDelete, "/prompts/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, http.MethodDelete, "/prompts/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, http.MethodGet, "/prompts/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateValidation(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/prompts", domain.PromptInput{Title: "x", Category: "Poetry", Text: "y"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "category")

	rec = do(t, s, http.MethodPost, "/prompts", `{bad json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateMissing(t *testing.T) {
	s, backend := newTestServer(t, nil)
	writes := backend.Writes()

	rec := do(t, s, http.MethodPut, "/prompts/missing-id", domain.PromptInput{
		Title: "x", Category: domain.CategoryContent, Text: "y",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, writes, backend.Writes())
}

func TestUsePrompt(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/prompts/c3d4/use", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var used UseResponse
	decode(t, rec, &used)
	assert.Equal(t, "beta text", used.Text)

	var got PromptResponse
	decode(t, do(t, s, http.MethodGet, "/prompts/c3d4", nil), &got)
	assert.Equal(t, 1, got.Prompt.UsageCount)

	var ws map[string]interface{}
	decode(t, do(t, s, http.MethodGet, "/optimize/result", nil), &ws)
	assert.Equal(t, "beta text", ws["input"])

	rec = do(t, s, http.MethodPost, "/prompts/zzzz/use", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalytics(t *testing.T) {
	s, _ := newTestServer(t, nil)

	var a AnalyticsResponse
	decode(t, do(t, s, http.MethodGet, "/analytics", nil), &a)
	assert.Equal(t, 2, a.SavedPrompts)
	assert.Equal(t, 0, a.TotalOptimizations)
	assert.Equal(t, 10, a.AvgLength)
	require.Len(t, a.TopUsed, 1)
	assert.Equal(t, "a1b2", a.TopUsed[0].ID)
}

func TestOptimizeAndSave(t *testing.T) {
	s, _ := newTestServer(t, &stubOptimizer{out: "Optimized alpha"})

	rec := do(t, s, http.MethodPost, "/optimize", OptimizeRequest{Prompt: "alpha"})
	require.Equal(t, http.StatusOK, rec.Code)
	var out OptimizeResponse
	decode(t, rec, &out)
	assert.Equal(t, "Optimized alpha", out.OptimizedPrompt)

	rec = do(t, s, http.MethodPost, "/optimize/save", SaveResultRequest{Category: domain.CategoryContent})
	require.Equal(t, http.StatusCreated, rec.Code)
	var saved PromptResponse
	decode(t, rec, &saved)
	assert.Equal(t, "Optimized Prompt", saved.Prompt.Title)
	assert.Equal(t, "Optimized alpha", saved.Prompt.Text)

	var a AnalyticsResponse
	decode(t, do(t, s, http.MethodGet, "/analytics", nil), &a)
	assert.Equal(t, 1, a.TotalOptimizations)
	assert.Equal(t, 3, a.SavedPrompts)
}

func TestOptimizeErrors(t *testing.T) {
	remote := fmt.Errorf("%w: api error (status 503)", domain.ErrRemoteOptimize)
	s, _ := newTestServer(t, &stubOptimizer{err: remote})

	rec := do(t, s, http.MethodPost, "/optimize", OptimizeRequest{Prompt: "alpha"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = do(t, s, http.MethodPost, "/optimize", OptimizeRequest{Prompt: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/optimize/save", SaveResultRequest{Category: domain.CategoryContent})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPersistenceWarning(t *testing.T) {
	s, backend := newTestServer(t, nil)
	backend.FailWrites(errors.New("disk full"))

	rec := do(t, s, http.MethodPost, "/prompts", domain.PromptInput{
		Title: "x", Category: domain.CategoryContent, Text: "y",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created PromptResponse
	decode(t, rec, &created)
	assert.Contains(t, created.Warning, "disk full")

	var all listResponse
	decode(t, do(t, s, http.MethodGet, "/prompts", nil), &all)
	assert.Len(t, all.Prompts, 3)
}

type cachingOptimizer struct {
	stubOptimizer
	entries int
}

func (o *cachingOptimizer) CacheStats() optimizer.CacheStats {
	return optimizer.CacheStats{Enabled: true, Entries: o.entries, Capacity: 8, TTLMinutes: 30}
}

func (o *cachingOptimizer) ClearCache() int {
	n := o.entries
	o.entries = 0
	return n
}

func TestCacheRoutes(t *testing.T) {
	opt := &cachingOptimizer{stubOptimizer: stubOptimizer{out: "x"}, entries: 3}
	s, _ := newTestServer(t, opt)

	var stats optimizer.CacheStats
	rec := do(t, s, http.MethodGet, "/cache/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &stats)
	assert.Equal(t, optimizer.CacheStats{Enabled: true, Entries: 3, Capacity: 8, TTLMinutes: 30}, stats)

	rec = do(t, s, http.MethodPost, "/cache/clear", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cleared struct {
		Cleared int `json:"cleared"`
	}
	decode(t, rec, &cleared)
	assert.Equal(t, 3, cleared.Cleared)
	assert.Equal(t, 0, opt.entries)
}

func TestCacheRoutes_NoCache(t *testing.T) {
	s, _ := newTestServer(t, nil)

	var stats optimizer.CacheStats
	decode(t, do(t, s, http.MethodGet, "/cache/stats", nil), &stats)
	assert.False(t, stats.Enabled)

	rec := do(t, s, http.MethodPost, "/cache/clear", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestBodyLimit(t *testing.T) {
	s, backend := newTestServer(t, nil)
	writes := backend.Writes()

	huge := `{"title":"x","category":"Content","text":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	rec := do(t, s, http.MethodPost, "/prompts", huge)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, writes, backend.Writes())

	rec = do(t, s, http.MethodPost, "/optimize", `{"prompt":"`+strings.Repeat("b", maxBodyBytes)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
