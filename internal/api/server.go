// Package api serves the prompt library and the optimizer over JSON HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/pbaille/prompttune/internal/app"
	"github.com/pbaille/prompttune/internal/domain"
	"github.com/pbaille/prompttune/internal/optimizer"
	"github.com/pbaille/prompttune/internal/store"
)

// maxBodyBytes caps request bodies
const maxBodyBytes = 1 << 20

// cacheController is implemented by optimizers that keep a result cache
type cacheController interface {
	CacheStats() optimizer.CacheStats
	ClearCache() int
}

// Server handles HTTP requests for the prompt library API
type Server struct {
	session *app.Session
	store   *store.Store
	addr    string
	logger  zerolog.Logger
	router  chi.Router
}

// New creates a new API server
func New(session *app.Session, addr string, logger zerolog.Logger) *Server {
	s := &Server{
		session: session,
		store:   session.Store(),
		addr:    addr,
		logger:  logger.With().Str("component", "api").Logger(),
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler with all routes mounted
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))
	r.Use(withCORS)

	r.Get("/health", s.health)
	r.Get("/categories", s.listCategories)

	r.Route("/prompts", func(r chi.Router) {
		r.Get("/", s.searchPrompts)
		r.Post("/", s.createPrompt)
		r.Get("/{id}", s.getPrompt)
		r.Put("/{id}", s.updatePrompt)
		r.Delete("/{id}", s.deletePrompt)
		r.Post("/{id}/use", s.usePrompt)
	})

	r.Get("/analytics", s.analytics)

	r.Route("/optimize", func(r chi.Router) {
		r.Post("/", s.optimize)
		r.Get("/result", s.optimizeResult)
		r.Post("/save", s.saveResult)
	})

	r.Route("/cache", func(r chi.Router) {
		r.Get("/stats", s.cacheStats)
		r.Post("/clear", s.clearCache)
	})

	return r
}

// Run starts the HTTP server and shuts it down when ctx is done
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("Starting server")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info().Msg("Shutting down server")
		return srv.Shutdown(shutdownCtx)
	}
}

// withCORS adds CORS headers for browser clients
func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info().
				Str("method", r.Method).
				Str("uri", r.URL.RequestURI()).
				Int("status", ww.Status()).
				Str("request_id", middleware.GetReqID(r.Context())).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"categories": domain.Categories})
}

// PromptResponse wraps a single record with an optional persistence warning
type PromptResponse struct {
	Prompt  *domain.PromptRecord `json:"prompt"`
	Warning string               `json:"warning,omitempty"`
}

// UseResponse is the response for loading a prompt into the optimizer
type UseResponse struct {
	Text    string `json:"text"`
	Warning string `json:"warning,omitempty"`
}

// OptimizeRequest is the request body for the optimize endpoint
type OptimizeRequest struct {
	Prompt string `json:"prompt"`
}

// OptimizeResponse mirrors the remote endpoint's response shape
type OptimizeResponse struct {
	OptimizedPrompt string `json:"optimized_prompt"`
	Warning         string `json:"warning,omitempty"`
}

// SaveResultRequest is the request body for saving the last result
type SaveResultRequest struct {
	Title    string          `json:"title"`
	Category domain.Category `json:"category"`
	Tags     []string        `json:"tags"`
}

// AnalyticsResponse is the analytics summary plus the most used prompts
type AnalyticsResponse struct {
	domain.Analytics
	TopUsed []domain.PromptRecord `json:"topUsed"`
}

func (s *Server) searchPrompts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	prompts := s.store.Search(q.Get("q"), q.Get("category"))

	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n >= 0 && n < len(prompts) {
			prompts = prompts[:n]
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"prompts":  prompts,
		"query":    q.Get("q"),
		"category": q.Get("category"),
		"total":    len(prompts),
	})
}

func (s *Server) createPrompt(w http.ResponseWriter, r *http.Request) {
	var in domain.PromptInput
	if !decodeBody(w, r, &in) {
		return
	}

	rec, err := s.store.Create(in)
	if err != nil && !domain.IsWarning(err) {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, PromptResponse{Prompt: &rec, Warning: warning(err)})
}

func (s *Server) resolveID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := s.store.Resolve(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return "", false
	}
	return id, true
}

func (s *Server) getPrompt(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolveID(w, r)
	if !ok {
		return
	}

	rec, err := s.store.Get(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PromptResponse{Prompt: &rec})
}

func (s *Server) updatePrompt(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolveID(w, r)
	if !ok {
		return
	}

	var in domain.PromptInput
	if !decodeBody(w, r, &in) {
		return
	}

	rec, err := s.store.Update(id, in)
	if err != nil && !domain.IsWarning(err) {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PromptResponse{Prompt: &rec, Warning: warning(err)})
}

func (s *Server) deletePrompt(w http.ResponseWriter, r *http.Request) {
	// Unknown ids are a no-op, so no prefix resolution here
	id := chi.URLParam(r, "id")
	if err := s.store.Delete(id); err != nil {
		if domain.IsWarning(err) {
			writeJSON(w, http.StatusOK, map[string]string{"warning": err.Error()})
			return
		}
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) usePrompt(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolveID(w, r)
	if !ok {
		return
	}

	text, err := s.session.UsePrompt(id)
	if err != nil && !domain.IsWarning(err) {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, UseResponse{Text: text, Warning: warning(err)})
}

func (s *Server) analytics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, AnalyticsResponse{
		Analytics: s.store.Analytics(),
		TopUsed:   s.store.TopUsed(5),
	})
}

func (s *Server) optimize(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	out, err := s.session.Optimize(r.Context(), req.Prompt)
	if err != nil && !domain.IsWarning(err) {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OptimizeResponse{OptimizedPrompt: out, Warning: warning(err)})
}

func (s *Server) optimizeResult(w http.ResponseWriter, r *http.Request) {
	input, result := s.session.Workspace()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"input":      input,
		"result":     result,
		"optimizing": s.session.Optimizing(),
	})
}

func (s *Server) saveResult(w http.ResponseWriter, r *http.Request) {
	var req SaveResultRequest
	if !decodeBody(w, r, &req) {
		return
	}

	rec, err := s.session.SaveResult(req.Title, req.Category, req.Tags)
	if err != nil && !domain.IsWarning(err) {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, PromptResponse{Prompt: &rec, Warning: warning(err)})
}

func (s *Server) cacheStats(w http.ResponseWriter, r *http.Request) {
	cc, ok := s.session.Optimizer().(cacheController)
	if !ok {
		writeJSON(w, http.StatusOK, optimizer.CacheStats{})
		return
	}
	writeJSON(w, http.StatusOK, cc.CacheStats())
}

func (s *Server) clearCache(w http.ResponseWriter, r *http.Request) {
	cleared := 0
	if cc, ok := s.session.Optimizer().(cacheController); ok {
		cleared = cc.ClearCache()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Cache cleared",
		"cleared": cleared,
	})
}

// decodeBody reads a size-limited JSON body into v, writing the error
// response itself when it fails
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func warning(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, domain.MapHTTPStatus(err), err.Error())
}
