// Package app maps user intents onto the prompt store and the optimizer.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/pbaille/prompttune/internal/domain"
	"github.com/pbaille/prompttune/internal/store"
)

// DefaultResultTitle is used when an optimized result is saved without a title
const DefaultResultTitle = "Optimized Prompt"

// Optimizer turns a prompt into an optimized prompt
type Optimizer interface {
	Optimize(ctx context.Context, prompt string) (string, error)
}

// Session holds the optimizer workspace: the current input and the last
// optimized result.
type Session struct {
	store     *store.Store
	optimizer Optimizer
	logger    zerolog.Logger

	inFlight atomic.Bool

	mu     sync.RWMutex
	input  string
	result string
}

// New creates a Session. optimizer may be nil, in which case Optimize fails.
func New(st *store.Store, optimizer Optimizer, logger zerolog.Logger) *Session {
	return &Session{
		store:     st,
		optimizer: optimizer,
		logger:    logger.With().Str("component", "session").Logger(),
	}
}

// Store returns the underlying prompt store
func (s *Session) Store() *store.Store { return s.store }

// Optimizer returns the configured optimizer, or nil
func (s *Session) Optimizer() Optimizer { return s.optimizer }

// Workspace returns the current input and last optimized result
func (s *Session) Workspace() (input, result string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.input, s.result
}

// SetInput replaces the optimizer input
func (s *Session) SetInput(text string) {
	s.mu.Lock()
	s.input = text
	s.mu.Unlock()
}

// UsePrompt loads a library prompt into the optimizer input and counts the use
func (s *Session) UsePrompt(id string) (string, error) {
	text, err := s.store.RecordUsage(id)
	if err != nil && !domain.IsWarning(err) {
		return "", err
	}
	s.SetInput(text)
	return text, err
}

// Optimize sends prompt to the optimizer. A second call while one is in
// flight is rejected with domain.ErrOptimizeInFlight. On failure the input
// is kept so the caller can retry. A *domain.PersistenceError returned with
// a result means the optimization succeeded but the counter was not saved.
func (s *Session) Optimize(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", fmt.Errorf("optimize: %w", &domain.ValidationError{Field: "prompt", Reason: "is required"})
	}
	if s.optimizer == nil {
		return "", fmt.Errorf("optimize: %w: optimizer not configured", domain.ErrRemoteOptimize)
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		return "", domain.ErrOptimizeInFlight
	}
	defer s.inFlight.Store(false)

	s.SetInput(prompt)

	optimized, err := s.optimizer.Optimize(ctx, prompt)
	if err != nil {
		s.mu.Lock()
		s.result = ""
		s.mu.Unlock()
		s.logger.Warn().Err(err).Msg("Optimization failed")
		return "", fmt.Errorf("optimize: %w", err)
	}

	s.mu.Lock()
	s.result = optimized
	s.mu.Unlock()

	s.logger.Info().Int("in", len(prompt)).Int("out", len(optimized)).Msg("Prompt optimized")
	return optimized, s.store.RecordOptimization()
}

// Optimizing reports whether an optimize call is in flight
func (s *Session) Optimizing() bool { return s.inFlight.Load() }

// SaveResult stores the last optimized result as a new library record.
// It always creates a new record; an empty title defaults to
// DefaultResultTitle.
func (s *Session) SaveResult(title string, category domain.Category, tags []string) (domain.PromptRecord, error) {
	_, result := s.Workspace()
	if strings.TrimSpace(result) == "" {
		return domain.PromptRecord{}, fmt.Errorf("save result: %w", &domain.ValidationError{Field: "result", Reason: "is empty, optimize a prompt first"})
	}
	if strings.TrimSpace(title) == "" {
		title = DefaultResultTitle
	}

	return s.store.Create(domain.PromptInput{
		Title:    title,
		Category: category,
		Tags:     tags,
		Text:     result,
	})
}
