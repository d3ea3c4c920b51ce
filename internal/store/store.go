// Package store owns the canonical prompt collection and keeps it in sync
// with the key-value substrate.
package store

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pbaille/prompttune/internal/domain"
	"github.com/pbaille/prompttune/internal/kv"
)

// Keys the collection and the analytics counters are persisted under.
const (
	PromptsKey   = "promptTunePrompts"
	AnalyticsKey = "promptTuneAnalytics"
)

// ErrWritesSuspended is returned by mutations on a Store whose stored state
// could not be read when it was opened.
var ErrWritesSuspended = errors.New("writes suspended until storage can be read")

// Store handles prompt library operations. All methods are safe for
// concurrent use; each one is atomic with respect to the others.
type Store struct {
	mu                 sync.RWMutex
	kv                 kv.Store
	records            []domain.PromptRecord
	totalOptimizations int
	issued             map[string]struct{}

	// readErr is set when the stored state could not be read at open.
	// Writes stay suspended so the unread library is never overwritten.
	readErr *domain.PersistenceError

	now    func() time.Time
	newID  func() string
	logger zerolog.Logger
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the time source used for createdAt
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides the id generator
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// WithLogger sets the logger used for persistence notices
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// persistedAnalytics is the stored form of the analytics counters. The
// derived fields are recomputed on read and never written.
type persistedAnalytics struct {
	TotalOptimizations int `json:"totalOptimizations"`
}

// Open loads the library from backend, seeding it when storage is empty.
// A *domain.PersistenceError returned alongside a non-nil Store is a
// warning and the Store is usable. When the backend cannot be read the
// defaults are served from memory and nothing is written back.
func Open(backend kv.Store, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("open store: nil kv backend")
	}

	s := &Store{
		kv:     backend,
		issued: make(map[string]struct{}),
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "store").Logger()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s, s.loadLocked()
}

func (s *Store) loadLocked() error {
	records, err := s.readRecords()
	if err != nil {
		s.readErr = &domain.PersistenceError{Op: "read prompts", Err: err}
	}
	total, err := s.readAnalytics()
	if err != nil && s.readErr == nil {
		s.readErr = &domain.PersistenceError{Op: "read analytics", Err: err}
	}

	s.records = records
	s.totalOptimizations = total
	for _, r := range s.records {
		s.issued[r.ID] = struct{}{}
	}

	if len(s.records) == 0 {
		s.records = seedRecords(s.now().UTC(), s.uniqueIDLocked)
		s.logger.Info().Int("count", len(s.records)).Msg("Seeded prompt library")
	}

	if s.readErr != nil {
		return s.readErr
	}
	if len(records) > 0 {
		return nil
	}
	return s.persistLocked()
}

// readRecords decodes the stored collection, failing closed to an empty one
// on malformed data and dropping records that break the collection
// invariants. Only a backend error is returned.
func (s *Store) readRecords() ([]domain.PromptRecord, error) {
	out := []domain.PromptRecord{}

	raw, ok, err := s.kv.Get(PromptsKey)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", PromptsKey).Msg("Failed to read prompts, writes suspended")
		return out, err
	}
	if !ok {
		return out, nil
	}

	var stored []domain.PromptRecord
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		s.logger.Warn().Err(err).Str("key", PromptsKey).Msg("Malformed prompts, using defaults")
		return out, nil
	}

	seen := make(map[string]struct{}, len(stored))
	for _, r := range stored {
		if reason := invalidReason(r, seen); reason != "" {
			s.logger.Warn().Str("id", r.ID).Str("reason", reason).Msg("Dropping stored prompt")
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r.Clone())
	}
	return out, nil
}

func invalidReason(r domain.PromptRecord, seen map[string]struct{}) string {
	if strings.TrimSpace(r.ID) == "" {
		return "missing id"
	}
	if _, dup := seen[r.ID]; dup {
		return "duplicate id"
	}
	if r.UsageCount < 0 {
		return "negative usage count"
	}
	in := domain.PromptInput{Title: r.Title, Category: r.Category, Text: r.Text}
	if err := in.Normalize().Validate(); err != nil {
		return err.Error()
	}
	return ""
}

func (s *Store) readAnalytics() (int, error) {
	raw, ok, err := s.kv.Get(AnalyticsKey)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", AnalyticsKey).Msg("Failed to read analytics, writes suspended")
		return 0, err
	}
	if !ok {
		return 0, nil
	}

	var stored persistedAnalytics
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		s.logger.Warn().Err(err).Str("key", AnalyticsKey).Msg("Malformed analytics, using defaults")
		return 0, nil
	}
	if stored.TotalOptimizations < 0 {
		return 0, nil
	}
	return stored.TotalOptimizations, nil
}

// persistLocked writes the whole collection and the counters. Failures are
// logged and returned but never roll back the in-memory state.
func (s *Store) persistLocked() error {
	if s.readErr != nil {
		return &domain.PersistenceError{Op: "write prompts", Err: fmt.Errorf("%w: %w", ErrWritesSuspended, s.readErr)}
	}
	records, err := json.Marshal(s.records)
	if err != nil {
		return &domain.PersistenceError{Op: "encode prompts", Err: err}
	}
	if err := s.kv.Set(PromptsKey, string(records)); err != nil {
		s.logger.Warn().Err(err).Str("key", PromptsKey).Msg("Failed to persist prompts")
		return &domain.PersistenceError{Op: "write prompts", Err: err}
	}

	analytics, err := json.Marshal(persistedAnalytics{TotalOptimizations: s.totalOptimizations})
	if err != nil {
		return &domain.PersistenceError{Op: "encode analytics", Err: err}
	}
	if err := s.kv.Set(AnalyticsKey, string(analytics)); err != nil {
		s.logger.Warn().Err(err).Str("key", AnalyticsKey).Msg("Failed to persist analytics")
		return &domain.PersistenceError{Op: "write analytics", Err: err}
	}
	return nil
}

func (s *Store) uniqueIDLocked() string {
	for {
		id := s.newID()
		if _, taken := s.issued[id]; !taken && id != "" {
			s.issued[id] = struct{}{}
			return id
		}
	}
}

func (s *Store) indexLocked(id string) int {
	for i, r := range s.records {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// Create validates input and prepends a new record.
// A returned *domain.PersistenceError leaves the record in place.
func (s *Store) Create(in domain.PromptInput) (domain.PromptRecord, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return domain.PromptRecord{}, fmt.Errorf("create prompt: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := domain.PromptRecord{
		ID:        s.uniqueIDLocked(),
		Title:     in.Title,
		Category:  in.Category,
		Tags:      in.Tags,
		Text:      in.Text,
		CreatedAt: s.now().UTC(),
	}
	s.records = append([]domain.PromptRecord{rec}, s.records...)

	s.logger.Debug().Str("id", rec.ID).Msg("Created prompt")
	return rec.Clone(), s.persistLocked()
}

// Update replaces the mutable fields of an existing record. The id,
// createdAt and usage count are preserved.
func (s *Store) Update(id string, in domain.PromptInput) (domain.PromptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return domain.PromptRecord{}, fmt.Errorf("update prompt %s: %w", id, domain.ErrNotFound)
	}

	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return domain.PromptRecord{}, fmt.Errorf("update prompt %s: %w", id, err)
	}

	rec := &s.records[i]
	rec.Title = in.Title
	rec.Category = in.Category
	rec.Tags = in.Tags
	rec.Text = in.Text

	s.logger.Debug().Str("id", id).Msg("Updated prompt")
	return rec.Clone(), s.persistLocked()
}

// Delete removes the record with the given id. Deleting an unknown id is
// not an error.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexLocked(id); i >= 0 {
		s.records = append(s.records[:i:i], s.records[i+1:]...)
		s.logger.Debug().Str("id", id).Msg("Deleted prompt")
	}
	return s.persistLocked()
}

// RecordUsage increments the usage count of a record by one and returns its
// text. Every call counts as a use.
func (s *Store) RecordUsage(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return "", fmt.Errorf("use prompt %s: %w", id, domain.ErrNotFound)
	}
	s.records[i].UsageCount++
	return s.records[i].Text, s.persistLocked()
}

// RecordOptimization bumps the successful optimization counter
func (s *Store) RecordOptimization() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalOptimizations++
	return s.persistLocked()
}

// Get returns a copy of the record with the given id
func (s *Store) Get(id string) (domain.PromptRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexLocked(id)
	if i < 0 {
		return domain.PromptRecord{}, fmt.Errorf("get prompt %s: %w", id, domain.ErrNotFound)
	}
	return s.records[i].Clone(), nil
}

// Resolve maps an exact id or a unique id prefix to a full id
func (s *Store) Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("resolve prompt: %w", &domain.ValidationError{Field: "id", Reason: "is required"})
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.indexLocked(ref) >= 0 {
		return ref, nil
	}

	var found string
	for _, r := range s.records {
		if !strings.HasPrefix(r.ID, ref) {
			continue
		}
		if found != "" {
			return "", fmt.Errorf("resolve prompt %s: %w", ref, &domain.ValidationError{Field: "id", Reason: "prefix is ambiguous"})
		}
		found = r.ID
	}
	if found == "" {
		return "", fmt.Errorf("resolve prompt %s: %w", ref, domain.ErrNotFound)
	}
	return found, nil
}

// List returns the whole collection, newest first
func (s *Store) List() []domain.PromptRecord {
	return s.Search("", "")
}

// Len returns the number of records
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Search returns the records matching term and category, in collection order
func (s *Store) Search(term, category string) []domain.PromptRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.PromptRecord, 0, len(s.records))
	for _, r := range s.records {
		if Matches(r, term, category) {
			out = append(out, r.Clone())
		}
	}
	return out
}

// TopUsed returns up to n records ordered by usage count, most used first.
// Records that were never used are left out.
func (s *Store) TopUsed(n int) []domain.PromptRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var used []domain.PromptRecord
	for _, r := range s.records {
		if r.UsageCount > 0 {
			used = append(used, r.Clone())
		}
	}
	sortByUsage(used)
	if n >= 0 && len(used) > n {
		used = used[:n]
	}
	return used
}

// Analytics recomputes the summary from the current collection
func (s *Store) Analytics() domain.Analytics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// AvgLength counts code points, so characters outside the BMP count
	// once rather than as two UTF-16 units.
	a := domain.Analytics{
		TotalOptimizations: s.totalOptimizations,
		SavedPrompts:       len(s.records),
	}
	if len(s.records) > 0 {
		total := 0
		for _, r := range s.records {
			total += utf8.RuneCountInString(r.Text)
		}
		a.AvgLength = int(math.Round(float64(total) / float64(len(s.records))))
	}
	return a
}
