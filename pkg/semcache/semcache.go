// Package semcache implements the similarity-based response cache. A
// lookup embeds the prompt and reuses the stored response whose vector is
// closest, provided the cosine similarity strictly exceeds the configured
// threshold. It sits in front of the exact-match cache to also absorb
// near-duplicate prompts.
package semcache

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/TheProjectSEO/shield/pkg/telemetry/metrics"
)

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the time source, for deterministic TTL tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithMetrics attaches a collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Store) { s.metrics = m }
}

// Entry is one stored prompt/response pair with its embedding. All entries
// in a store share one vector dimensionality, fixed by the embedder.
type Entry struct {
	Vector    []float32
	Text      string
	Response  string
	CreatedAt time.Time
	HitCount  int64
}

// Store is the semantic cache. All methods are safe for concurrent use.
type Store struct {
	embedder   Embedder
	threshold  float64
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
	logger     *slog.Logger
	metrics    *metrics.Collector

	mu      sync.Mutex
	entries []*Entry

	lookups   int64
	exactHits int64
	nearHits  int64
	misses    int64
	evictions int64
	expiries  int64
}

// New creates a semantic cache. A stored response qualifies as a hit only
// when its similarity to the query strictly exceeds threshold.
func New(embedder Embedder, threshold float64, maxEntries int, ttl time.Duration, opts ...Option) *Store {
	s := &Store{
		embedder:   embedder,
		threshold:  threshold,
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
		logger:     slog.Default().With("component", "semcache"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetThreshold replaces the similarity threshold. Used by config
// hot-reload; takes effect on the next lookup.
func (s *Store) SetThreshold(threshold float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threshold = threshold
}

// FindSimilar returns the stored response most similar to prompt, if any
// entry's cosine similarity strictly exceeds the threshold. Expired
// entries are skipped and deleted during the scan.
func (s *Store) FindSimilar(prompt string) (string, bool) {
	vec, err := s.embedder.Embed(prompt)
	if err != nil {
		s.logger.Warn("embedding failed, treating as miss", "error", err)
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lookups++
	cutoff := s.now().Add(-s.ttl)

	best := -1
	bestSim := s.threshold
	live := s.entries[:0]
	for _, e := range s.entries {
		if s.ttl > 0 && e.CreatedAt.Before(cutoff) {
			s.expiries++
			continue
		}
		live = append(live, e)
		if sim := CosineSimilarity(vec, e.Vector); sim > bestSim {
			best = len(live) - 1
			bestSim = sim
		}
	}
	s.entries = live

	if best < 0 {
		s.misses++
		s.record("cache_misses_total")
		return "", false
	}

	e := s.entries[best]
	e.HitCount++
	if e.Text == prompt {
		s.exactHits++
	} else {
		s.nearHits++
	}
	s.record("cache_hits_total")
	return e.Response, true
}

func (s *Store) record(name string) {
	if s.metrics != nil {
		s.metrics.IncrementCounter(name, metrics.Labels{"cache": "semantic"})
	}
}

// Cache stores a prompt/response pair. When the store is full, the lowest
// 10% of entries ordered by hit count then creation time are evicted:
// rarely reused, old entries go first.
func (s *Store) Cache(prompt, response string) error {
	vec, err := s.embedder.Embed(prompt)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) >= s.maxEntries {
		s.evictLocked()
	}

	s.entries = append(s.entries, &Entry{
		Vector:    vec,
		Text:      prompt,
		Response:  response,
		CreatedAt: s.now(),
	})
	if s.metrics != nil {
		s.metrics.SetGauge("cache_size", metrics.Labels{"cache": "semantic"}, float64(len(s.entries)))
	}
	return nil
}

// evictLocked removes the least valuable 10% of entries (at least one).
func (s *Store) evictLocked() {
	n := len(s.entries) / 10
	if n < 1 {
		n = 1
	}

	sort.SliceStable(s.entries, func(i, j int) bool {
		a, b := s.entries[i], s.entries[j]
		if a.HitCount != b.HitCount {
			return a.HitCount < b.HitCount
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	s.entries = append(s.entries[:0], s.entries[n:]...)
	s.evictions += int64(n)
	s.logger.Debug("evicted semantic cache entries", "evicted", n, "remaining", len(s.entries))
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stats is a snapshot of lookup outcomes. Exact hits (identical prompt)
// and near hits (similar prompt) are reported separately so operators can
// tune the threshold.
type Stats struct {
	Size      int     `json:"size"`
	MaxSize   int     `json:"max_size"`
	Lookups   int64   `json:"lookups"`
	ExactHits int64   `json:"exact_hits"`
	NearHits  int64   `json:"near_hits"`
	Misses    int64   `json:"misses"`
	HitRate   float64 `json:"hit_rate"`
	Evictions int64   `json:"evictions"`
	Expiries  int64   `json:"expiries"`
	Threshold float64 `json:"threshold"`
}

// GetStats returns a snapshot of the store counters.
func (s *Store) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Size:      len(s.entries),
		MaxSize:   s.maxEntries,
		Lookups:   s.lookups,
		ExactHits: s.exactHits,
		NearHits:  s.nearHits,
		Misses:    s.misses,
		Evictions: s.evictions,
		Expiries:  s.expiries,
		Threshold: s.threshold,
	}
	if s.lookups > 0 {
		st.HitRate = float64(s.exactHits+s.nearHits) / float64(s.lookups)
	}
	return st
}
