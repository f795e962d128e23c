// Package memory implements the Semantic Memory Layer:
// deduplicating personal-fact extraction with natural-language
// store/forget/recall commands, persisted as a single JSON document
// rewritten atomically on every mutation (write to a temp file, then
// rename over the original).
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sipeed/turnhub/pkg/domain"
	"github.com/sipeed/turnhub/pkg/logger"
)

// mergeThreshold is the token-overlap fraction above which two facts in
// the same category are considered duplicates.
const mergeThreshold = 0.70

// forgetThreshold is the token-overlap fraction used by Forget to match a
// candidate phrase against stored content.
const forgetThreshold = 0.50

// Store holds every SemanticFact in memory and persists them as a single
// JSON document, single-writer with a per-file lock.
type Store struct {
	mu       sync.Mutex
	path     string
	facts    map[string]*domain.SemanticFact
	vectors  *VectorStore // optional, nil when embeddings disabled
}

type onDiskDoc struct {
	Facts []*domain.SemanticFact `json:"facts"`
}

// NewStore loads (or initializes) the fact document at dataDir/semantic_memory.json.
func NewStore(dataDir string, vectors *VectorStore) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("memory: create data dir: %w", err)
	}
	path := filepath.Join(dataDir, "semantic_memory.json")

	s := &Store{path: path, facts: make(map[string]*domain.SemanticFact), vectors: vectors}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("memory: reading %s: %w", s.path, err)
	}
	var doc onDiskDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("memory: parsing %s: %w", s.path, err)
	}
	for _, f := range doc.Facts {
		s.facts[f.ID] = f
	}
	return nil
}

// saveLocked atomically rewrites the JSON document. Caller must hold s.mu.
func (s *Store) saveLocked() error {
	doc := onDiskDoc{Facts: make([]*domain.SemanticFact, 0, len(s.facts))}
	for _, f := range s.facts {
		doc.Facts = append(doc.Facts, f)
	}
	sort.Slice(doc.Facts, func(i, j int) bool { return doc.Facts[i].CreatedAt.Before(doc.Facts[j].CreatedAt) })

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("memory: marshal: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("memory: write temp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("memory: rename: %w", err)
	}
	return nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func tokenSet(s string) map[string]bool {
	words := strings.Fields(normalize(s))
	set := make(map[string]bool, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:\"'()")
		if w != "" {
			set[w] = true
		}
	}
	return set
}

// tokenOverlap returns |A∩B| / min(|A|,|B|) over the two phrases' word sets.
func tokenOverlap(a, b string) float64 {
	sa, sb := tokenSet(a), tokenSet(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	inter := 0
	for w := range sa {
		if sb[w] {
			inter++
		}
	}
	min := len(sa)
	if len(sb) < min {
		min = len(sb)
	}
	return float64(inter) / float64(min)
}

// findDuplicate returns the first existing fact in the same category whose
// content overlaps content by >= mergeThreshold.
func (s *Store) findDuplicate(category, content string) *domain.SemanticFact {
	for _, f := range s.facts {
		if f.Category != category {
			continue
		}
		if tokenOverlap(f.Content, content) >= mergeThreshold {
			return f
		}
	}
	return nil
}

// mergePolicy applies the category-specific merge rule.
func mergePolicy(existing *domain.SemanticFact, newContent, category string) string {
	switch category {
	case domain.CategoryPreferences:
		return newContent // preferences overwrite with newest
	case domain.CategoryIdentity:
		if len(newContent) > len(existing.Content) {
			return newContent // identity prefers the more specific text
		}
		return existing.Content
	default:
		if existing.Content == newContent || strings.Contains(existing.Content, newContent) {
			return existing.Content
		}
		return existing.Content + "; " + newContent // general facts concatenate
	}
}

// Upsert stores a fact, merging into an existing one in the same category
// when the token-overlap threshold is met (idempotence of store under
// merge, property 6).
func (s *Store) Upsert(fact domain.SemanticFact) (*domain.SemanticFact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fact.Content = normalize(fact.Content)
	now := time.Now()

	if dup := s.findDuplicate(fact.Category, fact.Content); dup != nil {
		dup.Content = mergePolicy(dup, fact.Content, fact.Category)
		dup.UpdatedAt = now
		dup.Confidence = maxFloat(dup.Confidence, fact.Confidence)
		if dup.Metadata == nil {
			dup.Metadata = map[string]interface{}{}
		}
		src, _ := dup.Metadata["source_messages"].([]interface{})
		dup.Metadata["source_messages"] = append(src, fact.SourceUtterance)

		if err := s.saveLocked(); err != nil {
			return nil, err
		}
		s.indexAsync(*dup)
		return dup, nil
	}

	if fact.ID == "" {
		fact.ID = uuid.NewString()
	}
	fact.CreatedAt = now
	fact.UpdatedAt = now
	if fact.Metadata == nil {
		fact.Metadata = map[string]interface{}{}
	}
	fact.Metadata["source_messages"] = []interface{}{fact.SourceUtterance}
	s.facts[fact.ID] = &fact

	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	s.indexAsync(fact)
	return &fact, nil
}

func (s *Store) indexAsync(f domain.SemanticFact) {
	if s.vectors == nil {
		return
	}
	go func() {
		if err := s.vectors.Index(context.Background(), f.ID, f.Content, f.Category); err != nil {
			logger.WarnCF("memory", "embedding index failed", map[string]interface{}{"error": err.Error()})
		}
	}()
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// Forget removes facts whose content substring-matches or token-overlaps
// the candidate phrase by >= 50%. Returns the removed facts.
func (s *Store) Forget(phrase string) []*domain.SemanticFact {
	s.mu.Lock()
	defer s.mu.Unlock()

	phrase = normalize(phrase)
	var removed []*domain.SemanticFact
	for id, f := range s.facts {
		if strings.Contains(f.Content, phrase) || strings.Contains(phrase, f.Content) || tokenOverlap(f.Content, phrase) >= forgetThreshold {
			removed = append(removed, f)
			delete(s.facts, id)
			if s.vectors != nil {
				go s.vectors.Delete(context.Background(), id)
			}
		}
	}
	if len(removed) > 0 {
		_ = s.saveLocked()
	}
	return removed
}

// scoredFact pairs a fact with its relevance score for Recall.
type scoredFact struct {
	fact  *domain.SemanticFact
	score float64
}

// Recall scores every fact for relevance to query via substring match and
// word overlap, returning the top n.
func (s *Store) Recall(query string, n int) []*domain.SemanticFact {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := normalize(query)
	var scored []scoredFact
	for _, f := range s.facts {
		score := tokenOverlap(f.Content, q)
		if strings.Contains(q, f.Content) || strings.Contains(f.Content, q) {
			score += 1.0
		}
		if score > 0 {
			scored = append(scored, scoredFact{fact: f, score: score})
		}
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	if n <= 0 || n > len(scored) {
		n = len(scored)
	}
	out := make([]*domain.SemanticFact, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, scored[i].fact)
	}
	return out
}

// All returns every stored fact, newest first.
func (s *Store) All() []*domain.SemanticFact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.SemanticFact, 0, len(s.facts))
	for _, f := range s.facts {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Stats summarises the fact store for GET /memory/stats.
type Stats struct {
	Total         int            `json:"total"`
	ByCategory    map[string]int `json:"by_category"`
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := Stats{ByCategory: make(map[string]int)}
	for _, f := range s.facts {
		stats.Total++
		stats.ByCategory[f.Category]++
	}
	return stats
}

// ContextForAI builds the "Personal Context" preamble: every stored fact,
// grouped into one line per category in a fixed category order. No
// salience ranking or per-category cap is applied.
func (s *Store) ContextForAI() string {
	s.mu.Lock()
	byCategory := make(map[string][]string)
	for _, f := range s.facts {
		byCategory[f.Category] = append(byCategory[f.Category], f.Content)
	}
	s.mu.Unlock()

	if len(byCategory) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Personal Context\n")
	order := []string{
		domain.CategoryIdentity, domain.CategoryPreferences, domain.CategoryRelationships,
		domain.CategoryFacts, domain.CategorySkills, domain.CategoryGoals, domain.CategoryStyle,
	}
	for _, cat := range order {
		items := byCategory[cat]
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", cat, strings.Join(items, "; "))
	}
	return b.String()
}
