package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/philippgille/chromem-go"

	"github.com/sipeed/turnhub/pkg/logger"
)

// SearchResult is one embedding-similarity hit against the facts
// collection, as returned by Search.
type SearchResult struct {
	ID        string  `json:"id"`
	Content   string  `json:"content"`
	Score     float32 `json:"score"`
	Category  string  `json:"category,omitempty"`
	UpdatedAt string  `json:"updated_at,omitempty"`
}

// VectorStore wraps chromem-go's persistent DB with a single "facts"
// collection. Store indexes facts into it on Upsert and removes them on
// Forget; Store.Recall does not query it, so recall results come only
// from the substring/word-overlap matcher in facts.go.
type VectorStore struct {
	db    *chromem.DB
	facts *chromem.Collection
}

// NewVectorStore opens (or creates) a persistent vector DB under
// <dataDir>/vectors, with a "facts" collection that embeds through
// embeddingFn. Returns an error if the directory, the DB or the collection
// cannot be created; the wiring code logs that and runs without the index.
func NewVectorStore(dataDir string, embeddingFn chromem.EmbeddingFunc) (*VectorStore, error) {
	dbPath := filepath.Join(dataDir, "vectors")
	if err := os.MkdirAll(dbPath, 0o755); err != nil {
		return nil, fmt.Errorf("memory: create vector dir: %w", err)
	}

	db, err := chromem.NewPersistentDB(dbPath, false)
	if err != nil {
		return nil, fmt.Errorf("memory: open vector db: %w", err)
	}

	facts, err := db.GetOrCreateCollection("facts", nil, embeddingFn)
	if err != nil {
		return nil, fmt.Errorf("memory: create facts collection: %w", err)
	}

	logger.InfoCF("memory", "vector store initialized", map[string]interface{}{
		"path": dbPath, "count": facts.Count(),
	})

	return &VectorStore{db: db, facts: facts}, nil
}

// Index embeds a fact for later similarity search.
func (vs *VectorStore) Index(ctx context.Context, id, content, category string) error {
	doc := chromem.Document{
		ID:      id,
		Content: content,
		Metadata: map[string]string{
			"category":   category,
			"updated_at": time.Now().Format(time.RFC3339),
		},
	}
	if err := vs.facts.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("memory: index fact: %w", err)
	}
	return nil
}

// Delete removes a fact from the index.
func (vs *VectorStore) Delete(ctx context.Context, id string) error {
	return vs.facts.Delete(ctx, nil, nil, id)
}

// Search returns the top-scoring facts by embedding similarity.
func (vs *VectorStore) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if vs.facts.Count() == 0 {
		return nil, nil
	}
	if limit > vs.facts.Count() {
		limit = vs.facts.Count()
	}
	results, err := vs.facts.Query(ctx, query, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("memory: search facts: %w", err)
	}
	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, SearchResult{
			ID:        r.ID,
			Content:   r.Content,
			Score:     r.Similarity,
			Category:  r.Metadata["category"],
			UpdatedAt: r.Metadata["updated_at"],
		})
	}
	return out, nil
}
