// Package rerank scores query-document pairs with a cross-encoder.
// Cross-encoders jointly encode the query and each candidate for more
// accurate relevance than the bi-encoder embeddings used for recall,
// at higher per-pair cost.
package rerank

import "context"

// Reranker scores candidate texts against a query.
type Reranker interface {
	// Score returns one relevance score per text, in input order.
	// Higher is more relevant; scores have no fixed range.
	Score(ctx context.Context, query string, texts []string) ([]float64, error)

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the reranker is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// NoopReranker preserves candidate order with mildly decreasing scores.
// Used when no rerank service is configured; ANN order then survives
// into the final ranking and recency weighting still applies.
type NoopReranker struct{}

var _ Reranker = (*NoopReranker)(nil)

// NewNoopReranker creates a pass-through reranker.
func NewNoopReranker() *NoopReranker {
	return &NoopReranker{}
}

// Score assigns decreasing scores so earlier candidates rank higher.
func (n *NoopReranker) Score(_ context.Context, _ string, texts []string) ([]float64, error) {
	scores := make([]float64, len(texts))
	for i := range texts {
		scores[i] = 1.0 - float64(i)*0.01 // 1.0, 0.99, 0.98, ...
	}
	return scores, nil
}

// ModelName identifies the pass-through scorer.
func (n *NoopReranker) ModelName() string {
	return "none"
}

// Available always returns true.
func (n *NoopReranker) Available(_ context.Context) bool {
	return true
}

// Close is a no-op.
func (n *NoopReranker) Close() error {
	return nil
}
