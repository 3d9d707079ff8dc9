// Package rag defines the interfaces for retrieval-augmented generation
// components: embedding, namespaced vector storage, and passage reranking.
// Concrete implementations (Qdrant, Ollama, the rerank HTTP client) satisfy
// these interfaces so the orchestration layer never depends on a specific
// backend.
package rag

import (
	"context"
)

// Passage is one retrievable unit of text: a single page of a document.
// It is ephemeral and query-scoped — passages are never persisted outside
// the vector index.
type Passage struct {
	// ID is the unique identifier of this page vector.
	ID string

	// Text is the extracted page text.
	Text string

	// Page is the 1-based page number within the source document.
	Page int

	// DocumentID identifies the owning document (also the index namespace).
	DocumentID string

	// DocumentName is the display name of the owning document.
	DocumentName string

	// Score is the similarity or rerank score assigned during retrieval.
	// Zero value means the score was not computed.
	Score float32
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore is the interface for persisting and searching page embeddings.
// Every operation is scoped to a namespace (one namespace per document) so
// similarity search never leaks across documents.
// Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// Upsert stores or updates a batch of passages in the given namespace.
	// The embeddings slice must be parallel to passages.
	Upsert(ctx context.Context, namespace string, passages []Passage, embeddings [][]float32) error

	// Query performs a similarity search within the namespace and returns
	// the top-k most relevant passages for the given query embedding.
	Query(ctx context.Context, namespace string, queryEmbedding []float32, topK int) ([]Passage, error)

	// DeleteNamespace removes every passage stored under the namespace.
	DeleteNamespace(ctx context.Context, namespace string) error

	// Count returns the number of passages stored under the namespace.
	Count(ctx context.Context, namespace string) (int, error)

	// Close releases any resources held by the store.
	Close() error
}

// Reranker is the interface for second-pass relevance scoring of a small
// candidate set against the query. Implementations must be safe to call
// from multiple goroutines.
type Reranker interface {
	// Rerank scores the passages against the query and returns the top-n
	// in descending relevance order, with Score updated on each result.
	// When fewer than topN passages are provided, all are returned.
	Rerank(ctx context.Context, query string, passages []Passage, topN int) ([]Passage, error)
}
