package service

import "context"

// The processing pipeline treats embedding generation, chunk storage, the
// vector index and remote-resource fetching as external collaborators.
// Processors depend on these interfaces only; the implementations in this
// package wrap the concrete backends.

// Embedder turns text into embedding vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// BlobStore persists chunk content.
type BlobStore interface {
	PutChunk(ctx context.Context, key string, content []byte, metadata map[string]string) error
	GetChunk(ctx context.Context, key string) ([]byte, error)
	// ListChunks returns the stored chunk keys for the document in chunk
	// order. An unknown document yields an empty list.
	ListChunks(ctx context.Context, documentID string) ([]string, error)
	// DeleteDocument removes every chunk stored for the document.
	DeleteDocument(ctx context.Context, documentID string) error
}

// VectorEntry is one chunk's vector and its retrieval metadata.
type VectorEntry struct {
	ID         string
	DocumentID string
	ChunkIndex int
	Vector     []float32
	Metadata   map[string]string
}

// VectorIndex stores and serves embedding vectors.
type VectorIndex interface {
	Upsert(ctx context.Context, entries []VectorEntry) error
	DeleteDocument(ctx context.Context, documentID string) error
}

// Fetcher retrieves a remote resource's textual content.
type Fetcher interface {
	Fetch(ctx context.Context, url string, authContext map[string]string) (string, error)
}

// Redactor is the DLP stage applied to chunk content before embedding.
type Redactor interface {
	Redact(ctx context.Context, text string) (string, error)
}

// Collaborators bundles the external collaborators a processor needs.
type Collaborators struct {
	Embedder Embedder
	Blobs    BlobStore
	Vectors  VectorIndex
	Fetcher  Fetcher
	Redactor Redactor
}
