package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	errorsx "github.com/docuflow/ingest-backend/pkg/errors"
)

const (
	// EmbeddingDimension is the vector dimensionality of the embedding
	// model, fixed by the model rather than configurable.
	EmbeddingDimension = 1536

	embeddingModel = "text-embedding-3-small"

	embedMaxRetries = 3
)

type openAIEmbedder struct {
	client openai.Client
}

// NewOpenAIEmbedder returns an Embedder backed by the OpenAI embeddings API.
func NewOpenAIEmbedder(apiKey string) Embedder {
	return &openAIEmbedder{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
	}
}

// Embed generates one vector per input text. Transient API failures are
// retried a bounded number of times before the classified error surfaces.
func (e *openAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for i, text := range texts {
		if text == "" {
			return nil, errorsx.Classify(fmt.Errorf("text at index %d is empty", i), errorsx.Permanent)
		}
	}

	var lastErr error
	for attempt := 0; attempt < embedMaxRetries; attempt++ {
		response, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
			Model: embeddingModel,
		})
		if err != nil {
			lastErr = classifyAPIError(err)
			if !errorsx.IsRetryable(lastErr) {
				return nil, lastErr
			}
			continue
		}
		if len(response.Data) != len(texts) {
			return nil, errorsx.Classify(
				fmt.Errorf("embedding count mismatch: %d texts, %d vectors", len(texts), len(response.Data)),
				errorsx.Transient)
		}

		vectors := make([][]float32, len(response.Data))
		for i, emb := range response.Data {
			vector := make([]float32, len(emb.Embedding))
			for j, val := range emb.Embedding {
				vector[j] = float32(val)
			}
			vectors[i] = vector
		}
		return vectors, nil
	}
	return nil, lastErr
}

// classifyAPIError maps an OpenAI API error to the typed retryability
// channel: rate limits and upstream 5xx are transient, other API errors are
// permanent, transport-level failures stay unknown (retryable).
func classifyAPIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			return errorsx.Classify(err, errorsx.Transient)
		}
		return errorsx.Classify(err, errorsx.Permanent)
	}
	return errorsx.Classify(err, errorsx.Unknown)
}
