// Package embedding provides embedder adapters.
// Clean Architecture: Adapters implementing ports.EmbeddingService.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/covermind/covermind/internal/domain/ports"
)

// Default retry/timeout budget for the embedder, shared by all adapters in
// this package. Retries never duplicate state: callers only record a guess
// after the embedding call has fully succeeded.
const (
	defaultTimeout = 10 * time.Second
	maxRetries     = 2
)

// OpenAIAdapter implements ports.EmbeddingService against the OpenAI
// embeddings API (or any compatible endpoint via BaseURL).
type OpenAIAdapter struct {
	client  *openai.Client
	model   openai.EmbeddingModel
	timeout time.Duration
	log     *slog.Logger
}

// NewOpenAIAdapter creates an OpenAI embedder. baseURL may be empty for the
// public API; model defaults to text-embedding-3-small.
func NewOpenAIAdapter(apiKey, baseURL, model string, timeout time.Duration, log *slog.Logger) *OpenAIAdapter {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &OpenAIAdapter{
		client:  openai.NewClientWithConfig(cfg),
		model:   openai.EmbeddingModel(model),
		timeout: timeout,
		log:     log,
	}
}

// Embed generates an embedding for a single text.
func (a *OpenAIAdapter) Embed(ctx context.Context, text string) ([]float32, error) {
	batch, err := a.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return batch[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one API call.
func (a *OpenAIAdapter) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			a.log.Warn("retrying embedding request", "attempt", attempt, "error", lastErr)
		}

		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		resp, err := a.client.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
			Input: texts,
			Model: a.model,
		})
		cancel()
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		if len(resp.Data) != len(texts) {
			return nil, fmt.Errorf("embedding response has %d vectors for %d texts", len(resp.Data), len(texts))
		}
		out := make([][]float32, len(texts))
		for _, d := range resp.Data {
			out[d.Index] = d.Embedding
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: embedding after %d attempts: %v", ports.ErrTransientService, maxRetries+1, lastErr)
}
