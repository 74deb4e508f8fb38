// Package ports defines interfaces for external dependencies.
// Clean Architecture: These are the boundaries - usecases depend on these abstractions,
// not concrete implementations. Adapters implement these interfaces.
package ports

import (
	"context"
	"errors"

	"github.com/covermind/covermind/internal/domain/entities"
)

// ErrTransientService marks a retryable collaborator failure (validator or
// embedder timeout/outage after the retry budget is spent). Callers check it
// with errors.Is and surface the attempt as retryable; no strike is charged
// and no guess is recorded.
var ErrTransientService = errors.New("transient service failure")

// EmbeddingService generates vector embeddings for text. Embeddings are
// deterministic per text and of fixed dimensionality.
type EmbeddingService interface {
	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts efficiently.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// PhraseValidator runs the external structural/dictionary/moderation/topic
// checks on a guess before it reaches matching. A rejection is a normal
// result, not an error; errors are transient service failures.
type PhraseValidator interface {
	Validate(ctx context.Context, text, promptText string) (entities.ValidationResult, error)
}

// StoredCorpus is everything the durable store holds for one prompt.
// Submitters maps answer ID to the distinct submitter IDs seen for it.
type StoredCorpus struct {
	Answers    []entities.Answer
	Clusters   []entities.Cluster
	Submitters map[string][]string
}

// CorpusStore persists prompts, answers, clusters and round/guess logs.
// Implementations must make every call atomic; callers serialize writes per
// prompt (respectively per round) themselves.
type CorpusStore interface {
	// SavePrompt upserts a prompt.
	SavePrompt(ctx context.Context, p *entities.Prompt) error

	// ListPrompts returns every known prompt.
	ListPrompts(ctx context.Context) ([]entities.Prompt, error)

	// LoadCorpus reads a prompt's full corpus for startup bootstrap.
	LoadCorpus(ctx context.Context, promptID string) (*StoredCorpus, error)

	// SaveAnswer upserts an answer, including its activity counters.
	SaveAnswer(ctx context.Context, a *entities.Answer) error

	// SaveCluster upserts a cluster's centroid and membership.
	SaveCluster(ctx context.Context, c *entities.Cluster) error

	// RecordSubmitter remembers that submitterID has submitted this answer's
	// exact text, so repeat submissions stay non-distinct across restarts.
	RecordSubmitter(ctx context.Context, answerID, submitterID string) error

	// IncrementShows bumps the shows counter for answers included in a
	// freshly created snapshot.
	IncrementShows(ctx context.Context, answerIDs []string) error

	// IncrementMatches bumps the contributed-matches counter for answers
	// that caused a guess match.
	IncrementMatches(ctx context.Context, answerIDs []string) error

	// SaveRound upserts a round's status, strikes and payout.
	SaveRound(ctx context.Context, r *entities.Round) error

	// AppendGuess appends one guess to a round's ordered log.
	AppendGuess(ctx context.Context, roundID string, seq int, g *entities.Guess) error
}

// LedgerSink receives the final wallet/vault deltas for a scored round.
// It never feeds back into matching.
type LedgerSink interface {
	RecordPayout(ctx context.Context, playerID string, payout *entities.Payout) error
}
