package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/covermind/covermind/internal/domain/entities"
)

// SnapshotManager freezes a consistent view of a prompt's active corpus for
// one round. The returned snapshot is immutable and is never re-read from
// the corpus for the lifetime of its round.
type SnapshotManager struct {
	corpus *CorpusManager
	log    *slog.Logger
}

// NewSnapshotManager creates a snapshot manager over the given corpus.
func NewSnapshotManager(corpus *CorpusManager, log *slog.Logger) *SnapshotManager {
	if log == nil {
		log = slog.Default()
	}
	return &SnapshotManager{corpus: corpus, log: log}
}

// CreateSnapshot reads the prompt's current active answers, computes per-
// answer and per-cluster weights, bumps the shows counter for everything
// included, and returns the frozen view. A prompt with zero active answers
// yields TotalWeight 0, which the round engine treats as unscorable.
//
// If the active count somehow exceeds the bound (a temporary invariant
// breach), the snapshot self-heals by taking the highest-usefulness slice
// rather than refusing to play.
func (sm *SnapshotManager) CreateSnapshot(ctx context.Context, promptID string) (*entities.RoundSnapshot, error) {
	answers, err := sm.corpus.ActiveAnswers(promptID)
	if err != nil {
		return nil, err
	}

	if len(answers) > MaxActiveAnswers {
		sm.log.Warn("active corpus over bound at snapshot time, truncating",
			"prompt_id", promptID, "active", len(answers))
		sort.Slice(answers, func(i, j int) bool {
			return answers[i].Usefulness() > answers[j].Usefulness()
		})
		answers = answers[:MaxActiveAnswers]
	}

	snap := &entities.RoundSnapshot{
		PromptID:      promptID,
		Answers:       make([]entities.SnapshotAnswer, 0, len(answers)),
		ClusterWeight: make(map[string]float64),
	}

	ids := make([]string, 0, len(answers))
	for _, a := range answers {
		w := AnswerWeight(a.DistinctSubmitterCount)
		snap.Answers = append(snap.Answers, entities.SnapshotAnswer{
			AnswerID:  a.ID,
			Embedding: a.Embedding,
			ClusterID: a.ClusterID,
			Weight:    w,
		})
		snap.ClusterWeight[a.ClusterID] += w
		snap.TotalWeight += w
		ids = append(ids, a.ID)
	}

	if len(ids) > 0 {
		if err := sm.corpus.RecordSnapshotUsage(ctx, promptID, ids); err != nil {
			return nil, fmt.Errorf("recording snapshot usage: %w", err)
		}
	}

	sm.log.Debug("snapshot created",
		"prompt_id", promptID,
		"answers", len(snap.Answers),
		"clusters", len(snap.ClusterWeight),
		"total_weight", snap.TotalWeight)
	return snap, nil
}
