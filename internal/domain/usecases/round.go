package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/covermind/covermind/internal/domain/entities"
	"github.com/covermind/covermind/internal/domain/ports"
	"github.com/covermind/covermind/internal/domain/vector"
)

// MaxStrikes ends the round: the third validated guess that matches nothing
// forces Busted.
const MaxStrikes = 3

// RoundEngine is the guess-submission state machine. Each round is owned by
// the single player session that started it; the engine serializes all
// operations on one round behind that round's lock, so an in-flight guess
// always completes before a quit takes effect.
type RoundEngine struct {
	mu     sync.RWMutex
	rounds map[string]*roundState

	snapshots  *SnapshotManager
	corpus     *CorpusManager
	scoring    *ScoringEngine
	validator  ports.PhraseValidator
	embedder   ports.EmbeddingService
	store      ports.CorpusStore
	feedCorpus bool
	log        *slog.Logger
}

type roundState struct {
	mu           sync.Mutex
	round        *entities.Round
	promptText   string
	terminatedAt time.Time
}

// NewRoundEngine wires the state machine. When feedCorpus is true,
// non-strike guesses of a terminated round are offered back to the corpus
// as crowd answers from that player.
func NewRoundEngine(
	snapshots *SnapshotManager,
	corpus *CorpusManager,
	scoring *ScoringEngine,
	validator ports.PhraseValidator,
	embedder ports.EmbeddingService,
	store ports.CorpusStore,
	feedCorpus bool,
	log *slog.Logger,
) *RoundEngine {
	if log == nil {
		log = slog.Default()
	}
	return &RoundEngine{
		rounds:     make(map[string]*roundState),
		snapshots:  snapshots,
		corpus:     corpus,
		scoring:    scoring,
		validator:  validator,
		embedder:   embedder,
		store:      store,
		feedCorpus: feedCorpus,
		log:        log,
	}
}

// RoundInfo is returned from StartRound.
type RoundInfo struct {
	RoundID       string
	TotalClusters int
}

// RoundView is the UI progress projection of a round.
type RoundView struct {
	Strikes             int
	MatchedClusterCount int
	TotalClusters       int
	Status              entities.RoundStatus
	Payout              *entities.Payout
}

// StartRound freezes a snapshot of the prompt's corpus and opens a round in
// the Active state with zero strikes and no matched clusters.
func (e *RoundEngine) StartRound(ctx context.Context, playerID, promptID string) (RoundInfo, error) {
	prompt, err := e.corpus.Prompt(promptID)
	if err != nil {
		return RoundInfo{}, err
	}

	snap, err := e.snapshots.CreateSnapshot(ctx, promptID)
	if err != nil {
		return RoundInfo{}, fmt.Errorf("creating snapshot: %w", err)
	}
	if snap.TotalWeight == 0 {
		e.log.Warn("round started against empty corpus", "prompt_id", promptID, "player_id", playerID)
	}

	round := &entities.Round{
		ID:              uuid.NewString(),
		PlayerID:        playerID,
		PromptID:        promptID,
		Snapshot:        snap,
		MatchedClusters: make(map[string]struct{}),
		Status:          entities.RoundActive,
		CreatedAt:       now(),
	}
	if err := e.store.SaveRound(ctx, round); err != nil {
		return RoundInfo{}, fmt.Errorf("saving round: %w", err)
	}

	e.mu.Lock()
	e.rounds[round.ID] = &roundState{round: round, promptText: prompt.Text}
	e.mu.Unlock()

	e.log.Info("round started",
		"round_id", round.ID,
		"player_id", playerID,
		"prompt_id", promptID,
		"clusters", len(snap.ClusterWeight),
		"total_weight", snap.TotalWeight)
	return RoundInfo{RoundID: round.ID, TotalClusters: len(snap.ClusterWeight)}, nil
}

func (e *RoundEngine) state(roundID string) (*roundState, error) {
	e.mu.RLock()
	rs, ok := e.rounds[roundID]
	e.mu.RUnlock()
	if !ok {
		return nil, ErrRoundNotFound
	}
	return rs, nil
}

// SubmitGuess runs one guess through validation, the self-similarity guard,
// snapshot matching and the strike rules. Rejections carry no strike and
// leave the round untouched; only validated guesses enter the log. A third
// strike terminates the round as Busted, and reaching 100% weighted
// coverage terminates it as Completed; both trigger scoring immediately.
func (e *RoundEngine) SubmitGuess(ctx context.Context, roundID, text string) (entities.GuessOutcome, error) {
	rs, err := e.state(roundID)
	if err != nil {
		return entities.GuessOutcome{}, err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	round := rs.round

	if round.Status != entities.RoundActive {
		return entities.GuessOutcome{}, ErrRoundConflict
	}

	verdict, err := e.validator.Validate(ctx, text, rs.promptText)
	if err != nil {
		return entities.GuessOutcome{}, fmt.Errorf("validating guess: %w", err)
	}
	if !verdict.OK {
		return entities.GuessOutcome{
			Accepted: false,
			Reason:   verdict.Reason,
			Strikes:  round.Strikes,
			Status:   round.Status,
		}, nil
	}

	embedding, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return entities.GuessOutcome{}, fmt.Errorf("embedding guess: %w", err)
	}

	for _, prior := range round.Guesses {
		if vector.Cosine(embedding, prior.Embedding) >= SelfSimilarityThreshold {
			return entities.GuessOutcome{
				Accepted: false,
				Reason:   "too similar to your own earlier guess",
				Strikes:  round.Strikes,
				Status:   round.Status,
			}, nil
		}
	}

	// Match against the frozen snapshot. Multiple matched answers in one
	// cluster credit that cluster once.
	matchedAnswers := make([]string, 0, 4)
	matchedClusters := make(map[string]struct{})
	for _, a := range round.Snapshot.Answers {
		if vector.Cosine(embedding, a.Embedding) > MatchThreshold {
			matchedAnswers = append(matchedAnswers, a.AnswerID)
			matchedClusters[a.ClusterID] = struct{}{}
		}
	}

	matchedIDs := make([]string, 0, len(matchedClusters))
	for id := range matchedClusters {
		matchedIDs = append(matchedIDs, id)
		round.MatchedClusters[id] = struct{}{}
	}
	sort.Strings(matchedIDs)

	guess := entities.Guess{
		Text:              text,
		Embedding:         embedding,
		MatchedClusterIDs: matchedIDs,
		WasStrike:         len(matchedAnswers) == 0,
		CreatedAt:         now(),
	}

	if guess.WasStrike {
		round.Strikes++
		if round.Strikes >= MaxStrikes {
			round.Status = entities.RoundBusted
		}
	} else if len(round.MatchedClusters) == len(round.Snapshot.ClusterWeight) && round.Snapshot.TotalWeight > 0 {
		// Every cluster weight is positive, so matching every cluster is
		// exactly 100% coverage.
		round.Status = entities.RoundCompleted
	}

	round.Guesses = append(round.Guesses, guess)
	if err := e.store.AppendGuess(ctx, round.ID, len(round.Guesses)-1, &guess); err != nil {
		e.log.Error("persisting guess", "round_id", round.ID, "error", err)
	}

	if err := e.corpus.RecordMatch(ctx, round.PromptID, matchedAnswers); err != nil {
		e.log.Error("recording matches", "round_id", round.ID, "error", err)
	}

	if round.Status.Terminal() {
		e.terminateLocked(ctx, rs)
	} else if err := e.store.SaveRound(ctx, round); err != nil {
		e.log.Error("persisting round", "round_id", round.ID, "error", err)
	}

	return entities.GuessOutcome{
		Accepted:          true,
		MatchedClusterIDs: matchedIDs,
		Strikes:           round.Strikes,
		Status:            round.Status,
		Payout:            round.Payout,
	}, nil
}

// QuitRound ends an active round on the player's request and returns the
// payout for the coverage reached so far.
func (e *RoundEngine) QuitRound(ctx context.Context, roundID string) (entities.Payout, error) {
	rs, err := e.state(roundID)
	if err != nil {
		return entities.Payout{}, err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.round.Status != entities.RoundActive {
		return entities.Payout{}, ErrRoundConflict
	}
	rs.round.Status = entities.RoundQuit
	e.terminateLocked(ctx, rs)
	return *rs.round.Payout, nil
}

// RoundState returns the UI progress projection.
func (e *RoundEngine) RoundState(roundID string) (RoundView, error) {
	rs, err := e.state(roundID)
	if err != nil {
		return RoundView{}, err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	return RoundView{
		Strikes:             rs.round.Strikes,
		MatchedClusterCount: len(rs.round.MatchedClusters),
		TotalClusters:       len(rs.round.Snapshot.ClusterWeight),
		Status:              rs.round.Status,
		Payout:              rs.round.Payout,
	}, nil
}

// terminateLocked scores the round, persists the terminal state and feeds
// productive guesses back into the corpus. Caller holds rs.mu and has
// already moved the round to a terminal status.
func (e *RoundEngine) terminateLocked(ctx context.Context, rs *roundState) {
	round := rs.round
	rs.terminatedAt = now()

	if _, err := e.scoring.Score(ctx, round); err != nil {
		e.log.Error("scoring round", "round_id", round.ID, "error", err)
	}
	if err := e.store.SaveRound(ctx, round); err != nil {
		e.log.Error("persisting terminated round", "round_id", round.ID, "error", err)
	}

	if e.feedCorpus {
		e.feedCorpusLocked(ctx, round)
	}
}

// feedCorpusLocked offers every guess that reached at least one cluster to
// the corpus as a crowd answer from this player. Strikes are not added:
// phrases the crowd never thought of stay out until the content pipeline
// vets them.
func (e *RoundEngine) feedCorpusLocked(ctx context.Context, round *entities.Round) {
	for _, g := range round.Guesses {
		if g.WasStrike {
			continue
		}
		if _, err := e.corpus.AddAnswer(ctx, round.PromptID, g.Text, g.Embedding, round.PlayerID); err != nil {
			e.log.Error("feeding guess to corpus",
				"round_id", round.ID, "prompt_id", round.PromptID, "error", err)
		}
	}
}

// SweepTerminated drops terminated rounds older than ttl from memory and
// returns how many were removed. The durable copy remains in the store.
func (e *RoundEngine) SweepTerminated(ttl time.Duration) int {
	cutoff := now().Add(-ttl)

	e.mu.Lock()
	defer e.mu.Unlock()
	removed := 0
	for id, rs := range e.rounds {
		rs.mu.Lock()
		expired := rs.round.Status.Terminal() && rs.terminatedAt.Before(cutoff)
		rs.mu.Unlock()
		if expired {
			delete(e.rounds, id)
			removed++
		}
	}
	if removed > 0 {
		e.log.Debug("swept terminated rounds", "removed", removed)
	}
	return removed
}

// ActiveRounds reports how many rounds are currently held in memory.
func (e *RoundEngine) ActiveRounds() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rounds)
}
