package usecases

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covermind/covermind/internal/adapters/corpusstore"
	"github.com/covermind/covermind/internal/adapters/ledger"
	"github.com/covermind/covermind/internal/domain/entities"
	"github.com/covermind/covermind/internal/domain/ports"
)

// stubValidator approves everything except explicitly rejected texts.
type stubValidator struct {
	rejections map[string]string
	fail       bool
}

func (v *stubValidator) Validate(ctx context.Context, text, promptText string) (entities.ValidationResult, error) {
	if v.fail {
		return entities.ValidationResult{}, fmt.Errorf("%w: validator down", ports.ErrTransientService)
	}
	if reason, ok := v.rejections[text]; ok {
		return entities.ValidationResult{OK: false, Reason: reason}, nil
	}
	return entities.ValidationResult{OK: true}, nil
}

// stubEmbedder returns canned vectors per text and fails on unknown input
// so tests catch missing fixtures immediately.
type stubEmbedder struct {
	vectors map[string][]float32
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("%w: no fixture for %q", ports.ErrTransientService, text)
}

func (e *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type roundFixture struct {
	engine    *RoundEngine
	corpus    *CorpusManager
	store     *corpusstore.InMemoryStore
	sink      *ledger.InMemoryLedger
	validator *stubValidator
	embedder  *stubEmbedder
	promptID  string
}

// newRoundFixture builds a corpus with two clusters (4-dim space so tests
// can pick directions orthogonal to everything):
//
//	cluster "sand":  "sand" [1,0,0,0] and "sandy beach" [0.8,0.6,0,0]
//	cluster "crab":  "crab" [0,0,1,0]
//
// Every answer has one distinct submitter, so each weighs 1+ln(2).
func newRoundFixture(t *testing.T, feedCorpus bool) *roundFixture {
	t.Helper()
	ctx := context.Background()

	store := corpusstore.NewInMemoryStore()
	corpus := NewCorpusManager(store, nil)
	prompt, err := corpus.RegisterPrompt(ctx, "name something you find at the beach")
	require.NoError(t, err)

	_, err = corpus.AddAnswer(ctx, prompt.ID, "sand", []float32{1, 0, 0, 0}, "s1")
	require.NoError(t, err)
	_, err = corpus.AddAnswer(ctx, prompt.ID, "sandy beach", []float32{0.8, 0.6, 0, 0}, "s2")
	require.NoError(t, err)
	_, err = corpus.AddAnswer(ctx, prompt.ID, "crab", []float32{0, 0, 1, 0}, "s3")
	require.NoError(t, err)

	validator := &stubValidator{rejections: map[string]string{}}
	embedder := &stubEmbedder{vectors: map[string][]float32{}}
	sink := ledger.NewInMemoryLedger()

	engine := NewRoundEngine(
		NewSnapshotManager(corpus, nil),
		corpus,
		NewScoringEngine(sink, nil),
		validator,
		embedder,
		store,
		feedCorpus,
		nil,
	)
	return &roundFixture{
		engine:    engine,
		corpus:    corpus,
		store:     store,
		sink:      sink,
		validator: validator,
		embedder:  embedder,
		promptID:  prompt.ID,
	}
}

func TestStartRound_FreezesSnapshot(t *testing.T) {
	f := newRoundFixture(t, false)
	ctx := context.Background()

	info, err := f.engine.StartRound(ctx, "player-1", f.promptID)
	require.NoError(t, err)
	assert.Equal(t, 2, info.TotalClusters)

	// Snapshot inclusion bumps shows on every answer.
	answers, err := f.corpus.ActiveAnswers(f.promptID)
	require.NoError(t, err)
	for _, a := range answers {
		assert.Equal(t, 1, a.Shows)
	}

	// An answer added after round start is invisible to this round.
	_, err = f.corpus.AddAnswer(ctx, f.promptID, "starfish", []float32{0, 0, 0, 1}, "s9")
	require.NoError(t, err)

	f.embedder.vectors["a starfish"] = []float32{0, 0, 0, 1}
	outcome, err := f.engine.SubmitGuess(ctx, info.RoundID, "a starfish")
	require.NoError(t, err)
	assert.True(t, outcome.Accepted)
	assert.Empty(t, outcome.MatchedClusterIDs, "frozen snapshot must not see the new answer")
	assert.Equal(t, 1, outcome.Strikes)
}

func TestStartRound_UnknownPrompt(t *testing.T) {
	f := newRoundFixture(t, false)
	_, err := f.engine.StartRound(context.Background(), "player-1", "missing")
	assert.ErrorIs(t, err, ErrPromptNotFound)
}

func TestSubmitGuess_ClusterLevelDedup(t *testing.T) {
	f := newRoundFixture(t, false)
	ctx := context.Background()
	info, err := f.engine.StartRound(ctx, "player-1", f.promptID)
	require.NoError(t, err)

	// Close to both "sand" answers, far from "crab": two matched answers,
	// one matched cluster.
	f.embedder.vectors["sand dunes"] = []float32{0.9701, 0.2425, 0, 0}
	outcome, err := f.engine.SubmitGuess(ctx, info.RoundID, "sand dunes")
	require.NoError(t, err)

	assert.True(t, outcome.Accepted)
	assert.Len(t, outcome.MatchedClusterIDs, 1, "two answers in one cluster credit it once")
	assert.Zero(t, outcome.Strikes)
	assert.Equal(t, entities.RoundActive, outcome.Status)

	// Both matched answers get usefulness credit.
	answers, err := f.corpus.ActiveAnswers(f.promptID)
	require.NoError(t, err)
	credited := 0
	for _, a := range answers {
		if a.ContributedMatches == 1 {
			credited++
		}
	}
	assert.Equal(t, 2, credited)
}

func TestSubmitGuess_ValidatorRejectionIsFree(t *testing.T) {
	f := newRoundFixture(t, false)
	ctx := context.Background()
	info, err := f.engine.StartRound(ctx, "player-1", f.promptID)
	require.NoError(t, err)

	f.validator.rejections["zzzz"] = "not a dictionary phrase"
	outcome, err := f.engine.SubmitGuess(ctx, info.RoundID, "zzzz")
	require.NoError(t, err)

	assert.False(t, outcome.Accepted)
	assert.Equal(t, "not a dictionary phrase", outcome.Reason)
	assert.Zero(t, outcome.Strikes)
	assert.Empty(t, f.store.GuessLog(info.RoundID), "rejected guesses stay out of the log")
}

func TestSubmitGuess_SelfSimilarityGuard(t *testing.T) {
	f := newRoundFixture(t, false)
	ctx := context.Background()
	info, err := f.engine.StartRound(ctx, "player-1", f.promptID)
	require.NoError(t, err)

	f.embedder.vectors["crab"] = []float32{0, 0, 1, 0}
	outcome, err := f.engine.SubmitGuess(ctx, info.RoundID, "crab")
	require.NoError(t, err)
	require.True(t, outcome.Accepted)

	// cos = 0.8 to the earlier guess: rejected, no strike, no log entry.
	f.embedder.vectors["a crab"] = []float32{0, 0.6, 0.8, 0}
	outcome, err = f.engine.SubmitGuess(ctx, info.RoundID, "a crab")
	require.NoError(t, err)
	assert.False(t, outcome.Accepted)
	assert.Contains(t, outcome.Reason, "too similar")
	assert.Zero(t, outcome.Strikes)
	assert.Len(t, f.store.GuessLog(info.RoundID), 1)
}

func TestSubmitGuess_ThreeStrikesBusts(t *testing.T) {
	f := newRoundFixture(t, false)
	ctx := context.Background()
	info, err := f.engine.StartRound(ctx, "player-1", f.promptID)
	require.NoError(t, err)

	// Mutually dissimilar misses (pairwise cosine 0).
	f.embedder.vectors["miss one"] = []float32{0, -1, 0, 0}
	f.embedder.vectors["miss two"] = []float32{-1, 0, 0, 0}
	f.embedder.vectors["miss three"] = []float32{0, 0, -1, 0}

	for i, text := range []string{"miss one", "miss two"} {
		outcome, err := f.engine.SubmitGuess(ctx, info.RoundID, text)
		require.NoError(t, err)
		assert.True(t, outcome.Accepted)
		assert.Equal(t, i+1, outcome.Strikes)
		assert.Equal(t, entities.RoundActive, outcome.Status)
	}

	outcome, err := f.engine.SubmitGuess(ctx, info.RoundID, "miss three")
	require.NoError(t, err)
	assert.Equal(t, MaxStrikes, outcome.Strikes)
	assert.Equal(t, entities.RoundBusted, outcome.Status)
	require.NotNil(t, outcome.Payout)
	assert.Zero(t, outcome.Payout.P)
	assert.Equal(t, -EntryFee, outcome.Payout.NetWallet)

	// The round is terminal: a fourth guess is a conflict.
	_, err = f.engine.SubmitGuess(ctx, info.RoundID, "miss one")
	assert.ErrorIs(t, err, ErrRoundConflict)

	require.Len(t, f.sink.Entries(), 1)
}

func TestSubmitGuess_FullCoverageCompletes(t *testing.T) {
	f := newRoundFixture(t, false)
	ctx := context.Background()
	info, err := f.engine.StartRound(ctx, "player-1", f.promptID)
	require.NoError(t, err)

	f.embedder.vectors["sand"] = []float32{1, 0, 0, 0}
	outcome, err := f.engine.SubmitGuess(ctx, info.RoundID, "sand")
	require.NoError(t, err)
	require.Equal(t, entities.RoundActive, outcome.Status)

	f.embedder.vectors["crab"] = []float32{0, 0, 1, 0}
	outcome, err = f.engine.SubmitGuess(ctx, info.RoundID, "crab")
	require.NoError(t, err)

	assert.Equal(t, entities.RoundCompleted, outcome.Status)
	require.NotNil(t, outcome.Payout)
	assert.InDelta(t, 1.0, outcome.Payout.P, 1e-9)
	assert.Equal(t, 140, outcome.Payout.NetWallet)
}

func TestQuitRound_PaysForCoverageSoFar(t *testing.T) {
	f := newRoundFixture(t, false)
	ctx := context.Background()
	info, err := f.engine.StartRound(ctx, "player-1", f.promptID)
	require.NoError(t, err)

	// Matching the two-answer cluster covers 2/3 of the total weight.
	f.embedder.vectors["sand dunes"] = []float32{0.9701, 0.2425, 0, 0}
	_, err = f.engine.SubmitGuess(ctx, info.RoundID, "sand dunes")
	require.NoError(t, err)

	payout, err := f.engine.QuitRound(ctx, info.RoundID)
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, payout.P, 1e-9)
	// gross = round(300 * (2/3)^1.5) = 163; vault takes floor(0.3*63) = 18.
	assert.Equal(t, 163, payout.Gross)
	assert.Equal(t, 145, payout.WalletAward)
	assert.Equal(t, 18, payout.VaultAward)
	assert.Equal(t, 45, payout.NetWallet)

	_, err = f.engine.QuitRound(ctx, info.RoundID)
	assert.ErrorIs(t, err, ErrRoundConflict)
	_, err = f.engine.SubmitGuess(ctx, info.RoundID, "sand dunes")
	assert.ErrorIs(t, err, ErrRoundConflict)
}

func TestSubmitGuess_TransientValidatorFailure(t *testing.T) {
	f := newRoundFixture(t, false)
	ctx := context.Background()
	info, err := f.engine.StartRound(ctx, "player-1", f.promptID)
	require.NoError(t, err)

	f.validator.fail = true
	_, err = f.engine.SubmitGuess(ctx, info.RoundID, "anything")
	assert.ErrorIs(t, err, ports.ErrTransientService)
	assert.Empty(t, f.store.GuessLog(info.RoundID), "failed attempts leave no guess record")

	// The round is untouched and play resumes once the validator recovers.
	f.validator.fail = false
	f.embedder.vectors["crab"] = []float32{0, 0, 1, 0}
	outcome, err := f.engine.SubmitGuess(ctx, info.RoundID, "crab")
	require.NoError(t, err)
	assert.True(t, outcome.Accepted)
}

func TestSubmitGuess_UnknownRound(t *testing.T) {
	f := newRoundFixture(t, false)
	_, err := f.engine.SubmitGuess(context.Background(), "missing", "crab")
	assert.ErrorIs(t, err, ErrRoundNotFound)
}

func TestRoundState_Progress(t *testing.T) {
	f := newRoundFixture(t, false)
	ctx := context.Background()
	info, err := f.engine.StartRound(ctx, "player-1", f.promptID)
	require.NoError(t, err)

	f.embedder.vectors["crab"] = []float32{0, 0, 1, 0}
	_, err = f.engine.SubmitGuess(ctx, info.RoundID, "crab")
	require.NoError(t, err)
	f.embedder.vectors["miss one"] = []float32{0, -1, 0, 0}
	_, err = f.engine.SubmitGuess(ctx, info.RoundID, "miss one")
	require.NoError(t, err)

	view, err := f.engine.RoundState(info.RoundID)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Strikes)
	assert.Equal(t, 1, view.MatchedClusterCount)
	assert.Equal(t, 2, view.TotalClusters)
	assert.Equal(t, entities.RoundActive, view.Status)
	assert.Nil(t, view.Payout)
}

func TestRound_EmptyCorpusIsUnscorable(t *testing.T) {
	store := corpusstore.NewInMemoryStore()
	corpus := NewCorpusManager(store, nil)
	prompt, err := corpus.RegisterPrompt(context.Background(), "empty prompt")
	require.NoError(t, err)

	embedder := &stubEmbedder{vectors: map[string][]float32{}}
	sink := ledger.NewInMemoryLedger()
	engine := NewRoundEngine(
		NewSnapshotManager(corpus, nil), corpus, NewScoringEngine(sink, nil),
		&stubValidator{}, embedder, store, false, nil)

	ctx := context.Background()
	info, err := engine.StartRound(ctx, "player-1", prompt.ID)
	require.NoError(t, err)
	assert.Zero(t, info.TotalClusters)

	// Every guess is unmatchable; the round still busts normally at p=0.
	// Pairwise-orthogonal misses so the self-similarity guard stays quiet.
	var outcome entities.GuessOutcome
	for i := 0; i < MaxStrikes; i++ {
		text := fmt.Sprintf("anything %d", i)
		switch i {
		case 0:
			embedder.vectors[text] = []float32{1, 0, 0, 0}
		case 1:
			embedder.vectors[text] = []float32{0, 1, 0, 0}
		default:
			embedder.vectors[text] = []float32{0, 0, 1, 0}
		}
		outcome, err = engine.SubmitGuess(ctx, info.RoundID, text)
		require.NoError(t, err)
		assert.True(t, outcome.Accepted)
	}
	assert.Equal(t, entities.RoundBusted, outcome.Status)
	require.NotNil(t, outcome.Payout)
	assert.Zero(t, outcome.Payout.P)
}

func TestRound_FeedsProductiveGuessesToCorpus(t *testing.T) {
	f := newRoundFixture(t, true)
	ctx := context.Background()
	info, err := f.engine.StartRound(ctx, "player-1", f.promptID)
	require.NoError(t, err)

	f.embedder.vectors["sand dunes"] = []float32{0.9701, 0.2425, 0, 0}
	_, err = f.engine.SubmitGuess(ctx, info.RoundID, "sand dunes")
	require.NoError(t, err)
	f.embedder.vectors["miss one"] = []float32{0, -1, 0, 0}
	_, err = f.engine.SubmitGuess(ctx, info.RoundID, "miss one")
	require.NoError(t, err)

	before := f.corpus.ActiveCount(f.promptID)
	_, err = f.engine.QuitRound(ctx, info.RoundID)
	require.NoError(t, err)

	assert.Equal(t, before+1, f.corpus.ActiveCount(f.promptID),
		"the matching guess joins the corpus, the strike does not")
}

func TestSweepTerminated(t *testing.T) {
	f := newRoundFixture(t, false)
	ctx := context.Background()

	info1, err := f.engine.StartRound(ctx, "player-1", f.promptID)
	require.NoError(t, err)
	info2, err := f.engine.StartRound(ctx, "player-2", f.promptID)
	require.NoError(t, err)

	_, err = f.engine.QuitRound(ctx, info1.RoundID)
	require.NoError(t, err)

	removed := f.engine.SweepTerminated(0)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, f.engine.ActiveRounds())

	_, err = f.engine.RoundState(info1.RoundID)
	assert.ErrorIs(t, err, ErrRoundNotFound)
	_, err = f.engine.RoundState(info2.RoundID)
	assert.NoError(t, err)
}

func TestSubmitGuess_PersistsRoundAndGuesses(t *testing.T) {
	f := newRoundFixture(t, false)
	ctx := context.Background()
	info, err := f.engine.StartRound(ctx, "player-1", f.promptID)
	require.NoError(t, err)

	f.embedder.vectors["crab"] = []float32{0, 0, 1, 0}
	_, err = f.engine.SubmitGuess(ctx, info.RoundID, "crab")
	require.NoError(t, err)

	stored, ok := f.store.Round(info.RoundID)
	require.True(t, ok)
	assert.Equal(t, entities.RoundActive, stored.Status)

	log := f.store.GuessLog(info.RoundID)
	require.Len(t, log, 1)
	assert.Equal(t, "crab", log[0].Text)
	assert.False(t, log[0].WasStrike)
	assert.Len(t, log[0].MatchedClusterIDs, 1)

	payout, err := f.engine.QuitRound(ctx, info.RoundID)
	require.NoError(t, err)

	stored, ok = f.store.Round(info.RoundID)
	require.True(t, ok)
	assert.Equal(t, entities.RoundQuit, stored.Status)
	assert.True(t, stored.Scored)
	require.NotNil(t, stored.Payout)
	assert.Equal(t, payout, *stored.Payout)
}

func TestSubmitGuess_EmbedderFailureIsTransient(t *testing.T) {
	f := newRoundFixture(t, false)
	ctx := context.Background()
	info, err := f.engine.StartRound(ctx, "player-1", f.promptID)
	require.NoError(t, err)

	// No fixture registered for this text: the stub reports an outage.
	_, err = f.engine.SubmitGuess(ctx, info.RoundID, "unembeddable")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrTransientService))

	view, err := f.engine.RoundState(info.RoundID)
	require.NoError(t, err)
	assert.Zero(t, view.Strikes)
}
