package corpusstore

import (
	"context"
	"testing"
	"time"

	"github.com/covermind/covermind/internal/domain/entities"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(t.TempDir())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_PromptRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := entities.Prompt{ID: "p1", Text: "beach things", CreatedAt: time.Now().UTC()}
	if err := store.SavePrompt(ctx, &p); err != nil {
		t.Fatalf("saving prompt: %v", err)
	}

	prompts, err := store.ListPrompts(ctx)
	if err != nil {
		t.Fatalf("listing prompts: %v", err)
	}
	if len(prompts) != 1 {
		t.Fatalf("expected 1 prompt, got %d", len(prompts))
	}
	if prompts[0].ID != "p1" || prompts[0].Text != "beach things" {
		t.Errorf("unexpected prompt: %+v", prompts[0])
	}
}

func TestSQLiteStore_CorpusRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cluster := entities.Cluster{
		ID:          "c1",
		PromptID:    "p1",
		Centroid:    []float32{0.9, 0.1, 0},
		MemberCount: 2,
	}
	if err := store.SaveCluster(ctx, &cluster); err != nil {
		t.Fatalf("saving cluster: %v", err)
	}

	active := entities.Answer{
		ID:                     "a1",
		PromptID:               "p1",
		NormalizedText:         "sand castle",
		Embedding:              []float32{1, 0, 0},
		DistinctSubmitterCount: 2,
		Active:                 true,
		Shows:                  3,
		ContributedMatches:     1,
		ClusterID:              "c1",
		CreatedAt:              time.Now().UTC(),
	}
	evicted := active
	evicted.ID = "a2"
	evicted.NormalizedText = "sand"
	evicted.Active = false
	for _, a := range []entities.Answer{active, evicted} {
		if err := store.SaveAnswer(ctx, &a); err != nil {
			t.Fatalf("saving answer %s: %v", a.ID, err)
		}
	}

	for _, sub := range []string{"s1", "s2", "s1"} {
		if err := store.RecordSubmitter(ctx, "a1", sub); err != nil {
			t.Fatalf("recording submitter: %v", err)
		}
	}

	corpus, err := store.LoadCorpus(ctx, "p1")
	if err != nil {
		t.Fatalf("loading corpus: %v", err)
	}
	if len(corpus.Answers) != 2 {
		t.Fatalf("expected 2 answers, got %d", len(corpus.Answers))
	}
	for _, a := range corpus.Answers {
		if a.ID == "a1" {
			if !a.Active || a.Shows != 3 || a.ContributedMatches != 1 || a.DistinctSubmitterCount != 2 {
				t.Errorf("counters lost in roundtrip: %+v", a)
			}
			if len(a.Embedding) != 3 || a.Embedding[0] != 1 {
				t.Errorf("embedding lost in roundtrip: %v", a.Embedding)
			}
		}
		if a.ID == "a2" && a.Active {
			t.Error("evicted answer came back active")
		}
	}

	if len(corpus.Clusters) != 1 {
		t.Fatalf("expected 1 cluster, got %d", len(corpus.Clusters))
	}
	c := corpus.Clusters[0]
	if c.MemberCount != 2 {
		t.Errorf("expected member count 2, got %d", c.MemberCount)
	}
	// Active membership is rebuilt from the answers table: only a1 counts.
	if len(c.ActiveMemberIDs) != 1 {
		t.Errorf("expected 1 active member, got %d", len(c.ActiveMemberIDs))
	}
	if _, ok := c.ActiveMemberIDs["a1"]; !ok {
		t.Error("a1 missing from active membership")
	}

	// Duplicate submitter rows collapse.
	if subs := corpus.Submitters["a1"]; len(subs) != 2 {
		t.Errorf("expected 2 distinct submitters, got %v", subs)
	}
}

func TestSQLiteStore_IncrementCounters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := entities.Answer{
		ID: "a1", PromptID: "p1", NormalizedText: "crab",
		Embedding: []float32{0, 0, 1}, DistinctSubmitterCount: 1,
		Active: true, ClusterID: "c1", CreatedAt: time.Now().UTC(),
	}
	if err := store.SaveAnswer(ctx, &a); err != nil {
		t.Fatalf("saving answer: %v", err)
	}

	if err := store.IncrementShows(ctx, []string{"a1"}); err != nil {
		t.Fatalf("incrementing shows: %v", err)
	}
	if err := store.IncrementShows(ctx, []string{"a1"}); err != nil {
		t.Fatalf("incrementing shows: %v", err)
	}
	if err := store.IncrementMatches(ctx, []string{"a1"}); err != nil {
		t.Fatalf("incrementing matches: %v", err)
	}
	if err := store.IncrementShows(ctx, nil); err != nil {
		t.Fatalf("empty increment must be a no-op: %v", err)
	}

	corpus, err := store.LoadCorpus(ctx, "p1")
	if err != nil {
		t.Fatalf("loading corpus: %v", err)
	}
	if corpus.Answers[0].Shows != 2 {
		t.Errorf("expected shows 2, got %d", corpus.Answers[0].Shows)
	}
	if corpus.Answers[0].ContributedMatches != 1 {
		t.Errorf("expected matches 1, got %d", corpus.Answers[0].ContributedMatches)
	}
}

func TestSQLiteStore_RoundAndGuessLog(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	round := entities.Round{
		ID: "r1", PlayerID: "player-1", PromptID: "p1",
		Status: entities.RoundActive, CreatedAt: time.Now().UTC(),
	}
	if err := store.SaveRound(ctx, &round); err != nil {
		t.Fatalf("saving active round: %v", err)
	}

	guess := entities.Guess{
		Text:              "sand castle",
		Embedding:         []float32{1, 0, 0},
		MatchedClusterIDs: []string{"c1"},
		CreatedAt:         time.Now().UTC(),
	}
	if err := store.AppendGuess(ctx, "r1", 0, &guess); err != nil {
		t.Fatalf("appending guess: %v", err)
	}

	round.Status = entities.RoundQuit
	round.Scored = true
	round.Payout = &entities.Payout{P: 0.3, Gross: 49, WalletAward: 49, NetWallet: -51}
	if err := store.SaveRound(ctx, &round); err != nil {
		t.Fatalf("saving scored round: %v", err)
	}

	var status string
	var net int
	err := store.db.QueryRow(`SELECT status, net_wallet FROM rounds WHERE id = ?`, "r1").Scan(&status, &net)
	if err != nil {
		t.Fatalf("reading round back: %v", err)
	}
	if status != "quit" || net != -51 {
		t.Errorf("unexpected round row: status=%s net=%d", status, net)
	}

	var guessCount int
	if err := store.db.QueryRow(`SELECT COUNT(*) FROM guesses WHERE round_id = ?`, "r1").Scan(&guessCount); err != nil {
		t.Fatalf("counting guesses: %v", err)
	}
	if guessCount != 1 {
		t.Errorf("expected 1 guess, got %d", guessCount)
	}
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewSQLiteStore(dir)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	p := entities.Prompt{ID: "p1", Text: "beach things", CreatedAt: time.Now().UTC()}
	if err := store.SavePrompt(ctx, &p); err != nil {
		t.Fatalf("saving prompt: %v", err)
	}
	store.Close()

	reopened, err := NewSQLiteStore(dir)
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	defer reopened.Close()

	prompts, err := reopened.ListPrompts(ctx)
	if err != nil {
		t.Fatalf("listing prompts: %v", err)
	}
	if len(prompts) != 1 {
		t.Fatalf("expected 1 prompt after reopen, got %d", len(prompts))
	}
}
