package corpusstore

import (
	"context"
	"sync"

	"github.com/covermind/covermind/internal/domain/entities"
	"github.com/covermind/covermind/internal/domain/ports"
)

// InMemoryStore is a ports.CorpusStore for tests and dev mode. Data does
// not survive a restart.
type InMemoryStore struct {
	mu         sync.Mutex
	prompts    map[string]entities.Prompt
	answers    map[string]entities.Answer
	clusters   map[string]entities.Cluster
	submitters map[string]map[string]struct{}
	rounds     map[string]entities.Round
	guesses    map[string][]entities.Guess
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		prompts:    make(map[string]entities.Prompt),
		answers:    make(map[string]entities.Answer),
		clusters:   make(map[string]entities.Cluster),
		submitters: make(map[string]map[string]struct{}),
		rounds:     make(map[string]entities.Round),
		guesses:    make(map[string][]entities.Guess),
	}
}

// SavePrompt upserts a prompt.
func (s *InMemoryStore) SavePrompt(ctx context.Context, p *entities.Prompt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts[p.ID] = *p
	return nil
}

// ListPrompts returns every known prompt.
func (s *InMemoryStore) ListPrompts(ctx context.Context) ([]entities.Prompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]entities.Prompt, 0, len(s.prompts))
	for _, p := range s.prompts {
		out = append(out, p)
	}
	return out, nil
}

// LoadCorpus reads a prompt's answers, clusters and submitter sets.
func (s *InMemoryStore) LoadCorpus(ctx context.Context, promptID string) (*ports.StoredCorpus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := &ports.StoredCorpus{Submitters: make(map[string][]string)}
	for _, a := range s.answers {
		if a.PromptID != promptID {
			continue
		}
		out.Answers = append(out.Answers, a)
		for sub := range s.submitters[a.ID] {
			out.Submitters[a.ID] = append(out.Submitters[a.ID], sub)
		}
	}
	for _, c := range s.clusters {
		if c.PromptID != promptID {
			continue
		}
		c.ActiveMemberIDs = make(map[string]struct{})
		for _, a := range out.Answers {
			if a.Active && a.ClusterID == c.ID {
				c.ActiveMemberIDs[a.ID] = struct{}{}
			}
		}
		out.Clusters = append(out.Clusters, c)
	}
	return out, nil
}

// SaveAnswer upserts an answer.
func (s *InMemoryStore) SaveAnswer(ctx context.Context, a *entities.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[a.ID] = *a
	return nil
}

// SaveCluster upserts a cluster.
func (s *InMemoryStore) SaveCluster(ctx context.Context, c *entities.Cluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clusters[c.ID] = *c
	return nil
}

// RecordSubmitter remembers a (answer, submitter) pair.
func (s *InMemoryStore) RecordSubmitter(ctx context.Context, answerID, submitterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.submitters[answerID]
	if set == nil {
		set = make(map[string]struct{})
		s.submitters[answerID] = set
	}
	set[submitterID] = struct{}{}
	return nil
}

// IncrementShows bumps shows for the given answers.
func (s *InMemoryStore) IncrementShows(ctx context.Context, answerIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range answerIDs {
		if a, ok := s.answers[id]; ok {
			a.Shows++
			s.answers[id] = a
		}
	}
	return nil
}

// IncrementMatches bumps contributed-matches for the given answers.
func (s *InMemoryStore) IncrementMatches(ctx context.Context, answerIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range answerIDs {
		if a, ok := s.answers[id]; ok {
			a.ContributedMatches++
			s.answers[id] = a
		}
	}
	return nil
}

// SaveRound upserts a round.
func (s *InMemoryStore) SaveRound(ctx context.Context, r *entities.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	saved := *r
	saved.Snapshot = nil // snapshots are not persisted
	saved.Guesses = nil  // the guess log lives in AppendGuess
	s.rounds[r.ID] = saved
	return nil
}

// AppendGuess appends one guess to a round's log.
func (s *InMemoryStore) AppendGuess(ctx context.Context, roundID string, seq int, g *entities.Guess) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.guesses[roundID]
	if seq < len(log) {
		log[seq] = *g
	} else {
		log = append(log, *g)
	}
	s.guesses[roundID] = log
	return nil
}

// Round returns the stored copy of a round, for tests.
func (s *InMemoryStore) Round(roundID string) (entities.Round, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[roundID]
	return r, ok
}

// GuessLog returns the stored guesses of a round, for tests.
func (s *InMemoryStore) GuessLog(roundID string) []entities.Guess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entities.Guess(nil), s.guesses[roundID]...)
}

// AnswerCount returns how many answers are stored, for tests.
func (s *InMemoryStore) AnswerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.answers)
}
