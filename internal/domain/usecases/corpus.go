package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/google/uuid"

	"github.com/covermind/covermind/internal/domain/entities"
	"github.com/covermind/covermind/internal/domain/ports"
)

// MaxActiveAnswers bounds the active corpus per prompt at rest.
const MaxActiveAnswers = 1000

// CorpusManager owns the per-prompt bounded active-answer set. All mutation
// to one prompt's corpus (add, evict, usage counters) is serialized behind
// that prompt's lock; snapshot reads take the same lock so they observe a
// consistent point-in-time view.
type CorpusManager struct {
	mu      sync.RWMutex
	prompts map[string]*promptState

	store     ports.CorpusStore
	maxActive int
	evictions atomic.Uint64
	log       *slog.Logger
}

// promptState is the in-memory working set for one prompt. Answers and
// clusters reference each other only by ID.
type promptState struct {
	mu         sync.Mutex
	prompt     entities.Prompt
	answers    map[string]*entities.Answer
	byText     map[string]string // normalized text -> answer ID
	clusters   map[string]*entities.Cluster
	submitters map[string]map[string]struct{} // answer ID -> distinct submitter IDs
	active     int
}

// NewCorpusManager creates a corpus manager backed by the given store.
func NewCorpusManager(store ports.CorpusStore, log *slog.Logger) *CorpusManager {
	if log == nil {
		log = slog.Default()
	}
	return &CorpusManager{
		prompts:   make(map[string]*promptState),
		store:     store,
		maxActive: MaxActiveAnswers,
		log:       log,
	}
}

// NormalizePhrase canonicalizes guess/answer text for duplicate detection:
// lowercase, trimmed, inner whitespace collapsed, edge punctuation dropped.
func NormalizePhrase(text string) string {
	fields := strings.Fields(strings.ToLower(text))
	for i, f := range fields {
		fields[i] = strings.TrimFunc(f, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
	}
	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return strings.Join(out, " ")
}

// Bootstrap loads every prompt's corpus from the durable store into memory.
// Called once at startup before any traffic.
func (m *CorpusManager) Bootstrap(ctx context.Context) error {
	prompts, err := m.store.ListPrompts(ctx)
	if err != nil {
		return fmt.Errorf("listing prompts: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range prompts {
		stored, err := m.store.LoadCorpus(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("loading corpus for prompt %s: %w", p.ID, err)
		}

		ps := &promptState{
			prompt:     p,
			answers:    make(map[string]*entities.Answer, len(stored.Answers)),
			byText:     make(map[string]string, len(stored.Answers)),
			clusters:   make(map[string]*entities.Cluster, len(stored.Clusters)),
			submitters: make(map[string]map[string]struct{}, len(stored.Answers)),
		}
		for i := range stored.Clusters {
			c := stored.Clusters[i]
			if c.ActiveMemberIDs == nil {
				c.ActiveMemberIDs = make(map[string]struct{})
			}
			ps.clusters[c.ID] = &c
		}
		for i := range stored.Answers {
			a := stored.Answers[i]
			ps.answers[a.ID] = &a
			ps.byText[a.NormalizedText] = a.ID
			if a.Active {
				ps.active++
			}
			set := make(map[string]struct{})
			for _, s := range stored.Submitters[a.ID] {
				set[s] = struct{}{}
			}
			ps.submitters[a.ID] = set
		}
		m.prompts[p.ID] = ps
		m.log.Info("corpus loaded",
			"prompt_id", p.ID,
			"answers", len(ps.answers),
			"active", ps.active,
			"clusters", len(ps.clusters))
	}
	return nil
}

// RegisterPrompt creates a prompt with an empty corpus.
func (m *CorpusManager) RegisterPrompt(ctx context.Context, text string) (entities.Prompt, error) {
	p := entities.Prompt{ID: uuid.NewString(), Text: text, CreatedAt: now()}
	if err := m.store.SavePrompt(ctx, &p); err != nil {
		return entities.Prompt{}, fmt.Errorf("saving prompt: %w", err)
	}

	m.mu.Lock()
	m.prompts[p.ID] = &promptState{
		prompt:     p,
		answers:    make(map[string]*entities.Answer),
		byText:     make(map[string]string),
		clusters:   make(map[string]*entities.Cluster),
		submitters: make(map[string]map[string]struct{}),
	}
	m.mu.Unlock()
	return p, nil
}

// Prompt returns the prompt metadata, or ErrPromptNotFound.
func (m *CorpusManager) Prompt(promptID string) (entities.Prompt, error) {
	ps, err := m.state(promptID)
	if err != nil {
		return entities.Prompt{}, err
	}
	return ps.prompt, nil
}

func (m *CorpusManager) state(promptID string) (*promptState, error) {
	m.mu.RLock()
	ps, ok := m.prompts[promptID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrPromptNotFound
	}
	return ps, nil
}

// AddAnswer accepts a validated phrase into a prompt's corpus and returns
// the answer ID. Duplicate normalized text on the same prompt increments the
// existing answer's distinct-submitter count (only for submitters that have
// not sent this exact text before) instead of creating a new answer. A
// previously evicted answer whose text comes back is reactivated rather
// than duplicated. New answers are clustered on insertion; when the active
// count then exceeds the bound, eviction runs before returning.
//
// Precondition: text already passed the external phrase validator.
func (m *CorpusManager) AddAnswer(ctx context.Context, promptID, text string, embedding []float32, submitterID string) (string, error) {
	ps, err := m.state(promptID)
	if err != nil {
		return "", err
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	normalized := NormalizePhrase(text)
	if normalized == "" {
		return "", fmt.Errorf("empty phrase after normalization")
	}

	if id, ok := ps.byText[normalized]; ok {
		return id, m.touchExistingLocked(ctx, ps, id, submitterID)
	}

	asg := assignCluster(promptID, ps.clusters, embedding)
	a := &entities.Answer{
		ID:                     uuid.NewString(),
		PromptID:               promptID,
		NormalizedText:         normalized,
		Embedding:              append([]float32(nil), embedding...),
		DistinctSubmitterCount: 1,
		Active:                 true,
		ClusterID:              asg.ClusterID,
		CreatedAt:              now(),
	}
	cluster := ps.clusters[asg.ClusterID]
	cluster.ActiveMemberIDs[a.ID] = struct{}{}

	ps.answers[a.ID] = a
	ps.byText[normalized] = a.ID
	ps.submitters[a.ID] = map[string]struct{}{submitterID: {}}
	ps.active++

	if err := m.store.SaveCluster(ctx, cluster); err != nil {
		return "", fmt.Errorf("saving cluster: %w", err)
	}
	if err := m.store.SaveAnswer(ctx, a); err != nil {
		return "", fmt.Errorf("saving answer: %w", err)
	}
	if err := m.store.RecordSubmitter(ctx, a.ID, submitterID); err != nil {
		return "", fmt.Errorf("recording submitter: %w", err)
	}

	if asg.IsNewCluster {
		m.log.Debug("new cluster founded", "prompt_id", promptID, "cluster_id", asg.ClusterID)
	}

	if ps.active > m.maxActive {
		m.evictLocked(ctx, ps)
	}
	return a.ID, nil
}

// touchExistingLocked handles a duplicate submission: bump the distinct
// count for first-time submitters and reactivate the answer if eviction had
// deactivated it.
func (m *CorpusManager) touchExistingLocked(ctx context.Context, ps *promptState, answerID, submitterID string) error {
	a := ps.answers[answerID]
	dirty := false

	set := ps.submitters[answerID]
	if set == nil {
		set = make(map[string]struct{})
		ps.submitters[answerID] = set
	}
	if _, seen := set[submitterID]; !seen {
		set[submitterID] = struct{}{}
		a.DistinctSubmitterCount++
		dirty = true
		if err := m.store.RecordSubmitter(ctx, answerID, submitterID); err != nil {
			return fmt.Errorf("recording submitter: %w", err)
		}
	}

	if !a.Active {
		a.Active = true
		ps.active++
		dirty = true
		if c := ps.clusters[a.ClusterID]; c != nil {
			c.ActiveMemberIDs[a.ID] = struct{}{}
			if err := m.store.SaveCluster(ctx, c); err != nil {
				return fmt.Errorf("saving cluster: %w", err)
			}
		}
	}

	if dirty {
		if err := m.store.SaveAnswer(ctx, a); err != nil {
			return fmt.Errorf("saving answer: %w", err)
		}
	}
	if ps.active > m.maxActive {
		m.evictLocked(ctx, ps)
	}
	return nil
}

// evictLocked deactivates the least useful active answers until the active
// count is back within the bound. Ties break oldest-first. To preserve
// semantic diversity, the last active member of a cluster is spared while
// any other candidate remains; if the corpus is still over the bound after
// the diversity-respecting pass, a second pass evicts regardless.
func (m *CorpusManager) evictLocked(ctx context.Context, ps *promptState) {
	candidates := make([]*entities.Answer, 0, ps.active)
	for _, a := range ps.answers {
		if a.Active {
			candidates = append(candidates, a)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		ui, uj := candidates[i].Usefulness(), candidates[j].Usefulness()
		if ui != uj {
			return ui < uj
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	evicted := 0
	for pass := 0; pass < 2 && ps.active > m.maxActive; pass++ {
		respectDiversity := pass == 0
		for _, a := range candidates {
			if ps.active <= m.maxActive {
				break
			}
			if !a.Active {
				continue
			}
			c := ps.clusters[a.ClusterID]
			if respectDiversity && c != nil && len(c.ActiveMemberIDs) <= 1 {
				continue
			}

			a.Active = false
			ps.active--
			evicted++
			if c != nil {
				delete(c.ActiveMemberIDs, a.ID)
				if err := m.store.SaveCluster(ctx, c); err != nil {
					m.log.Error("persisting cluster after eviction", "cluster_id", c.ID, "error", err)
				}
			}
			if err := m.store.SaveAnswer(ctx, a); err != nil {
				m.log.Error("persisting evicted answer", "answer_id", a.ID, "error", err)
			}
		}
	}

	m.evictions.Add(uint64(evicted))
	if ps.active > m.maxActive {
		// Should be unreachable: the second pass evicts unconditionally.
		m.log.Error("active count still over bound after eviction",
			"prompt_id", ps.prompt.ID, "active", ps.active)
	}
	m.log.Info("eviction settled",
		"prompt_id", ps.prompt.ID, "evicted", evicted, "active", ps.active)
}

// ActiveAnswers returns a consistent copy of the prompt's active answers for
// snapshot creation. Embedding slices are shared; they are never mutated
// after creation.
func (m *CorpusManager) ActiveAnswers(promptID string) ([]entities.Answer, error) {
	ps, err := m.state(promptID)
	if err != nil {
		return nil, err
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	out := make([]entities.Answer, 0, ps.active)
	for _, a := range ps.answers {
		if a.Active {
			out = append(out, *a)
		}
	}
	return out, nil
}

// RecordSnapshotUsage increments shows for every answer included in a newly
// created snapshot.
func (m *CorpusManager) RecordSnapshotUsage(ctx context.Context, promptID string, answerIDs []string) error {
	ps, err := m.state(promptID)
	if err != nil {
		return err
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, id := range answerIDs {
		if a, ok := ps.answers[id]; ok {
			a.Shows++
		}
	}
	if err := m.store.IncrementShows(ctx, answerIDs); err != nil {
		return fmt.Errorf("incrementing shows: %w", err)
	}
	return nil
}

// RecordMatch increments contributed-matches for snapshot answers that
// caused a guess match.
func (m *CorpusManager) RecordMatch(ctx context.Context, promptID string, answerIDs []string) error {
	if len(answerIDs) == 0 {
		return nil
	}
	ps, err := m.state(promptID)
	if err != nil {
		return err
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, id := range answerIDs {
		if a, ok := ps.answers[id]; ok {
			a.ContributedMatches++
		}
	}
	if err := m.store.IncrementMatches(ctx, answerIDs); err != nil {
		return fmt.Errorf("incrementing matches: %w", err)
	}
	return nil
}

// Stats for operational visibility.

// ActiveCount returns the number of active answers for a prompt (0 for an
// unknown prompt).
func (m *CorpusManager) ActiveCount(promptID string) int {
	ps, err := m.state(promptID)
	if err != nil {
		return 0
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.active
}

// Evictions returns the cumulative number of deactivated answers.
func (m *CorpusManager) Evictions() uint64 {
	return m.evictions.Load()
}

// PromptIDs lists known prompts.
func (m *CorpusManager) PromptIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.prompts))
	for id := range m.prompts {
		ids = append(ids, id)
	}
	return ids
}
