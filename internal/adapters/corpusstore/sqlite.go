// Package corpusstore provides durable-store adapters for the answer
// corpus and round logs.
// Clean Architecture: Adapters implementing ports.CorpusStore.
package corpusstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/covermind/covermind/internal/domain/entities"
	"github.com/covermind/covermind/internal/domain/ports"
)

// SQLiteStore implements ports.CorpusStore with SQLite persistence.
// Embeddings and centroids are stored as JSON blobs; cluster active
// membership is not stored separately - it is reconstructed from the
// answers table on load.
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database under dataPath.
func NewSQLiteStore(dataPath string) (*SQLiteStore, error) {
	if dataPath == "" {
		dataPath = "./data"
	}
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataPath, "covermind.db")
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS prompts (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS answers (
		id TEXT PRIMARY KEY,
		prompt_id TEXT NOT NULL,
		normalized_text TEXT NOT NULL,
		embedding BLOB NOT NULL,
		distinct_submitters INTEGER NOT NULL,
		active INTEGER NOT NULL,
		shows INTEGER NOT NULL,
		contributed_matches INTEGER NOT NULL,
		cluster_id TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_answers_prompt ON answers(prompt_id, active);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_answers_text ON answers(prompt_id, normalized_text);
	CREATE TABLE IF NOT EXISTS answer_submitters (
		answer_id TEXT NOT NULL,
		submitter_id TEXT NOT NULL,
		PRIMARY KEY (answer_id, submitter_id)
	);
	CREATE TABLE IF NOT EXISTS clusters (
		id TEXT PRIMARY KEY,
		prompt_id TEXT NOT NULL,
		centroid BLOB NOT NULL,
		member_count INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_clusters_prompt ON clusters(prompt_id);
	CREATE TABLE IF NOT EXISTS rounds (
		id TEXT PRIMARY KEY,
		player_id TEXT NOT NULL,
		prompt_id TEXT NOT NULL,
		strikes INTEGER NOT NULL,
		status TEXT NOT NULL,
		scored INTEGER NOT NULL,
		p REAL,
		gross INTEGER,
		wallet_award INTEGER,
		vault_award INTEGER,
		net_wallet INTEGER,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS guesses (
		round_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		text TEXT NOT NULL,
		embedding BLOB NOT NULL,
		matched_cluster_ids TEXT NOT NULL,
		was_strike INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (round_id, seq)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SavePrompt upserts a prompt.
func (s *SQLiteStore) SavePrompt(ctx context.Context, p *entities.Prompt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO prompts (id, text, created_at) VALUES (?, ?, ?)
	`, p.ID, p.Text, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting prompt: %w", err)
	}
	return nil
}

// ListPrompts returns every known prompt.
func (s *SQLiteStore) ListPrompts(ctx context.Context) ([]entities.Prompt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, text, created_at FROM prompts`)
	if err != nil {
		return nil, fmt.Errorf("querying prompts: %w", err)
	}
	defer rows.Close()

	var prompts []entities.Prompt
	for rows.Next() {
		var p entities.Prompt
		if err := rows.Scan(&p.ID, &p.Text, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning prompt: %w", err)
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

// LoadCorpus reads a prompt's answers, clusters and submitter sets.
func (s *SQLiteStore) LoadCorpus(ctx context.Context, promptID string) (*ports.StoredCorpus, error) {
	out := &ports.StoredCorpus{Submitters: make(map[string][]string)}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, prompt_id, normalized_text, embedding, distinct_submitters,
		       active, shows, contributed_matches, cluster_id, created_at
		FROM answers WHERE prompt_id = ?
	`, promptID)
	if err != nil {
		return nil, fmt.Errorf("querying answers: %w", err)
	}
	defer rows.Close()

	activeByCluster := make(map[string][]string)
	for rows.Next() {
		var a entities.Answer
		var embeddingJSON []byte
		err := rows.Scan(&a.ID, &a.PromptID, &a.NormalizedText, &embeddingJSON,
			&a.DistinctSubmitterCount, &a.Active, &a.Shows, &a.ContributedMatches,
			&a.ClusterID, &a.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning answer: %w", err)
		}
		if err := json.Unmarshal(embeddingJSON, &a.Embedding); err != nil {
			return nil, fmt.Errorf("decoding embedding for answer %s: %w", a.ID, err)
		}
		if a.Active {
			activeByCluster[a.ClusterID] = append(activeByCluster[a.ClusterID], a.ID)
		}
		out.Answers = append(out.Answers, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	crows, err := s.db.QueryContext(ctx, `
		SELECT id, prompt_id, centroid, member_count FROM clusters WHERE prompt_id = ?
	`, promptID)
	if err != nil {
		return nil, fmt.Errorf("querying clusters: %w", err)
	}
	defer crows.Close()

	for crows.Next() {
		var c entities.Cluster
		var centroidJSON []byte
		if err := crows.Scan(&c.ID, &c.PromptID, &centroidJSON, &c.MemberCount); err != nil {
			return nil, fmt.Errorf("scanning cluster: %w", err)
		}
		if err := json.Unmarshal(centroidJSON, &c.Centroid); err != nil {
			return nil, fmt.Errorf("decoding centroid for cluster %s: %w", c.ID, err)
		}
		c.ActiveMemberIDs = make(map[string]struct{})
		for _, id := range activeByCluster[c.ID] {
			c.ActiveMemberIDs[id] = struct{}{}
		}
		out.Clusters = append(out.Clusters, c)
	}
	if err := crows.Err(); err != nil {
		return nil, err
	}

	srows, err := s.db.QueryContext(ctx, `
		SELECT s.answer_id, s.submitter_id
		FROM answer_submitters s JOIN answers a ON a.id = s.answer_id
		WHERE a.prompt_id = ?
	`, promptID)
	if err != nil {
		return nil, fmt.Errorf("querying submitters: %w", err)
	}
	defer srows.Close()

	for srows.Next() {
		var answerID, submitterID string
		if err := srows.Scan(&answerID, &submitterID); err != nil {
			return nil, fmt.Errorf("scanning submitter: %w", err)
		}
		out.Submitters[answerID] = append(out.Submitters[answerID], submitterID)
	}
	return out, srows.Err()
}

// SaveAnswer upserts an answer including its activity counters.
func (s *SQLiteStore) SaveAnswer(ctx context.Context, a *entities.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	embeddingJSON, err := json.Marshal(a.Embedding)
	if err != nil {
		return fmt.Errorf("encoding embedding: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO answers
		(id, prompt_id, normalized_text, embedding, distinct_submitters,
		 active, shows, contributed_matches, cluster_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.PromptID, a.NormalizedText, embeddingJSON, a.DistinctSubmitterCount,
		a.Active, a.Shows, a.ContributedMatches, a.ClusterID, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting answer: %w", err)
	}
	return nil
}

// SaveCluster upserts a cluster's centroid and running count.
func (s *SQLiteStore) SaveCluster(ctx context.Context, c *entities.Cluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	centroidJSON, err := json.Marshal(c.Centroid)
	if err != nil {
		return fmt.Errorf("encoding centroid: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO clusters (id, prompt_id, centroid, member_count)
		VALUES (?, ?, ?, ?)
	`, c.ID, c.PromptID, centroidJSON, c.MemberCount)
	if err != nil {
		return fmt.Errorf("inserting cluster: %w", err)
	}
	return nil
}

// RecordSubmitter remembers a (answer, submitter) pair.
func (s *SQLiteStore) RecordSubmitter(ctx context.Context, answerID, submitterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO answer_submitters (answer_id, submitter_id) VALUES (?, ?)
	`, answerID, submitterID)
	if err != nil {
		return fmt.Errorf("inserting submitter: %w", err)
	}
	return nil
}

// IncrementShows bumps the shows counter for the given answers.
func (s *SQLiteStore) IncrementShows(ctx context.Context, answerIDs []string) error {
	return s.incrementCounter(ctx, "shows", answerIDs)
}

// IncrementMatches bumps the contributed-matches counter for the given answers.
func (s *SQLiteStore) IncrementMatches(ctx context.Context, answerIDs []string) error {
	return s.incrementCounter(ctx, "contributed_matches", answerIDs)
}

func (s *SQLiteStore) incrementCounter(ctx context.Context, column string, answerIDs []string) error {
	if len(answerIDs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(answerIDs)), ",")
	args := make([]any, len(answerIDs))
	for i, id := range answerIDs {
		args[i] = id
	}
	query := fmt.Sprintf("UPDATE answers SET %s = %s + 1 WHERE id IN (%s)", column, column, placeholders)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("updating %s: %w", column, err)
	}
	return nil
}

// SaveRound upserts a round's status, strikes and payout.
func (s *SQLiteStore) SaveRound(ctx context.Context, r *entities.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var p, gross, wallet, vault, net any
	if r.Payout != nil {
		p, gross = r.Payout.P, r.Payout.Gross
		wallet, vault, net = r.Payout.WalletAward, r.Payout.VaultAward, r.Payout.NetWallet
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO rounds
		(id, player_id, prompt_id, strikes, status, scored,
		 p, gross, wallet_award, vault_award, net_wallet, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.PlayerID, r.PromptID, r.Strikes, string(r.Status), r.Scored,
		p, gross, wallet, vault, net, r.CreatedAt, time.Now())
	if err != nil {
		return fmt.Errorf("inserting round: %w", err)
	}
	return nil
}

// AppendGuess appends one guess to a round's ordered log.
func (s *SQLiteStore) AppendGuess(ctx context.Context, roundID string, seq int, g *entities.Guess) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	embeddingJSON, err := json.Marshal(g.Embedding)
	if err != nil {
		return fmt.Errorf("encoding embedding: %w", err)
	}
	matchedJSON, err := json.Marshal(g.MatchedClusterIDs)
	if err != nil {
		return fmt.Errorf("encoding matched clusters: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO guesses
		(round_id, seq, text, embedding, matched_cluster_ids, was_strike, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, roundID, seq, g.Text, embeddingJSON, matchedJSON, g.WasStrike, g.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting guess: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
