package usecases

import (
	"time"

	"github.com/google/uuid"

	"github.com/covermind/covermind/internal/domain/entities"
	"github.com/covermind/covermind/internal/domain/vector"
)

// Similarity thresholds for corpus maintenance and round matching.
const (
	// ClusterJoinThreshold: a new answer joins the closest existing cluster
	// at or above this cosine similarity, otherwise it founds a new one.
	ClusterJoinThreshold = 0.75

	// NearDuplicateThreshold: at or above this similarity the new answer is
	// effectively a restatement of the cluster it joins. Callers may use
	// the signal to skip re-embedding verbatim repeats.
	NearDuplicateThreshold = 0.90

	// MatchThreshold: a guess matches a snapshot answer strictly above this
	// similarity.
	MatchThreshold = 0.55

	// SelfSimilarityThreshold: a guess at or above this similarity to any
	// earlier guess in the same round is rejected without a strike.
	SelfSimilarityThreshold = 0.80
)

// Assignment is the result of placing one answer embedding into a prompt's
// cluster space.
type Assignment struct {
	ClusterID     string
	IsNewCluster  bool
	NearDuplicate bool
}

// assignCluster places an embedding into the closest cluster, updating its
// centroid via the incremental running mean, or founds a new cluster when
// nothing is close enough. A prompt with zero clusters falls through to the
// new-cluster path naturally (simMax stays below the threshold).
//
// Mutates the passed cluster map; the caller holds the prompt lock and is
// responsible for persisting the touched cluster. No clustering happens
// during round play - only when an answer is durably added to the corpus.
func assignCluster(promptID string, clusters map[string]*entities.Cluster, embedding []float32) Assignment {
	var (
		best   *entities.Cluster
		simMax = -1.0
	)
	for _, c := range clusters {
		if sim := vector.Cosine(embedding, c.Centroid); sim > simMax {
			simMax = sim
			best = c
		}
	}

	if best != nil && simMax >= ClusterJoinThreshold {
		best.Centroid = vector.RunningMean(best.Centroid, best.MemberCount, embedding)
		best.MemberCount++
		return Assignment{
			ClusterID:     best.ID,
			NearDuplicate: simMax >= NearDuplicateThreshold,
		}
	}

	c := &entities.Cluster{
		ID:              uuid.NewString(),
		PromptID:        promptID,
		Centroid:        append([]float32(nil), embedding...),
		MemberCount:     1,
		ActiveMemberIDs: make(map[string]struct{}),
	}
	clusters[c.ID] = c
	return Assignment{ClusterID: c.ID, IsNewCluster: true}
}

// now is swappable in tests.
var now = time.Now
