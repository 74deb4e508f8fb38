// Package entities contains core business entities.
// These are the enterprise business rules - pure domain objects with no external dependencies.
package entities

import "time"

// Prompt is the question players guess against. It owns a bounded set of
// Answers and the Clusters they are grouped into.
type Prompt struct {
	ID        string
	Text      string
	CreatedAt time.Time
}

// Answer is one crowd-sourced phrase in a prompt's corpus.
// Answers are never physically deleted; eviction flips Active to false so
// the usefulness history survives.
type Answer struct {
	ID                     string
	PromptID               string
	NormalizedText         string
	Embedding              []float32
	DistinctSubmitterCount int
	Active                 bool
	Shows                  int // times included in a round snapshot
	ContributedMatches     int // times this answer caused a guess match
	ClusterID              string
	CreatedAt              time.Time
}

// Usefulness is the eviction ranking: answers that match often relative to
// how often they are shown are kept.
func (a *Answer) Usefulness() float64 {
	return float64(a.ContributedMatches) / float64(a.Shows+1)
}

// Cluster groups semantically close answers under a running-mean centroid.
// MemberCount is all-time (it drives the running mean) while
// ActiveMemberIDs shrinks during eviction. A cluster is never deleted; it
// may regain members later.
type Cluster struct {
	ID              string
	PromptID        string
	Centroid        []float32
	MemberCount     int
	ActiveMemberIDs map[string]struct{}
}

// SnapshotAnswer is one answer frozen into a round snapshot.
type SnapshotAnswer struct {
	AnswerID  string
	Embedding []float32
	ClusterID string
	Weight    float64
}

// RoundSnapshot is an immutable point-in-time copy of a prompt's active
// corpus. It is created exactly once at round start and owned by its round;
// nothing mutates it afterwards.
type RoundSnapshot struct {
	PromptID      string
	Answers       []SnapshotAnswer
	ClusterWeight map[string]float64
	TotalWeight   float64
}

// RoundStatus is the round lifecycle state.
type RoundStatus string

const (
	RoundActive    RoundStatus = "active"
	RoundBusted    RoundStatus = "busted"
	RoundQuit      RoundStatus = "quit"
	RoundCompleted RoundStatus = "completed"
)

// Terminal reports whether the round accepts no further guesses.
func (s RoundStatus) Terminal() bool {
	return s == RoundBusted || s == RoundQuit || s == RoundCompleted
}

// Guess is one recorded guess attempt. Immutable once appended to the
// round's log. Rejected guesses (validation or self-similarity) are not
// recorded at all.
type Guess struct {
	Text              string
	Embedding         []float32
	MatchedClusterIDs []string
	WasStrike         bool
	CreatedAt         time.Time
}

// Round is one player's run against one prompt. It exclusively owns its
// snapshot and guess log; only the owning player session mutates it.
type Round struct {
	ID              string
	PlayerID        string
	PromptID        string
	Snapshot        *RoundSnapshot
	Strikes         int
	MatchedClusters map[string]struct{}
	Guesses         []Guess
	Status          RoundStatus
	Scored          bool
	Payout          *Payout
	CreatedAt       time.Time
}

// MatchedWeight sums the snapshot weight of every cluster the player has
// reached so far.
func (r *Round) MatchedWeight() float64 {
	var sum float64
	for id := range r.MatchedClusters {
		sum += r.Snapshot.ClusterWeight[id]
	}
	return sum
}

// Payout is the result of scoring a terminated round. NetWallet is the
// wallet award minus the fixed entry fee.
type Payout struct {
	P           float64
	Gross       int
	WalletAward int
	VaultAward  int
	NetWallet   int
}

// ValidationResult is the phrase validator's verdict. OK=false carries a
// player-facing reason; it is not an error condition.
type ValidationResult struct {
	OK     bool
	Reason string
}

// GuessOutcome is what a guess submission returns to the caller.
// Accepted=false means the guess was rejected before matching (no strike,
// no log entry) and Reason says why.
type GuessOutcome struct {
	Accepted          bool
	Reason            string
	MatchedClusterIDs []string
	Strikes           int
	Status            RoundStatus
	Payout            *Payout
}
