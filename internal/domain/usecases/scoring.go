package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/covermind/covermind/internal/domain/entities"
	"github.com/covermind/covermind/internal/domain/ports"
)

// Payout curve constants.
const (
	// EntryFee is deducted from the wallet award to form the net result.
	EntryFee = 100

	// MaxGross caps the payout curve.
	MaxGross = 300

	// VaultCut of the gross above the entry fee is diverted to the vault.
	VaultCut = 0.30
)

// ScoringEngine converts a terminated round's matched-cluster set into a
// payout and emits it to the account ledger exactly once.
type ScoringEngine struct {
	ledger ports.LedgerSink
	log    *slog.Logger
}

// NewScoringEngine creates a scoring engine emitting to the given ledger.
func NewScoringEngine(ledger ports.LedgerSink, log *slog.Logger) *ScoringEngine {
	if log == nil {
		log = slog.Default()
	}
	return &ScoringEngine{ledger: ledger, log: log}
}

// ComputePayout evaluates the payout curve for a weighted coverage p
// without side effects. gross = clamp(round(300*p^1.5), 0, 300); gross
// above the entry fee is split 30% to the vault.
func ComputePayout(p float64) entities.Payout {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}

	gross := int(math.Round(MaxGross * math.Pow(p, 1.5)))
	if gross < 0 {
		gross = 0
	}
	if gross > MaxGross {
		gross = MaxGross
	}

	wallet, vault := gross, 0
	if gross > EntryFee {
		extra := gross - EntryFee
		vault = int(math.Floor(float64(extra) * VaultCut))
		wallet = gross - vault
	}

	return entities.Payout{
		P:           p,
		Gross:       gross,
		WalletAward: wallet,
		VaultAward:  vault,
		NetWallet:   wallet - EntryFee,
	}
}

// Score computes and records the payout for a terminated round. Scoring an
// already-scored round is an idempotent no-op returning the stored payout;
// the ledger is never credited twice. The caller holds the round's lock.
func (e *ScoringEngine) Score(ctx context.Context, round *entities.Round) (entities.Payout, error) {
	if !round.Status.Terminal() {
		return entities.Payout{}, fmt.Errorf("scoring round %s: %w", round.ID, ErrRoundConflict)
	}
	if round.Scored {
		return *round.Payout, nil
	}

	var p float64
	if round.Snapshot.TotalWeight > 0 {
		p = round.MatchedWeight() / round.Snapshot.TotalWeight
	}
	payout := ComputePayout(p)

	round.Scored = true
	round.Payout = &payout

	// The payout is authoritative once the round is marked scored; a ledger
	// outage is an operator-facing defect, never a player-facing failure.
	if err := e.ledger.RecordPayout(ctx, round.PlayerID, &payout); err != nil {
		e.log.Error("ledger emission failed",
			"round_id", round.ID, "player_id", round.PlayerID, "error", err)
	}

	e.log.Info("round scored",
		"round_id", round.ID,
		"player_id", round.PlayerID,
		"status", round.Status,
		"p", payout.P,
		"gross", payout.Gross,
		"wallet_award", payout.WalletAward,
		"vault_award", payout.VaultAward,
		"net_wallet", payout.NetWallet)
	return payout, nil
}
