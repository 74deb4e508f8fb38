// Package ledger provides account-ledger sinks.
// Clean Architecture: Adapters implementing ports.LedgerSink.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/covermind/covermind/internal/domain/entities"
)

// HTTPLedger posts wallet/vault deltas to the external account ledger.
type HTTPLedger struct {
	baseURL string
	client  *http.Client
}

// NewHTTPLedger creates a ledger client against baseURL.
func NewHTTPLedger(baseURL string, timeout time.Duration) *HTTPLedger {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPLedger{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type payoutRequest struct {
	PlayerID    string  `json:"player_id"`
	P           float64 `json:"p"`
	Gross       int     `json:"gross"`
	WalletDelta int     `json:"wallet_delta"`
	VaultDelta  int     `json:"vault_delta"`
}

// RecordPayout emits a scored round's deltas. WalletDelta is net of the
// entry fee.
func (l *HTTPLedger) RecordPayout(ctx context.Context, playerID string, payout *entities.Payout) error {
	jsonData, err := json.Marshal(payoutRequest{
		PlayerID:    playerID,
		P:           payout.P,
		Gross:       payout.Gross,
		WalletDelta: payout.NetWallet,
		VaultDelta:  payout.VaultAward,
	})
	if err != nil {
		return fmt.Errorf("marshaling payout: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/v1/payouts", bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling ledger: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("ledger returned status %d", resp.StatusCode)
	}
	return nil
}

// InMemoryLedger records payouts locally, for tests and dev mode.
type InMemoryLedger struct {
	mu      sync.Mutex
	entries []Entry
}

// Entry is one recorded payout.
type Entry struct {
	PlayerID string
	Payout   entities.Payout
}

// NewInMemoryLedger creates an empty in-memory ledger.
func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{}
}

// RecordPayout appends the payout.
func (l *InMemoryLedger) RecordPayout(ctx context.Context, playerID string, payout *entities.Payout) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{PlayerID: playerID, Payout: *payout})
	return nil
}

// Entries returns a copy of everything recorded so far.
func (l *InMemoryLedger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}
