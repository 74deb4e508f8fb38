// Package validation provides the client for the external phrase validator.
// Clean Architecture: Adapter implementing ports.PhraseValidator.
package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/covermind/covermind/internal/domain/entities"
	"github.com/covermind/covermind/internal/domain/ports"
)

const (
	defaultTimeout = 5 * time.Second
	maxRetries     = 2
)

// HTTPValidator calls the phrase-validator service: structural, dictionary,
// moderation and topic-relevance checks all live behind that service. A
// rejection is a normal response; only transport/service failures surface
// as ports.ErrTransientService.
type HTTPValidator struct {
	baseURL string
	client  *http.Client
}

// NewHTTPValidator creates a validator client against baseURL.
func NewHTTPValidator(baseURL string, timeout time.Duration) *HTTPValidator {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPValidator{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type validateRequest struct {
	Text   string `json:"text"`
	Prompt string `json:"prompt"`
}

type validateResponse struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason"`
}

// Validate checks a guess against the prompt.
func (v *HTTPValidator) Validate(ctx context.Context, text, promptText string) (entities.ValidationResult, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		res, err := v.validateOnce(ctx, text, promptText)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return entities.ValidationResult{}, fmt.Errorf("%w: validator after %d attempts: %v", ports.ErrTransientService, maxRetries+1, lastErr)
}

func (v *HTTPValidator) validateOnce(ctx context.Context, text, promptText string) (entities.ValidationResult, error) {
	jsonData, err := json.Marshal(validateRequest{Text: text, Prompt: promptText})
	if err != nil {
		return entities.ValidationResult{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/v1/validate", bytes.NewReader(jsonData))
	if err != nil {
		return entities.ValidationResult{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return entities.ValidationResult{}, fmt.Errorf("calling validator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return entities.ValidationResult{}, fmt.Errorf("validator returned status %d", resp.StatusCode)
	}

	var out validateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return entities.ValidationResult{}, fmt.Errorf("decoding response: %w", err)
	}
	return entities.ValidationResult{OK: out.OK, Reason: out.Reason}, nil
}
