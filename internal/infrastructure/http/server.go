// Package http provides the HTTP server infrastructure.
// Clean Architecture: Framework/driver layer - outermost circle.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/covermind/covermind/internal/domain/entities"
	"github.com/covermind/covermind/internal/domain/ports"
	"github.com/covermind/covermind/internal/domain/usecases"
	"github.com/covermind/covermind/internal/infrastructure/metrics"
)

// Server is the HTTP API for the matching and scoring engine.
type Server struct {
	rounds   *usecases.RoundEngine
	corpus   *usecases.CorpusManager
	embedder ports.EmbeddingService
	addr     string
	log      *slog.Logger
}

// NewServer creates a new HTTP server.
func NewServer(
	rounds *usecases.RoundEngine,
	corpus *usecases.CorpusManager,
	embedder ports.EmbeddingService,
	addr string,
	log *slog.Logger,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		rounds:   rounds,
		corpus:   corpus,
		embedder: embedder,
		addr:     addr,
		log:      log,
	}
}

// Handler builds the API routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/rounds", s.handleStartRound)
	mux.HandleFunc("POST /api/rounds/{id}/guesses", s.handleSubmitGuess)
	mux.HandleFunc("POST /api/rounds/{id}/quit", s.handleQuitRound)
	mux.HandleFunc("GET /api/rounds/{id}", s.handleRoundState)
	mux.HandleFunc("POST /api/prompts", s.handleCreatePrompt)
	mux.HandleFunc("POST /api/prompts/{id}/answers", s.handleAddAnswer)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s.loggingMiddleware(mux)
}

// Start runs the HTTP server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	s.log.Info("server starting", "addr", s.addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type startRoundRequest struct {
	PlayerID string `json:"player_id"`
	PromptID string `json:"prompt_id"`
}

type startRoundResponse struct {
	RoundID       string `json:"round_id"`
	TotalClusters int    `json:"total_clusters"`
}

func (s *Server) handleStartRound(w http.ResponseWriter, r *http.Request) {
	var req startRoundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlayerID == "" || req.PromptID == "" {
		writeError(w, http.StatusBadRequest, "player_id and prompt_id are required")
		return
	}

	info, err := s.rounds.StartRound(r.Context(), req.PlayerID, req.PromptID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	metrics.RoundsStarted.Inc()
	writeJSON(w, http.StatusCreated, startRoundResponse{
		RoundID:       info.RoundID,
		TotalClusters: info.TotalClusters,
	})
}

type submitGuessRequest struct {
	Text string `json:"text"`
}

type submitGuessResponse struct {
	Accepted            bool            `json:"accepted"`
	Reason              string          `json:"reason,omitempty"`
	MatchedClusterCount int             `json:"matched_cluster_count"`
	Strikes             int             `json:"strikes"`
	Status              string          `json:"status"`
	Payout              *payoutResponse `json:"payout,omitempty"`
}

type payoutResponse struct {
	P           float64 `json:"p"`
	Gross       int     `json:"gross"`
	WalletAward int     `json:"wallet_award"`
	VaultAward  int     `json:"vault_award"`
	NetWallet   int     `json:"net_wallet"`
}

func toPayoutResponse(p *entities.Payout) *payoutResponse {
	if p == nil {
		return nil
	}
	return &payoutResponse{
		P:           p.P,
		Gross:       p.Gross,
		WalletAward: p.WalletAward,
		VaultAward:  p.VaultAward,
		NetWallet:   p.NetWallet,
	}
}

func (s *Server) handleSubmitGuess(w http.ResponseWriter, r *http.Request) {
	var req submitGuessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	start := time.Now()
	outcome, err := s.rounds.SubmitGuess(r.Context(), r.PathValue("id"), req.Text)
	metrics.GuessLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	switch {
	case !outcome.Accepted:
		metrics.Guesses.WithLabelValues("rejected").Inc()
	case len(outcome.MatchedClusterIDs) == 0:
		metrics.Guesses.WithLabelValues("strike").Inc()
	default:
		metrics.Guesses.WithLabelValues("matched").Inc()
	}
	if outcome.Status.Terminal() {
		metrics.RoundsTerminated.WithLabelValues(string(outcome.Status)).Inc()
	}

	writeJSON(w, http.StatusOK, submitGuessResponse{
		Accepted:            outcome.Accepted,
		Reason:              outcome.Reason,
		MatchedClusterCount: len(outcome.MatchedClusterIDs),
		Strikes:             outcome.Strikes,
		Status:              string(outcome.Status),
		Payout:              toPayoutResponse(outcome.Payout),
	})
}

func (s *Server) handleQuitRound(w http.ResponseWriter, r *http.Request) {
	payout, err := s.rounds.QuitRound(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	metrics.RoundsTerminated.WithLabelValues(string(entities.RoundQuit)).Inc()
	writeJSON(w, http.StatusOK, toPayoutResponse(&payout))
}

type roundStateResponse struct {
	Strikes             int             `json:"strikes"`
	MatchedClusterCount int             `json:"matched_cluster_count"`
	TotalClusters       int             `json:"total_clusters"`
	Status              string          `json:"status"`
	Payout              *payoutResponse `json:"payout,omitempty"`
}

func (s *Server) handleRoundState(w http.ResponseWriter, r *http.Request) {
	view, err := s.rounds.RoundState(r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roundStateResponse{
		Strikes:             view.Strikes,
		MatchedClusterCount: view.MatchedClusterCount,
		TotalClusters:       view.TotalClusters,
		Status:              string(view.Status),
		Payout:              toPayoutResponse(view.Payout),
	})
}

type createPromptRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleCreatePrompt(w http.ResponseWriter, r *http.Request) {
	var req createPromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	prompt, err := s.corpus.RegisterPrompt(r.Context(), req.Text)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"prompt_id": prompt.ID})
}

type addAnswerRequest struct {
	Text        string `json:"text"`
	SubmitterID string `json:"submitter_id"`
}

// handleAddAnswer is the corpus-feeding endpoint for the content pipeline.
// Callers are trusted to have run phrase validation upstream.
func (s *Server) handleAddAnswer(w http.ResponseWriter, r *http.Request) {
	var req addAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" || req.SubmitterID == "" {
		writeError(w, http.StatusBadRequest, "text and submitter_id are required")
		return
	}

	embedding, err := s.embedder.Embed(r.Context(), req.Text)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	answerID, err := s.corpus.AddAnswer(r.Context(), r.PathValue("id"), req.Text, embedding, req.SubmitterID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"answer_id": answerID})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeEngineError maps the domain error taxonomy onto HTTP status codes.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, usecases.ErrRoundNotFound), errors.Is(err, usecases.ErrPromptNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, usecases.ErrRoundConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ports.ErrTransientService):
		writeError(w, http.StatusServiceUnavailable, "a backing service is temporarily unavailable, try again")
	default:
		s.log.Error("internal error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
