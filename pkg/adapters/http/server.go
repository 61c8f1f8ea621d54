// Package http exposes a weft ledger over a JSON HTTP API with a server-sent event stream.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/aretw0/weft"
	"github.com/aretw0/weft/internal/logging"
	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/ports"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server serves one ledger.
type Server struct {
	Ledger ports.Sequencer
	logger *slog.Logger
}

// Option configures the handler.
type Option func(*Server)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewHandler creates the HTTP handler for a ledger.
func NewHandler(ledger ports.Sequencer, opts ...Option) http.Handler {
	s := &Server{Ledger: ledger, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Get("/epoch", s.GetEpoch)
	r.Post("/tick", s.Tick)

	r.Route("/interactions", func(r chi.Router) {
		r.Post("/", s.Submit)
		r.Get("/pending", s.GetPending)
		r.Get("/{index}", s.GetInteraction)
	})

	r.Route("/domains", func(r chi.Router) {
		r.Get("/", s.GetDomains)
		r.Post("/release", s.ReleaseAll)
		r.Get("/{id}", s.GetDomain)
		r.Get("/{id}/pending", s.GetDomainPending)
		r.Post("/{id}/votes", s.Vote)
		r.Post("/{id}/release", s.Release)
	})

	r.Route("/external", func(r chi.Router) {
		r.Get("/", s.GetExternal)
		r.Post("/", s.Designate)
		r.Delete("/", s.Revoke)
		r.Post("/votes", s.VoteExternal)
	})

	r.Get("/commits", s.GetCommits)
	r.Post("/tasks/complete", s.CompleteTask)
	r.Get("/events", s.SubscribeEvents)

	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SubmitRequest is the body of POST /interactions.
type SubmitRequest struct {
	Caller     string `json:"caller"`
	InstanceID uint64 `json:"instance_id"`
	TaskName   string `json:"task_name"`
}

// SubmitResponse reports the index assigned to a submission.
type SubmitResponse struct {
	Index uint64 `json:"index"`
}

// VoteRequest is the body of domain and external votes.
type VoteRequest struct {
	Caller string   `json:"caller"`
	Order  []uint64 `json:"order"`
}

// MaxTickBlocks bounds the blocks one POST /tick may advance. Every block is a locked
// ledger write.
const MaxTickBlocks = 1000

// TickRequest is the optional body of POST /tick.
type TickRequest struct {
	Blocks int `json:"blocks"`
}

// DesignateRequest is the body of POST /external.
type DesignateRequest struct {
	Addresses []string `json:"addresses"`
	FromEpoch uint64   `json:"from_epoch"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error    string                `json:"error"`
	Conflict *domain.ConflictError `json:"conflict,omitempty"`
}

// Submit handles POST /interactions.
func (s *Server) Submit(w http.ResponseWriter, r *http.Request) {
	var body SubmitRequest
	if !s.decode(w, r, &body) {
		return
	}
	idx, err := s.Ledger.Submit(r.Context(), body.Caller, domain.TaskKey{InstanceID: body.InstanceID, TaskName: body.TaskName})
	if err != nil {
		s.fail(w, "Submit", err)
		return
	}
	s.respond(w, http.StatusCreated, SubmitResponse{Index: idx})
}

// GetInteraction handles GET /interactions/{index}.
func (s *Server) GetInteraction(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid interaction index", http.StatusBadRequest)
		return
	}
	i, err := s.Ledger.Interaction(r.Context(), idx)
	if err != nil {
		s.fail(w, "GetInteraction", err)
		return
	}
	s.respond(w, http.StatusOK, i)
}

// GetPending handles GET /interactions/pending.
func (s *Server) GetPending(w http.ResponseWriter, r *http.Request) {
	pending, err := s.Ledger.Pending(r.Context())
	if err != nil {
		s.fail(w, "GetPending", err)
		return
	}
	s.respond(w, http.StatusOK, nonNil(pending))
}

// GetDomains handles GET /domains.
func (s *Server) GetDomains(w http.ResponseWriter, r *http.Request) {
	domains, err := s.Ledger.Domains(r.Context())
	if err != nil {
		s.fail(w, "GetDomains", err)
		return
	}
	s.respond(w, http.StatusOK, nonNil(domains))
}

// GetDomain handles GET /domains/{id}.
func (s *Server) GetDomain(w http.ResponseWriter, r *http.Request) {
	id, ok := domainParam(w, r)
	if !ok {
		return
	}
	d, err := s.Ledger.Domain(r.Context(), id)
	if err != nil {
		s.fail(w, "GetDomain", err)
		return
	}
	s.respond(w, http.StatusOK, d)
}

// GetDomainPending handles GET /domains/{id}/pending?address=.
func (s *Server) GetDomainPending(w http.ResponseWriter, r *http.Request) {
	id, ok := domainParam(w, r)
	if !ok {
		return
	}
	addr := r.URL.Query().Get("address")
	if addr == "" {
		http.Error(w, "Missing address", http.StatusBadRequest)
		return
	}
	pending, err := s.Ledger.PendingFor(r.Context(), id, addr)
	if err != nil {
		s.fail(w, "GetDomainPending", err)
		return
	}
	s.respond(w, http.StatusOK, nonNil(pending))
}

// Vote handles POST /domains/{id}/votes. A conflict is a successful vote whose result
// lists it; clients re-vote after reading the details.
func (s *Server) Vote(w http.ResponseWriter, r *http.Request) {
	id, ok := domainParam(w, r)
	if !ok {
		return
	}
	var body VoteRequest
	if !s.decode(w, r, &body) {
		return
	}
	res, err := s.Ledger.Vote(r.Context(), body.Caller, id, body.Order)
	if err != nil {
		s.fail(w, "Vote", err)
		return
	}
	s.respond(w, http.StatusOK, res)
}

// VoteExternal handles POST /external/votes.
func (s *Server) VoteExternal(w http.ResponseWriter, r *http.Request) {
	var body VoteRequest
	if !s.decode(w, r, &body) {
		return
	}
	res, err := s.Ledger.VoteExternal(r.Context(), body.Caller, body.Order)
	if err != nil {
		s.fail(w, "VoteExternal", err)
		return
	}
	s.respond(w, http.StatusOK, res)
}

// Release handles POST /domains/{id}/release.
func (s *Server) Release(w http.ResponseWriter, r *http.Request) {
	id, ok := domainParam(w, r)
	if !ok {
		return
	}
	c, err := s.Ledger.Release(r.Context(), id)
	if err != nil {
		s.fail(w, "Release", err)
		return
	}
	s.respond(w, http.StatusOK, c)
}

// ReleaseAll handles POST /domains/release.
func (s *Server) ReleaseAll(w http.ResponseWriter, r *http.Request) {
	commits, err := s.Ledger.ReleaseAll(r.Context())
	if err != nil {
		s.fail(w, "ReleaseAll", err)
		return
	}
	s.respond(w, http.StatusOK, nonNil(commits))
}

// GetEpoch handles GET /epoch.
func (s *Server) GetEpoch(w http.ResponseWriter, r *http.Request) {
	ep, err := s.Ledger.Epoch(r.Context())
	if err != nil {
		s.fail(w, "GetEpoch", err)
		return
	}
	s.respond(w, http.StatusOK, ep)
}

// Tick handles POST /tick. An empty body advances one block.
func (s *Server) Tick(w http.ResponseWriter, r *http.Request) {
	body := TickRequest{Blocks: 1}
	if r.ContentLength != 0 && !s.decode(w, r, &body) {
		return
	}
	if body.Blocks < 1 || body.Blocks > MaxTickBlocks {
		http.Error(w, fmt.Sprintf("blocks must be between 1 and %d", MaxTickBlocks), http.StatusBadRequest)
		return
	}

	var (
		ep  domain.Epoch
		err error
	)
	for range body.Blocks {
		if ep, err = s.Ledger.Tick(r.Context()); err != nil {
			s.fail(w, "Tick", err)
			return
		}
	}
	s.respond(w, http.StatusOK, ep)
}

// CompleteTask handles POST /tasks/complete.
func (s *Server) CompleteTask(w http.ResponseWriter, r *http.Request) {
	var key domain.TaskKey
	if !s.decode(w, r, &key) {
		return
	}
	if err := s.Ledger.CompleteTask(r.Context(), key); err != nil {
		s.fail(w, "CompleteTask", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetExternal handles GET /external?epoch=. The current epoch is used by default.
func (s *Server) GetExternal(w http.ResponseWriter, r *http.Request) {
	var epoch uint64
	if raw := r.URL.Query().Get("epoch"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "Invalid epoch", http.StatusBadRequest)
			return
		}
		epoch = n
	} else {
		ep, err := s.Ledger.Epoch(r.Context())
		if err != nil {
			s.fail(w, "GetExternal", err)
			return
		}
		epoch = ep.Number
	}

	addrs, err := s.Ledger.ExternalOrderers(r.Context(), epoch)
	if err != nil {
		s.fail(w, "GetExternal", err)
		return
	}
	s.respond(w, http.StatusOK, nonNil(addrs))
}

// Designate handles POST /external.
func (s *Server) Designate(w http.ResponseWriter, r *http.Request) {
	var body DesignateRequest
	if !s.decode(w, r, &body) {
		return
	}
	if len(body.Addresses) == 0 {
		http.Error(w, "addresses must not be empty", http.StatusBadRequest)
		return
	}
	if err := s.Ledger.Designate(r.Context(), body.Addresses, body.FromEpoch); err != nil {
		s.fail(w, "Designate", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Revoke handles DELETE /external.
func (s *Server) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := s.Ledger.Revoke(r.Context()); err != nil {
		s.fail(w, "Revoke", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetCommits handles GET /commits.
func (s *Server) GetCommits(w http.ResponseWriter, r *http.Request) {
	commits, err := s.Ledger.Committed(r.Context())
	if err != nil {
		s.fail(w, "GetCommits", err)
		return
	}
	s.respond(w, http.StatusOK, nonNil(commits))
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles GET /info.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{
		"app":     "weft-http",
		"version": strings.TrimSpace(weft.Version),
	})
}

// SubscribeEvents handles GET /events (SSE). ?type=committed,conflict filters by event type.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("SubscribeEvents: Streaming not supported")
		return
	}

	var filter []domain.EventType
	if raw := r.URL.Query().Get("type"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			filter = append(filter, domain.EventType(strings.TrimSpace(t)))
		}
	}

	events, cancel := s.Ledger.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE client disconnected")
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if len(filter) > 0 && !slices.Contains(filter, e.Type) {
				continue
			}
			data, err := json.Marshal(e)
			if err != nil {
				s.logger.Error("SSE: event encode failed", "err", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
			flusher.Flush()
		}
	}
}

// -- Helpers --

func domainParam(w http.ResponseWriter, r *http.Request) (domain.DomainID, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		http.Error(w, "Invalid domain id", http.StatusBadRequest)
		return 0, false
	}
	return domain.DomainID(id), true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		s.logger.Warn("Invalid request body", "path", r.URL.Path, "err", err)
		return false
	}
	return true
}

func (s *Server) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Response encode failed", "err", err)
	}
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", "err", err)
	} else {
		s.logger.Debug(op+" rejected", "err", err)
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}

	resp := ErrorResponse{Error: err.Error()}
	var conflict *domain.ConflictError
	if errors.As(err, &conflict) {
		resp.Conflict = conflict
	}
	s.respond(w, status, resp)
}

// StatusFor maps ledger errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrMalformedSubmission), errors.Is(err, domain.ErrUnknownTask):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotParticipant), errors.Is(err, domain.ErrNotOrderer):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrDomainNotFound), errors.Is(err, domain.ErrInteractionNotFound),
		errors.Is(err, domain.ErrLedgerNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrTaskNotOpen), errors.Is(err, domain.ErrVotingClosed),
		errors.Is(err, domain.ErrOverrideActive), errors.Is(err, domain.ErrNoOverride),
		errors.Is(err, domain.ErrDomainResolved), errors.Is(err, domain.ErrNotReleaseEligible),
		errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTransientSubmission):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
