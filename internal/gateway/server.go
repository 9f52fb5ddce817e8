// Package gateway exposes the trust boundary over HTTP. Every request
// passes the per-client rate limiter; everything except pairing and health
// also requires a paired bearer token.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andywolf/agentgate/internal/audit"
	"github.com/andywolf/agentgate/internal/command"
	"github.com/andywolf/agentgate/internal/pairing"
	"github.com/andywolf/agentgate/internal/secrets"
	"github.com/andywolf/agentgate/internal/security"
	"github.com/andywolf/agentgate/internal/webhook"
)

// maxBodyBytes bounds request bodies; command strings and secret values
// are small.
const maxBodyBytes = 1 << 20

// Server wires the gateway components behind an HTTP listener.
type Server struct {
	logger    *Logger
	guard     *pairing.Guard
	validator *command.Validator
	policy    command.Policy
	store     *secrets.Store
	verifier  *webhook.Verifier
	limiter   *security.RequestLimiter
	trail     *audit.FileSink

	httpServer *http.Server
}

// ServerConfig carries the collaborators a Server needs. Store, Verifier,
// and Trail are optional; the matching endpoints return 404 or skip audit
// when absent.
type ServerConfig struct {
	Addr              string
	RequestsPerMinute int

	Logger    *Logger
	Guard     *pairing.Guard
	Validator *command.Validator
	Policy    command.Policy
	Store     *secrets.Store
	Verifier  *webhook.Verifier
	Trail     *audit.FileSink
}

// NewServer builds the server and its routing table.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		logger:    cfg.Logger,
		guard:     cfg.Guard,
		validator: cfg.Validator,
		policy:    cfg.Policy,
		store:     cfg.Store,
		verifier:  cfg.Verifier,
		limiter:   security.NewRequestLimiter(cfg.RequestsPerMinute, time.Minute),
		trail:     cfg.Trail,
	}
	if s.logger == nil {
		s.logger = NewLogger()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/pair", s.handlePair)
	mux.Handle("/v1/commands/validate", s.guard.Middleware(http.HandlerFunc(s.handleValidate)))
	mux.Handle("/v1/secrets/", s.guard.Middleware(http.HandlerFunc(s.handleSecrets)))
	mux.HandleFunc("/v1/webhooks", s.handleWebhook)

	limited := s.limiter.Middleware(security.ClientKey)(mux)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           limited,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe runs the HTTP listener until Shutdown or failure.
func (s *Server) ListenAndServe() error {
	s.logger.Infof("gateway listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the composed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type pairRequest struct {
	Code string `json:"code"`
}

type pairResponse struct {
	Token string `json:"token"`
}

func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// First contact carries the code in the X-Pairing-Code header; a JSON
	// body field is accepted as a fallback for clients that prefer it.
	code := strings.TrimSpace(r.Header.Get("X-Pairing-Code"))
	if code == "" {
		var req pairRequest
		if err := decodeJSON(r, &req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		code = req.Code
	}

	identity := security.ClientKey(r)
	token, err := s.guard.Pair(identity, code)
	if err != nil {
		s.recordAuth(identity, "pair_failed", err.Error())
		switch {
		case errors.Is(err, pairing.ErrLockedOut):
			http.Error(w, err.Error(), http.StatusTooManyRequests)
		case errors.Is(err, pairing.ErrAlreadyPaired):
			http.Error(w, "pairing code already used", http.StatusConflict)
		default:
			http.Error(w, "pairing failed", http.StatusUnauthorized)
		}
		return
	}

	s.recordAuth(identity, "paired", "")
	s.logger.Infof("client %s paired", identity)
	writeJSON(w, http.StatusOK, pairResponse{Token: token})
}

type validateRequest struct {
	Command   string `json:"command"`
	Approved  bool   `json:"approved"`
	CostCents int    `json:"cost_cents"`
}

type validateResponse struct {
	Outcome string `json:"outcome"`
	Tier    string `json:"tier"`
	Reason  string `json:"reason,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req validateRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	verdict := s.validator.Validate(command.Request{
		Command:   req.Command,
		Approved:  req.Approved,
		CostCents: req.CostCents,
	}, s.policy)

	if s.trail != nil {
		ev := audit.NewEvent(audit.CategoryVerdict, verdict.Outcome.String())
		ev.Reason = verdict.Reason
		ev.Identity = security.ClientKey(r)
		ev.Detail = verdict.Detail
		ev.Metadata = map[string]string{
			"command": req.Command,
			"tier":    verdict.Tier.String(),
		}
		if err := s.trail.Record(ev); err != nil {
			s.logger.Errorf("audit record failed: %v", err)
		}
	}

	writeJSON(w, http.StatusOK, validateResponse{
		Outcome: verdict.Outcome.String(),
		Tier:    verdict.Tier.String(),
		Reason:  verdict.Reason,
		Detail:  verdict.Detail,
	})
}

type secretRequest struct {
	Value string `json:"value"`
}

type secretResponse struct {
	Name  string `json:"name"`
	Value string `json:"value,omitempty"`
}

// handleSecrets serves /v1/secrets/{name}: GET reads, PUT writes, DELETE
// removes. Listing is deliberately not exposed over HTTP; it is a CLI
// operation.
func (s *Server) handleSecrets(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "secret store not configured", http.StatusNotFound)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/v1/secrets/")
	if name == "" || strings.Contains(name, "/") {
		http.Error(w, "invalid secret name", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		value, err := s.store.Get(name)
		if err != nil {
			if errors.Is(err, secrets.ErrNotFound) {
				http.Error(w, "secret not found", http.StatusNotFound)
				return
			}
			s.logger.Errorf("secret read failed: %v", err)
			http.Error(w, "secret unavailable", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, secretResponse{Name: name, Value: value})

	case http.MethodPut:
		var req secretRequest
		if err := decodeJSON(r, &req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := s.store.Set(name, req.Value); err != nil {
			s.logger.Errorf("secret write failed: %v", err)
			http.Error(w, "secret write failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, secretResponse{Name: name})

	case http.MethodDelete:
		if err := s.store.Delete(name); err != nil {
			s.logger.Errorf("secret delete failed: %v", err)
			http.Error(w, "secret delete failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleWebhook verifies an inbound delivery. It authenticates with the
// HMAC signature rather than a bearer token: webhook senders are external
// systems that never pair.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.verifier == nil {
		http.Error(w, "webhooks not configured", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	err = s.verifier.Verify(body,
		r.Header.Get("X-Signature"),
		r.Header.Get("X-Timestamp"),
		r.Header.Get("X-Idempotency-Key"))
	if err != nil {
		s.recordWebhook(security.ClientKey(r), err)
		switch {
		case errors.Is(err, webhook.ErrReplayed):
			http.Error(w, "duplicate delivery", http.StatusConflict)
		case errors.Is(err, webhook.ErrStaleTimestamp):
			http.Error(w, "stale delivery", http.StatusBadRequest)
		case errors.Is(err, webhook.ErrMissingIdempotencyKey):
			http.Error(w, "idempotency key required", http.StatusBadRequest)
		default:
			http.Error(w, "signature verification failed", http.StatusUnauthorized)
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) recordAuth(identity, outcome, detail string) {
	if s.trail == nil {
		return
	}
	ev := audit.NewEvent(audit.CategoryAuth, outcome)
	ev.Identity = identity
	ev.Detail = detail
	if err := s.trail.Record(ev); err != nil {
		s.logger.Errorf("audit record failed: %v", err)
	}
}

func (s *Server) recordWebhook(identity string, verifyErr error) {
	if s.trail == nil {
		return
	}
	ev := audit.NewEvent(audit.CategoryWebhook, "rejected")
	ev.Identity = identity
	ev.Detail = verifyErr.Error()
	if err := s.trail.Record(ev); err != nil {
		s.logger.Errorf("audit record failed: %v", err)
	}
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
