/*
handlers.go - HTTP API handlers for the settled ledger

PURPOSE:
  Exposes the ledger left behind by a settlement run for inspection. The
  API never writes: events only enter through the batch run.

ENDPOINTS:
  Accounts:
    GET    /api/accounts                      Snapshot, ordered by client
    GET    /api/accounts/{client}             One account
    GET    /api/accounts/{client}/disputes    Dispute records, any status
    GET    /api/accounts/{client}/events      Settled deposits and withdrawals

  Runs:
    GET    /api/runs                          Recorded batch runs

  Health:
    GET    /healthz

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Client id is not an unsigned 16-bit integer
  - 404: No account for the client
  - 500: Store failures

SEE ALSO:
  - dto.go: Response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/warp/settlement-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Reader is the part of a backend the API needs.
type Reader interface {
	ledger.AccountRepository
	ledger.SnapshotReader
	ListRuns(ctx context.Context) ([]ledger.RunSummary, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store Reader
	Log   *zap.Logger
}

// NewHandler creates a new handler with the given store. A nil logger
// discards diagnostics.
func NewHandler(store Reader, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Store: store, Log: log}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns every account ordered by client id.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accts, err := h.Store.ListAccounts(r.Context())
	if err != nil {
		h.internalError(w, r, "Failed to list accounts", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTOs(accts))
}

// GetAccount returns one client's account.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	client, ok := clientParam(w, r)
	if !ok {
		return
	}

	acct, err := h.Store.GetAccount(r.Context(), client)
	if err != nil {
		h.internalError(w, r, "Failed to get account", err)
		return
	}
	if acct == nil {
		writeError(w, http.StatusNotFound, "Account not found", ledger.ErrAccountNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTOs([]ledger.Account{*acct})[0])
}

// ListDisputes returns a client's dispute records.
func (h *Handler) ListDisputes(w http.ResponseWriter, r *http.Request) {
	client, ok := h.existingClient(w, r)
	if !ok {
		return
	}

	recs, err := h.Store.ListDisputes(r.Context(), client)
	if err != nil {
		h.internalError(w, r, "Failed to list disputes", err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeDTOs(recs))
}

// ListEvents returns a client's settled events.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	client, ok := h.existingClient(w, r)
	if !ok {
		return
	}

	entries, err := h.Store.ListEvents(r.Context(), client)
	if err != nil {
		h.internalError(w, r, "Failed to list events", err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTOs(entries))
}

// =============================================================================
// RUN HANDLERS
// =============================================================================

// ListRuns returns recorded batch runs, oldest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Store.ListRuns(r.Context())
	if err != nil {
		h.internalError(w, r, "Failed to list runs", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTOs(runs))
}

// Health reports that the server is up.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func clientParam(w http.ResponseWriter, r *http.Request) (ledger.ClientID, bool) {
	raw := chi.URLParam(r, "client")
	id, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid client id", err)
		return 0, false
	}
	return ledger.ClientID(id), true
}

// existingClient parses the client id and answers 404 when it has no account.
func (h *Handler) existingClient(w http.ResponseWriter, r *http.Request) (ledger.ClientID, bool) {
	client, ok := clientParam(w, r)
	if !ok {
		return 0, false
	}
	acct, err := h.Store.GetAccount(r.Context(), client)
	if err != nil {
		h.internalError(w, r, "Failed to get account", err)
		return 0, false
	}
	if acct == nil {
		writeError(w, http.StatusNotFound, "Account not found", ledger.ErrAccountNotFound)
		return 0, false
	}
	return client, true
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, message string, err error) {
	h.Log.Error(message,
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
