/*
handlers.go - HTTP API handlers for the recurring transaction engine

PURPOSE:
  Exposes the recurrence engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Definitions:
    GET    /api/recurring                      List definitions
    POST   /api/recurring                      Create definition
    GET    /api/recurring/{id}                 Get definition
    PUT    /api/recurring/{id}                 Update definition
    DELETE /api/recurring/{id}                 Delete definition
    POST   /api/recurring/{id}/skip            Skip next occurrence
    GET    /api/recurring/{id}/transactions    Generated transactions
    GET    /api/recurring/{id}/upcoming        Forecast occurrences

  Processing:
    POST   /api/recurring/process              Trigger due processing
    GET    /api/recurring/runs                 Scheduled run history

OWNER IDENTITY:
  Every operation is scoped to an owner. Authentication is out of scope:
  the upstream gateway authenticates the user and sets X-Owner-ID. The
  engine never trusts a caller-supplied owner on a record it did not look
  up under that id; a missing header is a 401.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid policy, malformed input
  - 401: Missing owner identity
  - 404: Definition not found (or not owned)
  - 409: Operation invalid for current status
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - recurrence/engine.go: Domain logic
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/Nicolas-Jorq/budget-app-sub003/recurrence"
	"github.com/Nicolas-Jorq/budget-app-sub003/store/sqlite"
)

// OwnerHeader carries the pre-authenticated owner identity.
const OwnerHeader = "X-Owner-ID"

// DefaultUpcomingLimit caps forecast length when the client gives none.
const DefaultUpcomingLimit = 100

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *recurrence.Engine
	Store  *sqlite.Store
}

// NewHandler creates a new handler backed by the given store.
func NewHandler(store *sqlite.Store) *Handler {
	return &Handler{
		Engine: recurrence.NewEngine(store),
		Store:  store,
	}
}

func ownerID(r *http.Request) recurrence.OwnerID {
	return recurrence.OwnerID(r.Header.Get(OwnerHeader))
}

// =============================================================================
// DEFINITION HANDLERS
// =============================================================================

// ListDefinitions returns all definitions for the owner.
func (h *Handler) ListDefinitions(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "Missing owner identity", nil)
		return
	}

	defs, err := h.Store.ListDefinitions(r.Context(), owner)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list definitions", err)
		return
	}

	dtos := make([]DefinitionDTO, len(defs))
	for i, def := range defs {
		dtos[i] = toDefinitionDTO(def)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetDefinition returns a single owned definition.
func (h *Handler) GetDefinition(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "Missing owner identity", nil)
		return
	}
	id := recurrence.DefinitionID(chi.URLParam(r, "id"))

	def, err := h.Store.GetDefinition(r.Context(), id, owner)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDefinitionDTO(*def))
}

// CreateDefinition creates a new recurring definition.
func (h *Handler) CreateDefinition(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "Missing owner identity", nil)
		return
	}

	var req CreateDefinitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount (use a decimal string)", err)
		return
	}
	startDate, err := recurrence.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)", err)
		return
	}
	var endDate *recurrence.Date
	if req.EndDate != nil {
		end, err := recurrence.ParseDate(*req.EndDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid end_date format (use YYYY-MM-DD)", err)
			return
		}
		endDate = &end
	}

	def, err := h.Engine.Create(r.Context(), owner, recurrence.Template{
		Amount:      amount,
		Category:    req.Category,
		Description: req.Description,
		Type:        recurrence.FlowType(req.Type),
		Frequency:   recurrence.Frequency(req.Frequency),
		Interval:    req.Interval,
		StartDate:   startDate,
		EndDate:     endDate,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDefinitionDTO(*def))
}

// UpdateDefinition applies a partial update.
func (h *Handler) UpdateDefinition(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "Missing owner identity", nil)
		return
	}
	id := recurrence.DefinitionID(chi.URLParam(r, "id"))

	var req UpdateDefinitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.StartDate != nil {
		writeError(w, http.StatusBadRequest, "start_date is immutable; create a new definition instead", nil)
		return
	}
	if req.OccurrenceCount != nil {
		writeError(w, http.StatusBadRequest, "occurrence_count cannot be set directly", nil)
		return
	}

	var patch recurrence.Patch
	if req.Amount != nil {
		amount, err := decimal.NewFromString(*req.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid amount (use a decimal string)", err)
			return
		}
		patch.Amount = &amount
	}
	patch.Category = req.Category
	patch.Description = req.Description
	if req.Type != nil {
		t := recurrence.FlowType(*req.Type)
		patch.Type = &t
	}
	if req.Frequency != nil {
		f := recurrence.Frequency(*req.Frequency)
		patch.Frequency = &f
	}
	patch.Interval = req.Interval
	patch.ClearEnd = req.ClearEnd
	if req.EndDate != nil {
		end, err := recurrence.ParseDate(*req.EndDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid end_date format (use YYYY-MM-DD)", err)
			return
		}
		patch.EndDate = &end
	}
	if req.Status != nil {
		s := recurrence.Status(*req.Status)
		patch.Status = &s
	}

	def, err := h.Engine.Update(r.Context(), id, owner, patch)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDefinitionDTO(*def))
}

// DeleteDefinition removes a definition; its generated transactions
// remain as historical records.
func (h *Handler) DeleteDefinition(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "Missing owner identity", nil)
		return
	}
	id := recurrence.DefinitionID(chi.URLParam(r, "id"))

	if err := h.Engine.Delete(r.Context(), id, owner); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SkipDefinition advances the cursor without generating a transaction.
func (h *Handler) SkipDefinition(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "Missing owner identity", nil)
		return
	}
	id := recurrence.DefinitionID(chi.URLParam(r, "id"))

	def, err := h.Engine.SkipNext(r.Context(), id, owner)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDefinitionDTO(*def))
}

// =============================================================================
// TRANSACTION / FORECAST HANDLERS
// =============================================================================

// ListGeneratedTransactions returns the transactions generated from a
// definition. Read-only projection.
func (h *Handler) ListGeneratedTransactions(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "Missing owner identity", nil)
		return
	}
	id := recurrence.DefinitionID(chi.URLParam(r, "id"))

	// Confirm ownership before exposing the projection.
	if _, err := h.Store.GetDefinition(r.Context(), id, owner); err != nil {
		writeDomainError(w, err)
		return
	}

	txs, err := h.Store.ListTransactions(r.Context(), owner, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// Upcoming returns the forecast of upcoming occurrence dates. Purely
// computed; no stored cursor is touched.
func (h *Handler) Upcoming(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "Missing owner identity", nil)
		return
	}
	id := recurrence.DefinitionID(chi.URLParam(r, "id"))

	def, err := h.Store.GetDefinition(r.Context(), id, owner)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	horizon := recurrence.Today().AddDays(365)
	if raw := r.URL.Query().Get("horizon"); raw != "" {
		horizon, err = recurrence.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid horizon format (use YYYY-MM-DD)", err)
			return
		}
	}
	limit := DefaultUpcomingLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit (use a positive integer)", err)
			return
		}
	}

	dates, err := recurrence.Upcoming(*def, horizon, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	occurrences := make([]string, len(dates))
	for i, d := range dates {
		occurrences[i] = d.String()
	}
	writeJSON(w, http.StatusOK, UpcomingResponse{
		DefinitionID: string(id),
		Horizon:      horizon.String(),
		Occurrences:  occurrences,
	})
}

// =============================================================================
// PROCESSING HANDLERS
// =============================================================================

// ProcessDue triggers due processing for the owner. Idempotent: re-runs
// with the same or a later as_of generate nothing new.
func (h *Handler) ProcessDue(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "Missing owner identity", nil)
		return
	}

	var asOf recurrence.Date
	if r.Body != nil && r.ContentLength != 0 {
		var req ProcessDueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
		if req.AsOf != nil {
			parsed, err := recurrence.ParseDate(*req.AsOf)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid as_of format (use YYYY-MM-DD)", err)
				return
			}
			asOf = parsed
		}
	}

	result, err := h.Engine.ProcessDue(r.Context(), owner, asOf)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Due processing failed", err)
		return
	}

	resp := ProcessDueResponse{
		Generated:           toTransactionDTOs(result.Generated),
		DefinitionsAdvanced: result.DefinitionsAdvanced,
	}
	if resp.Generated == nil {
		resp.Generated = []GeneratedTransactionDTO{}
	}
	for _, f := range result.Failed {
		resp.Failed = append(resp.Failed, DefinitionFailureDTO{
			DefinitionID: string(f.DefinitionID),
			Error:        f.Err.Error(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListProcessingRuns returns recent scheduled run records for the owner.
func (h *Handler) ListProcessingRuns(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "Missing owner identity", nil)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	runs, err := h.Store.ListProcessingRuns(r.Context(), owner, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}

	dtos := make([]ProcessingRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toProcessingRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Error = message + ": " + err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case recurrence.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, recurrence.ErrConflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "conflict"})
	case errors.Is(err, recurrence.ErrValidation):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "validation"})
	case errors.Is(err, recurrence.ErrInvalidPolicy):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid_policy"})
	default:
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
}
