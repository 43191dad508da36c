/**
 * @description
 * Shared HTTP plumbing for the finance-service handlers: the Handlers type,
 * JSON response helpers, request decoding, and the mapping from domain errors
 * to HTTP status codes.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: URL parameters.
 * - github.com/google/uuid: Resource ids.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/nfinance/finance-service/internal/app"
	"github.com/nfinance/finance-service/internal/domain"
)

const maxBodyBytes = 1 << 20

// Handlers serves every /api route.
type Handlers struct {
	engine      *app.PostingEngine
	instruments *app.InstrumentService
	users       *app.UserService
}

// NewHandlers creates a new instance of Handlers.
func NewHandlers(engine *app.PostingEngine, instruments *app.InstrumentService, users *app.UserService) *Handlers {
	return &Handlers{engine: engine, instruments: instruments, users: users}
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("level=warn component=api msg=\"response encode failed\" err=%v", err)
		}
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, message, field string) {
	writeJSON(w, status, errorResponse{Error: message, Field: field})
}

// writeServiceError maps an error returned by the app layer onto a status code.
func writeServiceError(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	var validation *domain.ValidationError
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Error(), validation.Field)
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error(), "")
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "Unauthorized", "")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error(), "")
	case errors.Is(err, domain.ErrInstrumentInUse),
		errors.Is(err, domain.ErrEmailTaken),
		errors.Is(err, domain.ErrPhoneTaken),
		errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err.Error(), "")
	case domain.IsBusinessRule(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), "")
	default:
		log.Printf("level=error component=api endpoint=%s outcome=failed method=%s path=%s err=%v", endpoint, r.Method, r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, "Internal server error", "")
	}
}

// decodeJSON reads a single JSON object from the request body into dst.
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Invalid("", "request body is required")
		}
		return domain.Invalid("", "invalid request body: %v", err)
	}
	return nil
}

// ownerFromRequest returns the authenticated owner id or writes a 401.
func ownerFromRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	ownerID, ok := GetOwnerID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Could not get user ID from context", "")
		return uuid.Nil, false
	}
	return ownerID, true
}

// pathID parses the {id} URL parameter or writes a 400.
func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "id"))
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid id %q", raw), "id")
		return uuid.Nil, false
	}
	return id, true
}
