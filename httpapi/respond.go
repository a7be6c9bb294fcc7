package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"carvault/auth"
	"carvault/document"
	"carvault/gates"
	"carvault/handover"
	"carvault/repair"
	"carvault/settlement"
	"carvault/txn"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError maps domain sentinels onto HTTP statuses. Unrecognized
// errors are logged and surfaced as opaque 500s.
func writeServiceError(w http.ResponseWriter, err error) {
	var blocked *gates.ReleaseBlockedError

	switch {
	case errors.Is(err, txn.ErrNotFound),
		errors.Is(err, document.ErrCaseNotFound),
		errors.Is(err, document.ErrDocumentNotFound),
		errors.Is(err, repair.ErrNotFound),
		errors.Is(err, handover.ErrSessionNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "not found")

	case errors.Is(err, txn.ErrInvalidTransition),
		errors.Is(err, txn.ErrCarBusy),
		errors.Is(err, repair.ErrBadStatus),
		errors.Is(err, repair.ErrDuplicateQuotation),
		errors.Is(err, document.ErrNotFinalReview),
		errors.Is(err, document.ErrNotRejected),
		errors.Is(err, handover.ErrNotReady):
		writeError(w, http.StatusConflict, err.Error())

	case errors.As(err, &blocked):
		writeError(w, http.StatusConflict, blocked.Error())

	case errors.Is(err, gates.ErrComplianceBlocked):
		writeError(w, http.StatusLocked, "transaction requires compliance review")

	// The body stays generic on purpose: a wrong secret learns nothing
	// about the sale or the session.
	case errors.Is(err, handover.ErrSecretMismatch):
		writeError(w, http.StatusForbidden, "confirmation rejected")

	case errors.Is(err, settlement.ErrNegativeAmount),
		errors.Is(err, settlement.ErrInvalidRate),
		errors.Is(err, settlement.ErrDeductionExceedsNet):
		writeError(w, http.StatusBadRequest, err.Error())

	default:
		slog.Error("unhandled service error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
