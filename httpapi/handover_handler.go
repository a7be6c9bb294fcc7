package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"carvault/auth"
	"carvault/gates"
	"carvault/handover"
	"carvault/settlement"
)

// HandoverService is the slice of handover.Service the handler uses.
type HandoverService interface {
	Get(ctx context.Context, txnID string) (handover.Session, error)
	CaptureDocumentation(ctx context.Context, txnID, actorID string) error
	UpdateChecklist(ctx context.Context, txnID string, items map[string]bool) (handover.Session, error)
	Confirm(ctx context.Context, params handover.ConfirmParams) error
	Dispute(ctx context.Context, params handover.DisputeParams) error
	Resolve(ctx context.Context, params handover.ResolveParams) error
	Snapshot(ctx context.Context, txnID string) (map[gates.Category]gates.State, error)
	SettlementPreview(ctx context.Context, txnID string) (settlement.Settlement, error)
}

type HandoverHandler struct {
	svc    HandoverService
	reader LifecycleReader
}

func NewHandoverHandler(svc HandoverService, reader LifecycleReader) *HandoverHandler {
	return &HandoverHandler{svc: svc, reader: reader}
}

// Routes hang off /transactions/{id}.
func (h *HandoverHandler) Routes(r chi.Router) {
	r.Get("/{id}/gates", h.gatesSnapshot)
	r.Get("/{id}/settlement", h.settlementPreview)
	r.Get("/{id}/handover", h.get)
	r.Post("/{id}/handover/capture", h.capture)
	r.Post("/{id}/handover/checklist", h.checklist)
	r.Post("/{id}/handover/confirm", h.confirm)
	r.Post("/{id}/handover/dispute", h.dispute)
	r.Post("/{id}/handover/resolve", h.resolve)
}

type sessionResponse struct {
	TransactionID         string          `json:"transaction_id"`
	Phase                 handover.Phase  `json:"phase"`
	DocumentationCaptured bool            `json:"documentation_captured"`
	Checklist             map[string]bool `json:"checklist"`
	UpdatedAt             time.Time       `json:"updated_at"`

	// Secret is only populated for the seller, who reads it out to the
	// buyer at the physical handover.
	Secret string `json:"secret,omitempty"`
}

func toSessionResponse(s handover.Session, includeSecret bool) sessionResponse {
	out := sessionResponse{
		TransactionID:         s.TransactionID,
		Phase:                 s.Phase,
		DocumentationCaptured: s.DocumentationCaptured,
		Checklist:             s.Checklist,
		UpdatedAt:             s.UpdatedAt,
	}
	if includeSecret {
		out.Secret = s.Secret
	}
	return out
}

func (h *HandoverHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	sale, err := h.reader.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	session, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	ctx := r.Context()
	includeSecret := userIDFrom(ctx) == sale.SellerID || roleFrom(ctx) == auth.RoleAdmin
	writeJSON(w, http.StatusOK, toSessionResponse(session, includeSecret))
}

func (h *HandoverHandler) capture(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.svc.CaptureDocumentation(r.Context(), id, userIDFrom(r.Context())); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type checklistRequest struct {
	Items map[string]bool `json:"items"`
}

func (h *HandoverHandler) checklist(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req checklistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "items is required")
		return
	}

	session, err := h.svc.UpdateChecklist(r.Context(), id, req.Items)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(session, false))
}

type confirmRequest struct {
	Secret         string `json:"secret"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (h *HandoverHandler) confirm(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.IdempotencyKey == "" {
		writeError(w, http.StatusBadRequest, "idempotency_key is required")
		return
	}

	err := h.svc.Confirm(r.Context(), handover.ConfirmParams{
		TransactionID:   id,
		PresentedSecret: req.Secret,
		IdempotencyKey:  req.IdempotencyKey,
		ActorID:         userIDFrom(r.Context()),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type disputeRequest struct {
	Reason string `json:"reason"`
}

func (h *HandoverHandler) dispute(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req disputeRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	err := h.svc.Dispute(r.Context(), handover.DisputeParams{
		TransactionID: id,
		ActorID:       userIDFrom(r.Context()),
		Reason:        req.Reason,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type resolveRequest struct {
	Note string `json:"note"`
}

func (h *HandoverHandler) resolve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req resolveRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	err := h.svc.Resolve(r.Context(), handover.ResolveParams{
		TransactionID: id,
		ActorID:       userIDFrom(r.Context()),
		Note:          req.Note,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *HandoverHandler) gatesSnapshot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	states, err := h.svc.Snapshot(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	out := make(map[string]string, len(states))
	for category, state := range states {
		out[string(category)] = string(state)
	}
	writeJSON(w, http.StatusOK, out)
}

type settlementResponse struct {
	BuyerTotal  int64 `json:"buyer_total"`
	SellerNet   int64 `json:"seller_net"`
	PlatformFee int64 `json:"platform_fee"`
}

func (h *HandoverHandler) settlementPreview(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	split, err := h.svc.SettlementPreview(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, settlementResponse{
		BuyerTotal:  split.BuyerTotal,
		SellerNet:   split.SellerNet,
		PlatformFee: split.PlatformFee,
	})
}
