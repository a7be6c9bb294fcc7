package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"carvault/txn"
)

// LifecycleService is the write side of the transactions aggregate.
type LifecycleService interface {
	Create(ctx context.Context, actorID string, params txn.CreateParams) (txn.Transaction, error)
	ConfirmIntake(ctx context.Context, params txn.IntakeParams) error
	Cancel(ctx context.Context, params txn.CancelParams) error
	SignContract(ctx context.Context, txnID, actorID string) error
}

// LifecycleReader is the read side.
type LifecycleReader interface {
	Get(ctx context.Context, id string) (txn.Transaction, error)
	Timeline(ctx context.Context, id string) ([]txn.TimelineEvent, error)
}

type TxnHandler struct {
	svc    LifecycleService
	reader LifecycleReader

	// DefaultCommissionRateBP fills requests that omit a rate.
	DefaultCommissionRateBP int64
}

func NewTxnHandler(svc LifecycleService, reader LifecycleReader, defaultRateBP int64) *TxnHandler {
	return &TxnHandler{svc: svc, reader: reader, DefaultCommissionRateBP: defaultRateBP}
}

type createTxnRequest struct {
	CarID            string  `json:"car_id"`
	SellerID         string  `json:"seller_id"`
	CarPrice         int64   `json:"car_price"`
	CommissionRateBP *int64  `json:"commission_rate_bp,omitempty"`
	DeliveryMethod   *string `json:"delivery_method,omitempty"`
	DeliveryCost     int64   `json:"delivery_cost"`
}

type txnResponse struct {
	ID                  string     `json:"id"`
	CarID               string     `json:"car_id"`
	BuyerID             string     `json:"buyer_id"`
	SellerID            string     `json:"seller_id"`
	CarPrice            int64      `json:"car_price"`
	CommissionRateBP    int64      `json:"commission_rate_bp"`
	DeliveryMethod      *string    `json:"delivery_method,omitempty"`
	DeliveryCost        int64      `json:"delivery_cost"`
	BuyerTotal          int64      `json:"buyer_total"`
	Status              txn.Status `json:"status"`
	NegotiationDeadline *time.Time `json:"negotiation_deadline,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func toTxnResponse(t txn.Transaction) txnResponse {
	return txnResponse{
		ID:                  t.ID,
		CarID:               t.CarID,
		BuyerID:             t.BuyerID,
		SellerID:            t.SellerID,
		CarPrice:            t.CarPrice,
		CommissionRateBP:    t.CommissionRateBP,
		DeliveryMethod:      t.DeliveryMethod,
		DeliveryCost:        t.DeliveryCost,
		BuyerTotal:          t.BuyerTotal(),
		Status:              t.Status,
		NegotiationDeadline: t.NegotiationDeadline,
		CreatedAt:           t.CreatedAt,
		UpdatedAt:           t.UpdatedAt,
	}
}

// create opens a sale. The authenticated caller is the buyer.
func (h *TxnHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createTxnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rate := h.DefaultCommissionRateBP
	if req.CommissionRateBP != nil {
		rate = *req.CommissionRateBP
	}

	buyerID := userIDFrom(r.Context())
	rec, err := h.svc.Create(r.Context(), buyerID, txn.CreateParams{
		CarID:            req.CarID,
		BuyerID:          buyerID,
		SellerID:         req.SellerID,
		CarPrice:         req.CarPrice,
		CommissionRateBP: rate,
		DeliveryMethod:   req.DeliveryMethod,
		DeliveryCost:     req.DeliveryCost,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTxnResponse(rec))
}

func (h *TxnHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	rec, err := h.reader.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTxnResponse(rec))
}

type timelineEventResponse struct {
	Seq       int             `json:"seq"`
	Type      string          `json:"type"`
	ActorID   *string         `json:"actor_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func (h *TxnHandler) timeline(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	events, err := h.reader.Timeline(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	out := make([]timelineEventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, timelineEventResponse{
			Seq:       ev.Seq,
			Type:      ev.Type,
			ActorID:   ev.ActorID,
			Payload:   ev.Payload,
			CreatedAt: ev.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type paymentConfirmationRequest struct {
	AmountPaid     int64  `json:"amount_paid"`
	IdempotencyKey string `json:"idempotency_key"`
}

// paymentConfirmation is the payment provider's webhook. It is replay-safe
// through the idempotency key the provider sends with every delivery.
func (h *TxnHandler) paymentConfirmation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req paymentConfirmationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.IdempotencyKey == "" {
		writeError(w, http.StatusBadRequest, "idempotency_key is required")
		return
	}

	err := h.svc.ConfirmIntake(r.Context(), txn.IntakeParams{
		TransactionID:  id,
		AmountPaid:     req.AmountPaid,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *TxnHandler) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req cancelRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	err := h.svc.Cancel(r.Context(), txn.CancelParams{
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

func (h *TxnHandler) contractSigned(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.svc.SignContract(r.Context(), id, userIDFrom(r.Context())); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// pathID validates the {id} route parameter as a UUID.
func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := chi.URLParam(r, "id")
	if _, err := uuid.Parse(raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return "", false
	}
	return raw, true
}
