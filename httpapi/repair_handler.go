package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"carvault/repair"
)

// RepairService is the slice of repair.Service the handler uses.
type RepairService interface {
	Create(ctx context.Context, params repair.CreateParams) (repair.Quotation, error)
	Accept(ctx context.Context, quotationID, actorID string) error
	Decline(ctx context.Context, quotationID, actorID string) error
	StartRepair(ctx context.Context, quotationID, actorID string) error
	CompleteRepair(ctx context.Context, quotationID, actorID string) error
	Get(ctx context.Context, quotationID string) (repair.Quotation, error)
}

type RepairHandler struct {
	svc RepairService
}

func NewRepairHandler(svc RepairService) *RepairHandler {
	return &RepairHandler{svc: svc}
}

// TxnRoutes hang off /transactions/{id}.
func (h *RepairHandler) TxnRoutes(r chi.Router) {
	r.Post("/{id}/quotation", h.create)
}

// QuotationRoutes hang off /quotations/{id}.
func (h *RepairHandler) QuotationRoutes(r chi.Router) {
	r.Get("/{id}", h.get)
	r.Post("/{id}/accept", h.accept)
	r.Post("/{id}/decline", h.decline)
	r.Post("/{id}/start-repair", h.startRepair)
	r.Post("/{id}/complete-repair", h.completeRepair)
}

type quotationItemRequest struct {
	DefectID string `json:"defect_id"`
	Cost     int64  `json:"cost"`
	Note     string `json:"note"`
}

type createQuotationRequest struct {
	Items []quotationItemRequest `json:"items"`
}

type quotationItemResponse struct {
	DefectID string `json:"defect_id"`
	Cost     int64  `json:"cost"`
	Note     string `json:"note,omitempty"`
}

type quotationResponse struct {
	ID            string                  `json:"id"`
	TransactionID string                  `json:"transaction_id"`
	TotalAmount   int64                   `json:"total_amount"`
	Status        repair.QuotationStatus  `json:"status"`
	Items         []quotationItemResponse `json:"items"`
	CreatedAt     time.Time               `json:"created_at"`
}

func toQuotationResponse(q repair.Quotation) quotationResponse {
	out := quotationResponse{
		ID:            q.ID,
		TransactionID: q.TransactionID,
		TotalAmount:   q.TotalAmount,
		Status:        q.Status,
		Items:         make([]quotationItemResponse, 0, len(q.Items)),
		CreatedAt:     q.CreatedAt,
	}
	for _, item := range q.Items {
		out.Items = append(out.Items, quotationItemResponse{
			DefectID: item.DefectID,
			Cost:     item.Cost,
			Note:     item.Note,
		})
	}
	return out
}

func (h *RepairHandler) create(w http.ResponseWriter, r *http.Request) {
	txnID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req createQuotationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "at least one item is required")
		return
	}

	items := make([]repair.ItemParams, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, repair.ItemParams{
			DefectID: item.DefectID,
			Cost:     item.Cost,
			Note:     item.Note,
		})
	}

	quo, err := h.svc.Create(r.Context(), repair.CreateParams{
		TransactionID: txnID,
		ActorID:       userIDFrom(r.Context()),
		Items:         items,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toQuotationResponse(quo))
}

func (h *RepairHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	quo, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toQuotationResponse(quo))
}

func (h *RepairHandler) accept(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.svc.Accept)
}

func (h *RepairHandler) decline(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.svc.Decline)
}

func (h *RepairHandler) startRepair(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.svc.StartRepair)
}

func (h *RepairHandler) completeRepair(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.svc.CompleteRepair)
}

func (h *RepairHandler) act(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, quotationID, actorID string) error) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := fn(r.Context(), id, userIDFrom(r.Context())); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
