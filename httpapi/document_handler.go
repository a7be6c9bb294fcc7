package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"carvault/document"
)

// DocumentService is the slice of document.Service the handler uses.
type DocumentService interface {
	Submit(ctx context.Context, params document.SubmitParams) (document.Document, error)
	Approve(ctx context.Context, docID, actorID string) (document.CaseStatus, error)
	Reject(ctx context.Context, docID, actorID string) (document.CaseStatus, error)
	Resubmit(ctx context.Context, docID, newRef string) (document.CaseStatus, error)
	Certify(ctx context.Context, params document.CertifyParams) error
	GetCase(ctx context.Context, carID string) (document.Case, []document.Document, error)
}

type DocumentHandler struct {
	svc DocumentService
}

func NewDocumentHandler(svc DocumentService) *DocumentHandler {
	return &DocumentHandler{svc: svc}
}

type documentResponse struct {
	ID        string         `json:"id"`
	CaseID    string         `json:"case_id"`
	Type      document.Type  `json:"type"`
	Ref       string         `json:"ref"`
	State     document.State `json:"state"`
	CreatedAt time.Time      `json:"created_at"`
}

func toDocumentResponse(d document.Document) documentResponse {
	return documentResponse{
		ID:        d.ID,
		CaseID:    d.CaseID,
		Type:      d.Type,
		Ref:       d.Ref,
		State:     d.State,
		CreatedAt: d.CreatedAt,
	}
}

type caseResponse struct {
	ID          string              `json:"id"`
	CarID       string              `json:"car_id"`
	Status      document.CaseStatus `json:"status"`
	CertifiedAt *time.Time          `json:"certified_at,omitempty"`
	Documents   []documentResponse  `json:"documents"`
}

func (h *DocumentHandler) getCase(w http.ResponseWriter, r *http.Request) {
	carID, ok := pathParamUUID(w, r, "carID")
	if !ok {
		return
	}

	c, docs, err := h.svc.GetCase(r.Context(), carID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	out := caseResponse{
		ID:          c.ID,
		CarID:       c.CarID,
		Status:      c.Status,
		CertifiedAt: c.CertifiedAt,
		Documents:   make([]documentResponse, 0, len(docs)),
	}
	for _, d := range docs {
		out.Documents = append(out.Documents, toDocumentResponse(d))
	}
	writeJSON(w, http.StatusOK, out)
}

type submitDocumentRequest struct {
	Type document.Type `json:"type"`
	Ref  string        `json:"ref"`
}

func (h *DocumentHandler) submit(w http.ResponseWriter, r *http.Request) {
	carID, ok := pathParamUUID(w, r, "carID")
	if !ok {
		return
	}

	var req submitDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Ref == "" {
		writeError(w, http.StatusBadRequest, "ref is required")
		return
	}

	doc, err := h.svc.Submit(r.Context(), document.SubmitParams{
		CarID:   carID,
		Type:    req.Type,
		Ref:     req.Ref,
		ActorID: userIDFrom(r.Context()),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toDocumentResponse(doc))
}

func (h *DocumentHandler) certify(w http.ResponseWriter, r *http.Request) {
	carID, ok := pathParamUUID(w, r, "carID")
	if !ok {
		return
	}

	err := h.svc.Certify(r.Context(), document.CertifyParams{
		CarID:   carID,
		ActorID: userIDFrom(r.Context()),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type caseStatusResponse struct {
	CaseStatus document.CaseStatus `json:"case_status"`
}

func (h *DocumentHandler) approve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	status, err := h.svc.Approve(r.Context(), id, userIDFrom(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, caseStatusResponse{CaseStatus: status})
}

func (h *DocumentHandler) reject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	status, err := h.svc.Reject(r.Context(), id, userIDFrom(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, caseStatusResponse{CaseStatus: status})
}

type resubmitRequest struct {
	Ref string `json:"ref"`
}

func (h *DocumentHandler) resubmit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req resubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Ref == "" {
		writeError(w, http.StatusBadRequest, "ref is required")
		return
	}

	status, err := h.svc.Resubmit(r.Context(), id, req.Ref)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, caseStatusResponse{CaseStatus: status})
}

func pathParamUUID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	raw := chi.URLParam(r, name)
	if _, err := uuid.Parse(raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return "", false
	}
	return raw, true
}
