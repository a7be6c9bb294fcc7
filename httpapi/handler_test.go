package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"carvault/auth"
	"carvault/gates"
	"carvault/handover"
	"carvault/settlement"
	"carvault/txn"
)

const (
	testTxnID  = "7d9f3a52-1c7e-4e0a-9a2b-5b6f4f1c8d21"
	testBuyer  = "buyer-1"
	testSeller = "seller-1"
)

type stubLifecycle struct {
	created    txn.Transaction
	createErr  error
	intakeErr  error
	cancelErr  error
	signErr    error
	lastCreate txn.CreateParams
	lastIntake txn.IntakeParams
}

func (s *stubLifecycle) Create(_ context.Context, _ string, params txn.CreateParams) (txn.Transaction, error) {
	s.lastCreate = params
	return s.created, s.createErr
}

func (s *stubLifecycle) ConfirmIntake(_ context.Context, params txn.IntakeParams) error {
	s.lastIntake = params
	return s.intakeErr
}

func (s *stubLifecycle) Cancel(_ context.Context, _ txn.CancelParams) error {
	return s.cancelErr
}

func (s *stubLifecycle) SignContract(_ context.Context, _, _ string) error {
	return s.signErr
}

type stubReader struct {
	rec      txn.Transaction
	events   []txn.TimelineEvent
	err      error
	eventErr error
}

func (s *stubReader) Get(_ context.Context, _ string) (txn.Transaction, error) {
	return s.rec, s.err
}

func (s *stubReader) Timeline(_ context.Context, _ string) ([]txn.TimelineEvent, error) {
	if s.eventErr != nil {
		return nil, s.eventErr
	}
	return s.events, nil
}

type stubHandover struct {
	session    handover.Session
	sessionErr error
	confirmErr error
	disputeErr error
	resolveErr error
	states     map[gates.Category]gates.State
	statesErr  error
	split      settlement.Settlement
	splitErr   error
}

func (s *stubHandover) Get(_ context.Context, _ string) (handover.Session, error) {
	return s.session, s.sessionErr
}

func (s *stubHandover) CaptureDocumentation(_ context.Context, _, _ string) error {
	return s.sessionErr
}

func (s *stubHandover) UpdateChecklist(_ context.Context, _ string, _ map[string]bool) (handover.Session, error) {
	return s.session, s.sessionErr
}

func (s *stubHandover) Confirm(_ context.Context, _ handover.ConfirmParams) error {
	return s.confirmErr
}

func (s *stubHandover) Dispute(_ context.Context, _ handover.DisputeParams) error {
	return s.disputeErr
}

func (s *stubHandover) Resolve(_ context.Context, _ handover.ResolveParams) error {
	return s.resolveErr
}

func (s *stubHandover) Snapshot(_ context.Context, _ string) (map[gates.Category]gates.State, error) {
	return s.states, s.statesErr
}

func (s *stubHandover) SettlementPreview(_ context.Context, _ string) (settlement.Settlement, error) {
	return s.split, s.splitErr
}

// asUser injects an authenticated identity the way RequireAuth would.
func asUser(req *http.Request, userID string, role auth.Role) *http.Request {
	ctx := context.WithValue(req.Context(), ctxUserID, userID)
	ctx = context.WithValue(ctx, ctxRole, role)
	return req.WithContext(ctx)
}

func newTxnRouter(svc *stubLifecycle, reader *stubReader) chi.Router {
	h := NewTxnHandler(svc, reader, 500)
	r := chi.NewRouter()
	h.authRoutes(r)
	r.Post("/{id}/payment-confirmation", h.paymentConfirmation)
	return r
}

func newHandoverRouter(svc *stubHandover, reader *stubReader) chi.Router {
	h := NewHandoverHandler(svc, reader)
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func TestCreateTransaction_DefaultCommissionRate(t *testing.T) {
	svc := &stubLifecycle{created: txn.Transaction{
		ID:        testTxnID,
		CarID:     "car-1",
		BuyerID:   testBuyer,
		SellerID:  testSeller,
		CarPrice:  180000,
		Status:    txn.StatusCreated,
		CreatedAt: time.Now().UTC(),
	}}
	router := newTxnRouter(svc, &stubReader{})

	body := strings.NewReader(`{"car_id":"car-1","seller_id":"seller-1","car_price":180000,"delivery_cost":20000}`)
	req := asUser(httptest.NewRequest(http.MethodPost, "/", body), testBuyer, auth.RoleBuyer)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.lastCreate.CommissionRateBP != 500 {
		t.Fatalf("expected default commission rate 500, got %d", svc.lastCreate.CommissionRateBP)
	}
	if svc.lastCreate.BuyerID != testBuyer {
		t.Fatalf("expected buyer from token, got %q", svc.lastCreate.BuyerID)
	}

	var resp txnResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != testTxnID || resp.Status != txn.StatusCreated {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestCreateTransaction_CarBusy(t *testing.T) {
	svc := &stubLifecycle{createErr: txn.ErrCarBusy}
	router := newTxnRouter(svc, &stubReader{})

	body := strings.NewReader(`{"car_id":"car-1","seller_id":"seller-1","car_price":1000}`)
	req := asUser(httptest.NewRequest(http.MethodPost, "/", body), testBuyer, auth.RoleBuyer)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestGetTransaction_NotFound(t *testing.T) {
	router := newTxnRouter(&stubLifecycle{}, &stubReader{err: txn.ErrNotFound})

	req := asUser(httptest.NewRequest(http.MethodGet, "/"+testTxnID, nil), testBuyer, auth.RoleBuyer)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetTransaction_InvalidID(t *testing.T) {
	router := newTxnRouter(&stubLifecycle{}, &stubReader{})

	req := asUser(httptest.NewRequest(http.MethodGet, "/not-a-uuid", nil), testBuyer, auth.RoleBuyer)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPaymentConfirmation_RequiresIdempotencyKey(t *testing.T) {
	svc := &stubLifecycle{}
	router := newTxnRouter(svc, &stubReader{})

	body := strings.NewReader(`{"amount_paid":200000}`)
	req := httptest.NewRequest(http.MethodPost, "/"+testTxnID+"/payment-confirmation", body)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPaymentConfirmation_Success(t *testing.T) {
	svc := &stubLifecycle{}
	router := newTxnRouter(svc, &stubReader{})

	body := strings.NewReader(`{"amount_paid":200000,"idempotency_key":"wh-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/"+testTxnID+"/payment-confirmation", body)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.lastIntake.AmountPaid != 200000 || svc.lastIntake.IdempotencyKey != "wh-1" {
		t.Fatalf("unexpected intake params: %+v", svc.lastIntake)
	}
}

func TestCancelTransaction_Guarded(t *testing.T) {
	svc := &stubLifecycle{cancelErr: txn.ErrInvalidTransition}
	router := newTxnRouter(svc, &stubReader{})

	req := asUser(httptest.NewRequest(http.MethodPost, "/"+testTxnID+"/cancel", strings.NewReader(`{"reason":"changed my mind"}`)), testBuyer, auth.RoleBuyer)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandoverGet_SecretOnlyForSeller(t *testing.T) {
	reader := &stubReader{rec: txn.Transaction{ID: testTxnID, BuyerID: testBuyer, SellerID: testSeller}}
	svc := &stubHandover{session: handover.Session{
		TransactionID: testTxnID,
		Secret:        "s3cret",
		Phase:         handover.PhaseReady,
	}}
	router := newHandoverRouter(svc, reader)

	req := asUser(httptest.NewRequest(http.MethodGet, "/"+testTxnID+"/handover", nil), testBuyer, auth.RoleBuyer)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "s3cret") {
		t.Fatal("buyer response must not contain the secret")
	}

	req = asUser(httptest.NewRequest(http.MethodGet, "/"+testTxnID+"/handover", nil), testSeller, auth.RoleSeller)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Secret != "s3cret" {
		t.Fatalf("seller response should carry the secret, got %+v", resp)
	}
}

func TestHandoverConfirm_SecretMismatchIsOpaque(t *testing.T) {
	svc := &stubHandover{confirmErr: handover.ErrSecretMismatch}
	router := newHandoverRouter(svc, &stubReader{})

	body := strings.NewReader(`{"secret":"wrong","idempotency_key":"k1"}`)
	req := asUser(httptest.NewRequest(http.MethodPost, "/"+testTxnID+"/handover/confirm", body), testBuyer, auth.RoleBuyer)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret") {
		t.Fatalf("error body must stay generic, got %s", rec.Body.String())
	}
}

func TestHandoverConfirm_ComplianceLocked(t *testing.T) {
	svc := &stubHandover{confirmErr: gates.ErrComplianceBlocked}
	router := newHandoverRouter(svc, &stubReader{})

	body := strings.NewReader(`{"secret":"s","idempotency_key":"k1"}`)
	req := asUser(httptest.NewRequest(http.MethodPost, "/"+testTxnID+"/handover/confirm", body), testBuyer, auth.RoleBuyer)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusLocked {
		t.Fatalf("expected 423, got %d", rec.Code)
	}
}

func TestHandoverConfirm_UnmetGates(t *testing.T) {
	svc := &stubHandover{confirmErr: &gates.ReleaseBlockedError{
		Unmet: []gates.Category{gates.CategoryLegal, gates.CategoryContract},
	}}
	router := newHandoverRouter(svc, &stubReader{})

	body := strings.NewReader(`{"secret":"s","idempotency_key":"k1"}`)
	req := asUser(httptest.NewRequest(http.MethodPost, "/"+testTxnID+"/handover/confirm", body), testBuyer, auth.RoleBuyer)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "legal") || !strings.Contains(rec.Body.String(), "contract") {
		t.Fatalf("expected unmet gates in body, got %s", rec.Body.String())
	}
}

func TestGatesSnapshot(t *testing.T) {
	svc := &stubHandover{states: map[gates.Category]gates.State{
		gates.CategoryLegal:      gates.StateVerified,
		gates.CategoryMechanical: gates.StatePending,
		gates.CategoryCompliance: gates.StateVerified,
		gates.CategoryContract:   gates.StateVerified,
	}}
	router := newHandoverRouter(svc, &stubReader{})

	req := asUser(httptest.NewRequest(http.MethodGet, "/"+testTxnID+"/gates", nil), testBuyer, auth.RoleBuyer)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["mechanical"] != "pending" || resp["legal"] != "verified" {
		t.Fatalf("unexpected gate states: %+v", resp)
	}
}

func TestSettlementPreview(t *testing.T) {
	svc := &stubHandover{split: settlement.Settlement{
		BuyerTotal:  200000,
		SellerNet:   190000,
		PlatformFee: 10000,
	}}
	router := newHandoverRouter(svc, &stubReader{})

	req := asUser(httptest.NewRequest(http.MethodGet, "/"+testTxnID+"/settlement", nil), testBuyer, auth.RoleBuyer)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp settlementResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.BuyerTotal != 200000 || resp.SellerNet != 190000 || resp.PlatformFee != 10000 {
		t.Fatalf("unexpected settlement: %+v", resp)
	}
}

func TestUnexpectedErrorIsOpaque(t *testing.T) {
	router := newTxnRouter(&stubLifecycle{}, &stubReader{err: errors.New("pg down")})

	req := asUser(httptest.NewRequest(http.MethodGet, "/"+testTxnID, nil), testBuyer, auth.RoleBuyer)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "pg down") {
		t.Fatalf("internal details must not leak, got %s", rec.Body.String())
	}
}
