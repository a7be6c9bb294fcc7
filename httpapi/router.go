package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"carvault/auth"
)

// NewRouter assembles the API surface. The payment-confirmation webhook is
// the only mutating route outside RequireAuth; it is authenticated by its
// provider signature upstream, not by a user token.
func NewRouter(
	verifier TokenVerifier,
	authV1 *AuthHandler,
	txnV1 *TxnHandler,
	documentV1 *DocumentHandler,
	repairV1 *RepairHandler,
	handoverV1 *HandoverHandler,
) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Use(middleware.AllowContentType("application/json"))
			authV1.Routes(r)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Post("/{id}/payment-confirmation", txnV1.paymentConfirmation)

			r.Group(func(r chi.Router) {
				r.Use(RequireAuth(verifier))
				txnV1.authRoutes(r)
				repairV1.TxnRoutes(r)
				handoverV1.Routes(r)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(RequireAuth(verifier))

			r.Route("/cases", func(r chi.Router) {
				r.Get("/{carID}", documentV1.getCase)
				r.Post("/{carID}/documents", documentV1.submit)
				r.With(RequireRole(auth.RoleAdmin)).Post("/{carID}/certify", documentV1.certify)
			})

			// Document review is the platform's job, not the parties'.
			r.Route("/documents", func(r chi.Router) {
				r.With(RequireRole(auth.RoleAdmin)).Post("/{id}/approve", documentV1.approve)
				r.With(RequireRole(auth.RoleAdmin)).Post("/{id}/reject", documentV1.reject)
				r.Post("/{id}/resubmit", documentV1.resubmit)
			})

			r.Route("/quotations", repairV1.QuotationRoutes)
		})
	})

	return router
}

// authRoutes are the transaction routes behind RequireAuth; the webhook is
// mounted separately.
func (h *TxnHandler) authRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Get("/{id}/timeline", h.timeline)
	r.Post("/{id}/cancel", h.cancel)
	r.Post("/{id}/contract-signed", h.contractSigned)
}
