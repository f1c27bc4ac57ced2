package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/gym-billing/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса биллинга.
// metrics отдаётся по /metrics, если не nil.
func (h *Handler) SetupRouter(metrics http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.With(custommiddleware.WebhookSignature(h.webhookSecret)).
			Post("/webhooks/payments", h.PaymentWebhook)

		r.Post("/staff/login", h.StaffLogin)
		r.With(h.authMiddleware.Optional).Post("/members", h.CreateMember)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/plans", h.ListPlans)
			r.Get("/freeze-packages", h.ListFreezePackages)

			r.Route("/members/{memberID}", func(r chi.Router) {
				r.Get("/", h.GetMember)
				r.Get("/subscriptions", h.ListSubscriptions)
				r.Get("/invoices", h.ListInvoices)

				r.Get("/wallet", h.GetWallet)
				r.Get("/wallet/transactions", h.ListWalletTransactions)
				r.Get("/wallet/statement.xlsx", h.WalletStatement)

				r.Get("/points/{program}", h.GetPoints)
				r.Post("/points/{program}/redeem", h.RedeemPoints)

				r.Group(func(r chi.Router) {
					r.Use(custommiddleware.RequireStaff)

					r.Post("/wallet/credits", h.CreditWallet)
					r.Post("/wallet/adjustments", h.AdjustWallet)
					r.Post("/wallet/refunds", h.RefundToWallet)

					r.Post("/points/{program}/earn", h.EarnPoints)
					r.Post("/points/{program}/adjust", h.AdjustPoints)
				})
			})

			r.Post("/subscriptions", h.Enroll)
			r.Route("/subscriptions/{subscriptionID}", func(r chi.Router) {
				r.Get("/", h.GetSubscription)
				r.Post("/freeze", h.Freeze)
				r.Post("/unfreeze", h.Unfreeze)
				r.Post("/cancel", h.Cancel)
				r.Post("/classes/use", h.UseClass)
				r.Post("/freeze-packages", h.PurchaseFreezePackage)

				r.Group(func(r chi.Router) {
					r.Use(custommiddleware.RequireStaff)

					r.Post("/activate", h.Activate)
					r.Post("/renew", h.Renew)
					r.Post("/freeze-days", h.GrantFreezeDays)
				})
			})

			r.Get("/invoices/{invoiceID}", h.GetInvoice)

			r.Group(func(r chi.Router) {
				r.Use(custommiddleware.RequireStaff)

				r.Post("/plans", h.CreatePlan)
				r.Post("/freeze-packages", h.CreateFreezePackage)
				r.Post("/invoices/{invoiceID}/cancel", h.CancelInvoice)
				r.Post("/referrals", h.RecordReferral)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
