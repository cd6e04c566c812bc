package handlers

import (
	"context"
	"net/http"

	"ticket-resale/internal/services"
	"ticket-resale/security"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/router"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HandlerFunc = func(e *core.RequestEvent) error

// Deps are the services the REST surface is built on.
type Deps struct {
	Auth           *services.AuthService
	Tickets        *services.TicketService
	Transactions   *services.TransactionService
	Payments       *services.PaymentService
	Earnings       *services.EarningService
	Limiter        *security.RateLimiter
	CallbackSecret string
	EnableMetrics  bool
	Health         func(ctx context.Context) error
}

type API struct {
	auth         *AuthHandler
	tickets      *TicketHandler
	transactions *TransactionHandler
	payments     *PaymentHandler
	earnings     *EarningHandler
	mw           *middleware
	deps         Deps
}

func NewAPI(d Deps) *API {
	mw := &middleware{auth: d.Auth, limiter: d.Limiter, callbackSecret: d.CallbackSecret}
	return &API{
		auth:         &AuthHandler{auth: d.Auth},
		tickets:      &TicketHandler{tickets: d.Tickets},
		transactions: &TransactionHandler{transactions: d.Transactions},
		payments:     &PaymentHandler{payments: d.Payments},
		earnings:     &EarningHandler{earnings: d.Earnings},
		mw:           mw,
		deps:         d,
	}
}

type Route struct {
	Method  string
	Path    string
	Handler HandlerFunc
}

// Routes is the full route table with middleware already applied.
func (a *API) Routes() []Route {
	pub := func(h HandlerFunc) HandlerFunc { return a.mw.chain(h, a.mw.requestID, a.mw.rateLimit) }
	authed := func(h userHandler) HandlerFunc {
		return a.mw.chain(a.mw.requireAuth(h), a.mw.requestID, a.mw.rateLimit)
	}
	gateway := func(h HandlerFunc) HandlerFunc { return a.mw.chain(h, a.mw.requestID) }

	routes := []Route{
		{http.MethodGet, "/health", a.health},

		{http.MethodPost, "/api/auth/register", pub(a.auth.Register)},
		{http.MethodPost, "/api/auth/login", pub(a.auth.Login)},
		{http.MethodPost, "/api/auth/refresh", pub(a.auth.Refresh)},

		{http.MethodGet, "/api/tickets", authed(a.tickets.List)},
		{http.MethodGet, "/api/tickets/mine", authed(a.tickets.ListMine)},
		{http.MethodGet, "/api/tickets/{id}", authed(a.tickets.Get)},
		{http.MethodPost, "/api/tickets", authed(a.tickets.Create)},
		{http.MethodPut, "/api/tickets/{id}", authed(a.tickets.Update)},
		{http.MethodDelete, "/api/tickets/{id}", authed(a.tickets.Delete)},

		{http.MethodPost, "/api/transactions/preview-transaction", authed(a.transactions.Preview)},
		{http.MethodPost, "/api/transactions/buy-ticket", authed(a.transactions.Buy)},
		{http.MethodPost, "/api/transactions/initiate", authed(a.transactions.Initiate)},
		{http.MethodGet, "/api/transactions/status/{id}", authed(a.transactions.Status)},
		{http.MethodGet, "/api/transactions", authed(a.transactions.List)},
		{http.MethodGet, "/api/transactions/{id}", authed(a.transactions.Detail)},
		{http.MethodPost, "/api/transactions/{id}/cancel", authed(a.transactions.Cancel)},
		{http.MethodPost, "/api/transactions/callback", gateway(a.mw.requireCallbackSecret(a.transactions.Callback))},

		{http.MethodPost, "/api/payments/{id}/process", authed(a.payments.Process)},
		{http.MethodGet, "/api/payments/history", authed(a.payments.History)},
		{http.MethodGet, "/api/payments/statistics", authed(a.payments.Statistics)},
		{http.MethodPost, "/api/payments/momo/ipn", gateway(a.payments.MomoIPN)},

		{http.MethodGet, "/api/earnings", authed(a.earnings.Summary)},
	}

	if a.deps.EnableMetrics {
		metrics := promhttp.Handler()
		routes = append(routes, Route{http.MethodGet, "/metrics", func(e *core.RequestEvent) error {
			metrics.ServeHTTP(e.Response, e.Request)
			return nil
		}})
	}
	return routes
}

// Register binds the route table to the PocketBase router.
func (a *API) Register(se *core.ServeEvent) {
	for _, r := range a.Routes() {
		se.Router.Route(r.Method, r.Path, r.Handler)
	}
}

// Mount serves the route table from a plain ServeMux, without PocketBase.
func (a *API) Mount(mux *http.ServeMux) {
	for _, r := range a.Routes() {
		h := r.Handler
		mux.HandleFunc(r.Method+" "+r.Path, func(w http.ResponseWriter, req *http.Request) {
			e := &core.RequestEvent{Event: router.Event{Response: w, Request: req}}
			if err := h(e); err != nil {
				fail(e, err)
			}
		})
	}
}

func (a *API) health(e *core.RequestEvent) error {
	if a.deps.Health != nil {
		if err := a.deps.Health(e.Request.Context()); err != nil {
			return e.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
	}
	return e.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}
