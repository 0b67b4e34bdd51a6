package api

import (
	"net/http"

	"github.com/alexlim7/madate-vault-sub000/middleware"
	"github.com/alexlim7/madate-vault-sub000/monitoring"
	"github.com/alexlim7/madate-vault-sub000/services"
	"github.com/alexlim7/madate-vault-sub000/utils"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps is everything the HTTP surface needs. Nil services leave their
// routes unregistered.
type RouterDeps struct {
	Inbound        *services.InboundProcessor
	Authorizations *services.AuthorizationService
	Audit          *services.AuditService
	Subscriptions  *services.SubscriptionService
	Deliveries     *services.DeliveryEngine
	Tenants        *services.TenantService
	Health         *monitoring.HealthService
	Webhook        WebhookConfig
	AdminAPIKey    string
	MetricsEnabled bool
	Logger         *utils.Logger
}

func NewRouter(deps RouterDeps) *mux.Router {
	logger := deps.Logger
	if logger == nil {
		logger = utils.NewLogger("http")
	}

	router := mux.NewRouter()
	router.Use(middleware.RequestIDMiddleware)
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.HeadersMiddleware)
	if deps.Webhook.MaxBodyBytes > 0 {
		router.Use(middleware.BodyLimitMiddleware(deps.Webhook.MaxBodyBytes))
	}

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, utils.ErrNotFound)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, utils.NewAPIError(http.StatusMethodNotAllowed, utils.KindInvalidPayload, "Method not allowed"))
	})

	if deps.Health != nil {
		router.HandleFunc("/health", CreateHealthHandler(deps.Health).HandleHealth).Methods(http.MethodGet)
	}
	if deps.MetricsEnabled {
		router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}

	tenantAuth := middleware.CreateTenantMiddleware(deps.Tenants)

	if deps.Inbound != nil {
		webhookHandler := CreateWebhookHandler(deps.Inbound, deps.Webhook)
		router.HandleFunc("/webhook", webhookHandler.HandleInbound).Methods(http.MethodPost)

		events := router.PathPrefix("/events").Subrouter()
		events.Use(tenantAuth.Authenticate)
		events.HandleFunc("/{event_id}", webhookHandler.HandleGetEvent).Methods(http.MethodGet)
	}

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(tenantAuth.Authenticate)

	if deps.Authorizations != nil {
		authHandler := CreateAuthorizationHandler(deps.Authorizations)
		apiRouter.HandleFunc("/authorizations", authHandler.HandleCreate).Methods(http.MethodPost)
		apiRouter.HandleFunc("/authorizations", authHandler.HandleList).Methods(http.MethodGet)
		apiRouter.HandleFunc("/authorizations/{id}", authHandler.HandleGet).Methods(http.MethodGet)
		apiRouter.HandleFunc("/authorizations/{id}", authHandler.HandleDelete).Methods(http.MethodDelete)
		apiRouter.HandleFunc("/authorizations/{id}/revoke", authHandler.HandleRevoke).Methods(http.MethodPost)
	}

	if deps.Audit != nil {
		auditHandler := CreateAuditHandler(deps.Audit)
		apiRouter.HandleFunc("/audit", auditHandler.HandleList).Methods(http.MethodGet)
		apiRouter.HandleFunc("/authorizations/{id}/audit", auditHandler.HandleAuthorizationHistory).Methods(http.MethodGet)
	}

	if deps.Subscriptions != nil && deps.Deliveries != nil {
		subHandler := CreateSubscriptionHandler(deps.Subscriptions, deps.Deliveries)
		apiRouter.HandleFunc("/subscriptions", subHandler.HandleCreate).Methods(http.MethodPost)
		apiRouter.HandleFunc("/subscriptions", subHandler.HandleList).Methods(http.MethodGet)
		apiRouter.HandleFunc("/subscriptions/{id}", subHandler.HandleGet).Methods(http.MethodGet)
		apiRouter.HandleFunc("/subscriptions/{id}", subHandler.HandleDelete).Methods(http.MethodDelete)
		apiRouter.HandleFunc("/subscriptions/{id}/deliveries", subHandler.HandleDeliveries).Methods(http.MethodGet)
		apiRouter.HandleFunc("/subscriptions/{id}/retry-failed", subHandler.HandleRetryFailed).Methods(http.MethodPost)
		apiRouter.HandleFunc("/subscriptions/{id}/test", subHandler.HandleTest).Methods(http.MethodPost)
	}

	if deps.Tenants != nil {
		tenantHandler := CreateTenantHandler(deps.Tenants)
		admin := router.PathPrefix("/admin").Subrouter()
		admin.Use(middleware.AdminMiddleware(deps.AdminAPIKey))
		admin.HandleFunc("/tenants", tenantHandler.HandleCreate).Methods(http.MethodPost)
		admin.HandleFunc("/tenants", tenantHandler.HandleList).Methods(http.MethodGet)
		admin.HandleFunc("/tenants/{id}", tenantHandler.HandleGet).Methods(http.MethodGet)
		admin.HandleFunc("/tenants/{id}", tenantHandler.HandleUpdate).Methods(http.MethodPatch)
		admin.HandleFunc("/tenants/{id}", tenantHandler.HandleDeactivate).Methods(http.MethodDelete)
	}

	return router
}
