package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"

	apiContext "pulse/internal/api/context"
	"pulse/internal/api/handlers"
	"pulse/internal/api/middleware"
)

type Dependencies struct {
	WebhookHandler  *handlers.WebhookHandler
	AssetHandler    *handlers.AssetHandler
	PublishHandler  *handlers.PublishHandler
	EventHandler    *handlers.EventHandler
	ConfigHandler   *handlers.ConfigHandler
	AccountHandler  *handlers.AccountHandler
	HealthHandler   *handlers.HealthHandler
	ActorMiddleware *middleware.ActorMiddleware
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()

	actor := deps.ActorMiddleware.Handle

	// Inbound workflow engine callbacks. The guard authenticates these, so
	// no actor middleware on this path.
	router.POST("/api/v1/hooks/:workflow_type/:webhook_id",
		chain(deps.WebhookHandler.Handle, middleware.Recover, middleware.RequestLogger))

	// Assets and destinations
	router.POST("/api/v1/assets",
		chain(deps.AssetHandler.Create, middleware.Recover, middleware.RequestLogger, actor))
	router.GET("/api/v1/assets/:asset_id",
		chain(deps.AssetHandler.Get, middleware.Recover, middleware.RequestLogger, actor))
	router.POST("/api/v1/assets/:asset_id/destinations",
		chain(deps.AssetHandler.AddDestination, middleware.Recover, middleware.RequestLogger, actor))
	router.PATCH("/api/v1/assets/:asset_id/status",
		chain(deps.AssetHandler.UpdateStatus, middleware.Recover, middleware.RequestLogger, actor))

	// Publishing
	router.POST("/api/v1/publish/:asset_id",
		chain(deps.PublishHandler.Publish, middleware.Recover, middleware.RequestLogger, actor))
	router.POST("/api/v1/destinations/:destination_id/retry",
		chain(deps.PublishHandler.Retry, middleware.Recover, middleware.RequestLogger, actor))

	// Social accounts
	router.POST("/api/v1/accounts",
		chain(deps.AccountHandler.Create, middleware.Recover, middleware.RequestLogger, actor))

	// Event log
	router.GET("/api/v1/events",
		chain(deps.EventHandler.Query, middleware.Recover, middleware.RequestLogger, actor))
	router.GET("/api/v1/events/rollup",
		chain(deps.EventHandler.Rollup, middleware.Recover, middleware.RequestLogger, actor))

	// Webhook channel provisioning
	router.POST("/api/v1/webhook-configs",
		chain(deps.ConfigHandler.Create, middleware.Recover, middleware.RequestLogger, actor))
	router.GET("/api/v1/webhook-configs/:config_id",
		chain(deps.ConfigHandler.Get, middleware.Recover, middleware.RequestLogger, actor))
	router.POST("/api/v1/webhook-configs/:config_id/revoke",
		chain(deps.ConfigHandler.Revoke, middleware.Recover, middleware.RequestLogger, actor))

	router.GET("/health", wrap(deps.HealthHandler.Check))

	return router
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		// Inject params into context
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}
