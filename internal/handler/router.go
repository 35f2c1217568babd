package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/mir00r/sip-dispatcher/docs"
	"github.com/mir00r/sip-dispatcher/internal/config"
	"github.com/mir00r/sip-dispatcher/internal/dispatcher"
	"github.com/mir00r/sip-dispatcher/internal/middleware"
	"github.com/mir00r/sip-dispatcher/internal/registrar"
	"github.com/mir00r/sip-dispatcher/pkg/logger"
)

// Deps are the collaborators of the admin API. Registrar, Store, Metrics,
// Auth and Limiter are optional.
type Deps struct {
	Dispatcher  *dispatcher.Dispatcher
	Registrar   *registrar.Registrar
	Reload      Reloader
	Store       RowStore
	Config      *config.Config
	Metrics     http.Handler
	MetricsPath string
	Auth        *middleware.JWTAuth
	Limiter     *middleware.RateLimiter
	Logger      *logger.Logger
	Version     string
}

// NewRouter builds the admin API. Read routes are open; every route that
// changes state requires the admin role when a JWT secret is configured.
func NewRouter(deps Deps) *mux.Router {
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	auth := deps.Auth
	if auth == nil {
		auth = middleware.NewJWTAuth("", log)
	}
	admin := auth.Require(middleware.RoleAdmin)
	guard := func(h http.HandlerFunc) http.Handler { return admin(h) }

	router := mux.NewRouter()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.LoggingMiddleware(log))
	if deps.Limiter != nil {
		router.Use(deps.Limiter.Middleware)
	}

	health := NewHealthHandler(deps.Dispatcher, deps.Version)
	router.HandleFunc("/health", health.LivenessHandler).Methods(http.MethodGet)
	router.HandleFunc("/ready", health.ReadinessHandler).Methods(http.MethodGet)

	if deps.Metrics != nil {
		path := deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.Handle(path, deps.Metrics).Methods(http.MethodGet)
	}

	router.PathPrefix("/swagger/").Handler(httpSwagger.WrapHandler)

	api := router.PathPrefix("/api/v1").Subrouter()

	ah := NewAdminHandler(deps.Dispatcher, deps.Store, log)
	api.HandleFunc("/sets", ah.ListHandler).Methods(http.MethodGet)
	api.HandleFunc("/sets/print", ah.PrintHandler).Methods(http.MethodGet)
	api.Handle("/sets/{group:[0-9]+}/state", guard(ah.SetStateHandler)).Methods(http.MethodPut)
	api.Handle("/sets/{group:[0-9]+}/mark", guard(ah.MarkHandler)).Methods(http.MethodPost)
	api.Handle("/sets/{group:[0-9]+}/destinations", guard(ah.RemoveDestinationHandler)).Methods(http.MethodDelete)
	api.Handle("/destinations", guard(ah.AddDestinationHandler)).Methods(http.MethodPost)
	api.HandleFunc("/ping", ah.GetPingHandler).Methods(http.MethodGet)
	api.Handle("/ping", guard(ah.SetPingHandler)).Methods(http.MethodPut)
	api.HandleFunc("/select", ah.SelectHandler).Methods(http.MethodPost)
	api.HandleFunc("/match", ah.MatchHandler).Methods(http.MethodGet)
	api.HandleFunc("/hash", ah.HashHandler).Methods(http.MethodGet)

	api.HandleFunc("/loads", ah.LoadCountHandler).Methods(http.MethodGet)
	api.Handle("/loads/update", guard(ah.UpdateLoadHandler)).Methods(http.MethodPost)
	api.HandleFunc("/loads/{callid}", ah.GetLoadHandler).Methods(http.MethodGet)
	api.Handle("/loads/{callid}", guard(ah.RemoveLoadHandler)).Methods(http.MethodDelete)
	api.Handle("/loads/{callid}", guard(ah.ReplaceLoadHandler)).Methods(http.MethodPut)
	api.Handle("/loads/{callid}/confirm", guard(ah.ConfirmLoadHandler)).Methods(http.MethodPost)

	if deps.Reload != nil {
		ch := NewConfigHandler(deps.Reload, deps.Config, log)
		api.Handle("/reload", guard(ch.ReloadHandler)).Methods(http.MethodPost)
		api.HandleFunc("/config", ch.GetConfigHandler).Methods(http.MethodGet)
	}

	if deps.Registrar != nil {
		rh := NewRegistrarHandler(deps.Registrar, log)
		api.HandleFunc("/registrar/domains", rh.DomainsHandler).Methods(http.MethodGet)
		api.HandleFunc("/registrar/{domain}/contacts", rh.LookupHandler).Methods(http.MethodGet)
		api.Handle("/registrar/{domain}/contacts", guard(rh.RegisterHandler)).Methods(http.MethodPost)
	}

	return router
}
