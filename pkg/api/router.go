package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"parley/pkg/api/handlers"
	"parley/pkg/auth"
	"parley/pkg/store"
	"parley/pkg/sync"
	"parley/pkg/utils"
)

// NewRouter assembles the full HTTP surface: health and metrics on the
// outer router, identity-gated conversation and message routes under /v1.
func NewRouter(mgr *sync.Manager, sec auth.SecConfig) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	r.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !store.Ready() {
			utils.JSONError(w, http.StatusServiceUnavailable, "store not ready")
			return
		}
		utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ready"})
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.PathPrefix("/docs/").Handler(httpSwagger.Handler(
		httpSwagger.URL("/docs/openapi.yaml"),
	))
	r.HandleFunc("/docs/openapi.yaml", handlers.ServeOpenAPI).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(auth.RequireIdentity)
	handlers.Register(v1, mgr)

	gate := auth.GatewayMiddleware(sec)
	return gate(r)
}
