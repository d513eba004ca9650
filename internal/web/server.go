package web

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/meridian-fi/rvm/internal/logger"
	"github.com/meridian-fi/rvm/internal/router"
	"github.com/meridian-fi/rvm/internal/state"
	"github.com/meridian-fi/rvm/internal/vault"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer exposes the vault and router state over a read-only HTTP API.
type WebServer struct {
	routes      *mux.Router
	port        string
	vault       *vault.Vault
	yieldRouter *router.Router
	startedAt   time.Time
}

// NewWebServer creates a new web server instance.
func NewWebServer(port string, v *vault.Vault, r *router.Router) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		routes:      mux.NewRouter(),
		port:        port,
		vault:       v,
		yieldRouter: r,
		startedAt:   time.Now(),
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes.
func (ws *WebServer) setupRoutes() {
	ws.routes.HandleFunc("/health", ws.handleHealth).Methods("GET")

	api := ws.routes.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/vault/summary", ws.handleGetVaultSummary).Methods("GET")
	api.HandleFunc("/router/assets", ws.handleGetRouterAssets).Methods("GET")
	api.HandleFunc("/accruals", ws.handleGetAccruals).Methods("GET")
	api.HandleFunc("/weights", ws.handleGetWeightUpdates).Methods("GET")
	api.HandleFunc("/events", ws.handleGetEvents).Methods("GET")

	ws.routes.Use(ws.corsMiddleware)
	ws.routes.Use(ws.loggingMiddleware)
}

// Start starts the web server.
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.routes,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns server health status.
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	dbHealthy := false
	if state.DB != nil {
		dbHealthy = state.DB.Ping() == nil
	}

	response := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"system": map[string]interface{}{
			"goroutines":     runtime.NumGoroutine(),
			"alloc_bytes":    memStats.Alloc,
			"gc_cycles":      memStats.NumGC,
			"uptime_seconds": int64(time.Since(ws.startedAt).Seconds()),
		},
		"component": map[string]interface{}{
			"name": "rvm-rebasing-vault-manager",
		},
		"database_healthy": dbHealthy,
	}

	statusCode := http.StatusOK
	if !dbHealthy {
		response["status"] = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// handleGetVaultSummary returns the vault's accounting state.
func (ws *WebServer) handleGetVaultSummary(w http.ResponseWriter, r *http.Request) {
	if ws.vault == nil {
		ws.writeErrorResponse(w, http.StatusServiceUnavailable, "Vault not wired")
		return
	}

	response := map[string]interface{}{
		"total_deposited_assets": ws.vault.TotalAssets().String(),
		"total_shares":           ws.vault.TotalShares().String(),
		"total_supply":           ws.vault.TotalSupply().String(),
		"total_ghost_balance":    ws.vault.TotalGhostBalance().String(),
		"rebase_index":           ws.vault.RebaseIndex().String(),
		"redemption_fee_bps":     ws.vault.RedemptionFeeBps(),
		"paused":                 ws.vault.Paused(),
		"timestamp":              time.Now().UTC(),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetRouterAssets returns the registry and allocation state.
func (ws *WebServer) handleGetRouterAssets(w http.ResponseWriter, r *http.Request) {
	if ws.yieldRouter == nil {
		ws.writeErrorResponse(w, http.StatusServiceUnavailable, "Router not wired")
		return
	}

	assets := ws.yieldRouter.Assets()
	assetViews := make([]map[string]interface{}, 0, len(assets))
	for _, a := range assets {
		assetViews = append(assetViews, map[string]interface{}{
			"token":        a.Token,
			"underlying":   a.Underlying,
			"counterparty": a.Counterparty,
			"type":         a.Type.String(),
			"weight_bps":   a.WeightBps,
			"balance":      a.Balance.String(),
		})
	}

	totalValue := "unavailable"
	if tv, err := ws.yieldRouter.TotalValue(); err == nil {
		totalValue = tv.String()
	} else {
		webLogger.Warn().Err(err).Msg("Valuation failed while serving router assets")
	}

	response := map[string]interface{}{
		"assets":                    assetViews,
		"count":                     len(assetViews),
		"tracked_liquid_balance":    ws.yieldRouter.TrackedLiquidBalance().String(),
		"last_observed_total_value": ws.yieldRouter.LastObservedTotalValue().String(),
		"total_value":               totalValue,
		"last_accrual_timestamp":    ws.yieldRouter.LastAccrualTimestamp(),
		"accrual_interval_seconds":  int64(ws.yieldRouter.AccrualInterval().Seconds()),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetAccruals returns paginated accrual history.
func (ws *WebServer) handleGetAccruals(w http.ResponseWriter, r *http.Request) {
	limit := ws.parseLimit(r, 20)

	accruals, err := state.GetRecentAccruals(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent accruals")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve accruals")
		return
	}

	response := map[string]interface{}{
		"accruals": accruals,
		"count":    len(accruals),
		"limit":    limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetWeightUpdates returns paginated weight transition history.
func (ws *WebServer) handleGetWeightUpdates(w http.ResponseWriter, r *http.Request) {
	limit := ws.parseLimit(r, 20)

	records, err := state.GetRecentWeightUpdates(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get weight updates")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve weight updates")
		return
	}

	response := map[string]interface{}{
		"updates": records,
		"count":   len(records),
		"limit":   limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetEvents returns the journaled events, optionally filtered by kind.
func (ws *WebServer) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	limit := ws.parseLimit(r, 50)
	kind := r.URL.Query().Get("kind")

	events, err := state.GetRecentEvents(kind, limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get events")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve events")
		return
	}

	response := map[string]interface{}{
		"events": events,
		"count":  len(events),
		"limit":  limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

func (ws *WebServer) parseLimit(r *http.Request, def int) int {
	limit := def
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	return limit
}

// writeJSONResponse writes a JSON response.
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response.
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers.
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests.
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		webLogger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriterWrapper captures the response status code for logging.
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriterWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
