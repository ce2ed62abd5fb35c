package web

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/vmaiops-alt/leveraged-sub002/internal/fees"
	"github.com/vmaiops-alt/leveraged-sub002/internal/liquidator"
	"github.com/vmaiops-alt/leveraged-sub002/internal/logger"
	"github.com/vmaiops-alt/leveraged-sub002/internal/pool"
	"github.com/vmaiops-alt/leveraged-sub002/internal/staking"
	"github.com/vmaiops-alt/leveraged-sub002/internal/state"
	"github.com/vmaiops-alt/leveraged-sub002/internal/types"
	"github.com/vmaiops-alt/leveraged-sub002/internal/vault"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer exposes read-only engine state over HTTP.
type WebServer struct {
	router *mux.Router
	port   string

	params     *types.ProtocolParameters
	pool       *pool.Pool
	vault      *vault.Vault
	staking    *staking.Staking
	fees       *fees.Collector
	liquidator *liquidator.Liquidator

	startedAt time.Time
}

// NewWebServer creates a new web server instance wired to the live engine
// components.
func NewWebServer(port string, params *types.ProtocolParameters, p *pool.Pool, v *vault.Vault, st *staking.Staking, fc *fees.Collector, lq *liquidator.Liquidator) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:     mux.NewRouter(),
		port:       port,
		params:     params,
		pool:       p,
		vault:      v,
		staking:    st,
		fees:       fc,
		liquidator: lq,
		startedAt:  time.Now(),
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	// Health endpoint (direct route)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/pool", ws.handleGetPool).Methods("GET")
	api.HandleFunc("/positions", ws.handleGetPositions).Methods("GET")
	api.HandleFunc("/positions/{id}", ws.handleGetPosition).Methods("GET")
	api.HandleFunc("/liquidatable", ws.handleGetLiquidatable).Methods("GET")
	api.HandleFunc("/staking/{address}", ws.handleGetStaking).Methods("GET")
	api.HandleFunc("/fees", ws.handleGetFees).Methods("GET")
	api.HandleFunc("/parameters", ws.handleGetParameters).Methods("GET")
	api.HandleFunc("/events", ws.handleGetEvents).Methods("GET")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns server health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	dbHealthy := true
	if err := state.TestDBConnection(); err != nil {
		dbHealthy = false
	}

	overallStatus := "OK"
	statusCode := http.StatusOK
	if !dbHealthy {
		overallStatus = "DEGRADED"
		statusCode = http.StatusServiceUnavailable
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"sys_bytes":        memStats.Sys,
			"gc_cycles":        memStats.NumGC,
			"uptime_seconds":   int64(time.Since(ws.startedAt).Seconds()),
		},
		"component": map[string]interface{}{
			"name":    "levd-leveraged-trading-engine",
			"version": "1.0.0",
		},
		"engine_status": map[string]interface{}{
			"database_healthy": dbHealthy,
			"open_positions":   len(ws.vault.OpenPositions()),
			"pool_utilization": ws.pool.UtilizationRate(),
		},
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// handleGetPool returns the lending pool summary
func (ws *WebServer) handleGetPool(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"pool":      ws.pool.Snapshot(),
		"timestamp": time.Now().UTC(),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetPositions returns all positions, or only open ones with ?status=open
func (ws *WebServer) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	var positions []types.Position
	if r.URL.Query().Get("status") == "open" {
		positions = ws.vault.OpenPositions()
	} else {
		positions = ws.vault.Positions()
	}

	response := map[string]interface{}{
		"positions": positions,
		"count":     len(positions),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetPosition returns a specific position with its live health factor
func (ws *WebServer) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	idStr := vars["id"]

	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid position ID")
		return
	}

	position, err := ws.vault.Position(types.PositionID(id))
	if err != nil {
		ws.writeErrorResponse(w, http.StatusNotFound, "Position not found")
		return
	}

	response := map[string]interface{}{
		"position": position,
	}
	// Health is only computable for open positions with a fresh quote.
	if position.IsOpen() {
		if hf, err := ws.vault.HealthFactor(position.ID); err == nil {
			response["health_factor"] = hf
		}
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetLiquidatable returns open positions below the health floor, worst first
func (ws *WebServer) handleGetLiquidatable(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}

	candidates := ws.liquidator.LiquidatablePositions(limit)
	response := map[string]interface{}{
		"candidates": candidates,
		"count":      len(candidates),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetStaking returns an account's staking summary
func (ws *WebServer) handleGetStaking(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	address := vars["address"]
	if address == "" {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Missing address")
		return
	}

	response := map[string]interface{}{
		"address": address,
		"staking": ws.staking.AccountView(address),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetFees returns the fee ledger summary
func (ws *WebServer) handleGetFees(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"fees":      ws.fees.Snapshot(),
		"timestamp": time.Now().UTC(),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetParameters returns current protocol parameters
func (ws *WebServer) handleGetParameters(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"parameters": ws.params,
		"timestamp":  time.Now().UTC(),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetEvents returns recent engine events from the journal
func (ws *WebServer) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 500 {
			limit = parsedLimit
		}
	}
	kind := r.URL.Query().Get("kind")

	events, err := state.RecentEvents(kind, limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent events")
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

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs each request at debug level
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		webLogger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}
