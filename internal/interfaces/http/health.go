package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/tomking/trading/internal/domain"
	"github.com/tomking/trading/internal/engine"
	"github.com/tomking/trading/internal/persistence"
)

// HealthHandler provides system health status endpoint
type HealthHandler struct {
	engine     *engine.Engine
	state      StateSource
	db         persistence.RepositoryHealth
	startTime  time.Time
	version    string
	buildStamp string
}

// NewHealthHandler creates a new health handler. The db health source
// may be nil when persistence is disabled.
func NewHealthHandler(eng *engine.Engine, state StateSource, db persistence.RepositoryHealth, version, buildStamp string) *HealthHandler {
	return &HealthHandler{
		engine:     eng,
		state:      state,
		db:         db,
		startTime:  time.Now(),
		version:    version,
		buildStamp: buildStamp,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string    `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp  time.Time `json:"timestamp"`
	Uptime     string    `json:"uptime"`
	Version    string    `json:"version"`
	BuildStamp string    `json:"build_stamp"`

	// Evaluation state
	Regime string  `json:"regime"`
	VIX    float64 `json:"vix"`

	// System info
	System SystemInfo `json:"system"`

	// Persistence status, present only when enabled
	Database *persistence.HealthCheck `json:"database,omitempty"`

	// Service checks
	Checks map[string]CheckResult `json:"checks"`
}

// SystemInfo provides system-level information
type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	MemAlloc      uint64 `json:"mem_alloc_bytes"`
	MemSys        uint64 `json:"mem_sys_bytes"`
	NumGC         uint32 `json:"num_gc"`
}

// CheckResult represents individual health check results
type CheckResult struct {
	Status    string        `json:"status"` // "pass", "warn", "fail"
	Message   string        `json:"message"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// ServeHTTP implements the health check endpoint
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()

	// Gather all health information
	response := h.gatherHealthInfo(r)

	// Set response headers
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

	// Set HTTP status based on overall health
	switch response.Status {
	case "healthy":
		w.WriteHeader(http.StatusOK)
	case "degraded":
		w.WriteHeader(http.StatusOK) // Still return 200 for degraded
	case "unhealthy":
		w.WriteHeader(http.StatusServiceUnavailable)
	default:
		w.WriteHeader(http.StatusInternalServerError)
	}

	// Add processing time
	response.Checks["health_endpoint"] = CheckResult{
		Status:    "pass",
		Message:   "Health endpoint responding",
		Duration:  time.Since(start),
		Timestamp: time.Now(),
	}

	// Encode and send response
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// gatherHealthInfo collects all health information
func (h *HealthHandler) gatherHealthInfo(r *http.Request) HealthResponse {
	now := time.Now()

	response := HealthResponse{
		Timestamp:  now,
		Uptime:     time.Since(h.startTime).String(),
		Version:    h.version,
		BuildStamp: h.buildStamp,
		System:     h.getSystemInfo(),
		Checks:     make(map[string]CheckResult),
	}

	h.addDataChecks(&response)
	h.addDatabaseCheck(r, &response)
	h.addSystemChecks(&response)

	// Determine overall status
	response.Status = h.calculateOverallStatus(response.Checks)

	return response
}

// getSystemInfo collects system runtime information
func (h *HealthHandler) getSystemInfo() SystemInfo {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return SystemInfo{
		GoVersion:     runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
		MemAlloc:      memStats.Alloc,
		MemSys:        memStats.Sys,
		NumGC:         memStats.NumGC,
	}
}

// addDataChecks reports market data freshness. A stale VIX is a warning,
// not a failure: the regime classifier fails closed to UNKNOWN and the
// engine keeps running exits, so the process stays serviceable.
func (h *HealthHandler) addDataChecks(response *HealthResponse) {
	now := time.Now().UTC()

	snap, ok := h.latest()
	if !ok {
		response.Regime = h.engine.Regimes().UnknownRegime().Name
		response.Checks["market_data"] = CheckResult{
			Status:    "warn",
			Message:   "No market snapshot published yet",
			Duration:  0,
			Timestamp: now,
		}
		return
	}

	response.VIX = snap.VIX
	response.Regime = h.engine.Regimes().Classify(snap.VIX, snap.VIXAsOf, now).Name

	maxAge := h.engine.Regimes().MaxAge()
	age := snap.VIXAge(now)

	switch {
	case snap.VIXAsOf.IsZero():
		response.Checks["market_data"] = CheckResult{
			Status:    "warn",
			Message:   "Snapshot carries no VIX timestamp; regime fails closed",
			Duration:  0,
			Timestamp: now,
		}
	case age > maxAge:
		response.Checks["market_data"] = CheckResult{
			Status:    "warn",
			Message:   fmt.Sprintf("VIX %s old exceeds %s budget; regime fails closed", age.Round(time.Second), maxAge),
			Duration:  0,
			Timestamp: now,
		}
	case age > maxAge/2:
		response.Checks["market_data"] = CheckResult{
			Status:    "warn",
			Message:   fmt.Sprintf("VIX aging: %s of %s budget used", age.Round(time.Second), maxAge),
			Duration:  0,
			Timestamp: now,
		}
	default:
		response.Checks["market_data"] = CheckResult{
			Status:    "pass",
			Message:   fmt.Sprintf("VIX %.2f, %s old", snap.VIX, age.Round(time.Second)),
			Duration:  0,
			Timestamp: now,
		}
	}
}

// addDatabaseCheck reports persistence health when a repository is wired.
func (h *HealthHandler) addDatabaseCheck(r *http.Request, response *HealthResponse) {
	if h.db == nil {
		return
	}

	start := time.Now()
	check := h.db.Health(r.Context())
	response.Database = &check

	if check.Healthy {
		response.Checks["database"] = CheckResult{
			Status:    "pass",
			Message:   "Database reachable",
			Duration:  time.Since(start),
			Timestamp: time.Now(),
		}
	} else {
		response.Checks["database"] = CheckResult{
			Status:    "fail",
			Message:   fmt.Sprintf("Database unhealthy: %v", check.Errors),
			Duration:  time.Since(start),
			Timestamp: time.Now(),
		}
	}
}

// addSystemChecks adds system-level health checks
func (h *HealthHandler) addSystemChecks(response *HealthResponse) {
	// Memory usage check
	memUsagePercent := float64(response.System.MemAlloc) / float64(response.System.MemSys) * 100

	if memUsagePercent > 90 {
		response.Checks["memory"] = CheckResult{
			Status:    "fail",
			Message:   fmt.Sprintf("Memory usage critical: %.1f%%", memUsagePercent),
			Duration:  0,
			Timestamp: time.Now(),
		}
	} else if memUsagePercent > 75 {
		response.Checks["memory"] = CheckResult{
			Status:    "warn",
			Message:   fmt.Sprintf("Memory usage high: %.1f%%", memUsagePercent),
			Duration:  0,
			Timestamp: time.Now(),
		}
	} else {
		response.Checks["memory"] = CheckResult{
			Status:    "pass",
			Message:   fmt.Sprintf("Memory usage normal: %.1f%%", memUsagePercent),
			Duration:  0,
			Timestamp: time.Now(),
		}
	}

	// Goroutine count check
	if response.System.NumGoroutines > 1000 {
		response.Checks["goroutines"] = CheckResult{
			Status:    "warn",
			Message:   fmt.Sprintf("High goroutine count: %d", response.System.NumGoroutines),
			Duration:  0,
			Timestamp: time.Now(),
		}
	} else {
		response.Checks["goroutines"] = CheckResult{
			Status:    "pass",
			Message:   fmt.Sprintf("Goroutine count normal: %d", response.System.NumGoroutines),
			Duration:  0,
			Timestamp: time.Now(),
		}
	}

	// Uptime check
	uptime := time.Since(h.startTime)
	if uptime < time.Minute {
		response.Checks["uptime"] = CheckResult{
			Status:    "warn",
			Message:   "Service recently started",
			Duration:  0,
			Timestamp: time.Now(),
		}
	} else {
		response.Checks["uptime"] = CheckResult{
			Status:    "pass",
			Message:   fmt.Sprintf("Service uptime: %s", uptime.String()),
			Duration:  0,
			Timestamp: time.Now(),
		}
	}
}

// calculateOverallStatus determines overall service health
func (h *HealthHandler) calculateOverallStatus(checks map[string]CheckResult) string {
	// Check for any failing checks
	for _, check := range checks {
		if check.Status == "fail" {
			return "unhealthy"
		}
	}

	// Check for any warning conditions
	for _, check := range checks {
		if check.Status == "warn" {
			return "degraded"
		}
	}

	return "healthy"
}

func (h *HealthHandler) latest() (*domain.MarketSnapshot, bool) {
	if h.state == nil {
		return nil, false
	}
	snap, ok := h.state.LatestSnapshot()
	if !ok || snap == nil {
		return nil, false
	}
	return snap, true
}
