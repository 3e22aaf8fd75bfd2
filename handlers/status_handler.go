package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/usach-ambiental/piloto-monitor/database"
	"github.com/usach-ambiental/piloto-monitor/services"
	"github.com/usach-ambiental/piloto-monitor/utils"
)

var (
	sched *services.Scheduler
	loc   *time.Location
)

// Init wires the handlers to the running scheduler and the configured
// timezone. Called once from main before routes are registered.
func Init(s *services.Scheduler, l *time.Location) {
	sched = s
	loc = l
}

// Helper to respond with JSON
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Error marshalling JSON response: %v", err)
		http.Error(w, `{"error":"Failed to marshal JSON response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// Helper to respond with an error
func respondWithError(w http.ResponseWriter, code int, message string) {
	log.Printf("API Error %d: %s", code, message)
	respondWithJSON(w, code, map[string]string{"error": message})
}

// HealthCheckHandler reports process liveness and database reachability.
func HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if err := database.DB.Ping(); err != nil {
		log.Printf("Health check failed: DB ping error: %v", err)
		respondWithError(w, http.StatusInternalServerError, "database connection error")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "piloto-monitor backend is healthy",
	})
}

// SensorStatusHandler serves today's derived health feed: one record per
// sensor with quality and maintenance-priority tiers. An optional ?date=
// YYYY-MM-DD query reads a historical day.
func SensorStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondWithError(w, http.StatusMethodNotAllowed, "Only GET method is allowed")
		return
	}

	day := utils.Midnight(time.Now(), loc)
	if q := r.URL.Query().Get("date"); q != "" {
		parsed, err := time.ParseInLocation("2006-01-02", q, loc)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", q))
			return
		}
		day = parsed
	}

	recs, err := database.GetHealthRecordsForDate(day)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("failed to read health records: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"date":    day.Format("2006-01-02"),
		"sensors": recs,
	})
}

// RecentCyclesHandler serves the tail of the operation log, newest first.
func RecentCyclesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondWithError(w, http.StatusMethodNotAllowed, "Only GET method is allowed")
		return
	}

	limit := 20
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 || n > 500 {
			respondWithError(w, http.StatusBadRequest, "limit must be an integer between 1 and 500")
			return
		}
		limit = n
	}

	cycles, err := database.GetRecentCycles(limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("failed to read operation log: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"cycles": cycles})
}
