package handlers

import (
	"context"
	"net/http"
)

// ForceFetchHandler triggers an immediate fetch cycle outside the scheduled
// interval. Expects POST requests to /api/admin/fetch. A trigger while a
// cycle is already in flight is rejected with 409, never run concurrently.
func ForceFetchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondWithError(w, http.StatusMethodNotAllowed, "Only POST method is allowed")
		return
	}
	if sched == nil {
		respondWithError(w, http.StatusServiceUnavailable, "scheduler is not running")
		return
	}

	// The cycle must outlive the request, so it gets its own context.
	if !sched.TriggerNow(context.Background()) {
		respondWithError(w, http.StatusConflict, "a fetch cycle is already in progress")
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"message": "fetch cycle started",
	})
}
