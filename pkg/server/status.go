package server

import (
	"encoding/json"
	"net/http"
)

// handleStatus returns the last known reading. Fetch failures are never
// reported here; clients keep getting the last good reading.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	reading, ok := s.cache.Read()
	if !ok {
		writeJSONError(w, "no status available yet", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(reading); err != nil {
		panic(http.ErrAbortHandler)
	}
}
