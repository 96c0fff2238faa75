package relay

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// NewStatusHandler returns the HTTP handler for the relay's read-only status
// API: live statistics and the active session listing.
func NewStatusHandler(s *Server, logger *logrus.Logger) http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, s.Stats())
	}).Methods(http.MethodGet)

	router.HandleFunc("/games", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, s.Games())
	}).Methods(http.MethodGet)

	return router
}

func writeJSON(w http.ResponseWriter, logger *logrus.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("error writing status response: %v", err)
	}
}
