package api

import (
	"net/http"
)

// healthBody is served verbatim so clients matching on the literal keep working.
const healthBody = `{"message": "Server is running"}`

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(healthBody))
}
