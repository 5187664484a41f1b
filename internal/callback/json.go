package callback

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// notFound answers every path other than the callback path.
func notFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusNotFound)

	body := struct {
		Error string `json:"error"`
	}{Error: "not found"}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.DebugContext(r.Context(), "failed to write not found response", "error", err)
	}
}
