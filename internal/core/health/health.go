// Package health serves the liveness endpoint.
package health

import (
	"encoding/json"
	"net/http"
)

// Health reports process liveness. No dependencies are probed: the harvest
// path degrades per provider and the store fails per request, so a deep check
// would only flap the endpoint.
func Health() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
