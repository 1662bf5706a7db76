package bridge

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Antoinecarle/agent-testing-platform-sub000/internal/logger"
	"github.com/Antoinecarle/agent-testing-platform-sub000/internal/token"
)

// hookRequest is what the agent's permission tool posts when it needs
// a human verdict.
type hookRequest struct {
	ToolName string          `json:"tool_name"`
	Input    json.RawMessage `json:"input,omitempty"`
}

// Handler serves POST /hooks/permission. The agent authenticates with
// the scoped token minted at spawn time; the chat id comes from the
// token, never from the request body.
func Handler(b *Bridge, issuer *token.Issuer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		claims, err := issuer.Verify(raw, token.TypeAgent)
		if err != nil {
			logger.Warn("permission hook rejected", "error", err)
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		var req hookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request body", http.StatusBadRequest)
			return
		}
		if req.ToolName == "" {
			http.Error(w, "tool_name required", http.StatusBadRequest)
			return
		}

		d := b.Request(r.Context(), claims.SessionID, req.ToolName, req.Input)

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(d); err != nil {
			logger.Error("permission hook write failed", "error", err)
		}
	})
}
