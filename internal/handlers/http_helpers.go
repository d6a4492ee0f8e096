package handlers

import (
	"encoding/json"
	"net/http"
)

// writeJSON encodes v as JSON with the provided status code and a JSON content-type.
// Encode errors are intentionally ignored; the status line is already out.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeMessage is the {"message": ...} error shape used by the auth endpoints.
func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

// writeUpstreamError is the {"error", "details"} shape used by the publishing
// endpoints. When err carries a raw upstream payload it is passed through
// verbatim so the frontend sees exactly what the provider said.
func writeUpstreamError(w http.ResponseWriter, status int, label string, err error) {
	body := map[string]any{"error": label}
	if d, ok := err.(interface{ Details() json.RawMessage }); ok {
		body["details"] = d.Details()
	} else if err != nil {
		body["details"] = err.Error()
	}
	writeJSON(w, status, body)
}

// decodeJSON decodes JSON request bodies with the default decoder settings
// (no unknown-field rejection).
func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}
