package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// problemDetail is a minimal RFC 7807 body, duplicated from internal/api's
// richer ProblemDetail to avoid middleware importing the api package (which
// imports middleware) and creating an import cycle.
type problemDetail struct {
	Type          string `json:"type"`
	Title         string `json:"title"`
	Status        int    `json:"status"`
	Detail        string `json:"detail"`
	Instance      string `json:"instance"`
	CorrelationID string `json:"correlationId,omitempty"` //nolint: tagliatelle
}

// writeRFC7807Error writes a minimal RFC 7807 problem+json response.
func writeRFC7807Error(w http.ResponseWriter, r *http.Request, status int, title, detail, correlationID string) error {
	body := problemDetail{
		Type:          fmt.Sprintf("https://qhse.internal/problems/%d", status),
		Title:         title,
		Status:        status,
		Detail:        detail,
		Instance:      r.URL.Path,
		CorrelationID: correlationID,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	return json.NewEncoder(w).Encode(body)
}
