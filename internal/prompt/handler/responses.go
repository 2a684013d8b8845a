package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "promptvault/pkg/domain-errors"
)

type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
	BusinessKey string `json:"business_key,omitempty"`
}

// WriteError translates a coded domain error into its HTTP shape. Uncoded
// errors collapse to a generic 500 so internals never leak to clients.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	resp := errorResponse{Error: string(code)}

	var se *dErrors.StoreError
	if errors.As(err, &se) {
		resp.Description = se.Message
		resp.BusinessKey = se.Key
	}
	if code == dErrors.CodeInternal || code == dErrors.CodeCorruption {
		resp.Description = ""
	}

	WriteJSON(w, dErrors.ToHTTPStatus(code), resp)
}

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
