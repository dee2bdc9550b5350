package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/dandantas/stocksync/internal/apperr"
	"github.com/dandantas/stocksync/pkg/middleware"
)

const maxBodyBytes = 8 << 20

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error    string         `json:"error"`
	Message  string         `json:"message,omitempty"`
	Code     string         `json:"code,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError maps err to its HTTP status and text code
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperr.As(err)
	status := appErr.Code
	if status == 0 {
		status = http.StatusInternalServerError
	}

	log := middleware.Logger(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("Request failed", "path", r.URL.Path, "code", appErr.TextCode, "error", err)
	} else {
		log.Info("Request rejected", "path", r.URL.Path, "code", appErr.TextCode, "error", appErr.Message)
	}

	writeJSON(w, status, ErrorResponse{
		Error:    http.StatusText(status),
		Message:  appErr.Message,
		Code:     appErr.TextCode,
		Metadata: appErr.Metadata,
	})
}

// decodeJSON reads an optional JSON body into v. An empty body leaves v as is.
func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return apperr.BadInput("failed to read request body", nil)
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return apperr.BadInput("request body is not valid JSON", map[string]any{"offset": syntaxErr.Offset})
		}
		return apperr.BadInput("invalid request body: "+err.Error(), nil)
	}
	return nil
}

// parseQueryInt parses an integer query parameter with a default value
func parseQueryInt(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

// parseQueryBool parses a boolean query parameter
func parseQueryBool(r *http.Request, key string) bool {
	value := r.URL.Query().Get(key)
	return value == "true" || value == "1"
}
