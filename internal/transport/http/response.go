package httptransport

import (
	"encoding/json"
	"log"
	"net/http"
)

// apiError is the error envelope every non-2xx response carries.
type apiError struct {
	Message string `json:"message"`
}

// writeJSON marshals before touching the ResponseWriter so a marshal failure
// can still become a clean 500 instead of a half-written body.
func writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Printf("[http] response marshal failed: %v", err)
		http.Error(w, `{"message":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, apiError{Message: msg})
}
