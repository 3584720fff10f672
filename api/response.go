package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-errors/errors"
	"github.com/the-lightning-land/wifid/network"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (a *Api) jsonResponse(w http.ResponseWriter, v interface{}, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		a.log.Errorf("Could not respond with JSON: %v", err)
	}
}

func (a *Api) jsonError(w http.ResponseWriter, message string, code int) {
	a.jsonResponse(w, &errorResponse{Error: message}, code)
}

// statusOf maps provisioning errors to http status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, network.ErrInvalidCredentials):
		return http.StatusBadRequest
	case errors.Is(err, network.ErrNotInitialized),
		errors.Is(err, network.ErrAlreadyInitialized),
		errors.Is(err, network.ErrClosed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (a *Api) jsonFailure(w http.ResponseWriter, err error) {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		a.log.Errorf("Request failed: %v", err)
	}

	a.jsonError(w, err.Error(), code)
}
