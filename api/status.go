package api

import (
	"net/http"
)

func (a *Api) handleGetStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := a.withProvisioner(w)
		if !ok {
			return
		}

		a.jsonResponse(w, p.Status(), http.StatusOK)
	}
}
