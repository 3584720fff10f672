package api

import (
	"encoding/json"
	"net/http"
)

type postNetworkRequest struct {
	Ssid string `json:"ssid"`
	Psk  string `json:"psk"`
}

type postNetworkResponse struct {
	Ssid string `json:"ssid"`
}

func (a *Api) handlePostNetwork() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := a.withProvisioner(w)
		if !ok {
			return
		}

		req := postNetworkRequest{}
		err := json.NewDecoder(r.Body).Decode(&req)
		if err != nil {
			a.jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}

		err = p.ConnectToWifi(req.Ssid, req.Psk)
		if err != nil {
			a.jsonFailure(w, err)
			return
		}

		a.jsonResponse(w, &postNetworkResponse{
			Ssid: req.Ssid,
		}, http.StatusAccepted)
	}
}

func (a *Api) handlePostAccessPoint() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := a.withProvisioner(w)
		if !ok {
			return
		}

		err := p.EnterAccessPointMode()
		if err != nil {
			a.jsonFailure(w, err)
			return
		}

		a.jsonResponse(w, p.Status(), http.StatusOK)
	}
}
