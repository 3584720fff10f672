package api

import (
	"net/http"

	"github.com/the-lightning-land/wifid/network"
)

type scanResponse struct {
	Found    int                   `json:"found"`
	Networks []network.AccessPoint `json:"networks"`
	Error    string                `json:"error,omitempty"`
}

func (a *Api) handlePostScan() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := a.withProvisioner(w)
		if !ok {
			return
		}

		err := p.ScanWifi()
		if err != nil {
			a.jsonFailure(w, err)
			return
		}

		w.WriteHeader(http.StatusAccepted)
	}
}

func (a *Api) handleGetLatestScan() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := a.withProvisioner(w)
		if !ok {
			return
		}

		result, found := p.LastScan()
		if !found {
			a.jsonError(w, "No scan finished yet", http.StatusNotFound)
			return
		}

		res := &scanResponse{
			Found:    result.Found,
			Networks: result.Records,
		}

		if res.Networks == nil {
			res.Networks = []network.AccessPoint{}
		}

		if result.Err != nil {
			res.Error = result.Err.Error()
		}

		a.jsonResponse(w, res, http.StatusOK)
	}
}
