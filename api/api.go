package api

import (
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/the-lightning-land/wifid/network"
)

// Provisioner is what the api operates on.
type Provisioner interface {
	Status() *network.Status
	ConnectToWifi(ssid string, psk string) error
	EnterAccessPointMode() error
	ScanWifi() error
	// LastScan returns the most recent scan result, if any.
	LastScan() (*network.ScanResult, bool)
}

type Config struct {
	Provisioner Provisioner
	Log         Logger
}

type Api struct {
	router *mux.Router
	log    Logger

	mu          sync.RWMutex
	provisioner Provisioner
}

// check Api compliance to its interface during compile time
var _ http.Handler = (*Api)(nil)

func New(config *Config) *Api {
	api := &Api{
		router:      mux.NewRouter(),
		provisioner: config.Provisioner,
	}

	if config.Log != nil {
		api.log = config.Log
	} else {
		api.log = noopLogger{}
	}

	api.router.Handle("/api/v1/status", api.handleGetStatus()).Methods(http.MethodGet)
	api.router.Handle("/api/v1/networks", api.handlePostNetwork()).Methods(http.MethodPost)
	api.router.Handle("/api/v1/ap", api.handlePostAccessPoint()).Methods(http.MethodPost)
	api.router.Handle("/api/v1/scans", api.handlePostScan()).Methods(http.MethodPost)
	api.router.Handle("/api/v1/scans/latest", api.handleGetLatestScan()).Methods(http.MethodGet)

	return api
}

func (a *Api) SetProvisioner(provisioner Provisioner) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.provisioner = provisioner
}

func (a *Api) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// withProvisioner responds with 503 until a provisioner is set.
func (a *Api) withProvisioner(w http.ResponseWriter) (Provisioner, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.provisioner == nil {
		a.jsonError(w, "Not ready yet", http.StatusServiceUnavailable)
		return nil, false
	}

	return a.provisioner, true
}
