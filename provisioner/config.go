package provisioner

import (
	"time"

	"github.com/the-lightning-land/wifid/api"
	"github.com/the-lightning-land/wifid/connectivity"
	"github.com/the-lightning-land/wifid/network"
)

// Network is the radio the provisioner drives, see network.Manager.
type Network interface {
	Init(network.StateCallback) error
	Connect(ssid string, password string) error
	EnterAccessPointMode() error
	Scan(network.ScanCallback) error
	Status() *network.Status
	Close() error
}

// check Manager compliance to the interface during compile time
var _ Network = (*network.Manager)(nil)

type Config struct {
	Network Network
	// Listen is the address the page and the websocket are served on.
	Listen string
	// Page is served at the root path.
	Page []byte
	Api  *api.Api
	// Reporter mirrors the connection state if set.
	Reporter *connectivity.StateReporter
	// ApOnStartup enters access point mode right after startup when no
	// station credentials are given.
	ApOnStartup bool
	StationSsid string
	StationPsk  string

	MaxFrameSize int64
	PingInterval time.Duration
	PongTimeout  time.Duration

	Logger Logger
}
