package provisioner

import (
	"encoding/json"
	"net"
	"sync"

	"github.com/go-errors/errors"
	"github.com/the-lightning-land/wifid/connectivity"
	"github.com/the-lightning-land/wifid/network"
	"github.com/the-lightning-land/wifid/realtime"
)

// Provisioner puts the device on a wifi network. It serves the provisioning
// page, takes commands over the websocket and the api, and pushes state
// changes and scan results to the attached peer.
type Provisioner struct {
	log         Logger
	network     Network
	server      *realtime.Server
	listen      string
	reporter    *connectivity.StateReporter
	apOnStartup bool
	stationSsid string
	stationPsk  string

	mu       sync.Mutex
	lastScan *network.ScanResult
	running  bool

	done         chan struct{}
	shutdownOnce sync.Once
}

func NewProvisioner(config *Config) *Provisioner {
	p := &Provisioner{
		network:     config.Network,
		listen:      config.Listen,
		reporter:    config.Reporter,
		apOnStartup: config.ApOnStartup,
		stationSsid: config.StationSsid,
		stationPsk:  config.StationPsk,
		done:        make(chan struct{}),
	}

	if config.Logger != nil {
		p.log = config.Logger
	} else {
		p.log = noopLogger{}
	}

	serverConfig := &realtime.ServerConfig{
		Page:         config.Page,
		OnReceive:    p.handleMessage,
		MaxFrameSize: config.MaxFrameSize,
		PingInterval: config.PingInterval,
		PongTimeout:  config.PongTimeout,
		Logger:       p.log,
	}

	if config.Api != nil {
		serverConfig.Api = config.Api
		config.Api.SetProvisioner(p)
	}

	p.server = realtime.NewServer(serverConfig)

	return p
}

// Run brings up the radio and the server and blocks until Shutdown is called.
func (p *Provisioner) Run() error {
	p.log.Infof("Starting provisioner...")

	err := p.network.Init(p.onStateChange)
	if err != nil {
		return errors.Errorf("could not init network: %w", err)
	}

	lis, err := net.Listen("tcp", p.listen)
	if err != nil {
		_ = p.network.Close()
		return errors.Errorf("unable to listen on %v: %w", p.listen, err)
	}

	err = p.server.Start(lis)
	if err != nil {
		_ = lis.Close()
		_ = p.network.Close()
		return errors.Errorf("could not start server: %w", err)
	}

	p.mu.Lock()
	p.running = true
	p.mu.Unlock()

	if p.stationSsid != "" {
		p.log.Infof("Will attempt connecting to wifi %v", p.stationSsid)

		err := p.ConnectToWifi(p.stationSsid, p.stationPsk)
		if err != nil {
			p.log.Warnf("Whoops, couldn't connect to wifi: %v", err)
		}
	} else if p.apOnStartup {
		err := p.EnterAccessPointMode()
		if err != nil {
			p.log.Errorf("Could not enter access point mode: %v", err)
		}
	} else {
		p.log.Infof("No wifi credentials configured, waiting for a peer")
	}

	<-p.done

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	err = p.server.Stop()
	if err != nil {
		p.log.Errorf("Could not stop server: %v", err)
	}

	err = p.network.Close()
	if err != nil {
		return errors.Errorf("could not close network: %w", err)
	}

	p.log.Infof("Provisioner stopped")

	return nil
}

// Addr returns the address the server listens on, nil while not running.
func (p *Provisioner) Addr() net.Addr {
	return p.server.Addr()
}

// Running reports whether Run finished starting up and was not shut down.
func (p *Provisioner) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.running
}

func (p *Provisioner) Shutdown() {
	p.shutdownOnce.Do(func() {
		p.log.Infof("Shutting down provisioner...")
		close(p.done)
	})
}

func (p *Provisioner) Status() *network.Status {
	return p.network.Status()
}

func (p *Provisioner) ConnectToWifi(ssid string, psk string) error {
	p.log.Infof("Connecting to wifi %v", ssid)

	return p.network.Connect(ssid, psk)
}

func (p *Provisioner) EnterAccessPointMode() error {
	err := p.network.EnterAccessPointMode()
	if err != nil {
		return err
	}

	p.pushState()

	return nil
}

// ScanWifi starts a scan. The result is pushed to the peer and kept as the
// latest scan.
func (p *Provisioner) ScanWifi() error {
	return p.network.Scan(p.onScan)
}

func (p *Provisioner) LastScan() (*network.ScanResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lastScan == nil {
		return nil, false
	}

	result := *p.lastScan

	return &result, true
}

func (p *Provisioner) onScan(result network.ScanResult) {
	p.mu.Lock()
	p.lastScan = &result
	p.mu.Unlock()

	if result.Err != nil {
		p.push(&errorMessage{Type: errorMessageType, Message: result.Err.Error()})
		return
	}

	p.push(newScanResultMessage(&result))
}

func (p *Provisioner) onStateChange(state connectivity.State) {
	p.log.Infof("Connection state changed to %v", state)

	if p.reporter != nil {
		p.reporter.Set(state)
	}

	// the status may have moved on already, the message carries the
	// transition being reported
	msg := newStateMessage(p.network.Status())
	msg.State = state

	p.push(msg)
}

func (p *Provisioner) handleMessage(payload []byte) {
	req := request{}
	err := json.Unmarshal(payload, &req)
	if err != nil {
		p.pushError(errors.Errorf("malformed message: %v", err))
		return
	}

	p.log.Debugf("Received %v message", req.Type)

	switch req.Type {
	case scanRequest:
		err = p.ScanWifi()
	case connectRequest:
		err = p.ConnectToWifi(req.Ssid, req.Password)
	case apRequest:
		err = p.EnterAccessPointMode()
	case statusRequest:
		p.pushState()
	default:
		err = errors.Errorf("unknown message type %q", req.Type)
	}

	if err != nil {
		p.pushError(err)
	}
}

func (p *Provisioner) pushState() {
	p.push(newStateMessage(p.network.Status()))
}

func (p *Provisioner) pushError(err error) {
	p.log.Warnf("Request failed: %v", err)
	p.push(&errorMessage{Type: errorMessageType, Message: err.Error()})
}

func (p *Provisioner) push(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		p.log.Errorf("Could not encode message: %v", err)
		return
	}

	err = p.server.Send(data)
	switch {
	case err == nil:
	case errors.Is(err, realtime.ErrNoPeer), errors.Is(err, realtime.ErrStopped):
		p.log.Debugf("Not pushing message: %v", err)
	default:
		p.log.Warnf("Could not push message: %v", err)
	}
}
