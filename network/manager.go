package network

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"github.com/go-errors/errors"
	"github.com/looplab/fsm"
	"github.com/the-lightning-land/wifid/connectivity"
	"github.com/the-lightning-land/wifid/event"
)

const (
	stateIdle         = "idle"
	stateStarting     = "station_starting"
	stateConnected    = "station_connected"
	stateDisconnected = "station_disconnected"
	stateGivenUp      = "station_given_up"
)

const (
	eventStart    = "start"
	eventConnect  = "connect"
	eventGotIP    = "got_ip"
	eventLinkLost = "link_lost"
	eventGiveUp   = "give_up"
)

const (
	maxSSIDLength     = 32
	maxPasswordLength = 64
	minPasswordLength = 8

	addressingTimeout = 10 * time.Second
)

// StateCallback is notified about connection state transitions in the order
// they happened. It runs on the event dispatch goroutine, or on the caller's
// goroutine for transitions caused by Connect, and must not block.
type StateCallback func(connectivity.State)

type ManagerConfig struct {
	Driver Driver
	// Events delivers driver notifications. If nil, the driver itself must
	// implement event.Subsystem.
	Events    event.Subsystem
	Addresser Addresser

	AccessPoint AccessPointConfig
	Subnet      netip.Prefix

	// MaxRetries is the number of automatic reconnects after disconnects.
	// Zero disables them.
	MaxRetries int
	RetryDelay time.Duration

	ScanCapacity int
	ScanTimeout  time.Duration

	Logger Logger
}

// Manager owns the station and access point lifecycle of the radio.
type Manager struct {
	log       Logger
	driver    Driver
	events    event.Subsystem
	addresser Addresser
	apConfig  AccessPointConfig
	ipInfo    IPInfo
	scanner   *Scanner

	mu            sync.Mutex
	fsm           *fsm.FSM
	retry         *retryPolicy
	onStateChange StateCallback
	initialized   bool
	closed        bool
	running       bool
	mode          Mode
	apActive      bool
	ssid          string
	addr          netip.Addr
	peers         int
	session       uint64
	retryTimer    *time.Timer
	pending       []connectivity.State
	flushing      bool

	unsubscribe func()
	stopBridge  context.CancelFunc
	bridgeDone  chan struct{}
}

// check Manager compliance to its interface during compile time
var _ event.Handler = (*Manager)(nil)

func NewManager(config *ManagerConfig) (*Manager, error) {
	if config.Driver == nil {
		return nil, errors.New("a driver is required")
	}

	events := config.Events
	if events == nil {
		subsystem, ok := config.Driver.(event.Subsystem)
		if !ok {
			return nil, errors.Errorf("driver %T does not deliver events", config.Driver)
		}
		events = subsystem
	}

	m := &Manager{
		driver:    config.Driver,
		events:    events,
		addresser: config.Addresser,
		apConfig:  config.AccessPoint,
		retry:     newRetryPolicy(config.MaxRetries, config.RetryDelay),
		mode:      ModeStation,
	}

	if config.Logger != nil {
		m.log = config.Logger
	} else {
		m.log = noopLogger{}
	}

	if config.Subnet.IsValid() {
		ipInfo, err := IPInfoFromPrefix(config.Subnet)
		if err != nil {
			return nil, err
		}
		m.ipInfo = ipInfo
	}

	m.scanner = NewScanner(&ScannerConfig{
		Driver:   config.Driver,
		Capacity: config.ScanCapacity,
		Timeout:  config.ScanTimeout,
		Logger:   m.log,
	})

	m.fsm = fsm.NewFSM(
		stateIdle,
		fsm.Events{
			{Name: eventStart, Src: []string{stateIdle}, Dst: stateStarting},
			{Name: eventConnect, Src: []string{stateStarting, stateConnected, stateDisconnected, stateGivenUp}, Dst: stateStarting},
			{Name: eventGotIP, Src: []string{stateStarting, stateDisconnected, stateGivenUp}, Dst: stateConnected},
			{Name: eventLinkLost, Src: []string{stateStarting, stateConnected}, Dst: stateDisconnected},
			{Name: eventGiveUp, Src: []string{stateStarting, stateDisconnected}, Dst: stateGivenUp},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				m.log.Debugf("Station moved from %v to %v on %v", e.Src, e.Dst, e.Event)
			},
		},
	)

	return m, nil
}

// fire runs a state machine event and reports whether the state changed.
// Must be called with m.mu held.
func (m *Manager) fire(name string) bool {
	if !m.fsm.Can(name) {
		return false
	}

	err := m.fsm.Event(context.Background(), name)
	if err != nil {
		var noTransition fsm.NoTransitionError
		if !errors.As(err, &noTransition) {
			m.log.Errorf("Could not apply %v in %v: %v", name, m.fsm.Current(), err)
		}
		return false
	}

	return true
}

// Init subscribes to driver events, brings up the network stack and starts
// the radio in station mode.
func (m *Manager) Init(onStateChange StateCallback) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	if m.initialized {
		return ErrAlreadyInitialized
	}

	bridge := event.NewBridge(&event.Config{
		Handler: m,
		Logger:  m.log,
	})

	unsubscribe, err := m.events.Subscribe(bridge.Deliver)
	if err != nil {
		return errors.Errorf("could not subscribe to driver events: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		bridge.Run(ctx)
	}()

	err = m.bringUp()
	if err != nil {
		unsubscribe()
		cancel()
		return err
	}

	m.unsubscribe = unsubscribe
	m.stopBridge = cancel
	m.bridgeDone = done
	m.onStateChange = onStateChange
	m.initialized = true

	m.log.Infof("Initialized network in %v mode", m.mode)

	return nil
}

func (m *Manager) bringUp() error {
	err := m.driver.Init()
	if err != nil {
		return errors.Errorf("could not init network stack: %w", err)
	}

	err = m.driver.SetMode(ModeStation)
	if err != nil {
		return errors.Errorf("could not set station mode: %w", err)
	}

	m.mode = ModeStation
	m.fire(eventStart)

	err = m.driver.Start()
	if err != nil {
		return errors.Errorf("could not start radio: %w", err)
	}

	m.running = true

	return nil
}

func validateCredentials(ssid string, password string) error {
	if ssid == "" || len(ssid) > maxSSIDLength {
		return errors.Errorf("%w: ssid must have 1 to %v bytes", ErrInvalidCredentials, maxSSIDLength)
	}

	if password != "" && (len(password) < minPasswordLength || len(password) > maxPasswordLength) {
		return errors.Errorf("%w: password must have %v to %v bytes", ErrInvalidCredentials, minPasswordLength, maxPasswordLength)
	}

	return nil
}

// Connect switches the radio into station mode and joins the given network.
// The outcome is reported later through the state callback.
func (m *Manager) Connect(ssid string, password string) error {
	err := validateCredentials(ssid, password)
	if err != nil {
		return err
	}

	defer m.flush()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.usable(); err != nil {
		return err
	}

	m.log.Infof("Connecting to wifi %v", ssid)

	return m.connect(ssid, password)
}

func (m *Manager) connect(ssid string, password string) error {
	mode, err := m.driver.Mode()
	if err != nil {
		return errors.Errorf("could not get mode: %w", err)
	}

	if mode != ModeStation {
		err := m.driver.Stop()
		if err != nil {
			return errors.Errorf("could not stop radio: %w", err)
		}

		m.running = false
		m.apActive = false

		err = m.driver.SetMode(ModeStation)
		if err != nil {
			return errors.Errorf("could not set station mode: %w", err)
		}

		m.mode = ModeStation
	} else if m.running {
		err := m.driver.Stop()
		if err != nil {
			return errors.Errorf("could not stop radio: %w", err)
		}

		m.running = false
	}

	m.retry.reset()
	m.session++
	m.addr = netip.Addr{}
	m.stopRetryTimer()

	if m.fsm.Current() == stateConnected {
		m.pending = append(m.pending, connectivity.Disconnected)
	}
	m.fire(eventConnect)

	threshold := AuthWPA2PSK
	if password == "" {
		threshold = AuthOpen
	}

	err = m.driver.SetStationConfig(StationConfig{
		SSID:      ssid,
		Password:  password,
		Threshold: threshold,
	})
	if err != nil {
		return errors.Errorf("could not apply station config: %w", err)
	}

	m.ssid = ssid

	err = m.driver.Start()
	if err != nil {
		return errors.Errorf("could not start radio: %w", err)
	}

	m.running = true

	return nil
}

// EnterAccessPointMode runs the access point next to the station. It does
// nothing if the access point is already up. If bringing it up fails, the
// radio is returned to station mode.
func (m *Manager) EnterAccessPointMode() error {
	defer m.flush()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.usable(); err != nil {
		return err
	}

	if m.apActive {
		return nil
	}

	m.log.Infof("Entering access point mode as %v on channel %v", m.apConfig.SSID, m.apConfig.Channel)

	err := m.driver.Disconnect()
	if err != nil {
		m.log.Warnf("Could not disconnect station: %v", err)
	}

	err = m.driver.Stop()
	if err != nil {
		return errors.Errorf("could not stop radio: %w", err)
	}

	m.running = false

	err = m.startAccessPoint()
	if err != nil {
		m.restoreStation()
		return err
	}

	m.apActive = true

	return nil
}

// startAccessPoint must be called with m.mu held and the radio stopped.
func (m *Manager) startAccessPoint() error {
	err := m.driver.SetMode(ModeDual)
	if err != nil {
		return errors.Errorf("could not set dual mode: %w", err)
	}

	m.mode = ModeDual

	err = m.driver.SetAccessPointConfig(m.apConfig)
	if err != nil {
		return errors.Errorf("could not apply access point config: %w", err)
	}

	err = m.assignAddress()
	if err != nil {
		return err
	}

	err = m.driver.Start()
	if err != nil {
		return errors.Errorf("could not start radio: %w", err)
	}

	m.running = true

	return nil
}

// restoreStation must be called with m.mu held.
func (m *Manager) restoreStation() {
	err := m.driver.Stop()
	if err != nil {
		m.log.Warnf("Could not stop radio: %v", err)
	}

	m.running = false

	err = m.driver.SetMode(ModeStation)
	if err != nil {
		m.log.Errorf("Could not return to station mode: %v", err)
		return
	}

	m.mode = ModeStation

	err = m.driver.Start()
	if err != nil {
		m.log.Errorf("Could not restart radio in station mode: %v", err)
		return
	}

	m.running = true
}

func (m *Manager) assignAddress() error {
	if m.addresser == nil || !m.ipInfo.IP.IsValid() {
		m.log.Debugf("No access point addressing configured")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), addressingTimeout)
	defer cancel()

	err := m.addresser.StopDHCP(ctx)
	if err != nil {
		return errors.Errorf("could not stop dhcp service: %w", err)
	}

	err = m.addresser.SetAddress(m.ipInfo)
	if err != nil {
		return errors.Errorf("could not assign access point address: %w", err)
	}

	err = m.addresser.StartDHCP(ctx)
	if err != nil {
		return errors.Errorf("could not start dhcp service: %w", err)
	}

	m.log.Infof("Access point reachable at %v", m.ipInfo.Gateway)

	return nil
}

// Scan starts a network scan, see Scanner.Scan.
func (m *Manager) Scan(callback ScanCallback) error {
	m.mu.Lock()
	err := m.usable()
	m.mu.Unlock()

	if err != nil {
		return err
	}

	return m.scanner.Scan(callback)
}

// Scanning reports whether a scan is in flight.
func (m *Manager) Scanning() bool {
	return m.scanner.Scanning()
}

func (m *Manager) Status() *Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := connectivity.Disconnected
	if m.fsm.Current() == stateConnected {
		state = connectivity.Connected
	}

	return &Status{
		State:       state,
		Phase:       m.fsm.Current(),
		Mode:        m.mode,
		Retries:     m.retry.attempts,
		AccessPoint: m.apActive,
		Peers:       m.peers,
		SSID:        m.ssid,
		Address:     m.addr,
	}
}

// Close stops event dispatch, waits for a running scan and stops the radio.
func (m *Manager) Close() error {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return nil
	}

	m.closed = true
	m.stopRetryTimer()

	if !m.initialized {
		m.mu.Unlock()
		m.scanner.Close()
		return nil
	}

	m.unsubscribe()
	m.stopBridge()
	done := m.bridgeDone

	m.mu.Unlock()

	<-done
	m.scanner.Close()

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	m.running = false

	err := m.driver.Stop()
	if err != nil {
		return errors.Errorf("could not stop radio: %w", err)
	}

	return nil
}

// usable must be called with m.mu held.
func (m *Manager) usable() error {
	if m.closed {
		return ErrClosed
	}

	if !m.initialized {
		return ErrNotInitialized
	}

	return nil
}

// HandleEvent is called by the event bridge.
func (m *Manager) HandleEvent(e event.Event) {
	defer m.flush()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	switch e.Type {
	case event.StationStarted:
		m.log.Debugf("Station started, connecting")

		err := m.driver.Connect()
		if err != nil {
			m.log.Warnf("Could not start connecting: %v", err)
		}
	case event.StationConnected:
		m.log.Infof("Connected to access point %v", e.SSID)
	case event.StationDisconnected:
		wasConnected := m.fsm.Current() == stateConnected
		if m.fire(eventLinkLost) && wasConnected {
			m.addr = netip.Addr{}
			m.pending = append(m.pending, connectivity.Disconnected)
		}

		m.maybeRetry(e.Reason)
	case event.AddressAcquired:
		m.log.Infof("Got ip address %v", e.Addr)

		m.addr = e.Addr

		if m.fire(eventGotIP) {
			m.pending = append(m.pending, connectivity.Connected)
		}
	case event.PeerJoined:
		m.peers++
		m.log.Infof("Device %v joined the access point", e.Peer)
	case event.PeerLeft:
		if m.peers > 0 {
			m.peers--
		}
		m.log.Infof("Device %v left the access point", e.Peer)
	}
}

// maybeRetry must be called with m.mu held.
func (m *Manager) maybeRetry(reason int) {
	delay, ok := m.retry.next()
	if !ok {
		if m.fire(eventGiveUp) {
			m.log.Warnf("Giving up connecting after %v retries (reason %v)", m.retry.attempts, reason)
		}
		return
	}

	m.log.Debugf("Reconnecting, attempt %v of %v (reason %v)", m.retry.attempts, m.retry.max, reason)

	if delay <= 0 {
		err := m.driver.Connect()
		if err != nil {
			m.log.Warnf("Could not reconnect: %v", err)
		}
		return
	}

	session := m.session
	m.stopRetryTimer()
	m.retryTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		if m.closed || m.session != session || m.fsm.Current() == stateConnected {
			return
		}

		err := m.driver.Connect()
		if err != nil {
			m.log.Warnf("Could not reconnect: %v", err)
		}
	})
}

// stopRetryTimer must be called with m.mu held.
func (m *Manager) stopRetryTimer() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

// flush delivers pending notifications. Only one goroutine delivers at a
// time; a flush while another one is running leaves its notifications to it.
func (m *Manager) flush() {
	m.mu.Lock()

	if m.flushing {
		m.mu.Unlock()
		return
	}

	m.flushing = true

	for len(m.pending) > 0 {
		pending := m.pending
		m.pending = nil
		callback := m.onStateChange

		m.mu.Unlock()

		for _, state := range pending {
			m.notify(callback, state)
		}

		m.mu.Lock()
	}

	m.flushing = false
	m.mu.Unlock()
}

func (m *Manager) notify(callback StateCallback, state connectivity.State) {
	if callback == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			m.log.Errorf("State callback panicked on %v: %v", state, r)
		}
	}()

	callback(state)
}
