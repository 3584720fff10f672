package network

import (
	"context"
	"fmt"
	"net/netip"
	"sync"

	"github.com/go-errors/errors"
	"github.com/the-lightning-land/wifid/event"
)

// check MockDriver compliance to its interfaces during compile time
var _ Driver = (*MockDriver)(nil)
var _ event.Subsystem = (*MockDriver)(nil)

// MockDriver is an in-memory radio. It records every call and lets callers
// emit driver notifications.
type MockDriver struct {
	// AutoConnect makes Connect report a link and an address right away.
	AutoConnect bool
	// Address is reported on auto connects.
	Address netip.Addr

	mu          sync.Mutex
	calls       []string
	mode        Mode
	running     bool
	linked      bool
	station     StationConfig
	accessPoint AccessPointConfig
	records     []AccessPoint
	cleared     int
	scanErr     error
	scanHold    chan struct{}
	scanStarted chan struct{}
	failures    map[string]error
	subscribers map[int]func(event.Notification)
	nextID      int
}

func NewMockDriver() *MockDriver {
	return &MockDriver{
		Address:     netip.MustParseAddr("192.168.1.23"),
		failures:    make(map[string]error),
		subscribers: make(map[int]func(event.Notification)),
	}
}

func (d *MockDriver) record(call string) error {
	d.calls = append(d.calls, call)

	if err, ok := d.failures[call]; ok {
		return err
	}

	return nil
}

// Calls returns the driver calls made so far, in order.
func (d *MockDriver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]string(nil), d.calls...)
}

// CountCalls returns how often the given call was made.
func (d *MockDriver) CountCalls(call string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	count := 0
	for _, c := range d.calls {
		if c == call {
			count++
		}
	}

	return count
}

// Fail makes the given call return err until cleared with a nil error.
func (d *MockDriver) Fail(call string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err == nil {
		delete(d.failures, call)
		return
	}

	d.failures[call] = err
}

// SetRecords sets the networks reported by scans.
func (d *MockDriver) SetRecords(records []AccessPoint) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.records = records
}

// SetScanError makes scans fail with err.
func (d *MockDriver) SetScanError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.scanErr = err
}

// HoldScans makes scans block until ReleaseScans is called. The returned
// channel receives a value whenever a held scan starts.
func (d *MockDriver) HoldScans() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.scanHold = make(chan struct{})
	d.scanStarted = make(chan struct{}, 16)

	return d.scanStarted
}

func (d *MockDriver) ReleaseScans() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.scanHold != nil {
		close(d.scanHold)
		d.scanHold = nil
	}
}

// Cleared returns how often the cached scan results were cleared.
func (d *MockDriver) Cleared() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.cleared
}

func (d *MockDriver) StationConfig() StationConfig {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.station
}

func (d *MockDriver) AccessPointConfig() AccessPointConfig {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.accessPoint
}

func (d *MockDriver) Subscribe(handler func(event.Notification)) (func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.record("Subscribe"); err != nil {
		return nil, err
	}

	id := d.nextID
	d.nextID++
	d.subscribers[id] = handler

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()

		delete(d.subscribers, id)
	}, nil
}

// Emit delivers a notification to all subscribers.
func (d *MockDriver) Emit(n event.Notification) {
	d.mu.Lock()
	subscribers := make([]func(event.Notification), 0, len(d.subscribers))
	for _, s := range d.subscribers {
		subscribers = append(subscribers, s)
	}
	d.mu.Unlock()

	for _, s := range subscribers {
		s(n)
	}
}

// emitLocked must be called with d.mu held. Subscribers must not block.
func (d *MockDriver) emitLocked(n event.Notification) {
	for _, s := range d.subscribers {
		s(n)
	}
}

func (d *MockDriver) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.record("Init")
}

func (d *MockDriver) Mode() (Mode, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.mode, nil
}

func (d *MockDriver) SetMode(mode Mode) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.record(fmt.Sprintf("SetMode(%v)", mode)); err != nil {
		return err
	}

	d.mode = mode

	return nil
}

func (d *MockDriver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.record("Start"); err != nil {
		return err
	}

	d.running = true

	if d.mode.HasStation() {
		d.emitLocked(event.Notification{Base: event.BaseWifi, ID: event.WifiStationStart})
	}

	return nil
}

func (d *MockDriver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.record("Stop"); err != nil {
		return err
	}

	d.running = false
	d.linked = false

	return nil
}

func (d *MockDriver) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.record("Connect"); err != nil {
		return err
	}

	if !d.running {
		return errors.New("radio is not running")
	}

	if d.AutoConnect {
		d.linked = true
		d.emitLocked(event.Notification{Base: event.BaseWifi, ID: event.WifiStationConnected, SSID: d.station.SSID})
		d.emitLocked(event.Notification{Base: event.BaseIP, ID: event.IPStationGotIP, Addr: d.Address})
	}

	return nil
}

func (d *MockDriver) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.record("Disconnect"); err != nil {
		return err
	}

	if d.linked {
		d.linked = false
		d.emitLocked(event.Notification{Base: event.BaseWifi, ID: event.WifiStationDisconnected, SSID: d.station.SSID})
	}

	return nil
}

func (d *MockDriver) SetStationConfig(config StationConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.record("SetStationConfig"); err != nil {
		return err
	}

	d.station = config

	return nil
}

func (d *MockDriver) SetAccessPointConfig(config AccessPointConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.record("SetAccessPointConfig"); err != nil {
		return err
	}

	d.accessPoint = config

	return nil
}

func (d *MockDriver) Scan(ctx context.Context) error {
	d.mu.Lock()
	err := d.record("Scan")
	hold := d.scanHold
	started := d.scanStarted
	scanErr := d.scanErr
	d.mu.Unlock()

	if err != nil {
		return err
	}

	if hold != nil {
		started <- struct{}{}

		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return scanErr
}

func (d *MockDriver) ScanResults(max int) (int, []AccessPoint, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.record("ScanResults"); err != nil {
		return 0, nil, err
	}

	records := d.records
	if len(records) > max {
		records = records[:max]
	}

	return len(d.records), append([]AccessPoint(nil), records...), nil
}

func (d *MockDriver) ClearScanResults() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.record("ClearScanResults"); err != nil {
		return err
	}

	d.cleared++

	return nil
}

// check MockAddresser compliance to its interface during compile time
var _ Addresser = (*MockAddresser)(nil)

// MockAddresser records access point addressing calls.
type MockAddresser struct {
	mu    sync.Mutex
	calls []string
	info  IPInfo
}

func NewMockAddresser() *MockAddresser {
	return &MockAddresser{}
}

func (a *MockAddresser) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]string(nil), a.calls...)
}

func (a *MockAddresser) Info() IPInfo {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.info
}

func (a *MockAddresser) StopDHCP(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.calls = append(a.calls, "StopDHCP")

	return nil
}

func (a *MockAddresser) SetAddress(info IPInfo) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.calls = append(a.calls, "SetAddress")
	a.info = info

	return nil
}

func (a *MockAddresser) StartDHCP(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.calls = append(a.calls, "StartDHCP")

	return nil
}
