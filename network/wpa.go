package network

import (
	"context"
	"net"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/go-errors/errors"
	"github.com/the-lightning-land/wifid/event"
	"github.com/the-lightning-land/wifid/network/wpa"
)

// check WpaDriver compliance to its interfaces during compile time
var _ Driver = (*WpaDriver)(nil)
var _ event.Subsystem = (*WpaDriver)(nil)

const (
	defaultAddressTimeout = 30 * time.Second
	addressPollInterval   = 500 * time.Millisecond
)

type WpaConfig struct {
	Interface string
	// AddressTimeout bounds how long to wait for an address after the link
	// came up.
	AddressTimeout time.Duration
	Logger         Logger
}

// WpaDriver runs the radio through wpa_supplicant. Dual mode runs an access
// point network on the interface; station attempts are skipped while it is
// active since selecting the station network would tear the access point down.
type WpaDriver struct {
	log            Logger
	wpa            *wpa.Wpa
	ifname         string
	iface          *wpa.Interface
	addressTimeout time.Duration

	mu          sync.Mutex
	mode        Mode
	running     bool
	station     *StationConfig
	accessPoint *AccessPointConfig
	stationNet  *wpa.Network
	state       string
	apUp        bool
	cancels     []func()
	stopWatch   context.CancelFunc
	subscribers map[int]func(event.Notification)
	nextID      int
}

func NewWpaDriver(config *WpaConfig) *WpaDriver {
	d := &WpaDriver{
		ifname:         config.Interface,
		wpa:            wpa.New(),
		addressTimeout: config.AddressTimeout,
		subscribers:    make(map[int]func(event.Notification)),
	}

	if d.addressTimeout <= 0 {
		d.addressTimeout = defaultAddressTimeout
	}

	if config.Logger != nil {
		d.log = config.Logger
	} else {
		d.log = noopLogger{}
	}

	return d
}

func (d *WpaDriver) Init() error {
	err := d.wpa.Start()
	if err != nil {
		return errors.Errorf("could not start wpa: %v", err)
	}

	iface, err := d.wpa.GetInterface(d.ifname)
	if err != nil {
		_ = d.wpa.Stop()
		return errors.Errorf("could not find interface %v: %v", d.ifname, err)
	}

	d.iface = iface

	cancel, err := iface.OnStateChanged(d.handleState)
	if err != nil {
		return errors.Errorf("could not listen to state changes: %v", err)
	}
	d.cancels = append(d.cancels, cancel)

	cancel, err = iface.OnStaAuthorized(func(mac string) {
		d.emit(event.Notification{Base: event.BaseWifi, ID: event.WifiAPStationConnected, Peer: mac})
	})
	if err != nil {
		return errors.Errorf("could not listen to joining stations: %v", err)
	}
	d.cancels = append(d.cancels, cancel)

	cancel, err = iface.OnStaDeauthorized(func(mac string) {
		d.emit(event.Notification{Base: event.BaseWifi, ID: event.WifiAPStationDisconnect, Peer: mac})
	})
	if err != nil {
		return errors.Errorf("could not listen to leaving stations: %v", err)
	}
	d.cancels = append(d.cancels, cancel)

	state, err := iface.State()
	if err == nil {
		d.mu.Lock()
		d.state = state
		d.mu.Unlock()
	}

	return nil
}

// Close releases the D-Bus connection.
func (d *WpaDriver) Close() error {
	for _, cancel := range d.cancels {
		cancel()
	}
	d.cancels = nil

	return d.wpa.Stop()
}

func (d *WpaDriver) Subscribe(handler func(event.Notification)) (func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextID
	d.nextID++
	d.subscribers[id] = handler

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()

		delete(d.subscribers, id)
	}, nil
}

func (d *WpaDriver) emit(n event.Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.emitLocked(n)
}

// emitLocked must be called with d.mu held. Subscribers must not block.
func (d *WpaDriver) emitLocked(n event.Notification) {
	for _, s := range d.subscribers {
		s(n)
	}
}

func (d *WpaDriver) Mode() (Mode, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.mode, nil
}

func (d *WpaDriver) SetMode(mode Mode) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return errors.Errorf("could not switch to %v mode while the radio is running", mode)
	}

	if mode != d.mode {
		d.apUp = false
	}

	d.mode = mode

	return nil
}

func (d *WpaDriver) SetStationConfig(config StationConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.station = &config

	return nil
}

func (d *WpaDriver) SetAccessPointConfig(config AccessPointConfig) error {
	if channelFrequency(config.Channel) == 0 {
		return errors.Errorf("unsupported access point channel %v", config.Channel)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.accessPoint = &config

	return nil
}

func (d *WpaDriver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.iface == nil {
		return errors.New("driver is not initialized")
	}

	if d.mode.HasAccessPoint() && d.accessPoint != nil {
		apNet, err := d.iface.AddNetwork(accessPointArgs(*d.accessPoint))
		if err != nil {
			return errors.Errorf("could not add access point network: %v", err)
		}

		err = d.iface.SelectNetwork(apNet)
		if err != nil {
			_ = d.iface.RemoveAllNetworks()
			return errors.Errorf("could not start access point: %v", err)
		}

		d.log.Infof("Started access point %v", d.accessPoint.SSID)
	}

	d.running = true

	if d.mode.HasStation() && d.station != nil {
		stationNet, err := d.iface.AddNetwork(stationArgs(*d.station))
		if err != nil {
			return errors.Errorf("could not add station network: %v", err)
		}

		d.stationNet = stationNet
		d.emitLocked(event.Notification{Base: event.BaseWifi, ID: event.WifiStationStart})
	}

	return nil
}

func (d *WpaDriver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}

	d.running = false
	d.stationNet = nil
	d.cancelWatch()

	err := d.iface.Disconnect()
	if err != nil {
		d.log.Debugf("Could not disconnect before stopping: %v", err)
	}

	err = d.iface.RemoveAllNetworks()
	if err != nil {
		return errors.Errorf("could not remove networks: %v", err)
	}

	return nil
}

func (d *WpaDriver) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return errors.New("radio is not running")
	}

	if d.mode == ModeDual {
		d.log.Debugf("Skipping station attempt while the access point is running")
		return nil
	}

	if d.stationNet == nil {
		return errors.New("no station network configured")
	}

	err := d.iface.SelectNetwork(d.stationNet)
	if err != nil {
		return errors.Errorf("could not select station network: %v", err)
	}

	return nil
}

func (d *WpaDriver) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.iface == nil {
		return nil
	}

	return d.iface.Disconnect()
}

func (d *WpaDriver) Scan(ctx context.Context) error {
	if d.iface == nil {
		return errors.New("driver is not initialized")
	}

	return d.iface.ScanAndWait(ctx)
}

func (d *WpaDriver) ScanResults(max int) (int, []AccessPoint, error) {
	if d.iface == nil {
		return 0, nil, errors.New("driver is not initialized")
	}

	bsss, err := d.iface.BSSs()
	if err != nil {
		return 0, nil, errors.Errorf("unable to get BSSs: %v", err)
	}

	var records []AccessPoint

	for _, bss := range bsss {
		b, err := bss.GetAll()
		if err != nil {
			d.log.Debugf("Skipping %v: %v", bss, err)
			continue
		}

		records = append(records, accessPointFromBss(b))
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].RSSI > records[j].RSSI
	})

	found := len(records)

	if len(records) > max {
		records = records[:max]
	}

	return found, records, nil
}

func (d *WpaDriver) ClearScanResults() error {
	if d.iface == nil {
		return errors.New("driver is not initialized")
	}

	return d.iface.FlushBSS(0)
}

// handleState runs on the D-Bus receive goroutine.
func (d *WpaDriver) handleState(state string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	previous := d.state
	d.state = state

	if state == previous {
		return
	}

	if d.mode == ModeDual {
		d.handleDualState(previous, state)
		return
	}

	d.log.Debugf("Interface %v moved from %v to %v", d.ifname, previous, state)

	switch state {
	case "completed":
		ssid := ""
		if d.station != nil {
			ssid = d.station.SSID
		}

		d.emitLocked(event.Notification{Base: event.BaseWifi, ID: event.WifiStationConnected, SSID: ssid})

		d.cancelWatch()
		ctx, cancel := context.WithTimeout(context.Background(), d.addressTimeout)
		d.stopWatch = cancel

		go d.watchAddress(ctx, ssid)
	case "disconnected", "inactive":
		if previous == "disconnected" || previous == "inactive" {
			return
		}

		d.cancelWatch()
		d.emitLocked(event.Notification{Base: event.BaseWifi, ID: event.WifiStationDisconnected})
	}
}

// handleDualState must be called with d.mu held. The interface state follows
// the access point network, except for a station link that was still up
// when the mode switched.
func (d *WpaDriver) handleDualState(previous string, state string) {
	if d.apUp {
		return
	}

	if state == "completed" {
		d.apUp = true
		return
	}

	if previous == "completed" {
		d.cancelWatch()
		d.emitLocked(event.Notification{Base: event.BaseWifi, ID: event.WifiStationDisconnected})
	}
}

// cancelWatch must be called with d.mu held.
func (d *WpaDriver) cancelWatch() {
	if d.stopWatch != nil {
		d.stopWatch()
		d.stopWatch = nil
	}
}

// watchAddress waits for the station interface to be assigned an IPv4
// address by whatever DHCP client runs on the device.
func (d *WpaDriver) watchAddress(ctx context.Context, ssid string) {
	ticker := time.NewTicker(addressPollInterval)
	defer ticker.Stop()

	for {
		addr, ok := interfaceAddress(d.ifname)
		if ok {
			d.mu.Lock()
			if ctx.Err() == nil {
				d.emitLocked(event.Notification{Base: event.BaseIP, ID: event.IPStationGotIP, Addr: addr, SSID: ssid})
			}
			d.mu.Unlock()
			return
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				d.log.Warnf("No address on %v after %v", d.ifname, d.addressTimeout)
			}
			return
		case <-ticker.C:
		}
	}
}

func interfaceAddress(ifname string) (netip.Addr, bool) {
	iface, err := net.InterfaceByName(ifname)
	if err != nil {
		return netip.Addr{}, false
	}

	addrs, err := iface.Addrs()
	if err != nil {
		return netip.Addr{}, false
	}

	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}

		ip4 := ipNet.IP.To4()
		if ip4 == nil || ip4.IsLinkLocalUnicast() {
			continue
		}

		addr, ok := netip.AddrFromSlice(ip4)
		if ok {
			return addr, true
		}
	}

	return netip.Addr{}, false
}

func stationArgs(config StationConfig) map[string]interface{} {
	args := map[string]interface{}{
		"ssid": config.SSID,
	}

	if config.Password == "" {
		args["key_mgmt"] = "NONE"
		return args
	}

	args["psk"] = config.Password

	if config.Threshold == AuthWPA2PSK || config.Threshold == AuthWPA3PSK {
		args["proto"] = "RSN"
	}

	return args
}

func accessPointArgs(config AccessPointConfig) map[string]interface{} {
	args := map[string]interface{}{
		"ssid":      config.SSID,
		"mode":      uint32(2),
		"frequency": int32(channelFrequency(config.Channel)),
	}

	if config.Auth == AuthOpen || config.Password == "" {
		args["key_mgmt"] = "NONE"
		return args
	}

	args["key_mgmt"] = "WPA-PSK"
	args["psk"] = config.Password
	args["pairwise"] = "CCMP"
	args["group"] = "CCMP"

	if config.Auth == AuthWPAPSK {
		args["proto"] = "WPA"
	} else {
		args["proto"] = "RSN"
	}

	return args
}

func accessPointFromBss(b *wpa.Bss) AccessPoint {
	return AccessPoint{
		SSID:    b.Ssid,
		BSSID:   b.Bssid,
		RSSI:    int(b.Signal),
		Channel: frequencyChannel(int(b.Frequency)),
		Auth:    authFromKeyMgmt(b.RsnKeyMgmt, b.WpaKeyMgmt, b.Privacy),
	}
}

func authFromKeyMgmt(rsn []string, wpaSuites []string, privacy bool) AuthMode {
	has := func(suites []string, names ...string) bool {
		for _, s := range suites {
			for _, n := range names {
				if s == n {
					return true
				}
			}
		}
		return false
	}

	switch {
	case has(rsn, "sae"):
		return AuthWPA3PSK
	case has(rsn, "wpa-eap", "wpa-eap-sha256", "wpa-ft-eap") || has(wpaSuites, "wpa-eap"):
		return AuthWPA2Enterprise
	case has(rsn, "wpa-psk", "wpa-psk-sha256", "wpa-ft-psk") && has(wpaSuites, "wpa-psk"):
		return AuthWPAWPA2PSK
	case has(rsn, "wpa-psk", "wpa-psk-sha256", "wpa-ft-psk"):
		return AuthWPA2PSK
	case has(wpaSuites, "wpa-psk"):
		return AuthWPAPSK
	case privacy:
		return AuthWEP
	default:
		return AuthOpen
	}
}

func frequencyChannel(freq int) int {
	switch {
	case freq == 2484:
		return 14
	case freq >= 2412 && freq <= 2472:
		return (freq - 2407) / 5
	case freq >= 5955 && freq <= 7115:
		return (freq - 5950) / 5
	case freq >= 5000 && freq <= 5900:
		return (freq - 5000) / 5
	default:
		return 0
	}
}

func channelFrequency(channel int) int {
	switch {
	case channel >= 1 && channel <= 13:
		return 2407 + 5*channel
	case channel == 14:
		return 2484
	case channel >= 36 && channel <= 177:
		return 5000 + 5*channel
	default:
		return 0
	}
}
