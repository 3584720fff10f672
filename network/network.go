package network

import (
	"context"
	"net"
	"net/netip"

	"github.com/go-errors/errors"
	"github.com/the-lightning-land/wifid/connectivity"
)

// Mode is the operating mode of the radio.
type Mode int

const (
	ModeStation Mode = iota
	ModeAccessPoint
	ModeDual
)

func (m Mode) String() string {
	switch m {
	case ModeStation:
		return "station"
	case ModeAccessPoint:
		return "ap"
	case ModeDual:
		return "dual"
	default:
		return "invalid"
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// HasStation reports whether the mode runs a station interface.
func (m Mode) HasStation() bool {
	return m == ModeStation || m == ModeDual
}

// HasAccessPoint reports whether the mode runs an access point interface.
func (m Mode) HasAccessPoint() bool {
	return m == ModeAccessPoint || m == ModeDual
}

type AuthMode int

const (
	AuthOpen AuthMode = iota
	AuthWEP
	AuthWPAPSK
	AuthWPA2PSK
	AuthWPAWPA2PSK
	AuthWPA2Enterprise
	AuthWPA3PSK
	AuthUnknown
)

var authModeNames = map[AuthMode]string{
	AuthOpen:           "open",
	AuthWEP:            "wep",
	AuthWPAPSK:         "wpa-psk",
	AuthWPA2PSK:        "wpa2-psk",
	AuthWPAWPA2PSK:     "wpa-wpa2-psk",
	AuthWPA2Enterprise: "wpa2-enterprise",
	AuthWPA3PSK:        "wpa3-psk",
	AuthUnknown:        "unknown",
}

func (a AuthMode) String() string {
	if name, ok := authModeNames[a]; ok {
		return name
	}

	return "unknown"
}

func (a AuthMode) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// ParseAuthMode reads an auth mode name as printed by String.
func ParseAuthMode(name string) (AuthMode, error) {
	for mode, n := range authModeNames {
		if n == name {
			return mode, nil
		}
	}

	return AuthUnknown, errors.Errorf("unknown auth mode %q", name)
}

// AccessPoint is a network record found during a scan.
type AccessPoint struct {
	SSID    string   `json:"ssid"`
	BSSID   string   `json:"bssid"`
	RSSI    int      `json:"rssi"`
	Channel int      `json:"channel"`
	Auth    AuthMode `json:"auth"`
}

type StationConfig struct {
	SSID     string
	Password string
	// Threshold is the weakest auth mode the station accepts.
	Threshold AuthMode
}

type AccessPointConfig struct {
	SSID          string
	Password      string
	Channel       int
	MaxConnection int
	Auth          AuthMode
}

// IPInfo is a static IPv4 configuration of an interface.
type IPInfo struct {
	IP      netip.Addr
	Gateway netip.Addr
	Netmask net.IPMask
	Prefix  netip.Prefix
}

// Driver is the radio driver the manager and scanner operate on.
type Driver interface {
	// Init brings up the underlying network stack.
	Init() error
	Mode() (Mode, error)
	SetMode(Mode) error
	// Start turns the radio on. A station capable mode emits a station
	// started notification afterwards.
	Start() error
	Stop() error
	// Connect initiates a single association attempt of the station.
	Connect() error
	Disconnect() error
	SetStationConfig(StationConfig) error
	SetAccessPointConfig(AccessPointConfig) error
	ScanDriver
}

// ScanDriver is the part of a driver needed to scan for networks.
type ScanDriver interface {
	// Scan blocks until the scan is done or the context ends.
	Scan(ctx context.Context) error
	// ScanResults returns the number of discovered networks and at most max records.
	ScanResults(max int) (int, []AccessPoint, error)
	ClearScanResults() error
}

// Addresser configures addressing of the access point interface.
type Addresser interface {
	StopDHCP(ctx context.Context) error
	SetAddress(IPInfo) error
	StartDHCP(ctx context.Context) error
}

// Status is a snapshot of the manager.
type Status struct {
	State       connectivity.State `json:"state"`
	Phase       string             `json:"phase"`
	Mode        Mode               `json:"mode"`
	Retries     int                `json:"retries"`
	AccessPoint bool               `json:"accessPoint"`
	Peers       int                `json:"peers"`
	SSID        string             `json:"ssid,omitempty"`
	Address     netip.Addr         `json:"address"`
}

func (s Status) Connected() bool {
	return s.State == connectivity.Connected
}
