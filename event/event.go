// Package event turns raw notifications from the WiFi driver into typed
// events and dispatches them, one at a time, to a single handler.
package event

import (
	"net/netip"
)

// Base groups raw driver notification ids.
type Base int

const (
	BaseWifi Base = iota
	BaseIP
)

// Raw notification ids as delivered by a driver event subsystem.
const (
	WifiStationStart        int32 = 2
	WifiStationStop         int32 = 3
	WifiStationConnected    int32 = 4
	WifiStationDisconnected int32 = 5
	WifiAPStart             int32 = 12
	WifiAPStop              int32 = 13
	WifiAPStationConnected  int32 = 14
	WifiAPStationDisconnect int32 = 15

	IPStationGotIP  int32 = 0
	IPStationLostIP int32 = 1
)

// Notification is a raw driver notification.
type Notification struct {
	Base Base
	ID   int32

	SSID   string
	BSSID  string
	Reason int
	Addr   netip.Addr
	Peer   string
}

type Type int

const (
	StationStarted Type = iota
	StationConnected
	StationDisconnected
	AddressAcquired
	PeerJoined
	PeerLeft
)

func (t Type) String() string {
	switch t {
	case StationStarted:
		return "station-started"
	case StationConnected:
		return "station-connected"
	case StationDisconnected:
		return "station-disconnected"
	case AddressAcquired:
		return "address-acquired"
	case PeerJoined:
		return "peer-joined"
	case PeerLeft:
		return "peer-left"
	default:
		return "unknown"
	}
}

type Event struct {
	Type Type

	// SSID and BSSID of the station link, if known.
	SSID  string
	BSSID string
	// Reason is the driver's disconnect reason code.
	Reason int
	// Addr is the address acquired by the station interface.
	Addr netip.Addr
	// Peer is the MAC address of a station joining or leaving the access point.
	Peer string
}

// Handler receives translated events. HandleEvent runs on the dispatch
// goroutine and must not block.
type Handler interface {
	HandleEvent(Event)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(Event)

func (f HandlerFunc) HandleEvent(e Event) {
	f(e)
}

// Subsystem is a source of raw driver notifications.
type Subsystem interface {
	Subscribe(func(Notification)) (cancel func(), err error)
}

// Translate maps a raw notification to a typed event. The second return
// value is false for notifications that have no typed counterpart.
func Translate(n Notification) (Event, bool) {
	e := Event{
		SSID:   n.SSID,
		BSSID:  n.BSSID,
		Reason: n.Reason,
		Addr:   n.Addr,
		Peer:   n.Peer,
	}

	switch n.Base {
	case BaseWifi:
		switch n.ID {
		case WifiStationStart:
			e.Type = StationStarted
		case WifiStationConnected:
			e.Type = StationConnected
		case WifiStationDisconnected:
			e.Type = StationDisconnected
		case WifiAPStationConnected:
			e.Type = PeerJoined
		case WifiAPStationDisconnect:
			e.Type = PeerLeft
		default:
			return Event{}, false
		}
	case BaseIP:
		if n.ID != IPStationGotIP {
			return Event{}, false
		}
		e.Type = AddressAcquired
	default:
		return Event{}, false
	}

	return e, true
}
