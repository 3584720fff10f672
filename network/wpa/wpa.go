// Package wpa talks to wpa_supplicant over its D-Bus API.
package wpa

import (
	"sync"

	"github.com/go-errors/errors"
	"github.com/godbus/dbus/v5"
)

const (
	service       = "fi.w1.wpa_supplicant1"
	servicePath   = "/fi/w1/wpa_supplicant1"
	interfaceName = "fi.w1.wpa_supplicant1.Interface"
	bssName       = "fi.w1.wpa_supplicant1.BSS"
	propsName     = "org.freedesktop.DBus.Properties"
)

type subscription struct {
	path   dbus.ObjectPath
	iface  string
	member string
	fn     func(*dbus.Signal)
}

type Wpa struct {
	conn *dbus.Conn
	obj  dbus.BusObject

	mu            sync.Mutex
	subscriptions map[uint64]*subscription
	nextID        uint64
}

func New() *Wpa {
	return &Wpa{
		subscriptions: make(map[uint64]*subscription),
	}
}

func (w *Wpa) Start() error {
	conn, err := dbus.ConnectSystemBus(dbus.WithSignalHandler(wpaSignalHandler{w}))
	if err != nil {
		return errors.Errorf("could not connect to system bus: %v", err)
	}

	w.conn = conn
	w.obj = conn.Object(service, servicePath)

	return nil
}

func (w *Wpa) Stop() error {
	if w.conn == nil {
		return nil
	}

	err := w.conn.Close()
	if err != nil {
		return errors.Errorf("could not close system bus: %v", err)
	}

	w.conn = nil

	return nil
}

func (w *Wpa) GetInterface(ifname string) (*Interface, error) {
	call := w.obj.Call(service+".GetInterface", 0, ifname)
	if call.Err != nil {
		return nil, errors.Errorf("could not get interface %v: %v", ifname, call.Err)
	}

	var path dbus.ObjectPath
	err := call.Store(&path)
	if err != nil {
		return nil, errors.Errorf("could not store interface path: %v", err)
	}

	return &Interface{
		wpa: w,
		obj: w.conn.Object(service, path),
	}, nil
}

// subscribe registers fn for a signal emitted on path and returns a function
// removing the subscription again.
func (w *Wpa) subscribe(path dbus.ObjectPath, iface string, member string, fn func(*dbus.Signal)) (func(), error) {
	options := []dbus.MatchOption{
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(iface),
		dbus.WithMatchMember(member),
	}

	err := w.conn.AddMatchSignal(options...)
	if err != nil {
		return nil, errors.Errorf("could not add %v signal: %v", member, err)
	}

	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.subscriptions[id] = &subscription{
		path:   path,
		iface:  iface,
		member: member,
		fn:     fn,
	}
	w.mu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.subscriptions, id)
			w.mu.Unlock()

			if w.conn != nil {
				_ = w.conn.RemoveMatchSignal(options...)
			}
		})
	}, nil
}

// deliverSignal runs on the D-Bus receive goroutine; subscribers must not block.
func (w *Wpa) deliverSignal(iface string, member string, signal *dbus.Signal) {
	w.mu.Lock()
	var matching []func(*dbus.Signal)
	for _, s := range w.subscriptions {
		if s.iface == iface && s.member == member && s.path == signal.Path {
			matching = append(matching, s.fn)
		}
	}
	w.mu.Unlock()

	for _, fn := range matching {
		fn(signal)
	}
}

type wpaSignalHandler struct {
	*Wpa
}

var _ dbus.SignalHandler = (*wpaSignalHandler)(nil)

func (n wpaSignalHandler) DeliverSignal(iface, name string, signal *dbus.Signal) {
	n.deliverSignal(iface, name, signal)
}
