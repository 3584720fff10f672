package wpa

import (
	"context"

	"github.com/go-errors/errors"
	"github.com/godbus/dbus/v5"
)

type Interface struct {
	wpa *Wpa
	obj dbus.BusObject
}

func (i *Interface) String() string {
	return string(i.obj.Path())
}

func (i *Interface) Scan() error {
	call := i.obj.Call(interfaceName+".Scan", 0, map[string]interface{}{
		"Type": "active",
	})
	if call.Err != nil {
		return errors.Errorf("could not scan: %v", call.Err)
	}

	return nil
}

// ScanAndWait starts an active scan and blocks until wpa_supplicant reports
// it done or the context ends.
func (i *Interface) ScanAndWait(ctx context.Context) error {
	done := make(chan bool, 1)

	cancel, err := i.OnScanDone(func(success bool) {
		select {
		case done <- success:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer cancel()

	err = i.Scan()
	if err != nil {
		return err
	}

	select {
	case success := <-done:
		if !success {
			return errors.New("scan was not successful")
		}
		return nil
	case <-ctx.Done():
		return errors.Errorf("scan did not finish: %v", ctx.Err())
	}
}

func (i *Interface) OnScanDone(fn func(success bool)) (func(), error) {
	return i.wpa.subscribe(i.obj.Path(), interfaceName, "ScanDone", func(signal *dbus.Signal) {
		if len(signal.Body) == 0 {
			return
		}

		success, ok := signal.Body[0].(bool)
		if !ok {
			return
		}

		fn(success)
	})
}

// OnStateChanged reports changes of the interface state, such as
// "completed", "disconnected" or "scanning".
func (i *Interface) OnStateChanged(fn func(state string)) (func(), error) {
	return i.wpa.subscribe(i.obj.Path(), propsName, "PropertiesChanged", func(signal *dbus.Signal) {
		if len(signal.Body) < 2 {
			return
		}

		if name, ok := signal.Body[0].(string); !ok || name != interfaceName {
			return
		}

		changed, ok := signal.Body[1].(map[string]dbus.Variant)
		if !ok {
			return
		}

		if val, ok := changed["State"]; ok {
			if state, ok := val.Value().(string); ok {
				fn(state)
			}
		}
	})
}

// OnStaAuthorized reports stations joining the access point run by the interface.
func (i *Interface) OnStaAuthorized(fn func(mac string)) (func(), error) {
	return i.wpa.subscribe(i.obj.Path(), interfaceName, "StaAuthorized", stationSignal(fn))
}

func (i *Interface) OnStaDeauthorized(fn func(mac string)) (func(), error) {
	return i.wpa.subscribe(i.obj.Path(), interfaceName, "StaDeauthorized", stationSignal(fn))
}

func stationSignal(fn func(mac string)) func(*dbus.Signal) {
	return func(signal *dbus.Signal) {
		if len(signal.Body) == 0 {
			return
		}

		if mac, ok := signal.Body[0].(string); ok {
			fn(mac)
		}
	}
}

func (i *Interface) State() (string, error) {
	v, err := i.obj.GetProperty(interfaceName + ".State")
	if err != nil {
		return "", errors.Errorf("could not get state: %v", err)
	}

	state, ok := v.Value().(string)
	if !ok {
		return "", errors.Errorf("could not convert state: %v", v)
	}

	return state, nil
}

func (i *Interface) Ifname() (string, error) {
	v, err := i.obj.GetProperty(interfaceName + ".Ifname")
	if err != nil {
		return "", errors.Errorf("could not get ifname: %v", err)
	}

	ifname, ok := v.Value().(string)
	if !ok {
		return "", errors.Errorf("could not convert ifname: %v", v)
	}

	return ifname, nil
}

func (i *Interface) BSSs() ([]*BSS, error) {
	v, err := i.obj.GetProperty(interfaceName + ".BSSs")
	if err != nil {
		return nil, errors.Errorf("could not get bsss: %v", err)
	}

	objectPaths, ok := v.Value().([]dbus.ObjectPath)
	if !ok {
		return nil, errors.Errorf("could not convert bsss: %v", v)
	}

	var bsss []*BSS

	for _, objectPath := range objectPaths {
		bsss = append(bsss, &BSS{
			obj: i.wpa.conn.Object(service, objectPath),
		})
	}

	return bsss, nil
}

// FlushBSS drops cached BSS entries older than age seconds; zero drops all.
func (i *Interface) FlushBSS(age uint32) error {
	call := i.obj.Call(interfaceName+".FlushBSS", 0, age)
	if call.Err != nil {
		return errors.Errorf("could not flush bss: %v", call.Err)
	}

	return nil
}

// AddNetwork adds a network block with the given wpa_supplicant settings,
// e.g. "ssid", "psk", "key_mgmt", "mode" or "frequency".
func (i *Interface) AddNetwork(args map[string]interface{}) (*Network, error) {
	call := i.obj.Call(interfaceName+".AddNetwork", 0, args)
	if call.Err != nil {
		return nil, errors.Errorf("could not add network: %v", call.Err)
	}

	var objPath dbus.ObjectPath
	err := call.Store(&objPath)
	if err != nil {
		return nil, errors.Errorf("could not store value: %v", err)
	}

	return &Network{
		wpa: i.wpa,
		obj: i.wpa.conn.Object(service, objPath),
	}, nil
}

func (i *Interface) SelectNetwork(net *Network) error {
	call := i.obj.Call(interfaceName+".SelectNetwork", 0, net.obj.Path())
	if call.Err != nil {
		return errors.Errorf("could not select network: %v", call.Err)
	}

	return nil
}

func (i *Interface) Reconnect() error {
	call := i.obj.Call(interfaceName+".Reconnect", 0)
	if call.Err != nil {
		return errors.Errorf("could not reconnect: %v", call.Err)
	}

	return nil
}

func (i *Interface) Disconnect() error {
	call := i.obj.Call(interfaceName+".Disconnect", 0)
	if call.Err != nil {
		return errors.Errorf("could not disconnect: %v", call.Err)
	}

	return nil
}

func (i *Interface) RemoveNetwork(net *Network) error {
	call := i.obj.Call(interfaceName+".RemoveNetwork", 0, net.obj.Path())
	if call.Err != nil {
		return errors.Errorf("could not remove network: %v", call.Err)
	}

	return nil
}

func (i *Interface) RemoveAllNetworks() error {
	call := i.obj.Call(interfaceName+".RemoveAllNetworks", 0)
	if call.Err != nil {
		return errors.Errorf("could not remove all networks: %v", call.Err)
	}

	return nil
}
