package wpa

import (
	"net"

	"github.com/go-errors/errors"
	"github.com/godbus/dbus/v5"
)

type BSS struct {
	obj dbus.BusObject
}

func (b *BSS) String() string {
	return string(b.obj.Path())
}

type Bss struct {
	Ssid      string
	Bssid     string
	Signal    int16
	Frequency uint16
	Privacy   bool
	// RsnKeyMgmt and WpaKeyMgmt list the key management suites of the RSN
	// (WPA2/WPA3) and WPA information elements.
	RsnKeyMgmt []string
	WpaKeyMgmt []string
}

func (b *BSS) GetAll() (*Bss, error) {
	call := b.obj.Call(propsName+".GetAll", 0, bssName)
	if call.Err != nil {
		return nil, errors.Errorf("could not get all properties: %v", call.Err)
	}

	props, ok := call.Body[0].(map[string]dbus.Variant)
	if !ok {
		return nil, errors.Errorf("could not convert output")
	}

	bss := Bss{}

	if val, ok := props["SSID"]; ok {
		if ssid, ok := val.Value().([]byte); ok {
			bss.Ssid = string(ssid)
		} else {
			return nil, errors.Errorf("could not convert SSID to string: %v", val)
		}
	} else {
		return nil, errors.Errorf("mandatory property SSID was missing")
	}

	if val, ok := props["BSSID"]; ok {
		if bssid, ok := val.Value().([]byte); ok {
			bss.Bssid = net.HardwareAddr(bssid).String()
		} else {
			return nil, errors.Errorf("could not convert BSSID to string: %v", val)
		}
	} else {
		return nil, errors.Errorf("mandatory property BSSID was missing")
	}

	if val, ok := props["Signal"]; ok {
		bss.Signal, _ = val.Value().(int16)
	}

	if val, ok := props["Frequency"]; ok {
		bss.Frequency, _ = val.Value().(uint16)
	}

	if val, ok := props["Privacy"]; ok {
		bss.Privacy, _ = val.Value().(bool)
	}

	bss.RsnKeyMgmt = keyMgmt(props["RSN"])
	bss.WpaKeyMgmt = keyMgmt(props["WPA"])

	return &bss, nil
}

func keyMgmt(ie dbus.Variant) []string {
	props, ok := ie.Value().(map[string]dbus.Variant)
	if !ok {
		return nil
	}

	suites, _ := props["KeyMgmt"].Value().([]string)

	return suites
}
