package provisioner

import (
	"github.com/the-lightning-land/wifid/connectivity"
	"github.com/the-lightning-land/wifid/network"
)

type messageType string

const (
	scanRequest    messageType = "scan"
	connectRequest messageType = "connect"
	apRequest      messageType = "ap"
	statusRequest  messageType = "status"

	stateMessageType      messageType = "state"
	scanResultMessageType messageType = "scan_result"
	errorMessageType      messageType = "error"
)

// request is every inbound message. Fields not used by a type stay empty.
type request struct {
	Type     messageType `json:"type"`
	Ssid     string      `json:"ssid,omitempty"`
	Password string      `json:"password,omitempty"`
}

type stateMessage struct {
	Type    messageType        `json:"type"`
	State   connectivity.State `json:"state"`
	Phase   string             `json:"phase"`
	Mode    network.Mode       `json:"mode"`
	Retries int                `json:"retries"`
	Ssid    string             `json:"ssid,omitempty"`
	Address string             `json:"address,omitempty"`
}

type scanResultMessage struct {
	Type     messageType           `json:"type"`
	Found    int                   `json:"found"`
	Networks []network.AccessPoint `json:"networks"`
}

type errorMessage struct {
	Type    messageType `json:"type"`
	Message string      `json:"message"`
}

func newStateMessage(status *network.Status) *stateMessage {
	msg := &stateMessage{
		Type:    stateMessageType,
		State:   status.State,
		Phase:   status.Phase,
		Mode:    status.Mode,
		Retries: status.Retries,
		Ssid:    status.SSID,
	}

	if status.Address.IsValid() {
		msg.Address = status.Address.String()
	}

	return msg
}

func newScanResultMessage(result *network.ScanResult) *scanResultMessage {
	networks := result.Records
	if networks == nil {
		networks = []network.AccessPoint{}
	}

	return &scanResultMessage{
		Type:     scanResultMessageType,
		Found:    result.Found,
		Networks: networks,
	}
}
