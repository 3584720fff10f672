//go:build !linux

package netif

import (
	"net"
	"os/exec"

	"github.com/go-errors/errors"
)

func setInterfaceAddress(ifname string, addr [4]byte, mask net.IPMask) error {
	return errors.New("interface addressing is only supported on linux")
}

func detach(cmd *exec.Cmd) {}
