package netif

import (
	"net"
	"os/exec"
	"syscall"

	"github.com/go-errors/errors"
	"golang.org/x/sys/unix"
)

func setInterfaceAddress(ifname string, addr [4]byte, mask net.IPMask) error {
	if len(mask) == net.IPv6len {
		mask = mask[net.IPv6len-net.IPv4len:]
	}

	if len(mask) != net.IPv4len {
		return errors.Errorf("invalid netmask %v", mask)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return errors.Errorf("could not open socket: %w", err)
	}
	defer unix.Close(fd)

	ifr, err := unix.NewIfreq(ifname)
	if err != nil {
		return err
	}

	err = ifr.SetInet4Addr(addr[:])
	if err != nil {
		return err
	}

	err = unix.IoctlIfreq(fd, unix.SIOCSIFADDR, ifr)
	if err != nil {
		return errors.Errorf("could not set address: %w", err)
	}

	ifr, err = unix.NewIfreq(ifname)
	if err != nil {
		return err
	}

	err = ifr.SetInet4Addr(mask)
	if err != nil {
		return err
	}

	err = unix.IoctlIfreq(fd, unix.SIOCSIFNETMASK, ifr)
	if err != nil {
		return errors.Errorf("could not set netmask: %w", err)
	}

	ifr, err = unix.NewIfreq(ifname)
	if err != nil {
		return err
	}

	err = unix.IoctlIfreq(fd, unix.SIOCGIFFLAGS, ifr)
	if err != nil {
		return errors.Errorf("could not read flags: %w", err)
	}

	ifr.SetUint16(ifr.Uint16() | unix.IFF_UP)

	err = unix.IoctlIfreq(fd, unix.SIOCSIFFLAGS, ifr)
	if err != nil {
		return errors.Errorf("could not bring interface up: %w", err)
	}

	return nil
}

// detach puts the command into its own process group.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
