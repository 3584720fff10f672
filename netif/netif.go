// Package netif assigns the access point address and serves DHCP to the
// devices that join it.
package netif

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/go-errors/errors"
	"github.com/the-lightning-land/wifid/network"
)

// check Linux compliance to its interface during compile time
var _ network.Addresser = (*Linux)(nil)

const (
	defaultDnsmasq   = "dnsmasq"
	defaultLeaseTime = 12 * time.Hour
	defaultLeaseFile = "/var/run/wifid.leases"
)

type Config struct {
	Interface string
	// Dnsmasq is the dnsmasq binary.
	Dnsmasq   string
	LeaseTime time.Duration
	LeaseFile string
	Logger    Logger
}

// Linux configures a network interface through ioctls and runs dnsmasq on it.
type Linux struct {
	log       Logger
	ifname    string
	dnsmasq   string
	leaseTime time.Duration
	leaseFile string

	mu     sync.Mutex
	info   *network.IPInfo
	cmd    *exec.Cmd
	exited chan struct{}
}

func New(config *Config) *Linux {
	l := &Linux{
		ifname:    config.Interface,
		dnsmasq:   config.Dnsmasq,
		leaseTime: config.LeaseTime,
		leaseFile: config.LeaseFile,
	}

	if l.dnsmasq == "" {
		l.dnsmasq = defaultDnsmasq
	}

	if l.leaseTime <= 0 {
		l.leaseTime = defaultLeaseTime
	}

	if l.leaseFile == "" {
		l.leaseFile = defaultLeaseFile
	}

	if config.Logger != nil {
		l.log = config.Logger
	} else {
		l.log = noopLogger{}
	}

	return l
}

func (l *Linux) SetAddress(info network.IPInfo) error {
	if !info.IP.Is4() {
		return errors.Errorf("%v is not an IPv4 address", info.IP)
	}

	err := setInterfaceAddress(l.ifname, info.IP.As4(), info.Netmask)
	if err != nil {
		return errors.Errorf("could not configure %v: %w", l.ifname, err)
	}

	l.mu.Lock()
	l.info = &info
	l.mu.Unlock()

	l.log.Infof("Assigned %v to %v", info.Prefix, l.ifname)

	return nil
}

// StartDHCP runs dnsmasq for the address assigned last.
func (l *Linux) StartDHCP(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.info == nil {
		return errors.New("no address assigned yet")
	}

	if l.cmd != nil {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	cmd := exec.Command(l.dnsmasq, dnsmasqArgs(l.ifname, *l.info, l.leaseTime, l.leaseFile)...)
	detach(cmd)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errors.Errorf("could not create stderr pipe: %w", err)
	}

	err = cmd.Start()
	if err != nil {
		return errors.Errorf("could not start %v: %w", l.dnsmasq, err)
	}

	exited := make(chan struct{})

	go l.streamLogs(stderr)
	go func() {
		defer close(exited)

		err := cmd.Wait()
		if err != nil {
			l.log.Warnf("dnsmasq exited: %v", err)
		} else {
			l.log.Infof("dnsmasq exited")
		}

		l.mu.Lock()
		if l.cmd == cmd {
			l.cmd = nil
		}
		l.mu.Unlock()
	}()

	l.cmd = cmd
	l.exited = exited

	l.log.Infof("Started dhcp service with pid %v", cmd.Process.Pid)

	return nil
}

// StopDHCP terminates dnsmasq, killing it if it does not exit before the
// context ends.
func (l *Linux) StopDHCP(ctx context.Context) error {
	l.mu.Lock()
	cmd := l.cmd
	exited := l.exited
	l.mu.Unlock()

	if cmd == nil {
		return nil
	}

	err := cmd.Process.Signal(syscall.SIGTERM)
	if err != nil {
		l.log.Debugf("Could not terminate dnsmasq: %v", err)
	}

	select {
	case <-exited:
		return nil
	case <-ctx.Done():
	}

	l.log.Warnf("dnsmasq did not exit in time, killing it")

	err = cmd.Process.Kill()
	if err != nil {
		return errors.Errorf("could not kill dnsmasq: %w", err)
	}

	<-exited

	return nil
}

func (l *Linux) streamLogs(pipe io.ReadCloser) {
	defer pipe.Close()

	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		l.log.Debugf("dnsmasq: %v", scanner.Text())
	}
}

func dnsmasqArgs(ifname string, info network.IPInfo, leaseTime time.Duration, leaseFile string) []string {
	first, last := info.DHCPRange()

	return []string{
		"--keep-in-foreground",
		"--conf-file=/dev/null",
		"--port=0",
		"--bind-interfaces",
		"--except-interface=lo",
		"--interface=" + ifname,
		fmt.Sprintf("--dhcp-range=%v,%v,%v,%vs", first, last, net.IP(info.Netmask), int(leaseTime.Seconds())),
		fmt.Sprintf("--dhcp-option=option:router,%v", info.Gateway),
		"--dhcp-leasefile=" + leaseFile,
	}
}
