package netif

import (
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/the-lightning-land/wifid/network"
)

func accessPointInfo() network.IPInfo {
	info, err := network.IPInfoFromPrefix(netip.MustParsePrefix("192.168.100.0/24"))
	Expect(err).NotTo(HaveOccurred())
	return info
}

var _ = Describe("dnsmasqArgs", func() {
	It("serves the subnet behind the gateway", func() {
		args := dnsmasqArgs("wlan0", accessPointInfo(), 12*time.Hour, "/tmp/leases")

		Expect(args).To(ContainElements(
			"--keep-in-foreground",
			"--interface=wlan0",
			"--dhcp-range=192.168.100.2,192.168.100.254,255.255.255.0,43200s",
			"--dhcp-option=option:router,192.168.100.1",
			"--dhcp-leasefile=/tmp/leases",
		))
	})
})

var _ = Describe("Linux", func() {
	var linux *Linux

	BeforeEach(func() {
		linux = New(&Config{Interface: "wlan0"})
	})

	It("applies defaults", func() {
		Expect(linux.dnsmasq).To(Equal(defaultDnsmasq))
		Expect(linux.leaseTime).To(Equal(defaultLeaseTime))
		Expect(linux.leaseFile).To(Equal(defaultLeaseFile))
	})

	It("needs an address before serving dhcp", func() {
		Expect(linux.StartDHCP(context.Background())).To(HaveOccurred())
	})

	It("stops nothing when dhcp is not running", func() {
		Expect(linux.StopDHCP(context.Background())).To(Succeed())
	})

	It("rejects ipv6 addresses", func() {
		Expect(linux.SetAddress(network.IPInfo{IP: netip.MustParseAddr("fd00::1")})).To(HaveOccurred())
	})

	Context("with a dhcp stand-in", func() {
		BeforeEach(func() {
			if _, err := os.Stat("/bin/sh"); err != nil {
				Skip("no shell available")
			}

			script := filepath.Join(GinkgoT().TempDir(), "dnsmasq")
			Expect(os.WriteFile(script, []byte("#!/bin/sh\nexec sleep 30\n"), 0o755)).To(Succeed())

			linux = New(&Config{Interface: "wlan0", Dnsmasq: script})
			info := accessPointInfo()
			linux.info = &info
		})

		It("starts and stops the service", func() {
			Expect(linux.StartDHCP(context.Background())).To(Succeed())
			Expect(linux.StartDHCP(context.Background())).To(Succeed())

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			Expect(linux.StopDHCP(ctx)).To(Succeed())

			Eventually(func() bool {
				linux.mu.Lock()
				defer linux.mu.Unlock()
				return linux.cmd == nil
			}).Should(BeTrue())
		})
	})
})
