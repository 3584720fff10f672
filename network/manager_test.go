package network

import (
	"net/netip"
	"sync"
	"time"

	"github.com/go-errors/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/the-lightning-land/wifid/connectivity"
	"github.com/the-lightning-land/wifid/event"
)

type stateSink struct {
	mu     sync.Mutex
	states []connectivity.State
}

func (s *stateSink) callback(state connectivity.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
}

func (s *stateSink) all() []connectivity.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]connectivity.State(nil), s.states...)
}

var (
	disconnected = event.Notification{Base: event.BaseWifi, ID: event.WifiStationDisconnected, Reason: 201}
	gotIP        = event.Notification{Base: event.BaseIP, ID: event.IPStationGotIP, Addr: netip.MustParseAddr("10.0.0.9")}
)

// panickingDriver fails hard on every connect attempt.
type panickingDriver struct {
	*MockDriver
}

func (d panickingDriver) Connect() error {
	panic("driver fault")
}

func only(calls []string, names ...string) []string {
	var filtered []string
	for _, c := range calls {
		for _, n := range names {
			if c == n {
				filtered = append(filtered, c)
			}
		}
	}
	return filtered
}

var _ = Describe("Manager", func() {
	var (
		driver    *MockDriver
		addresser *MockAddresser
		manager   *Manager
		sink      *stateSink
	)

	BeforeEach(func() {
		driver = NewMockDriver()
		addresser = NewMockAddresser()
		sink = &stateSink{}

		var err error
		manager, err = NewManager(&ManagerConfig{
			Driver:    driver,
			Addresser: addresser,
			AccessPoint: AccessPointConfig{
				SSID:          "wifid",
				Password:      "12345678",
				Channel:       5,
				MaxConnection: 5,
				Auth:          AuthWPA2PSK,
			},
			Subnet:     netip.MustParsePrefix("192.168.100.0/24"),
			MaxRetries: DefaultMaxRetries,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(manager.Close()).To(Succeed())
	})

	Describe("preconditions", func() {
		It("rejects operations before init", func() {
			Expect(manager.Connect("home", "secret123")).To(MatchError(ErrNotInitialized))
			Expect(manager.EnterAccessPointMode()).To(MatchError(ErrNotInitialized))
			Expect(manager.Scan(nil)).To(MatchError(ErrNotInitialized))
		})

		It("rejects a second init", func() {
			Expect(manager.Init(sink.callback)).To(Succeed())
			Expect(manager.Init(sink.callback)).To(MatchError(ErrAlreadyInitialized))
		})

		It("rejects operations after close", func() {
			Expect(manager.Init(sink.callback)).To(Succeed())
			Expect(manager.Close()).To(Succeed())

			Expect(manager.Connect("home", "secret123")).To(MatchError(ErrClosed))
			Expect(manager.Scan(nil)).To(MatchError(ErrClosed))
			Expect(manager.Init(nil)).To(MatchError(ErrClosed))
		})

		DescribeTable("validates credentials",
			func(ssid string, password string) {
				Expect(manager.Init(sink.callback)).To(Succeed())

				err := manager.Connect(ssid, password)
				Expect(errors.Is(err, ErrInvalidCredentials)).To(BeTrue())
			},
			Entry("empty ssid", "", "secret123"),
			Entry("long ssid", "0123456789012345678901234567890123", "secret123"),
			Entry("short password", "home", "short"),
		)

		It("requires a driver that delivers events", func() {
			_, err := NewManager(&ManagerConfig{Driver: struct{ Driver }{driver}})
			Expect(err).To(HaveOccurred())
		})

		It("fails init when the stack cannot start", func() {
			driver.Fail("Init", errors.New("no radio"))

			Expect(manager.Init(sink.callback)).To(HaveOccurred())
			Expect(driver.CountCalls("Start")).To(Equal(0))
		})
	})

	Describe("init", func() {
		It("starts the station and connects once it started", func() {
			Expect(manager.Init(sink.callback)).To(Succeed())

			Eventually(func() int { return driver.CountCalls("Connect") }).Should(Equal(1))
			Expect(only(driver.Calls(), "Init", "SetMode(station)", "Start", "Connect")).
				To(Equal([]string{"Init", "SetMode(station)", "Start", "Connect"}))

			status := manager.Status()
			Expect(status.Mode).To(Equal(ModeStation))
			Expect(status.Phase).To(Equal(stateStarting))
			Expect(status.Connected()).To(BeFalse())
		})
	})

	Describe("connection state", func() {
		BeforeEach(func() {
			Expect(manager.Init(sink.callback)).To(Succeed())
			Eventually(func() int { return driver.CountCalls("Connect") }).Should(Equal(1))
		})

		It("notifies in transition order", func() {
			driver.AutoConnect = true

			driver.Emit(gotIP)
			Eventually(sink.all).Should(HaveLen(1))

			Expect(manager.Connect("other", "secret123")).To(Succeed())

			Eventually(sink.all).Should(Equal([]connectivity.State{
				connectivity.Connected,
				connectivity.Disconnected,
				connectivity.Connected,
			}))
		})

		It("notifies connected once per address", func() {
			driver.Emit(gotIP)
			driver.Emit(gotIP)

			Eventually(sink.all).Should(Equal([]connectivity.State{connectivity.Connected}))
			Consistently(sink.all, 50*time.Millisecond).Should(HaveLen(1))

			status := manager.Status()
			Expect(status.Connected()).To(BeTrue())
			Expect(status.Address).To(Equal(gotIP.Addr))
		})

		It("notifies disconnected only after being connected", func() {
			driver.Emit(disconnected)
			Consistently(sink.all, 50*time.Millisecond).Should(BeEmpty())

			driver.Emit(gotIP)
			driver.Emit(disconnected)
			driver.Emit(disconnected)

			Eventually(sink.all).Should(Equal([]connectivity.State{connectivity.Connected, connectivity.Disconnected}))
			Consistently(sink.all, 50*time.Millisecond).Should(HaveLen(2))
			Expect(manager.Status().Address.IsValid()).To(BeFalse())
		})

		It("gives up after the configured retries", func() {
			for i := 0; i < DefaultMaxRetries+1; i++ {
				driver.Emit(disconnected)
			}

			Eventually(func() string { return manager.Status().Phase }).Should(Equal(stateGivenUp))
			Expect(driver.CountCalls("Connect")).To(Equal(1 + DefaultMaxRetries))

			driver.Emit(disconnected)
			Consistently(func() int { return driver.CountCalls("Connect") }, 50*time.Millisecond).
				Should(Equal(1 + DefaultMaxRetries))
			Expect(manager.Status().Retries).To(Equal(DefaultMaxRetries))
		})

		It("recovers from giving up when an address arrives", func() {
			for i := 0; i < DefaultMaxRetries+1; i++ {
				driver.Emit(disconnected)
			}
			Eventually(func() string { return manager.Status().Phase }).Should(Equal(stateGivenUp))

			driver.Emit(gotIP)

			Eventually(sink.all).Should(Equal([]connectivity.State{connectivity.Connected}))
		})

		It("resets retries on an explicit connect", func() {
			for i := 0; i < DefaultMaxRetries+1; i++ {
				driver.Emit(disconnected)
			}
			Eventually(func() string { return manager.Status().Phase }).Should(Equal(stateGivenUp))

			Expect(manager.Connect("home", "secret123")).To(Succeed())

			Eventually(func() int { return driver.CountCalls("Connect") }).Should(Equal(2 + DefaultMaxRetries))
			status := manager.Status()
			Expect(status.Retries).To(Equal(0))
			Expect(status.Phase).To(Equal(stateStarting))
			Expect(status.SSID).To(Equal("home"))
		})

		It("notifies disconnected when leaving a connected network", func() {
			driver.Emit(gotIP)
			Eventually(sink.all).Should(HaveLen(1))

			Expect(manager.Connect("other", "")).To(Succeed())

			Eventually(sink.all).Should(Equal([]connectivity.State{connectivity.Connected, connectivity.Disconnected}))
			Expect(driver.StationConfig()).To(Equal(StationConfig{SSID: "other", Threshold: AuthOpen}))
		})

		It("applies credentials with a wpa2 threshold", func() {
			Expect(manager.Connect("home", "secret123")).To(Succeed())

			Expect(driver.StationConfig()).To(Equal(StationConfig{
				SSID:      "home",
				Password:  "secret123",
				Threshold: AuthWPA2PSK,
			}))
		})

		It("keeps running after a panicking callback", func() {
			Expect(manager.Close()).To(Succeed())

			driver = NewMockDriver()
			var err error
			manager, err = NewManager(&ManagerConfig{Driver: driver})
			Expect(err).NotTo(HaveOccurred())

			Expect(manager.Init(func(connectivity.State) { panic("boom") })).To(Succeed())

			driver.Emit(gotIP)
			Eventually(func() bool { return manager.Status().Connected() }).Should(BeTrue())

			driver.Emit(disconnected)
			Eventually(func() string { return manager.Status().Phase }).Should(Equal(stateGivenUp))
		})

		It("counts access point peers", func() {
			driver.Emit(event.Notification{Base: event.BaseWifi, ID: event.WifiAPStationConnected, Peer: "aa:bb"})
			driver.Emit(event.Notification{Base: event.BaseWifi, ID: event.WifiAPStationConnected, Peer: "cc:dd"})
			driver.Emit(event.Notification{Base: event.BaseWifi, ID: event.WifiAPStationDisconnect, Peer: "aa:bb"})

			Eventually(func() int { return manager.Status().Peers }).Should(Equal(1))
		})
	})

	Describe("retry delay", func() {
		It("reconnects after the delay", func() {
			Expect(manager.Close()).To(Succeed())

			var err error
			driver = NewMockDriver()
			manager, err = NewManager(&ManagerConfig{
				Driver:     driver,
				MaxRetries: 1,
				RetryDelay: 20 * time.Millisecond,
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(manager.Init(sink.callback)).To(Succeed())
			Eventually(func() int { return driver.CountCalls("Connect") }).Should(Equal(1))

			driver.Emit(disconnected)

			Eventually(func() int { return driver.CountCalls("Connect") }).Should(Equal(2))
		})
	})

	Describe("access point", func() {
		BeforeEach(func() {
			Expect(manager.Init(sink.callback)).To(Succeed())
			Eventually(func() int { return driver.CountCalls("Connect") }).Should(Equal(1))
		})

		It("tears the station down before starting dual mode", func() {
			offset := len(driver.Calls())

			Expect(manager.EnterAccessPointMode()).To(Succeed())

			calls := driver.Calls()[offset:]
			Expect(only(calls, "Disconnect", "Stop", "SetMode(dual)", "SetAccessPointConfig", "Start")).
				To(Equal([]string{"Disconnect", "Stop", "SetMode(dual)", "SetAccessPointConfig", "Start"}))

			Expect(driver.AccessPointConfig().SSID).To(Equal("wifid"))
			Expect(addresser.Calls()).To(Equal([]string{"StopDHCP", "SetAddress", "StartDHCP"}))
			Expect(addresser.Info().Gateway).To(Equal(netip.MustParseAddr("192.168.100.1")))

			status := manager.Status()
			Expect(status.Mode).To(Equal(ModeDual))
			Expect(status.AccessPoint).To(BeTrue())
		})

		It("does nothing when already in dual mode", func() {
			Expect(manager.EnterAccessPointMode()).To(Succeed())
			count := len(driver.Calls())
			Eventually(func() int { return driver.CountCalls("Connect") }).Should(Equal(2))

			Expect(manager.EnterAccessPointMode()).To(Succeed())

			Expect(driver.CountCalls("SetMode(dual)")).To(Equal(1))
			Expect(len(driver.Calls())).To(BeNumerically("<=", count+1))
			Expect(addresser.Calls()).To(HaveLen(3))
		})

		It("returns to station mode on connect", func() {
			Expect(manager.EnterAccessPointMode()).To(Succeed())
			Expect(manager.Connect("home", "secret123")).To(Succeed())

			Expect(manager.Status().Mode).To(Equal(ModeStation))
			Expect(driver.CountCalls("SetMode(station)")).To(Equal(2))
		})

		It("retries a failed access point start", func() {
			driver.Fail("SetAccessPointConfig", errors.New("boom"))

			Expect(manager.EnterAccessPointMode()).To(MatchError(ContainSubstring("could not apply access point config")))

			status := manager.Status()
			Expect(status.AccessPoint).To(BeFalse())
			Expect(status.Mode).To(Equal(ModeStation))
			Expect(driver.CountCalls("SetMode(station)")).To(Equal(2))

			driver.Fail("SetAccessPointConfig", nil)
			starts := driver.CountCalls("Start")

			Expect(manager.EnterAccessPointMode()).To(Succeed())

			Expect(driver.CountCalls("SetAccessPointConfig")).To(Equal(2))
			Expect(driver.CountCalls("Start")).To(Equal(starts + 1))
			Expect(driver.AccessPointConfig().SSID).To(Equal("wifid"))

			status = manager.Status()
			Expect(status.AccessPoint).To(BeTrue())
			Expect(status.Mode).To(Equal(ModeDual))
		})

		It("reports the station link lost after entering dual mode", func() {
			driver.Emit(gotIP)
			Eventually(sink.all).Should(Equal([]connectivity.State{connectivity.Connected}))

			Expect(manager.EnterAccessPointMode()).To(Succeed())

			// the driver reports the link loss after the mode switch
			driver.Emit(disconnected)

			Eventually(sink.all).Should(Equal([]connectivity.State{connectivity.Connected, connectivity.Disconnected}))
			Consistently(sink.all, 100*time.Millisecond).Should(HaveLen(2))

			status := manager.Status()
			Expect(status.Connected()).To(BeFalse())
			Expect(status.AccessPoint).To(BeTrue())
		})

		It("continues when the station cannot disconnect", func() {
			driver.Fail("Disconnect", errors.New("not associated"))

			Expect(manager.EnterAccessPointMode()).To(Succeed())
			Expect(manager.Status().Mode).To(Equal(ModeDual))
		})
	})

	Describe("driver faults", func() {
		It("stays usable after the driver panics during an event", func() {
			Expect(manager.Close()).To(Succeed())

			driver = NewMockDriver()
			var err error
			manager, err = NewManager(&ManagerConfig{
				Driver: panickingDriver{driver},
				Events: driver,
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(manager.Init(sink.callback)).To(Succeed())

			// station started makes the manager connect, which panics
			driver.Emit(event.Notification{Base: event.BaseWifi, ID: event.WifiStationStart})

			done := make(chan struct{})
			go func() {
				defer close(done)
				_ = manager.Status()
				driver.Emit(gotIP)
			}()

			Eventually(done).Should(BeClosed())
			Eventually(sink.all).Should(Equal([]connectivity.State{connectivity.Connected}))
		})
	})

	Describe("scan", func() {
		It("delegates to the scanner", func() {
			Expect(manager.Init(sink.callback)).To(Succeed())
			driver.SetRecords(accessPoints(2))

			results := &resultSink{}
			Expect(manager.Scan(results.callback)).To(Succeed())

			Eventually(results.all).Should(HaveLen(1))
			Expect(results.all()[0].Found).To(Equal(2))
			Eventually(manager.Scanning).Should(BeFalse())
		})
	})
})
