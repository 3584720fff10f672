package event

import (
	"context"
	"net/netip"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) HandleEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()

	var types []Type
	for _, e := range r.events {
		types = append(types, e.Type)
	}
	return types
}

var _ = Describe("Translate", func() {
	DescribeTable("maps raw notifications",
		func(n Notification, expected Type) {
			e, ok := Translate(n)
			Expect(ok).To(BeTrue())
			Expect(e.Type).To(Equal(expected))
		},
		Entry("station start", Notification{Base: BaseWifi, ID: WifiStationStart}, StationStarted),
		Entry("station connected", Notification{Base: BaseWifi, ID: WifiStationConnected}, StationConnected),
		Entry("station disconnected", Notification{Base: BaseWifi, ID: WifiStationDisconnected}, StationDisconnected),
		Entry("peer joined", Notification{Base: BaseWifi, ID: WifiAPStationConnected}, PeerJoined),
		Entry("peer left", Notification{Base: BaseWifi, ID: WifiAPStationDisconnect}, PeerLeft),
		Entry("got ip", Notification{Base: BaseIP, ID: IPStationGotIP}, AddressAcquired),
	)

	DescribeTable("drops notifications without a typed event",
		func(n Notification) {
			_, ok := Translate(n)
			Expect(ok).To(BeFalse())
		},
		Entry("station stop", Notification{Base: BaseWifi, ID: WifiStationStop}),
		Entry("ap start", Notification{Base: BaseWifi, ID: WifiAPStart}),
		Entry("lost ip", Notification{Base: BaseIP, ID: IPStationLostIP}),
		Entry("unknown base", Notification{Base: Base(9), ID: WifiStationStart}),
	)

	It("carries the payload", func() {
		addr := netip.MustParseAddr("10.0.0.7")

		e, ok := Translate(Notification{Base: BaseIP, ID: IPStationGotIP, Addr: addr, SSID: "home"})
		Expect(ok).To(BeTrue())
		Expect(e.Addr).To(Equal(addr))
		Expect(e.SSID).To(Equal("home"))
	})
})

var _ = Describe("Bridge", func() {
	var (
		rec    *recorder
		bridge *Bridge
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())

		rec = &recorder{}
		bridge = NewBridge(&Config{Handler: rec})

		go bridge.Run(ctx)
	})

	AfterEach(func() {
		cancel()
	})

	It("dispatches events in delivery order", func() {
		bridge.Deliver(Notification{Base: BaseWifi, ID: WifiStationStart})
		bridge.Deliver(Notification{Base: BaseWifi, ID: WifiStationConnected})
		bridge.Deliver(Notification{Base: BaseIP, ID: IPStationGotIP})

		Eventually(rec.types).Should(Equal([]Type{StationStarted, StationConnected, AddressAcquired}))
	})

	It("skips unknown notifications", func() {
		bridge.Deliver(Notification{Base: BaseWifi, ID: 99})
		bridge.Deliver(Notification{Base: BaseWifi, ID: WifiStationDisconnected})

		Eventually(rec.types).Should(Equal([]Type{StationDisconnected}))
	})

	It("accepts deliveries from many goroutines", func() {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				bridge.Deliver(Notification{Base: BaseWifi, ID: WifiAPStationConnected})
			}()
		}
		wg.Wait()

		Eventually(func() int { return len(rec.types()) }).Should(Equal(20))
	})

	It("survives a panicking handler", func() {
		var mu sync.Mutex
		var seen []Type

		ctx, stop := context.WithCancel(context.Background())
		defer stop()

		panicky := NewBridge(&Config{Handler: HandlerFunc(func(e Event) {
			if e.Type == StationStarted {
				panic("boom")
			}
			mu.Lock()
			seen = append(seen, e.Type)
			mu.Unlock()
		})})
		go panicky.Run(ctx)

		panicky.Deliver(Notification{Base: BaseWifi, ID: WifiStationStart})
		panicky.Deliver(Notification{Base: BaseWifi, ID: WifiStationConnected})

		Eventually(func() []Type {
			mu.Lock()
			defer mu.Unlock()
			return append([]Type(nil), seen...)
		}).Should(Equal([]Type{StationConnected}))
	})
})
