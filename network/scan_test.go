package network

import (
	"fmt"
	"sync"

	"github.com/go-errors/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type resultSink struct {
	mu      sync.Mutex
	results []ScanResult
}

func (s *resultSink) callback(result ScanResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
}

func (s *resultSink) all() []ScanResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ScanResult(nil), s.results...)
}

func accessPoints(n int) []AccessPoint {
	records := make([]AccessPoint, n)
	for i := range records {
		records[i] = AccessPoint{
			SSID:    fmt.Sprintf("net-%v", i),
			RSSI:    -40 - i,
			Channel: 1 + i%11,
			Auth:    AuthWPA2PSK,
		}
	}
	return records
}

var _ = Describe("Scanner", func() {
	var (
		driver  *MockDriver
		scanner *Scanner
		sink    *resultSink
	)

	BeforeEach(func() {
		driver = NewMockDriver()
		sink = &resultSink{}
		scanner = NewScanner(&ScannerConfig{Driver: driver})
	})

	AfterEach(func() {
		driver.ReleaseScans()
		scanner.Close()
	})

	It("reports the found networks", func() {
		driver.SetRecords(accessPoints(3))

		Expect(scanner.Scan(sink.callback)).To(Succeed())
		scanner.Wait()

		results := sink.all()
		Expect(results).To(HaveLen(1))
		Expect(results[0].Err).NotTo(HaveOccurred())
		Expect(results[0].Found).To(Equal(3))
		Expect(results[0].Records).To(Equal(accessPoints(3)))
	})

	It("clears cached results before scanning", func() {
		Expect(scanner.Scan(nil)).To(Succeed())
		scanner.Wait()

		Expect(driver.Cleared()).To(Equal(1))
		Expect(driver.Calls()).To(Equal([]string{"ClearScanResults", "Scan", "ScanResults"}))
	})

	It("truncates to the capacity but counts every network", func() {
		driver.SetRecords(accessPoints(25))

		Expect(scanner.Scan(sink.callback)).To(Succeed())
		scanner.Wait()

		results := sink.all()
		Expect(results).To(HaveLen(1))
		Expect(results[0].Found).To(Equal(25))
		Expect(results[0].Records).To(HaveLen(DefaultScanCapacity))
	})

	It("ignores scans while one is running", func() {
		started := driver.HoldScans()

		Expect(scanner.Scan(sink.callback)).To(Succeed())
		Eventually(started).Should(Receive())
		Expect(scanner.Scanning()).To(BeTrue())

		second := &resultSink{}
		Expect(scanner.Scan(second.callback)).To(Succeed())

		driver.ReleaseScans()
		scanner.Wait()

		Expect(sink.all()).To(HaveLen(1))
		Expect(second.all()).To(BeEmpty())
		Expect(driver.CountCalls("Scan")).To(Equal(1))
		Expect(driver.Cleared()).To(Equal(1))
		Expect(scanner.Scanning()).To(BeFalse())
	})

	It("releases the gate after a failed scan", func() {
		failure := errors.New("radio busy")
		driver.SetScanError(failure)

		Expect(scanner.Scan(sink.callback)).To(Succeed())
		scanner.Wait()

		results := sink.all()
		Expect(results).To(HaveLen(1))
		Expect(errors.Is(results[0].Err, failure)).To(BeTrue())
		Expect(scanner.Scanning()).To(BeFalse())

		driver.SetScanError(nil)
		Expect(scanner.Scan(sink.callback)).To(Succeed())
		scanner.Wait()

		Expect(sink.all()).To(HaveLen(2))
	})

	It("releases the gate when results cannot be read", func() {
		driver.Fail("ScanResults", errors.New("no memory"))

		Expect(scanner.Scan(sink.callback)).To(Succeed())
		scanner.Wait()

		Expect(sink.all()[0].Err).To(HaveOccurred())
		Expect(scanner.Scanning()).To(BeFalse())
	})

	It("releases the gate when the cache cannot be cleared", func() {
		driver.Fail("ClearScanResults", errors.New("no radio"))

		Expect(scanner.Scan(sink.callback)).To(HaveOccurred())
		Expect(scanner.Scanning()).To(BeFalse())
		Expect(driver.CountCalls("Scan")).To(Equal(0))
	})

	It("releases the gate when the callback panics", func() {
		Expect(scanner.Scan(func(ScanResult) { panic("boom") })).To(Succeed())
		scanner.Wait()

		Expect(scanner.Scanning()).To(BeFalse())
		Expect(scanner.Scan(sink.callback)).To(Succeed())
		scanner.Wait()
		Expect(sink.all()).To(HaveLen(1))
	})

	It("accepts a nil callback", func() {
		Expect(scanner.Scan(nil)).To(Succeed())
		scanner.Wait()

		Expect(scanner.Scanning()).To(BeFalse())
	})

	It("honors a custom capacity", func() {
		small := NewScanner(&ScannerConfig{Driver: driver, Capacity: 2})
		defer small.Close()

		driver.SetRecords(accessPoints(5))

		Expect(small.Scan(sink.callback)).To(Succeed())
		small.Wait()

		Expect(sink.all()[0].Records).To(HaveLen(2))
		Expect(sink.all()[0].Found).To(Equal(5))
	})

	It("rejects scans after close", func() {
		scanner.Close()

		Expect(scanner.Scan(sink.callback)).To(MatchError(ErrClosed))
	})
})
