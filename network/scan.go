package network

import (
	"context"
	"sync"
	"time"

	"github.com/go-errors/errors"
)

const (
	DefaultScanCapacity = 20
	DefaultScanTimeout  = 10 * time.Second
)

// ScanResult is the outcome of a single scan.
type ScanResult struct {
	// Found is the number of networks the driver discovered, which may exceed
	// the number of records.
	Found   int           `json:"found"`
	Records []AccessPoint `json:"networks"`
	Err     error         `json:"-"`
}

// ScanCallback receives the result of a scan on the scan goroutine.
type ScanCallback func(ScanResult)

type ScannerConfig struct {
	Driver   ScanDriver
	Capacity int
	Timeout  time.Duration
	Logger   Logger
}

// Scanner runs at most one network scan at a time.
type Scanner struct {
	log      Logger
	driver   ScanDriver
	gate     *Gate
	capacity int
	timeout  time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewScanner(config *ScannerConfig) *Scanner {
	s := &Scanner{
		driver:   config.Driver,
		gate:     NewGate(),
		capacity: config.Capacity,
		timeout:  config.Timeout,
	}

	if s.capacity <= 0 {
		s.capacity = DefaultScanCapacity
	}

	if s.timeout <= 0 {
		s.timeout = DefaultScanTimeout
	}

	if config.Logger != nil {
		s.log = config.Logger
	} else {
		s.log = noopLogger{}
	}

	return s
}

// Scan starts a scan unless one is already running, in which case it returns
// nil without calling the callback.
func (s *Scanner) Scan(callback ScanCallback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if !s.gate.TryAcquire() {
		s.log.Infof("Scan is already running")
		return nil
	}

	err := s.driver.ClearScanResults()
	if err != nil {
		s.gate.Release()
		return errors.Errorf("could not clear scan results: %w", err)
	}

	s.wg.Add(1)
	go s.run(callback)

	return nil
}

func (s *Scanner) run(callback ScanCallback) {
	defer s.wg.Done()
	defer s.gate.Release()
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("Scan callback panicked: %v", r)
		}
	}()

	result := s.scan()

	if result.Err != nil {
		s.log.Warnf("Scan failed: %v", result.Err)
	} else {
		s.log.Infof("Scan found %v networks, reporting %v", result.Found, len(result.Records))
	}

	if callback != nil {
		callback(result)
	}
}

func (s *Scanner) scan() ScanResult {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	err := s.driver.Scan(ctx)
	if err != nil {
		return ScanResult{Err: errors.Errorf("could not scan: %w", err)}
	}

	found, records, err := s.driver.ScanResults(s.capacity)
	if err != nil {
		return ScanResult{Err: errors.Errorf("could not read scan results: %w", err)}
	}

	if len(records) > s.capacity {
		records = records[:s.capacity]
	}

	if found < len(records) {
		found = len(records)
	}

	return ScanResult{
		Found:   found,
		Records: records,
	}
}

// Scanning reports whether a scan holds the gate.
func (s *Scanner) Scanning() bool {
	return !s.gate.Available()
}

// Wait blocks until all started scans are done.
func (s *Scanner) Wait() {
	s.wg.Wait()
}

// Close rejects new scans and waits for the running one.
func (s *Scanner) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.wg.Wait()
}
