// Package stats aggregates load test measurements from many clients and
// prints a percentile summary.
package stats

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Collector is safe for concurrent use by client goroutines.
type Collector struct {
	mu         sync.Mutex
	start      time.Time
	connects   []time.Duration
	fanout     []time.Duration
	connErrors int
	outcomes   map[string]int
	scraper    *Scraper
}

func NewCollector() *Collector {
	return &Collector{start: time.Now(), outcomes: make(map[string]int)}
}

// SetScraper makes Report include server-side metrics.
func (c *Collector) SetScraper(s *Scraper) {
	c.mu.Lock()
	c.scraper = s
	c.mu.Unlock()
}

func (c *Collector) AddConnect(d time.Duration) {
	c.mu.Lock()
	c.connects = append(c.connects, d)
	c.mu.Unlock()
}

func (c *Collector) AddConnectError() {
	c.mu.Lock()
	c.connErrors++
	c.mu.Unlock()
}

// AddFanout records the time from send to receipt of a broadcast by one
// member.
func (c *Collector) AddFanout(d time.Duration) {
	c.mu.Lock()
	c.fanout = append(c.fanout, d)
	c.mu.Unlock()
}

// Count increments a named outcome such as "sent", "error" or "blocked".
func (c *Collector) Count(outcome string) {
	c.mu.Lock()
	c.outcomes[outcome]++
	c.mu.Unlock()
}

func (c *Collector) Connections() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.connects)
}

func (c *Collector) ConnectErrors() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connErrors
}

// Summary is the percentile distribution of a sample set.
type Summary struct {
	N                       int
	Avg, P50, P95, P99, Max time.Duration
}

// Summarize sorts samples in place. It returns the zero Summary for an empty
// set.
func Summarize(samples []time.Duration) Summary {
	n := len(samples)
	if n == 0 {
		return Summary{}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	rank := func(p float64) time.Duration {
		return samples[int(math.Ceil(float64(n)*p))-1]
	}
	var sum time.Duration
	for _, d := range samples {
		sum += d
	}
	return Summary{
		N:   n,
		Avg: sum / time.Duration(n),
		P50: samples[n/2],
		P95: rank(0.95),
		P99: rank(0.99),
		Max: samples[n-1],
	}
}

func (s Summary) String() string {
	r := func(d time.Duration) time.Duration { return d.Round(time.Microsecond) }
	return fmt.Sprintf("avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)",
		r(s.Avg), r(s.P50), r(s.P95), r(s.P99), r(s.Max), s.N)
}

// Report prints the summary to stdout.
func (c *Collector) Report() {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Println("\n=== Load Test Results ===")
	fmt.Printf("Duration:        %s\n", time.Since(c.start).Round(time.Second))
	fmt.Printf("Connections:     %d\n", len(c.connects))
	fmt.Printf("Connect errors:  %d\n", c.connErrors)

	names := make([]string, 0, len(c.outcomes))
	for name := range c.outcomes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%-16s %d\n", name+":", c.outcomes[name])
	}

	if len(c.connects) > 0 {
		fmt.Println("\n--- Connect latency ---")
		fmt.Println("  " + Summarize(c.connects).String())
	}
	if len(c.fanout) > 0 {
		fmt.Println("\n--- Broadcast fan-out latency ---")
		fmt.Println("  " + Summarize(c.fanout).String())
	}
	if c.scraper != nil {
		c.scraper.Report()
	}
	fmt.Println()
}
