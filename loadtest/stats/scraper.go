package stats

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// tracked lists the server series reported after a run. Labelled series are
// summed per name.
var tracked = []struct {
	label, name string
	gauge       bool
}{
	{"Connections", "community_connections_total", true},
	{"Room members", "community_room_members", true},
	{"Messages", "community_messages_total", false},
	{"Broadcast drops", "community_broadcast_drops_total", false},
	{"Crisis events", "community_crisis_events_total", false},
	{"Ledger credits", "community_ledger_credits_total", false},
}

type snapshot struct {
	at     time.Time
	values map[string]float64
}

// Scraper polls the server's Prometheus endpoint during a run.
type Scraper struct {
	url      string
	interval time.Duration
	client   *http.Client

	mu    sync.Mutex
	snaps []snapshot
	done  chan struct{}
}

func NewScraper(url string, interval time.Duration) *Scraper {
	return &Scraper{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		done:     make(chan struct{}),
	}
}

// Start scrapes immediately and then every interval until ctx ends, taking
// a final snapshot on the way out.
func (s *Scraper) Start(ctx context.Context) {
	s.scrapeOnce()
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.scrapeOnce()
				return
			case <-ticker.C:
				s.scrapeOnce()
			}
		}
	}()
}

// Wait blocks until the scraper goroutine has exited.
func (s *Scraper) Wait() { <-s.done }

func (s *Scraper) scrapeOnce() {
	resp, err := s.client.Get(s.url)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	values, err := parseExposition(resp.Body)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.snaps = append(s.snaps, snapshot{at: time.Now(), values: values})
	s.mu.Unlock()
}

// parseExposition sums the samples of every metric name in a text-format
// exposition.
func parseExposition(r io.Reader) (map[string]float64, error) {
	out := make(map[string]float64)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		name, rest := line, ""
		if i := strings.IndexByte(line, '{'); i >= 0 {
			j := strings.LastIndexByte(line, '}')
			if j < i {
				continue
			}
			name, rest = line[:i], line[j+1:]
		} else if i := strings.IndexByte(line, ' '); i >= 0 {
			name, rest = line[:i], line[i:]
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		v, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			continue
		}
		out[name] += v
	}
	return out, sc.Err()
}

// Report prints first, last and peak values of the tracked series.
func (s *Scraper) Report() {
	s.mu.Lock()
	snaps := append([]snapshot(nil), s.snaps...)
	s.mu.Unlock()

	if len(snaps) == 0 {
		fmt.Println("\n--- Server metrics (no data collected) ---")
		return
	}
	first, last := snaps[0], snaps[len(snaps)-1]
	fmt.Println("\n--- Server metrics ---")
	fmt.Printf("  %d snapshots over %s\n\n", len(snaps), last.at.Sub(first.at).Round(time.Second))
	fmt.Printf("  %-16s %10s %10s %10s\n", "Metric", "Initial", "Final", "Peak")
	for _, t := range tracked {
		peak := first.values[t.name]
		for _, sn := range snaps {
			peak = max(peak, sn.values[t.name])
		}
		fmt.Printf("  %-16s %10.0f %10.0f %10.0f\n", t.label, first.values[t.name], last.values[t.name], peak)
	}

	sum := last.values["community_message_latency_seconds_sum"] - first.values["community_message_latency_seconds_sum"]
	count := last.values["community_message_latency_seconds_count"] - first.values["community_message_latency_seconds_count"]
	if count > 0 {
		fmt.Printf("\n  %-16s avg: %.4fs  (%.0f observations)\n", "Msg latency", sum/count, count)
	}
}
