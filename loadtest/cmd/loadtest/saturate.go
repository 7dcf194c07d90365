package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/meghan/community-chat/loadtest/client"
	"github.com/meghan/community-chat/loadtest/stats"
)

// runSaturate ramps up idle room connections and holds them open, reporting
// how many the server drops.
func runSaturate(args []string) {
	var t target
	fs := flag.NewFlagSet("saturate", flag.ExitOnError)
	t.register(fs)
	connections := fs.Int("connections", 1000, "Number of connections to open")
	rampUp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration")
	hold := fs.Duration("hold", 30*time.Second, "Hold duration after all connections are open")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous connection attempts during ramp-up")
	_ = fs.Parse(args)

	if t.secret == "" {
		fmt.Fprintln(os.Stderr, "-secret or JWT_SECRET is required")
		os.Exit(2)
	}

	fmt.Printf("Saturate test: %d connections to room %d at %s (ramp=%s, hold=%s, concurrency=%d)\n",
		*connections, t.roomID, t.baseURL, *rampUp, *hold, *concurrency)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	if t.scrape {
		scrapeCtx, cancelScrape := context.WithCancel(ctx)
		scraper := stats.NewScraper(t.metricsURL(), 2*time.Second)
		scraper.Start(scrapeCtx)
		collector.SetScraper(scraper)
		defer func() {
			cancelScrape()
			scraper.Wait()
			collector.Report()
		}()
	} else {
		defer collector.Report()
	}

	var mu sync.Mutex
	clients := make([]*client.Client, 0, *connections)

	fmt.Println("\n--- Ramp-up phase ---")
	interval := *rampUp / time.Duration(*connections)
	if interval <= 0 {
		interval = time.Millisecond
	}

	sem := make(chan struct{}, *concurrency)
	var wg sync.WaitGroup

	progressStop := make(chan struct{})
	var progressWg sync.WaitGroup
	progressWg.Add(1)
	go func() {
		defer progressWg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fmt.Printf("  [ramp] connections: %d/%d  errors: %d\n",
					collector.Connections(), *connections, collector.ConnectErrors())
			case <-progressStop:
				return
			}
		}
	}()

	rampStart := time.Now()
	rampTicker := time.NewTicker(interval)
	interrupted := false

ramp:
	for n := 0; n < *connections; n++ {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during ramp-up.")
			interrupted = true
			break ramp
		case <-rampTicker.C:
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(n int) {
			defer wg.Done()
			defer func() { <-sem }()

			connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			c, err := t.connect(connCtx, n)
			if err != nil {
				collector.AddConnectError()
				return
			}
			collector.AddConnect(c.Metrics().ConnectLatency)
			mu.Lock()
			clients = append(clients, c)
			mu.Unlock()
		}(n)
	}
	rampTicker.Stop()
	wg.Wait()
	close(progressStop)
	progressWg.Wait()

	fmt.Printf("\nRamp-up complete: %d/%d connections in %s (%d errors)\n",
		collector.Connections(), *connections,
		time.Since(rampStart).Round(time.Millisecond), collector.ConnectErrors())

	if !interrupted {
		holdPhase(ctx, *hold, &mu, &clients)
	}

	fmt.Println("\n--- Cleanup ---")
	mu.Lock()
	fmt.Printf("Closing %d connections...\n", len(clients))
	dropped := 0
	for _, c := range clients {
		select {
		case <-c.Done():
			dropped++
		default:
		}
		c.Close()
	}
	mu.Unlock()
	for i := 0; i < dropped; i++ {
		collector.Count("dropped")
	}
}

func holdPhase(ctx context.Context, hold time.Duration, mu *sync.Mutex, clients *[]*client.Client) {
	fmt.Println("\n--- Hold phase ---")
	mu.Lock()
	initial := len(*clients)
	mu.Unlock()
	fmt.Printf("Holding %d connections for %s...\n", initial, hold)

	holdTimer := time.NewTimer(hold)
	defer holdTimer.Stop()
	status := time.NewTicker(5 * time.Second)
	defer status.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during hold phase.")
			return
		case <-holdTimer.C:
			fmt.Println("\nHold period complete.")
			return
		case <-status.C:
			mu.Lock()
			alive := 0
			for _, c := range *clients {
				select {
				case <-c.Done():
				default:
					alive++
					_ = c.Ping()
				}
			}
			mu.Unlock()
			fmt.Printf("  [hold] alive: %d/%d  dropped: %d\n", alive, initial, initial-alive)
		}
	}
}
