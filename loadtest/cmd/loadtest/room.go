package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/meghan/community-chat/loadtest/client"
	"github.com/meghan/community-chat/loadtest/stats"
)

const stampPrefix = "loadtest stamp "

// stamp embeds the send time so any member can compute fan-out latency
// without coordinating with the sender.
func stamp(sender, seq int, sent time.Time) string {
	return fmt.Sprintf("%s%d/%d/%d", stampPrefix, sender, seq, sent.UnixNano())
}

func parseStamp(content string) (time.Time, bool) {
	rest, ok := strings.CutPrefix(content, stampPrefix)
	if !ok {
		return time.Time{}, false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return time.Time{}, false
	}
	ns, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

// runRoom connects members to one room and has each post at a fixed rate.
// Every member records the fan-out latency of every broadcast it receives.
func runRoom(args []string) {
	var t target
	fs := flag.NewFlagSet("room", flag.ExitOnError)
	t.register(fs)
	members := fs.Int("users", 50, "Number of room members")
	senders := fs.Int("senders", 10, "Members that post messages")
	rate := fs.Duration("every", 2*time.Second, "Interval between posts per sender")
	duration := fs.Duration("duration", 30*time.Second, "Flood duration")
	_ = fs.Parse(args)

	if t.secret == "" {
		fmt.Fprintln(os.Stderr, "-secret or JWT_SECRET is required")
		os.Exit(2)
	}
	if *senders > *members {
		*senders = *members
	}

	fmt.Printf("Room test: %d members (%d senders, every %s) in room %d for %s\n",
		*members, *senders, *rate, t.roomID, *duration)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	var scraper *stats.Scraper
	scrapeCtx, cancelScrape := context.WithCancel(ctx)
	defer cancelScrape()
	if t.scrape {
		scraper = stats.NewScraper(t.metricsURL(), 2*time.Second)
		scraper.Start(scrapeCtx)
		collector.SetScraper(scraper)
	}

	onBroadcast := func(b client.Broadcast) {
		if sent, ok := parseStamp(b.Content); ok {
			collector.AddFanout(time.Since(sent))
		}
	}
	onError := func(detail string) {
		collector.Count("error frames")
	}

	fmt.Println("\n--- Connect phase ---")
	clients := make([]*client.Client, *members)
	var wg sync.WaitGroup
	for n := range clients {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			c, err := t.connect(connCtx, n, client.OnBroadcast(onBroadcast), client.OnError(onError))
			if err != nil {
				collector.AddConnectError()
				return
			}
			collector.AddConnect(c.Metrics().ConnectLatency)
			clients[n] = c
		}(n)
	}
	wg.Wait()
	fmt.Printf("Connected %d/%d (%d errors)\n", collector.Connections(), *members, collector.ConnectErrors())

	fmt.Println("\n--- Flood phase ---")
	floodCtx, cancelFlood := context.WithTimeout(ctx, *duration)
	defer cancelFlood()
	for n := 0; n < *senders; n++ {
		c := clients[n]
		if c == nil {
			continue
		}
		wg.Add(1)
		go func(n int, c *client.Client) {
			defer wg.Done()
			ticker := time.NewTicker(*rate)
			defer ticker.Stop()
			for seq := 0; ; seq++ {
				select {
				case <-floodCtx.Done():
					return
				case <-c.Done():
					collector.Count("sender dropped")
					return
				case <-ticker.C:
				}
				if err := c.SendMessage(stamp(n, seq, time.Now())); err != nil {
					collector.Count("send failed")
					return
				}
				collector.Count("sent")
			}
		}(n, c)
	}
	wg.Wait()

	// Let in-flight broadcasts drain before closing.
	time.Sleep(time.Second)

	var received, safety int
	for _, c := range clients {
		if c == nil {
			continue
		}
		m := c.Metrics()
		received += m.Broadcasts
		safety += m.SafetyReplies
		c.Close()
	}
	fmt.Printf("Broadcasts received: %d  safety replies: %d\n", received, safety)

	cancelScrape()
	if scraper != nil {
		scraper.Wait()
	}
	collector.Report()
}
