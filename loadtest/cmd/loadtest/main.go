// Command loadtest drives community rooms with simulated members.
//
//   - saturate: open many idle room connections and hold them
//   - room:     flood one room with messages and measure fan-out latency
//
// Usage:
//
//	loadtest <command> [options]
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/meghan/community-chat/loadtest/client"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "saturate":
		runSaturate(os.Args[2:])
	case "room":
		runRoom(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: loadtest <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  saturate    Connection saturation test, opens N idle room connections")
	fmt.Println("  room        Room flood test, members post and measure broadcast fan-out")
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}

// target holds the flags shared by every subcommand.
type target struct {
	baseURL  string
	secret   string
	issuer   string
	roomID   int64
	userBase int64
	scrape   bool
}

func (t *target) register(fs *flag.FlagSet) {
	fs.StringVar(&t.baseURL, "base-url", "http://localhost:8080", "Server base URL")
	fs.StringVar(&t.secret, "secret", os.Getenv("JWT_SECRET"), "JWT signing secret of the server")
	fs.StringVar(&t.issuer, "issuer", os.Getenv("JWT_ISSUER"), "JWT issuer expected by the server")
	fs.Int64Var(&t.roomID, "room", 1, "Community id to join")
	fs.Int64Var(&t.userBase, "user-base", 100000, "First simulated user id")
	fs.BoolVar(&t.scrape, "scrape", true, "Scrape /metrics during the run")
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

// connect makes simulated user n a room member and opens its socket.
func (t *target) connect(ctx context.Context, n int, opts ...client.Option) (*client.Client, error) {
	userID := t.userBase + int64(n)
	token, err := client.MintToken(t.secret, t.issuer, userID, time.Hour)
	if err != nil {
		return nil, fmt.Errorf("mint token: %w", err)
	}
	if err := client.Join(ctx, httpClient, t.baseURL, t.roomID, token, n%2 == 0); err != nil {
		return nil, err
	}
	return client.Dial(ctx, client.SocketURL(t.baseURL, t.roomID, token), opts...)
}

func (t *target) metricsURL() string {
	return t.baseURL + "/metrics"
}
