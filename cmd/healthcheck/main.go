// Command healthcheck probes the local server for container health checks.
// It exits non-zero unless /healthz (or /readyz with -ready) answers 200.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	ready := flag.Bool("ready", false, "probe /readyz instead of /healthz")
	flag.Parse()

	client := &http.Client{Timeout: 3 * time.Second}
	ctx := context.Background()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL(os.Getenv("HTTP_ADDR"), *ready), nil)
	if err != nil {
		os.Exit(1)
	}
	resp, err := client.Do(req)
	if err != nil {
		os.Exit(1)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("failed to close response body: %v", err)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}

// probeURL maps a listen address such as ":8080" or "0.0.0.0:9000" to a
// loopback URL.
func probeURL(addr string, ready bool) string {
	path := "/healthz"
	if ready {
		path = "/readyz"
	}
	port := "8080"
	if i := strings.LastIndex(addr, ":"); i >= 0 && i < len(addr)-1 {
		port = addr[i+1:]
	}
	return "http://localhost:" + port + path
}
