// tunnel-loadgen is a small, dependency-free HTTP load generator for driving
// traffic through a running edge server's public forwarding path. It reuses
// connections (keep-alive) and supports concurrency so it can exercise the
// registry's round-robin dispatch and the pending table's contention under
// load without needing an external tool.
//
// Usage example:
//
//	tunnel-loadgen -base=http://127.0.0.1:3456 -subdomain=demo -path=/ -n=5000 -c=16
//
// The subdomain is sent as the Host header (subdomain.base-host), matching
// how a real public request would route to the edge server.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

func main() {
	var (
		base       = flag.String("base", "http://127.0.0.1:3456", "edge server base URL (scheme + host + port)")
		baseHost   = flag.String("base-host", "", "public base host to build the Host header from (defaults to the host portion of -base)")
		subdomain  = flag.String("subdomain", "demo", "subdomain to route requests to")
		path       = flag.String("path", "/", "request path forwarded to the tunnel client's local backend")
		method     = flag.String("method", http.MethodGet, "HTTP method to send")
		n          = flag.Int("n", 5000, "total requests to send")
		conc       = flag.Int("c", 8, "number of concurrent workers")
		timeout    = flag.Duration("timeout", 30*time.Second, "overall timeout for the loadgen run")
		reqTimeout = flag.Duration("req-timeout", 5*time.Second, "per-request timeout")
		connIdle   = flag.Duration("idle-timeout", 30*time.Second, "HTTP idle connection timeout")
		maxIdle    = flag.Int("max-idle", 256, "max idle connections total")
		maxIdlePer = flag.Int("max-idle-per-host", 256, "max idle connections per host")
	)
	flag.Parse()

	if *n <= 0 || *conc <= 0 {
		fmt.Fprintln(os.Stderr, "-n and -c must be > 0")
		os.Exit(2)
	}

	u, err := url.Parse(*base)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -base=%s: %v\n", *base, err)
		os.Exit(2)
	}
	host := *baseHost
	if host == "" {
		host = u.Hostname()
	}
	requestHost := fmt.Sprintf("%s.%s", *subdomain, host)

	p := *path
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	targetURL := strings.TrimRight(*base, "/") + p

	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        *maxIdle,
		MaxIdleConnsPerHost: *maxIdlePer,
		IdleConnTimeout:     *connIdle,
	}
	client := &http.Client{Transport: tr, Timeout: *reqTimeout}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	var done, failed int64

	worker := func(count int) {
		defer atomic.AddInt64(&done, int64(count))
		for i := 0; i < count; i++ {
			select {
			case <-ctx.Done():
				return
			default:
			}
			req, err := http.NewRequestWithContext(ctx, *method, targetURL, nil)
			if err != nil {
				atomic.AddInt64(&failed, 1)
				continue
			}
			req.Host = requestHost
			resp, err := client.Do(req)
			if err != nil {
				atomic.AddInt64(&failed, 1)
				time.Sleep(200 * time.Microsecond)
				continue
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode >= 500 {
				atomic.AddInt64(&failed, 1)
			}
		}
	}

	per := *n / *conc
	rem := *n - per**conc
	var wg sync.WaitGroup
	wg.Add(*conc)
	for w := 0; w < *conc; w++ {
		count := per
		if w == *conc-1 {
			count += rem
		}
		go func(c int) {
			defer wg.Done()
			worker(c)
		}(count)
	}
	wg.Wait()

	elapsed := time.Since(start)
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}
	ops := float64(*n) / elapsed.Seconds()
	fmt.Printf("tunnel-loadgen: subdomain=%s n=%d c=%d go=%d failed=%d duration=%s throughput=%.0f req/s\n",
		*subdomain, *n, *conc, runtime.GOMAXPROCS(0), atomic.LoadInt64(&failed), elapsed.Truncate(time.Millisecond), ops)
}
