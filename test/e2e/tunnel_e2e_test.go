//go:build e2e

// Package e2e launches the real retunnel binary (both the edge server and a
// tunnel client, as separate processes) against a local HTTP backend and
// exercises the scenarios a reverse tunnel actually needs to get right:
// happy-path forwarding, an unknown subdomain, a backend that never answers,
// a binary response body, client reconnection, and the health/metrics
// surface.
package e2e

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

type runningProcess struct {
	cmd   *exec.Cmd
	logsC chan string
}

func (p *runningProcess) kill() {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
		_, _ = p.cmd.Process.Wait()
	}
}

// buildRetunnel builds the cmd/retunnel binary into the calling test's temp
// directory; each test that calls it builds its own copy.
func buildRetunnel(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	exe := filepath.Join(dir, exeName("retunnel"))
	build := exec.Command("go", "build", "-o", exe, "github.com/nimbletunnel/retunnel/cmd/retunnel")
	build.Stdout = os.Stdout
	build.Stderr = os.Stderr
	if err := build.Run(); err != nil {
		t.Fatalf("failed to build retunnel: %v", err)
	}
	return exe
}

func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	_, port, _ := net.SplitHostPort(ln.Addr().String())
	_ = ln.Close()
	return port
}

func startServer(t *testing.T, exe, port string, extraArgs ...string) *runningProcess {
	t.Helper()
	args := append([]string{"server", "--host=127.0.0.1", "--port=" + port, "--base-host=127.0.0.1"}, extraArgs...)
	cmd := exec.Command(exe, args...)
	stdout, _ := cmd.StdoutPipe()
	stderr, _ := cmd.StderrPipe()
	logsC := make(chan string, 1024)
	go scanLines(stdout, logsC)
	go scanLines(stderr, logsC)
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	rp := &runningProcess{cmd: cmd, logsC: logsC}
	t.Cleanup(rp.kill)

	base := "http://127.0.0.1:" + port
	waitForHTTP(t, base+"/health")
	return rp
}

func startClient(t *testing.T, exe, serverPort, subdomain, localPort string, extraArgs ...string) *runningProcess {
	t.Helper()
	args := append([]string{
		"start",
		"--port=" + localPort,
		"--subdomain=" + subdomain,
		"--server=127.0.0.1:" + serverPort,
	}, extraArgs...)
	cmd := exec.Command(exe, args...)
	stdout, _ := cmd.StdoutPipe()
	stderr, _ := cmd.StderrPipe()
	logsC := make(chan string, 1024)
	go scanLines(stdout, logsC)
	go scanLines(stderr, logsC)
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start client: %v", err)
	}
	rp := &runningProcess{cmd: cmd, logsC: logsC}
	t.Cleanup(rp.kill)
	return rp
}

func scanLines(r io.ReadCloser, out chan<- string) {
	s := bufio.NewScanner(r)
	for s.Scan() {
		out <- s.Text()
	}
}

func waitForHTTP(t *testing.T, url string) {
	t.Helper()
	client := &http.Client{Timeout: 500 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for ctx.Err() == nil {
		resp, err := client.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("%s did not become ready in time", url)
}

func exeName(base string) string {
	if runtime.GOOS == "windows" {
		return base + ".exe"
	}
	return base
}

func forwardedRequest(t *testing.T, serverPort, subdomain, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "http://127.0.0.1:"+serverPort+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Host = subdomain + ".127.0.0.1"
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("forwarded request error: %v", err)
	}
	return resp
}

// TestE2E_HappyPath proves a request to the public edge reaches the local
// backend and the response round-trips intact.
func TestE2E_HappyPath(t *testing.T) {
	exe := buildRetunnel(t)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("hello from backend"))
	}))
	defer backend.Close()
	_, backendPort, _ := net.SplitHostPort(backend.Listener.Addr().String())

	serverPort := freePort(t)
	startServer(t, exe, serverPort)
	startClient(t, exe, serverPort, "happy", backendPort)

	deadline := time.Now().Add(5 * time.Second)
	var resp *http.Response
	for time.Now().Before(deadline) {
		resp = forwardedRequest(t, serverPort, "happy", "/")
		if resp.StatusCode == http.StatusOK {
			break
		}
		_ = resp.Body.Close()
		time.Sleep(200 * time.Millisecond)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "hello from backend" {
		t.Fatalf("unexpected body: %q", body)
	}
}

// TestE2E_UnknownSubdomain proves a request to a subdomain with no
// registered tunnel client gets a 404, not a hang.
func TestE2E_UnknownSubdomain(t *testing.T) {
	exe := buildRetunnel(t)
	serverPort := freePort(t)
	startServer(t, exe, serverPort)

	resp := forwardedRequest(t, serverPort, "nobody-here", "/")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

// TestE2E_BackendTimeout proves a backend that never answers surfaces as a
// 504 to the public caller rather than hanging forever.
func TestE2E_BackendTimeout(t *testing.T) {
	exe := buildRetunnel(t)
	block := make(chan struct{})
	defer close(block)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer backend.Close()
	_, backendPort, _ := net.SplitHostPort(backend.Listener.Addr().String())

	serverPort := freePort(t)
	startServer(t, exe, serverPort, "--request-timeout=500ms")
	startClient(t, exe, serverPort, "slow", backendPort, "--request-timeout=5s")

	deadline := time.Now().Add(5 * time.Second)
	var resp *http.Response
	for time.Now().Before(deadline) {
		resp = forwardedRequest(t, serverPort, "slow", "/")
		if resp.StatusCode != http.StatusNotFound {
			break
		}
		_ = resp.Body.Close()
		time.Sleep(200 * time.Millisecond)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", resp.StatusCode)
	}
}

// TestE2E_BinaryBody proves a binary response (base64-framed on the wire)
// round-trips byte-for-byte through the tunnel.
func TestE2E_BinaryBody(t *testing.T) {
	exe := buildRetunnel(t)
	payload := bytes.Repeat([]byte{0xDE, 0xAD, 0xBE, 0xEF}, 256)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(payload)
	}))
	defer backend.Close()
	_, backendPort, _ := net.SplitHostPort(backend.Listener.Addr().String())

	serverPort := freePort(t)
	startServer(t, exe, serverPort)
	startClient(t, exe, serverPort, "binary", backendPort)

	deadline := time.Now().Add(5 * time.Second)
	var resp *http.Response
	for time.Now().Before(deadline) {
		resp = forwardedRequest(t, serverPort, "binary", "/")
		if resp.StatusCode == http.StatusOK {
			break
		}
		_ = resp.Body.Close()
		time.Sleep(200 * time.Millisecond)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Equal(body, payload) {
		t.Fatalf("binary body mismatch: got %d bytes, want %d", len(body), len(payload))
	}
}

// TestE2E_ClientReconnect proves that killing and restarting a tunnel client
// against the same subdomain resumes forwarding without restarting the edge
// server.
func TestE2E_ClientReconnect(t *testing.T) {
	exe := buildRetunnel(t)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer backend.Close()
	_, backendPort, _ := net.SplitHostPort(backend.Listener.Addr().String())

	serverPort := freePort(t)
	startServer(t, exe, serverPort)
	client := startClient(t, exe, serverPort, "flaky", backendPort)

	waitFor200(t, serverPort, "flaky")

	client.kill()
	time.Sleep(500 * time.Millisecond)

	resp := forwardedRequest(t, serverPort, "flaky", "/")
	_ = resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		t.Fatalf("expected forwarding to fail once the client is gone")
	}

	startClient(t, exe, serverPort, "flaky", backendPort)
	waitFor200(t, serverPort, "flaky")
}

func waitFor200(t *testing.T, serverPort, subdomain string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp := forwardedRequest(t, serverPort, subdomain, "/")
		ok := resp.StatusCode == http.StatusOK
		_ = resp.Body.Close()
		if ok {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("subdomain %s never started returning 200", subdomain)
}

// TestE2E_HealthAndMetrics validates the operational surface every edge
// server exposes regardless of whether any tunnel client is connected.
func TestE2E_HealthAndMetrics(t *testing.T) {
	exe := buildRetunnel(t)
	serverPort := freePort(t)
	startServer(t, exe, serverPort)

	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get("http://127.0.0.1:" + serverPort + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/health got %d", resp.StatusCode)
	}

	mResp, err := client.Get("http://127.0.0.1:" + serverPort + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer mResp.Body.Close()
	if mResp.StatusCode != http.StatusOK {
		t.Fatalf("/metrics got %d", mResp.StatusCode)
	}
	if ct := mResp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content-type: %q", ct)
	}
	body, _ := io.ReadAll(mResp.Body)
	if !bytes.Contains(body, []byte("tunnel_connections_total")) {
		t.Fatalf("expected tunnel_connections_total in /metrics output")
	}

	sResp, err := client.Get("http://127.0.0.1:" + serverPort + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer sResp.Body.Close()
	if sResp.StatusCode != http.StatusOK {
		t.Fatalf("/status got %d", sResp.StatusCode)
	}
}

