package proxmoxclient

import (
	"context"
	"crypto/tls"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/dnscache"
)

// sharedResolver caches cluster hostname lookups across all per-cluster
// clients; Proxmox clusters are addressed by a small, stable set of
// hostnames that get hit on every sync tick.
var sharedResolver = &dnscache.Resolver{}

// cachedDialContext resolves the host through sharedResolver before handing
// off to the standard dialer, so a flurry of per-VM API calls against the
// same cluster host doesn't re-resolve DNS on every request.
func cachedDialContext(dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return dialer.DialContext(ctx, network, addr)
		}
		ips, err := sharedResolver.LookupHost(ctx, host)
		if err != nil || len(ips) == 0 {
			return dialer.DialContext(ctx, network, addr)
		}
		ip := ips[rand.Intn(len(ips))]
		return dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
	}
}

var (
	sharedTransportsMu sync.Mutex
	sharedTransports   = make(map[bool]*http.Transport)
)

// newHTTPClient builds an HTTP client over the shared transport: every
// client with the same verifyTLS setting reuses one transport with bounded
// idle connections, retry is handled by the caller, and self-signed certs
// are accepted when verifyTLS is false.
func newHTTPClient(verifyTLS bool, timeout time.Duration) *http.Client {
	sharedTransportsMu.Lock()
	transport, ok := sharedTransports[verifyTLS]
	if !ok {
		transport = &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: !verifyTLS,
			},
			DialContext: cachedDialContext(&net.Dialer{Timeout: 10 * time.Second}),
		}
		sharedTransports[verifyTLS] = transport
	}
	sharedTransportsMu.Unlock()
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

func init() {
	// Refresh the shared DNS cache on a slow, unattended cadence so cluster
	// hostname changes (DNS cutover, DHCP reassignment) are eventually
	// picked up without every request paying a resolver round trip.
	ticker := time.NewTicker(5 * time.Minute)
	go func() {
		for range ticker.C {
			sharedResolver.Refresh(true)
		}
	}()
}
