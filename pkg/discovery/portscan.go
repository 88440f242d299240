package discovery

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Default scan window. The runtime picks an ephemeral port but forwarded
// sessions conventionally land in this range.
const (
	DefaultPortStart = 9222
	DefaultPortEnd   = 9322
)

// perPortTimeout bounds one connect probe. The scan targets loopback or a
// forwarded local port, so refusals come back near-instantly.
const perPortTimeout = 200 * time.Millisecond

// PortScan probes a bounded TCP port range on one host. It is the
// lowest-confidence provider: a listener proves only that something
// accepts connections there, and a tokened endpoint will still reject the
// handshake later. It stays last in the chain for that reason.
type PortScan struct {
	host  string
	start int
	end   int
}

// NewPortScan returns a scanner over [start, end] on host. An empty host
// means loopback.
func NewPortScan(host string, start, end int) *PortScan {
	if host == "" {
		host = "127.0.0.1"
	}
	return &PortScan{host: host, start: start, end: end}
}

// Name implements Provider.
func (p *PortScan) Name() string { return "portscan" }

// Find implements Provider.
func (p *PortScan) Find(ctx context.Context) (string, error) {
	if p.start <= 0 || p.end < p.start {
		return "", fmt.Errorf("invalid port range %d-%d", p.start, p.end)
	}
	dialer := net.Dialer{Timeout: perPortTimeout}
	for port := p.start; port <= p.end; port++ {
		if ctx.Err() != nil {
			return "", fmt.Errorf("scan cancelled at port %d", port)
		}
		addr := net.JoinHostPort(p.host, fmt.Sprintf("%d", port))
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			continue
		}
		_ = conn.Close()
		return fmt.Sprintf("http://%s:%d/", p.host, port), nil
	}
	return "", fmt.Errorf("no listener in %d-%d", p.start, p.end)
}
