package discovery

import (
	"context"
	"fmt"

	"github.com/grandcat/zeroconf"
)

// mdnsService is the announcement the runtime publishes on the local
// network when service auth-codes are disabled or the announcement
// carries the full path.
const (
	mdnsService = "_dartVmService._tcp"
	mdnsDomain  = "local."
)

// MDNS discovers the endpoint through its multicast DNS announcement.
type MDNS struct {
	service string
	domain  string
}

// NewMDNS returns the standard announcement browser.
func NewMDNS() *MDNS {
	return &MDNS{service: mdnsService, domain: mdnsDomain}
}

// Name implements Provider.
func (m *MDNS) Name() string { return "mdns" }

// Find browses until the first matching announcement or the context
// deadline. The announcement carries host and port; the auth-token path,
// when enabled, is published in the TXT records under "authCode".
func (m *MDNS) Find(ctx context.Context) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 8)
	if err := resolver.Browse(ctx, m.service, m.domain, entries); err != nil {
		return "", fmt.Errorf("mdns browse: %w", err)
	}

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return "", fmt.Errorf("no announcement")
			}
			if entry == nil || len(entry.AddrIPv4) == 0 {
				continue
			}
			uri := fmt.Sprintf("http://%s:%d/", entry.AddrIPv4[0], entry.Port)
			if code := txtValue(entry.Text, "authCode"); code != "" {
				uri = fmt.Sprintf("http://%s:%d/%s/", entry.AddrIPv4[0], entry.Port, code)
			}
			return uri, nil
		case <-ctx.Done():
			return "", fmt.Errorf("no announcement before deadline")
		}
	}
}

func txtValue(txt []string, key string) string {
	prefix := key + "="
	for _, t := range txt {
		if len(t) > len(prefix) && t[:len(prefix)] == prefix {
			return t[len(prefix):]
		}
	}
	return ""
}
