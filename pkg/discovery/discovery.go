// Package discovery locates the runtime service endpoint of a running
// application. Providers are consulted in a fixed order of reliability:
// network announcement first, then the device log, then a bounded port
// scan as a last resort.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/devicelab-dev/flutterctl/pkg/core"
	"github.com/devicelab-dev/flutterctl/pkg/logger"
)

// Provider is one endpoint lookup strategy.
type Provider interface {
	Name() string
	Find(ctx context.Context) (string, error)
}

// Chain runs providers in order and returns the first endpoint found.
type Chain struct {
	providers []Provider
	timeout   time.Duration // per provider
}

// DefaultTimeout bounds each provider attempt.
const DefaultTimeout = 5 * time.Second

// NewChain builds a chain over the given providers. A zero timeout falls
// back to DefaultTimeout.
func NewChain(timeout time.Duration, providers ...Provider) *Chain {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Chain{providers: providers, timeout: timeout}
}

// DefaultChain is the standard lookup order for a local device or
// emulator setup.
func DefaultChain(host string, logSource LogSource) *Chain {
	return NewChain(0,
		NewMDNS(),
		NewLogScan(logSource),
		NewPortScan(host, DefaultPortStart, DefaultPortEnd),
	)
}

// Discover runs the chain. Exhausting every provider is reported as a
// discovery failure carrying each provider's outcome.
func (c *Chain) Discover(ctx context.Context) (string, error) {
	if len(c.providers) == 0 {
		return "", core.ErrConfiguration.WithMessage("no discovery providers configured")
	}
	var outcomes []string
	for _, p := range c.providers {
		if ctx.Err() != nil {
			return "", core.ErrTimeout.WithMessage("discovery cancelled").WithCause(ctx.Err())
		}
		pCtx, cancel := context.WithTimeout(ctx, c.timeout)
		uri, err := p.Find(pCtx)
		cancel()
		if err == nil && uri != "" {
			logger.Info("discovery: %s found %s", p.Name(), uri)
			return uri, nil
		}
		if err == nil {
			err = fmt.Errorf("no endpoint")
		}
		logger.Debug("discovery: %s: %v", p.Name(), err)
		outcomes = append(outcomes, fmt.Sprintf("%s: %v", p.Name(), err))
	}
	return "", core.ErrDiscoveryFailed.WithMessage(
		"no runtime service endpoint found (" + strings.Join(outcomes, "; ") + ")")
}
