// Package preflight culls dead hosts with cheap DNS and TLS checks before
// URLs reach the expensive browser path.
package preflight

import (
	"context"
	"crypto/tls"
	"net"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/adscan/adscan/internal/common/configtypes"
	"github.com/adscan/adscan/internal/common/urlutil"
	"github.com/adscan/adscan/pkg/types"
)

type hostState struct {
	dnsOK  bool
	dnsErr string
	sslOK  bool
	sslErr string
}

// Checker runs bounded-concurrency DNS and TLS checks.
type Checker struct {
	cfg      configtypes.PreflightConfig
	logger   *zap.Logger
	resolver *net.Resolver

	// check functions are swappable for tests
	lookup func(ctx context.Context, host string) (bool, string)
	dial   func(ctx context.Context, host string) (bool, string)
}

func New(cfg configtypes.PreflightConfig, logger *zap.Logger) *Checker {
	c := &Checker{
		cfg:      cfg,
		logger:   logger,
		resolver: net.DefaultResolver,
	}
	c.lookup = c.resolveHost
	c.dial = c.validateTLS
	return c
}

// Run checks every URL and returns url -> result. Hosts shared by several
// URLs are checked once. TLS is only attempted for hosts that passed DNS.
func (c *Checker) Run(ctx context.Context, urls []string) map[string]*types.PreflightResult {
	results := make(map[string]*types.PreflightResult, len(urls))
	if !c.cfg.CheckDNS && !c.cfg.CheckSSL {
		for _, u := range urls {
			results[u] = &types.PreflightResult{URL: u, PassedDNS: true, PassedSSL: true}
		}
		return results
	}

	hostOf := make(map[string]string, len(urls))
	hosts := make(map[string]*hostState)
	for _, u := range urls {
		host := urlutil.ExtractHostname(urlutil.ExtractHost(u))
		hostOf[u] = host
		if _, ok := hosts[host]; !ok {
			hosts[host] = &hostState{}
		}
	}

	c.runDNSPhase(ctx, hosts)
	if c.cfg.CheckSSL {
		c.runSSLPhase(ctx, hosts)
	} else {
		for _, state := range hosts {
			state.sslOK = state.dnsOK
		}
	}

	skipDNS := c.cfg.SkipDNSFailedOrDefault()
	skipSSL := c.cfg.SkipSSLFailedOrDefault()

	for _, u := range urls {
		state := hosts[hostOf[u]]
		r := &types.PreflightResult{
			URL:       u,
			PassedDNS: state.dnsOK,
			PassedSSL: state.sslOK,
		}
		switch {
		case !state.dnsOK && skipDNS:
			r.SkipReason = types.CodeDNSResolutionFailed
		case !state.dnsOK:
			r.Warnings = append(r.Warnings, "DNS resolution failed: "+state.dnsErr)
		case c.cfg.CheckSSL && !state.sslOK && skipSSL:
			r.SkipReason = types.CodeSSLValidationFailed
		case c.cfg.CheckSSL && !state.sslOK:
			r.Warnings = append(r.Warnings, "TLS validation failed: "+state.sslErr)
		}
		results[u] = r
	}
	return results
}

func (c *Checker) runDNSPhase(ctx context.Context, hosts map[string]*hostState) {
	if !c.cfg.CheckDNS {
		// DNS disabled: every host passes through to the SSL phase.
		for _, state := range hosts {
			state.dnsOK = true
		}
		return
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.DNSConcurrency)

	for host, state := range hosts {
		host, state := host, state
		g.Go(func() error {
			ok, errMsg := c.lookup(gctx, host)
			mu.Lock()
			state.dnsOK = ok
			state.dnsErr = errMsg
			mu.Unlock()
			if !ok {
				c.logger.Debug("Preflight DNS failure",
					zap.String("host", host), zap.String("error", errMsg))
			}
			return nil
		})
	}
	g.Wait()
}

func (c *Checker) runSSLPhase(ctx context.Context, hosts map[string]*hostState) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.SSLConcurrency)

	for host, state := range hosts {
		if !state.dnsOK {
			continue
		}
		host, state := host, state
		g.Go(func() error {
			ok, errMsg := c.dial(gctx, host)
			mu.Lock()
			state.sslOK = ok
			state.sslErr = errMsg
			mu.Unlock()
			if !ok {
				c.logger.Debug("Preflight TLS failure",
					zap.String("host", host), zap.String("error", errMsg))
			}
			return nil
		})
	}
	g.Wait()
}

func (c *Checker) resolveHost(ctx context.Context, host string) (bool, string) {
	lookupCtx, cancel := context.WithTimeout(ctx, c.cfg.DNSTimeout.ToDuration())
	defer cancel()

	addrs, err := c.resolver.LookupHost(lookupCtx, strings.Trim(host, "[]"))
	if err != nil {
		return false, err.Error()
	}
	if len(addrs) == 0 {
		return false, "no addresses returned"
	}
	return true, ""
}

// validateTLS opens a TLS connection on :443 and lets crypto/tls verify
// the chain and host name.
func (c *Checker) validateTLS(ctx context.Context, host string) (bool, string) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.SSLTimeout.ToDuration())
	defer cancel()

	dialer := &tls.Dialer{
		Config: &tls.Config{ServerName: strings.Trim(host, "[]")},
	}
	conn, err := dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(strings.Trim(host, "[]"), "443"))
	if err != nil {
		return false, err.Error()
	}
	conn.Close()
	return true, ""
}
