// Package netwait gates the boot-once pass on network readiness. It
// polls a reachability probe once per second until the probe reports the
// network usable or the timeout elapses.
package netwait

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Prober answers one non-blocking reachability check.
type Prober interface {
	// Reachable reports whether the network is up with no captive portal
	// or proxy sign-on in the way.
	Reachable(ctx context.Context) bool
}

// HTTPProber probes a connectivity-check URL. A 204 response means the
// network is reachable and no connection step is required; anything else
// (including a portal's rewritten 200 page) counts as not ready.
type HTTPProber struct {
	URL    string
	client *http.Client
}

// NewHTTPProber returns a prober for the given connectivity-check URL.
func NewHTTPProber(url string) *HTTPProber {
	return &HTTPProber{
		URL: url,
		client: &http.Client{
			Timeout: 3 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				// A redirect is a captive portal, not connectivity.
				return http.ErrUseLastResponse
			},
		},
	}
}

// Reachable performs one probe.
func (p *HTTPProber) Reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusNoContent
}

// Gate polls a Prober with a bounded timeout.
type Gate struct {
	prober Prober
	logger *slog.Logger

	// interval between probes. One second in production; tests shorten it.
	interval time.Duration
}

// New returns a Gate polling prober once per second.
func New(prober Prober, logger *slog.Logger) *Gate {
	return &Gate{prober: prober, logger: logger, interval: time.Second}
}

// Wait blocks until the network is ready or timeout elapses. It returns
// true the moment a probe first succeeds, without waiting out the rest of
// the timeout, and false once the deadline passes.
func (g *Gate) Wait(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	g.logger.Debug("waiting for network", "timeout", timeout.String())

	for attempt := 1; ; attempt++ {
		if g.prober.Reachable(ctx) {
			g.logger.Debug("network ready", "attempts", attempt)
			return true
		}
		if time.Now().Add(g.interval).After(deadline) {
			g.logger.Error("network not ready before timeout",
				"timeout", timeout.String(),
				"attempts", attempt,
			)
			return false
		}
		select {
		case <-ctx.Done():
			g.logger.Error("network wait cancelled", "error", ctx.Err())
			return false
		case <-time.After(g.interval):
		}
	}
}
