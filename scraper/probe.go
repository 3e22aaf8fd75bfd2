// Package scraper talks to the remote file server: reachability probing,
// directory listing, and incremental file download.
package scraper

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"
)

// ProbeResult is the tagged outcome of one reachability check. Network
// failure is a result, never a returned error.
type ProbeResult struct {
	Reachable bool
	Cause     string // empty when reachable
	CheckedAt time.Time
}

// Probe performs a minimal existence check against the server. It keeps a
// consecutive-failure count so downstream alerting can tell a transient blip
// from a sustained outage. Probe is driven by the single scheduler goroutine
// and needs no locking.
type Probe struct {
	baseURL   string
	userAgent string
	client    *http.Client
	failures  int
	now       func() time.Time
}

func NewProbe(baseURL, userAgent string, timeout time.Duration) *Probe {
	return &Probe{
		baseURL:   baseURL,
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
		now:       time.Now,
	}
}

// Check issues a HEAD request against the base URL. Any transport error or
// non-200 status counts as unreachable.
func (p *Probe) Check(ctx context.Context) ProbeResult {
	res := ProbeResult{CheckedAt: p.now()}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.baseURL, nil)
	if err != nil {
		res.Cause = fmt.Sprintf("invalid probe request: %v", err)
		p.failures++
		return res
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		res.Cause = fmt.Sprintf("server health check failed: %v", err)
		p.failures++
		log.Printf("WARN Probe: %s (consecutive failures: %d)", res.Cause, p.failures)
		return res
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		res.Cause = fmt.Sprintf("server returned status code %d", resp.StatusCode)
		p.failures++
		log.Printf("WARN Probe: %s (consecutive failures: %d)", res.Cause, p.failures)
		return res
	}

	res.Reachable = true
	p.failures = 0
	return res
}

// ConsecutiveFailures returns the current unbroken run of failed probes.
func (p *Probe) ConsecutiveFailures() int { return p.failures }
