package connectivity

import (
	"context"
	"net/http"
	"time"

	"github.com/kimhsiao/habitsync/internal/logging"
)

// Prober polls a URL and feeds the result into a Monitor. Any HTTP response
// below 500 counts as online.
type Prober struct {
	url        string
	interval   time.Duration
	monitor    *Monitor
	httpClient *http.Client
}

// NewProber creates a Prober checking url every interval.
func NewProber(url string, interval time.Duration, monitor *Monitor) *Prober {
	return &Prober{
		url:      url,
		interval: interval,
		monitor:  monitor,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Probe performs a single check without updating the monitor.
func (p *Prober) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		logging.Debug("Connectivity probe failed", map[string]interface{}{
			"url":   p.url,
			"error": err.Error(),
		})
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// Run probes immediately and then on every tick until ctx is done.
func (p *Prober) Run(ctx context.Context) error {
	p.monitor.Set(p.Probe(ctx))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			online := p.Probe(ctx)
			if ctx.Err() != nil {
				return nil
			}
			p.monitor.Set(online)
		}
	}
}
