package connectivity

import (
	"context"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// ProberConfig holds configuration for the Prober.
type ProberConfig struct {
	// URL is probed with GET; any HTTP response counts as reachable.
	URL string

	// Interval between probes.
	Interval time.Duration

	// Timeout bounds a single probe.
	Timeout time.Duration

	Client *http.Client
	Clock  clockwork.Clock
	Logger logrus.FieldLogger
}

// DefaultProberConfig returns sensible defaults for url.
func DefaultProberConfig(url string) ProberConfig {
	return ProberConfig{
		URL:      url,
		Interval: 15 * time.Second,
		Timeout:  5 * time.Second,
	}
}

// Prober reports platform state to a Monitor by polling a health endpoint.
type Prober struct {
	monitor *Monitor
	cfg     ProberConfig
}

// NewProber creates a Prober feeding m.
func NewProber(m *Monitor, cfg ProberConfig) *Prober {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Prober{monitor: m, cfg: cfg}
}

// Probe performs one health check and reports the result to the monitor.
// A probe cut short by ctx is not reported.
func (p *Prober) Probe(ctx context.Context) State {
	state := p.check(ctx)
	if ctx.Err() != nil {
		return state
	}
	p.monitor.SetPlatformState(state)
	return state
}

func (p *Prober) check(ctx context.Context) State {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		p.cfg.Logger.WithError(err).Error("invalid health probe URL")
		return Offline
	}

	resp, err := p.cfg.Client.Do(req)
	if err != nil {
		p.cfg.Logger.WithError(err).Debug("health probe failed")
		return Offline
	}
	resp.Body.Close()
	return Online
}

// Run probes once immediately and then on every interval until ctx is
// cancelled.
func (p *Prober) Run(ctx context.Context) {
	ticker := p.cfg.Clock.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.Probe(ctx)
		}
	}
}
