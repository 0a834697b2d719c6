package whatsapp

import (
	"context"
	"time"

	"github.com/adhocore/gronx"

	"github.com/stacklight/wabridge/pkg/logger"
)

// Monitor periodically probes the bridge's connection status on a cron
// schedule and reconciles the provider's published state with it. It catches
// drift the event stream missed (for example a bridge restart between
// subscriptions).
type Monitor struct {
	provider *Provider
	cronExpr string
	gron     *gronx.Gronx
}

func NewMonitor(provider *Provider, cronExpr string) *Monitor {
	if cronExpr == "" {
		cronExpr = "* * * * *"
	}
	return &Monitor{
		provider: provider,
		cronExpr: cronExpr,
		gron:     gronx.New(),
	}
}

// Run blocks until ctx is cancelled, probing whenever the schedule is due.
func (m *Monitor) Run(ctx context.Context) {
	if !m.gron.IsValid(m.cronExpr) {
		logger.ErrorCF("monitor", "Invalid monitor cron expression, monitor disabled", map[string]interface{}{
			"cron": m.cronExpr,
		})
		return
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := m.gron.IsDue(m.cronExpr, time.Now())
			if err != nil || !due {
				continue
			}
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	p := m.provider

	p.mu.Lock()
	tr := p.tr
	p.mu.Unlock()
	if tr == nil {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	wire, err := tr.GetConnectionStatus(probeCtx)
	if err != nil {
		logger.WarnCF("monitor", "Status probe failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	reported := statusFromWire(wire)
	current := p.Status()
	if reported.State == current.State && wire.LoggedIn == p.IsLoggedIn() {
		return
	}

	logger.WarnCF("monitor", "Provider state drifted from bridge, reconciling", map[string]interface{}{
		"provider_state": string(current.State),
		"bridge_state":   string(reported.State),
		"logged_in":      wire.LoggedIn,
	})

	p.mu.Lock()
	p.loggedIn = wire.LoggedIn
	p.mu.Unlock()
	p.setStatus(reported)
}
