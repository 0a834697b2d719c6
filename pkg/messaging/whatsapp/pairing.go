package whatsapp

import (
	"context"
	"encoding/json"

	"github.com/stacklight/wabridge/pkg/logger"
	"github.com/stacklight/wabridge/pkg/messaging"
	"github.com/stacklight/wabridge/pkg/rpc"
)

// StartQRPairing opens the QR pairing stream. It refuses while already logged
// in, before any RPC is made. On the stream's success event the provider
// becomes logged-in and connected exactly once.
func (p *Provider) StartQRPairing(ctx context.Context) (<-chan messaging.PairingEvent, error) {
	p.mu.Lock()
	if p.loggedIn {
		p.mu.Unlock()
		return nil, &messaging.PairingError{Reason: "already logged in"}
	}
	tr := p.tr
	p.paired = false
	p.mu.Unlock()

	if tr == nil {
		return nil, messaging.ErrNotConnected
	}

	items, err := tr.GetPairingQR(ctx)
	if err != nil {
		return nil, &messaging.PairingError{Reason: "could not open pairing stream", Err: err}
	}

	p.setStatus(messaging.ConnectionStatus{State: messaging.StatePairing})

	out := make(chan messaging.PairingEvent, 8)
	go p.pumpPairing(items, out)
	return out, nil
}

func (p *Provider) pumpPairing(items <-chan rpc.StreamItem, out chan<- messaging.PairingEvent) {
	defer close(out)

	for item := range items {
		if item.Err != nil {
			p.setStatus(messaging.ConnectionStatus{State: messaging.StateError, Reason: item.Err.Error()})
			evt := messaging.PairingEvent{Kind: messaging.PairingErrored, Error: item.Err.Error()}
			p.publishPairing(evt)
			out <- evt
			return
		}

		var wire rpc.PairingEvent
		if err := json.Unmarshal(item.Data, &wire); err != nil {
			logger.WarnCF("whatsapp", "Undecodable pairing event", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}

		evt := pairingEventFromWire(wire)
		switch evt.Kind {
		case messaging.PairingSuccess:
			p.completePairing(evt)
		case messaging.PairingTimeout:
			p.setStatus(messaging.ConnectionStatus{State: messaging.StateDisconnected, Reason: "pairing timed out"})
		case messaging.PairingErrored:
			p.setStatus(messaging.ConnectionStatus{State: messaging.StateError, Reason: evt.Error})
		}

		p.publishPairing(evt)
		out <- evt
	}
}

func (p *Provider) publishPairing(evt messaging.PairingEvent) {
	if p.bus != nil {
		p.bus.PublishPairing(p.name, evt)
	}
}

// completePairing applies the success transition at most once, even when the
// bridge repeats the terminal event.
func (p *Provider) completePairing(evt messaging.PairingEvent) {
	p.mu.Lock()
	if p.paired {
		p.mu.Unlock()
		return
	}
	p.paired = true
	p.loggedIn = true
	p.mu.Unlock()

	logger.InfoCF("whatsapp", "Pairing succeeded", map[string]interface{}{
		"user_id":      evt.UserID,
		"display_name": evt.DisplayName,
	})
	p.setStatus(messaging.ConnectionStatus{State: messaging.StateConnected})
}

// StartCodePairing requests a phone pairing code to display to the user. It
// refuses while already logged in, before any RPC is made. There is no
// dedicated completion signal for this path: callers subscribe to
// connection-status events and use WaitForLogin to observe success.
func (p *Provider) StartCodePairing(ctx context.Context, phone string) (string, error) {
	p.mu.Lock()
	if p.loggedIn {
		p.mu.Unlock()
		return "", &messaging.PairingError{Reason: "already logged in"}
	}
	tr := p.tr
	p.mu.Unlock()

	if tr == nil {
		return "", messaging.ErrNotConnected
	}

	code, err := tr.PairWithCode(ctx, phone)
	if err != nil {
		return "", &messaging.PairingError{Reason: "pair with code request failed", Err: err}
	}

	p.setStatus(messaging.ConnectionStatus{State: messaging.StatePairing})
	logger.InfoC("whatsapp", "Pairing code issued, waiting for user to enter it")
	return code, nil
}
