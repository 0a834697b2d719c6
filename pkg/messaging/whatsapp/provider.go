package whatsapp

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/stacklight/wabridge/pkg/bridge"
	"github.com/stacklight/wabridge/pkg/bus"
	"github.com/stacklight/wabridge/pkg/config"
	"github.com/stacklight/wabridge/pkg/logger"
	"github.com/stacklight/wabridge/pkg/messaging"
	"github.com/stacklight/wabridge/pkg/rpc"
)

// transport is the slice of the RPC client the provider uses. *rpc.Client
// satisfies it; tests substitute a fake.
type transport interface {
	RunConnections(ctx context.Context) error
	VerifyConnection(ctx context.Context) (*rpc.ConnectionStatus, error)
	BeginGracefulShutdown()
	Close()

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	GetConnectionStatus(ctx context.Context) (*rpc.ConnectionStatus, error)
	PairWithCode(ctx context.Context, phoneNumber string) (string, error)
	Logout(ctx context.Context) error
	GetChats(ctx context.Context, limit, offset int, includeArchived bool) ([]rpc.Chat, error)
	GetChat(ctx context.Context, chatID string) (*rpc.Chat, error)
	GetMessages(ctx context.Context, chatID string, limit int, beforeID, afterID string) ([]rpc.Message, error)
	SendMessage(ctx context.Context, chatID, text, quotedID string) (*rpc.Message, error)
	SendReaction(ctx context.Context, chatID, messageID, emoji string) error
	MarkAsRead(ctx context.Context, chatID string, messageIDs []string) error
	GetPairingQR(ctx context.Context) (<-chan rpc.StreamItem, error)
	StreamEvents(ctx context.Context, types []string) (<-chan rpc.StreamItem, error)
}

// supervisor is the slice of the process supervisor the provider uses.
type supervisor interface {
	Start(ctx context.Context) error
	Stop()
	Done() <-chan struct{}
	ExitError() error
	State() bridge.State
	PID() int
}

// pairWaitTimeout bounds how long WaitForLogin watches for the
// connected+logged-in transition after phone-code pairing.
const pairWaitTimeout = 60 * time.Second

// Provider composes the bridge supervisor and the RPC transport into the
// messaging capability surface. It owns the published connection/login state
// and the single active event subscription.
type Provider struct {
	name string
	cfg  config.BridgeConfig
	bus  *bus.Bus

	sup          supervisor
	newTransport func(address string) transport

	mu        sync.Mutex
	tr        transport
	runCancel context.CancelFunc
	subCancel context.CancelFunc
	subDone   chan struct{} // closed when the active subscription's pump exits
	status    messaging.ConnectionStatus
	loggedIn  bool
	stopping  bool
	paired    bool // resume-once guard for a pairing flow
}

var _ messaging.Provider = (*Provider)(nil)

// New builds a provider around a real supervisor and RPC client.
func New(name string, cfg config.BridgeConfig, eventBus *bus.Bus) *Provider {
	sup := bridge.New(bridge.Config{
		BinaryPath:      cfg.BinaryPath,
		RPCAddress:      cfg.RPCAddress,
		StorePath:       cfg.StorePath,
		DefaultLogLevel: logger.ParseLevel(cfg.LogLevel),
	})

	return &Provider{
		name: name,
		cfg:  cfg,
		bus:  eventBus,
		sup:  sup,
		newTransport: func(address string) transport {
			return rpc.NewClient(address)
		},
		status: messaging.ConnectionStatus{State: messaging.StateDisconnected},
	}
}

// Start launches the bridge, waits for its readiness handshake, brings up the
// transport, and verifies connectivity. A verification failure leaves the
// provider alive in an error state so the caller can retry Connect later; a
// process-layer failure aborts Start entirely.
func (p *Provider) Start(ctx context.Context) error {
	p.setStatus(messaging.ConnectionStatus{State: messaging.StateConnecting})

	if err := p.sup.Start(ctx); err != nil {
		p.setStatus(messaging.ConnectionStatus{State: messaging.StateError, Reason: err.Error()})
		return err
	}

	tr := p.newTransport(p.cfg.RPCAddress)
	runCtx, runCancel := context.WithCancel(context.Background())

	p.mu.Lock()
	p.tr = tr
	p.runCancel = runCancel
	p.stopping = false
	p.mu.Unlock()

	go func() {
		if err := tr.RunConnections(runCtx); err != nil {
			logger.ErrorCF("whatsapp", "Transport connection loop ended", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()
	go p.watchBridgeExit(p.sup.Done())

	status, err := tr.VerifyConnection(ctx)
	if err != nil {
		logger.WarnCF("whatsapp", "Transport verification failed, provider degraded", map[string]interface{}{
			"error": err.Error(),
		})
		p.setStatus(messaging.ConnectionStatus{State: messaging.StateError, Reason: err.Error()})
		return nil
	}

	p.mu.Lock()
	p.loggedIn = status.LoggedIn
	p.mu.Unlock()
	p.setStatus(statusFromWire(status))

	logger.InfoCF("whatsapp", "Provider started", map[string]interface{}{
		"pid":       p.sup.PID(),
		"logged_in": status.LoggedIn,
		"status":    status.Status,
	})
	return nil
}

// Stop cancels the event subscription, drains the transport, and brings the
// bridge process down.
func (p *Provider) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.stopping = true
	subCancel := p.subCancel
	runCancel := p.runCancel
	tr := p.tr
	p.subCancel = nil
	p.subDone = nil
	p.runCancel = nil
	p.tr = nil
	p.mu.Unlock()

	if subCancel != nil {
		subCancel()
	}
	if tr != nil {
		tr.BeginGracefulShutdown()
	}
	if runCancel != nil {
		runCancel()
	}
	if tr != nil {
		tr.Close()
	}
	p.sup.Stop()

	p.setStatus(messaging.ConnectionStatus{State: messaging.StateDisconnected})
	logger.InfoC("whatsapp", "Provider stopped")
	return nil
}

// Connect asks the bridge to connect the session and mirrors the resulting
// status.
func (p *Provider) Connect(ctx context.Context) error {
	tr, err := p.transportOrErr()
	if err != nil {
		return err
	}

	p.setStatus(messaging.ConnectionStatus{State: messaging.StateConnecting})
	if err := tr.Connect(ctx); err != nil {
		p.setStatus(messaging.ConnectionStatus{State: messaging.StateError, Reason: err.Error()})
		return err
	}

	if status, err := tr.GetConnectionStatus(ctx); err == nil {
		p.mu.Lock()
		p.loggedIn = status.LoggedIn
		p.mu.Unlock()
		p.setStatus(statusFromWire(status))
	} else {
		p.setStatus(messaging.ConnectionStatus{State: messaging.StateConnected})
	}
	return nil
}

func (p *Provider) Disconnect(ctx context.Context) error {
	tr, err := p.transportOrErr()
	if err != nil {
		return err
	}
	if err := tr.Disconnect(ctx); err != nil {
		return err
	}
	p.setStatus(messaging.ConnectionStatus{State: messaging.StateDisconnected})
	return nil
}

// Logout ends the paired session on the bridge side.
func (p *Provider) Logout(ctx context.Context) error {
	tr, err := p.transportOrErr()
	if err != nil {
		return err
	}
	if err := tr.Logout(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	p.loggedIn = false
	p.paired = false
	p.mu.Unlock()
	p.setStatus(messaging.ConnectionStatus{State: messaging.StateDisconnected})
	return nil
}

func (p *Provider) GetChats(ctx context.Context, limit, offset int, includeArchived bool) ([]messaging.Chat, error) {
	tr, err := p.guard()
	if err != nil {
		return nil, err
	}

	wireChats, err := tr.GetChats(ctx, limit, offset, includeArchived)
	if err != nil {
		return nil, err
	}

	chats := make([]messaging.Chat, 0, len(wireChats))
	for _, w := range wireChats {
		chats = append(chats, chatFromWire(w))
	}
	return chats, nil
}

func (p *Provider) GetChat(ctx context.Context, chatID string) (*messaging.Chat, error) {
	tr, err := p.guard()
	if err != nil {
		return nil, err
	}
	jid, err := messaging.ParseJID(chatID)
	if err != nil {
		return nil, err
	}

	w, err := tr.GetChat(ctx, messaging.FormatJID(jid))
	if err != nil {
		return nil, err
	}
	chat := chatFromWire(*w)
	return &chat, nil
}

func (p *Provider) GetMessages(ctx context.Context, chatID string, limit int, beforeID, afterID string) ([]messaging.Message, error) {
	tr, err := p.guard()
	if err != nil {
		return nil, err
	}
	jid, err := messaging.ParseJID(chatID)
	if err != nil {
		return nil, err
	}

	wireMsgs, err := tr.GetMessages(ctx, messaging.FormatJID(jid), limit, beforeID, afterID)
	if err != nil {
		return nil, err
	}

	msgs := make([]messaging.Message, 0, len(wireMsgs))
	for _, w := range wireMsgs {
		msgs = append(msgs, messageFromWire(w))
	}
	return msgs, nil
}

// SendMessage delivers text to a chat. On error no message was sent; the
// returned message is the bridge's record of the delivered one.
func (p *Provider) SendMessage(ctx context.Context, chatID, text, quotedID string) (*messaging.Message, error) {
	tr, err := p.guard()
	if err != nil {
		return nil, err
	}
	jid, err := messaging.ParseJID(chatID)
	if err != nil {
		return nil, err
	}

	w, err := tr.SendMessage(ctx, messaging.FormatJID(jid), text, quotedID)
	if err != nil {
		return nil, &messaging.SendError{ChatID: chatID, Err: err}
	}
	msg := messageFromWire(*w)
	return &msg, nil
}

func (p *Provider) SendReaction(ctx context.Context, chatID, messageID, emoji string) error {
	tr, err := p.guard()
	if err != nil {
		return err
	}
	jid, err := messaging.ParseJID(chatID)
	if err != nil {
		return err
	}

	if err := tr.SendReaction(ctx, messaging.FormatJID(jid), messageID, emoji); err != nil {
		return &messaging.SendError{ChatID: chatID, Err: err}
	}
	return nil
}

func (p *Provider) MarkAsRead(ctx context.Context, chatID string, messageIDs []string) error {
	tr, err := p.guard()
	if err != nil {
		return err
	}
	jid, err := messaging.ParseJID(chatID)
	if err != nil {
		return err
	}
	return tr.MarkAsRead(ctx, messaging.FormatJID(jid), messageIDs)
}

// SubscribeEvents replaces the active event subscription. The previous
// subscription is cancelled and its pump fully drained before the new stream
// is opened, so no event reaches the old consumer once the new one produces.
// Connection-status events observed on the stream update the provider's own
// published state.
func (p *Provider) SubscribeEvents(ctx context.Context, types []messaging.EventType) (<-chan messaging.Event, error) {
	p.mu.Lock()
	tr := p.tr
	prevCancel := p.subCancel
	prevDone := p.subDone
	p.mu.Unlock()

	if tr == nil {
		return nil, messaging.ErrNotConnected
	}
	if prevCancel != nil {
		prevCancel()
		if prevDone != nil {
			<-prevDone
		}
	}

	subCtx, subCancel := context.WithCancel(ctx)
	items, err := tr.StreamEvents(subCtx, eventTypesToWire(types))
	if err != nil {
		subCancel()
		return nil, err
	}

	done := make(chan struct{})
	p.mu.Lock()
	p.subCancel = subCancel
	p.subDone = done
	p.mu.Unlock()

	out := make(chan messaging.Event, 32)
	go p.pumpEvents(items, out, done)
	return out, nil
}

func (p *Provider) pumpEvents(items <-chan rpc.StreamItem, out chan<- messaging.Event, done chan<- struct{}) {
	defer close(done)
	defer close(out)

	for item := range items {
		if item.Err != nil {
			status := messaging.ConnectionStatus{State: messaging.StateError, Reason: item.Err.Error()}
			p.setStatus(status)
			evt := messaging.Event{
				Type:   messaging.EventConnectionStatus,
				Status: &status,
				Time:   time.Now(),
			}
			p.deliver(out, evt)
			return
		}

		var wire rpc.Event
		if err := json.Unmarshal(item.Data, &wire); err != nil {
			logger.WarnCF("whatsapp", "Undecodable event from bridge", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}

		evt, ok := eventFromWire(wire)
		if !ok {
			continue
		}

		if evt.Type == messaging.EventConnectionStatus && wire.Status != nil {
			p.mu.Lock()
			p.loggedIn = wire.Status.LoggedIn
			p.mu.Unlock()
			p.setStatus(*evt.Status)
		}

		p.deliver(out, evt)
	}
}

func (p *Provider) deliver(out chan<- messaging.Event, evt messaging.Event) {
	if p.bus != nil {
		p.bus.PublishEvent(p.name, evt)
	}
	select {
	case out <- evt:
	default:
		logger.WarnC("whatsapp", "Dropping event for slow subscriber")
	}
}

// WaitForLogin waits for the connected+logged-in transition on an event
// channel, up to 60 seconds. Phone-code pairing has no dedicated completion
// signal; success is inferred from this conjunction.
func (p *Provider) WaitForLogin(ctx context.Context, events <-chan messaging.Event) error {
	timer := time.NewTimer(pairWaitTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return &messaging.PairingError{Reason: "timed out waiting for login"}
		case evt, ok := <-events:
			if !ok {
				return &messaging.PairingError{Reason: "event stream closed before login"}
			}
			if evt.Type != messaging.EventConnectionStatus || evt.Status == nil {
				continue
			}
			if evt.Status.State == messaging.StateConnected && p.IsLoggedIn() {
				return nil
			}
		}
	}
}

// Status returns the provider's published connection status.
func (p *Provider) Status() messaging.ConnectionStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// IsLoggedIn reports whether a paired session exists.
func (p *Provider) IsLoggedIn() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loggedIn
}

func (p *Provider) setStatus(status messaging.ConnectionStatus) {
	p.mu.Lock()
	changed := p.status != status
	p.status = status
	p.mu.Unlock()

	if changed && p.bus != nil {
		s := status
		p.bus.PublishEvent(p.name, messaging.Event{
			Type:   messaging.EventConnectionStatus,
			Status: &s,
			Time:   time.Now(),
		})
	}
}

// guard enforces the read/write precondition: connected and logged in, in
// that order, before any RPC is issued.
func (p *Provider) guard() (transport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status.State != messaging.StateConnected || p.tr == nil {
		return nil, messaging.ErrNotConnected
	}
	if !p.loggedIn {
		return nil, messaging.ErrNotLoggedIn
	}
	return p.tr, nil
}

func (p *Provider) transportOrErr() (transport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tr == nil {
		return nil, messaging.ErrNotConnected
	}
	return p.tr, nil
}

// watchBridgeExit flips the published status when the bridge dies while the
// provider still believes it is connected.
func (p *Provider) watchBridgeExit(done <-chan struct{}) {
	if done == nil {
		return
	}
	<-done

	p.mu.Lock()
	stopping := p.stopping
	p.mu.Unlock()
	if stopping {
		return
	}

	reason := "bridge process exited unexpectedly"
	if err := p.sup.ExitError(); err != nil {
		reason = err.Error()
	}
	logger.ErrorCF("whatsapp", "Bridge died while provider active", map[string]interface{}{
		"reason": reason,
	})
	p.setStatus(messaging.ConnectionStatus{State: messaging.StateError, Reason: reason})
}
