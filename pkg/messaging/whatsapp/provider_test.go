package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklight/wabridge/pkg/bridge"
	"github.com/stacklight/wabridge/pkg/bus"
	"github.com/stacklight/wabridge/pkg/config"
	"github.com/stacklight/wabridge/pkg/messaging"
	"github.com/stacklight/wabridge/pkg/rpc"
)

type fakeSupervisor struct {
	mu       sync.Mutex
	startErr error
	stopped  bool
	done     chan struct{}
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{done: make(chan struct{})}
}

func (f *fakeSupervisor) Start(ctx context.Context) error { return f.startErr }
func (f *fakeSupervisor) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}
func (f *fakeSupervisor) Done() <-chan struct{} { return f.done }
func (f *fakeSupervisor) ExitError() error      { return &bridge.UnexpectedExitError{Code: 1} }
func (f *fakeSupervisor) State() bridge.State   { return bridge.StateReady }
func (f *fakeSupervisor) PID() int              { return 42 }

func (f *fakeSupervisor) wasStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

type fakeTransport struct {
	mu    sync.Mutex
	calls map[string]int

	verifyStatus *rpc.ConnectionStatus
	verifyErr    error
	statusResp   *rpc.ConnectionStatus
	pairCode     string
	pairingCh    chan rpc.StreamItem
	eventChs     []chan rpc.StreamItem
	chats        []rpc.Chat
	cancelDelay  time.Duration // how long a cancelled stream takes to close
	shutdown     bool
	closed       bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		calls:        make(map[string]int),
		verifyStatus: &rpc.ConnectionStatus{Status: "connected", LoggedIn: true},
		statusResp:   &rpc.ConnectionStatus{Status: "connected", LoggedIn: true},
		pairingCh:    make(chan rpc.StreamItem, 8),
	}
}

func (f *fakeTransport) count(method string) {
	f.mu.Lock()
	f.calls[method]++
	f.mu.Unlock()
}

func (f *fakeTransport) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeTransport) rpcCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

func (f *fakeTransport) RunConnections(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (f *fakeTransport) VerifyConnection(ctx context.Context) (*rpc.ConnectionStatus, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return f.verifyStatus, nil
}

func (f *fakeTransport) BeginGracefulShutdown() {
	f.mu.Lock()
	f.shutdown = true
	f.mu.Unlock()
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeTransport) Connect(ctx context.Context) error    { f.count("Connect"); return nil }
func (f *fakeTransport) Disconnect(ctx context.Context) error { f.count("Disconnect"); return nil }
func (f *fakeTransport) GetConnectionStatus(ctx context.Context) (*rpc.ConnectionStatus, error) {
	f.count("GetConnectionStatus")
	return f.statusResp, nil
}
func (f *fakeTransport) PairWithCode(ctx context.Context, phone string) (string, error) {
	f.count("PairWithCode")
	return f.pairCode, nil
}
func (f *fakeTransport) Logout(ctx context.Context) error { f.count("Logout"); return nil }
func (f *fakeTransport) GetChats(ctx context.Context, limit, offset int, includeArchived bool) ([]rpc.Chat, error) {
	f.count("GetChats")
	return f.chats, nil
}
func (f *fakeTransport) GetChat(ctx context.Context, chatID string) (*rpc.Chat, error) {
	f.count("GetChat")
	return &rpc.Chat{ID: chatID}, nil
}
func (f *fakeTransport) GetMessages(ctx context.Context, chatID string, limit int, beforeID, afterID string) ([]rpc.Message, error) {
	f.count("GetMessages")
	return nil, nil
}
func (f *fakeTransport) SendMessage(ctx context.Context, chatID, text, quotedID string) (*rpc.Message, error) {
	f.count("SendMessage")
	return &rpc.Message{ID: "m1", ChatID: chatID, Text: text, FromMe: true}, nil
}
func (f *fakeTransport) SendReaction(ctx context.Context, chatID, messageID, emoji string) error {
	f.count("SendReaction")
	return nil
}
func (f *fakeTransport) MarkAsRead(ctx context.Context, chatID string, messageIDs []string) error {
	f.count("MarkAsRead")
	return nil
}
func (f *fakeTransport) GetPairingQR(ctx context.Context) (<-chan rpc.StreamItem, error) {
	f.count("GetPairingQR")
	return f.pairingCh, nil
}
func (f *fakeTransport) StreamEvents(ctx context.Context, types []string) (<-chan rpc.StreamItem, error) {
	f.count("StreamEvents")
	ch := make(chan rpc.StreamItem, 16)
	go func() {
		<-ctx.Done()
		if f.cancelDelay > 0 {
			time.Sleep(f.cancelDelay)
		}
		close(ch)
	}()
	f.mu.Lock()
	f.eventChs = append(f.eventChs, ch)
	f.mu.Unlock()
	return ch, nil
}

func (f *fakeTransport) pushEvent(t *testing.T, evt rpc.Event) {
	t.Helper()
	data, err := json.Marshal(evt)
	require.NoError(t, err)

	f.mu.Lock()
	ch := f.eventChs[len(f.eventChs)-1]
	f.mu.Unlock()
	ch <- rpc.StreamItem{Data: data}
}

func newTestProvider(tr *fakeTransport, sup *fakeSupervisor, eventBus *bus.Bus) *Provider {
	return &Provider{
		name: "whatsapp",
		cfg:  config.BridgeConfig{RPCAddress: "127.0.0.1:0"},
		bus:  eventBus,
		sup:  sup,
		newTransport: func(string) transport {
			return tr
		},
		status: messaging.ConnectionStatus{State: messaging.StateDisconnected},
	}
}

func startedProvider(t *testing.T, tr *fakeTransport) *Provider {
	t.Helper()
	p := newTestProvider(tr, newFakeSupervisor(), nil)
	require.NoError(t, p.Start(context.Background()))
	return p
}

func TestStartHappyPath(t *testing.T) {
	tr := newFakeTransport()
	p := startedProvider(t, tr)

	assert.Equal(t, messaging.StateConnected, p.Status().State)
	assert.True(t, p.IsLoggedIn())
}

func TestStartSupervisorFailureAborts(t *testing.T) {
	sup := newFakeSupervisor()
	sup.startErr = bridge.ErrReadyTimeout
	p := newTestProvider(newFakeTransport(), sup, nil)

	err := p.Start(context.Background())
	require.ErrorIs(t, err, bridge.ErrReadyTimeout)
	assert.Equal(t, messaging.StateError, p.Status().State)
}

func TestStartVerifyFailureDegrades(t *testing.T) {
	tr := newFakeTransport()
	tr.verifyErr = errors.New("connection refused")
	p := newTestProvider(tr, newFakeSupervisor(), nil)

	// Process-layer start succeeded, so Start itself does not fail.
	require.NoError(t, p.Start(context.Background()))

	status := p.Status()
	assert.Equal(t, messaging.StateError, status.State)
	assert.Contains(t, status.Reason, "connection refused")
}

func TestGuardBlocksWhenNotConnected(t *testing.T) {
	tr := newFakeTransport()
	p := newTestProvider(tr, newFakeSupervisor(), nil)

	_, err := p.GetChats(context.Background(), 10, 0, false)
	assert.ErrorIs(t, err, messaging.ErrNotConnected)

	_, err = p.SendMessage(context.Background(), "123@s.whatsapp.net", "hi", "")
	assert.ErrorIs(t, err, messaging.ErrNotConnected)

	assert.Zero(t, tr.rpcCalls(), "no RPC may be issued while disconnected")
}

func TestGuardBlocksWhenNotLoggedIn(t *testing.T) {
	tr := newFakeTransport()
	tr.verifyStatus = &rpc.ConnectionStatus{Status: "connected", LoggedIn: false}
	p := startedProvider(t, tr)

	_, err := p.GetMessages(context.Background(), "123@s.whatsapp.net", 10, "", "")
	assert.ErrorIs(t, err, messaging.ErrNotLoggedIn)

	err = p.SendReaction(context.Background(), "123@s.whatsapp.net", "m1", "👍")
	assert.ErrorIs(t, err, messaging.ErrNotLoggedIn)

	assert.Zero(t, tr.callCount("GetMessages"))
	assert.Zero(t, tr.callCount("SendReaction"))
}

func TestInvalidChatIDRejectedBeforeRPC(t *testing.T) {
	tr := newFakeTransport()
	p := startedProvider(t, tr)

	_, err := p.SendMessage(context.Background(), "@s.whatsapp.net", "hi", "")
	assert.ErrorIs(t, err, messaging.ErrInvalidChatID)
	assert.Zero(t, tr.callCount("SendMessage"))
}

func TestSendMessageNormalizesChatID(t *testing.T) {
	tr := newFakeTransport()
	p := startedProvider(t, tr)

	msg, err := p.SendMessage(context.Background(), "123", "hello", "")
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)
	assert.True(t, msg.FromMe)

	// The bare user id was normalized before hitting the wire.
	assert.Equal(t, 1, tr.callCount("SendMessage"))
}

func TestQRPairingSuccess(t *testing.T) {
	tr := newFakeTransport()
	tr.verifyStatus = &rpc.ConnectionStatus{Status: "connected", LoggedIn: false}
	eventBus := bus.New()
	p := newTestProvider(tr, newFakeSupervisor(), eventBus)
	require.NoError(t, p.Start(context.Background()))

	busEvents := eventBus.Subscribe()
	defer eventBus.Unsubscribe(busEvents)

	events, err := p.StartQRPairing(context.Background())
	require.NoError(t, err)
	assert.Equal(t, messaging.StatePairing, p.Status().State)

	push := func(evt rpc.PairingEvent) {
		data, err := json.Marshal(evt)
		require.NoError(t, err)
		tr.pairingCh <- rpc.StreamItem{Data: data}
	}

	push(rpc.PairingEvent{Event: "code", Code: "2@abc"})
	push(rpc.PairingEvent{Event: "success", UserID: "123@s.whatsapp.net", DisplayName: "Alice"})
	// A repeated terminal event must not re-apply the transition.
	push(rpc.PairingEvent{Event: "success"})
	close(tr.pairingCh)

	var kinds []messaging.PairingEventKind
	for evt := range events {
		kinds = append(kinds, evt.Kind)
	}
	assert.Equal(t, []messaging.PairingEventKind{
		messaging.PairingQRCode, messaging.PairingSuccess, messaging.PairingSuccess,
	}, kinds)

	assert.True(t, p.IsLoggedIn())
	assert.Equal(t, messaging.StateConnected, p.Status().State)

	// Exactly one connected status transition was published for the flow.
	connected := 0
	timeout := time.After(time.Second)
drain:
	for {
		select {
		case evt := <-busEvents:
			if evt.Kind == bus.KindProviderEvent && evt.Event != nil &&
				evt.Event.Type == messaging.EventConnectionStatus &&
				evt.Event.Status.State == messaging.StateConnected {
				connected++
			}
		case <-timeout:
			break drain
		default:
			if len(busEvents) == 0 {
				break drain
			}
		}
	}
	assert.Equal(t, 1, connected)
}

func TestQRPairingRefusedWhileLoggedIn(t *testing.T) {
	tr := newFakeTransport()
	p := startedProvider(t, tr)

	_, err := p.StartQRPairing(context.Background())
	var pairErr *messaging.PairingError
	require.True(t, errors.As(err, &pairErr))
	assert.Zero(t, tr.callCount("GetPairingQR"), "refusal must precede any RPC")
}

func TestCodePairingRefusedWhileLoggedIn(t *testing.T) {
	tr := newFakeTransport()
	p := startedProvider(t, tr)

	_, err := p.StartCodePairing(context.Background(), "15551234567")
	var pairErr *messaging.PairingError
	require.True(t, errors.As(err, &pairErr))
	assert.Zero(t, tr.callCount("PairWithCode"))
}

func TestCodePairingIssuesCode(t *testing.T) {
	tr := newFakeTransport()
	tr.verifyStatus = &rpc.ConnectionStatus{Status: "connected", LoggedIn: false}
	tr.pairCode = "ABCD-1234"
	p := newTestProvider(tr, newFakeSupervisor(), nil)
	require.NoError(t, p.Start(context.Background()))

	code, err := p.StartCodePairing(context.Background(), "15551234567")
	require.NoError(t, err)
	assert.Equal(t, "ABCD-1234", code)
	assert.Equal(t, messaging.StatePairing, p.Status().State)
}

func TestSubscribeEventsReplacesPrevious(t *testing.T) {
	tr := newFakeTransport()
	p := startedProvider(t, tr)

	first, err := p.SubscribeEvents(context.Background(), nil)
	require.NoError(t, err)

	second, err := p.SubscribeEvents(context.Background(), nil)
	require.NoError(t, err)

	// The first subscription's stream is cancelled, closing its channel.
	select {
	case _, ok := <-first:
		assert.False(t, ok, "first subscription should be closed")
	case <-time.After(2 * time.Second):
		t.Fatal("first subscription was not cancelled")
	}

	tr.pushEvent(t, rpc.Event{
		Type:    "message_received",
		Message: &rpc.Message{ID: "m9", ChatID: "123@s.whatsapp.net"},
	})

	select {
	case evt := <-second:
		assert.Equal(t, messaging.EventMessageReceived, evt.Type)
		assert.Equal(t, "m9", evt.Message.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("second subscription received nothing")
	}
}

func TestSubscribeEventsReplacementIsOrdered(t *testing.T) {
	tr := newFakeTransport()
	tr.cancelDelay = 100 * time.Millisecond
	p := startedProvider(t, tr)

	first, err := p.SubscribeEvents(context.Background(), nil)
	require.NoError(t, err)

	second, err := p.SubscribeEvents(context.Background(), nil)
	require.NoError(t, err)

	// The old stream tears down slowly; the replacement must not return
	// until the old consumer is fully drained and closed.
	select {
	case _, ok := <-first:
		assert.False(t, ok, "first subscription must already be closed")
	default:
		t.Fatal("first subscription still open after replacement returned")
	}

	tr.pushEvent(t, rpc.Event{
		Type:    "message_received",
		Message: &rpc.Message{ID: "m1", ChatID: "123@s.whatsapp.net"},
	})
	select {
	case evt := <-second:
		assert.Equal(t, "m1", evt.Message.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("second subscription received nothing")
	}
}

func TestEventStreamMirrorsConnectionStatus(t *testing.T) {
	tr := newFakeTransport()
	p := startedProvider(t, tr)

	events, err := p.SubscribeEvents(context.Background(), nil)
	require.NoError(t, err)

	tr.pushEvent(t, rpc.Event{
		Type:   "connection_status",
		Status: &rpc.ConnectionStatus{Status: "disconnected", LoggedIn: false},
	})

	select {
	case evt := <-events:
		require.Equal(t, messaging.EventConnectionStatus, evt.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("status event not delivered")
	}

	assert.Equal(t, messaging.StateDisconnected, p.Status().State)
	assert.False(t, p.IsLoggedIn())
}

func TestWaitForLogin(t *testing.T) {
	tr := newFakeTransport()
	tr.verifyStatus = &rpc.ConnectionStatus{Status: "connected", LoggedIn: false}
	p := newTestProvider(tr, newFakeSupervisor(), nil)
	require.NoError(t, p.Start(context.Background()))

	events, err := p.SubscribeEvents(context.Background(), nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- p.WaitForLogin(context.Background(), events) }()

	// Connected while still logged out is not success.
	tr.pushEvent(t, rpc.Event{
		Type:   "connection_status",
		Status: &rpc.ConnectionStatus{Status: "connected", LoggedIn: false},
	})
	select {
	case err := <-done:
		t.Fatalf("WaitForLogin returned early: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	tr.pushEvent(t, rpc.Event{
		Type:   "connection_status",
		Status: &rpc.ConnectionStatus{Status: "connected", LoggedIn: true},
	})
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForLogin never resolved")
	}
	assert.True(t, p.IsLoggedIn())
}

func TestWaitForLoginStreamClosed(t *testing.T) {
	p := newTestProvider(newFakeTransport(), newFakeSupervisor(), nil)

	events := make(chan messaging.Event)
	close(events)

	err := p.WaitForLogin(context.Background(), events)
	var pairErr *messaging.PairingError
	require.True(t, errors.As(err, &pairErr))
}

func TestStopSequence(t *testing.T) {
	tr := newFakeTransport()
	sup := newFakeSupervisor()
	p := newTestProvider(tr, sup, nil)
	require.NoError(t, p.Start(context.Background()))

	require.NoError(t, p.Stop(context.Background()))

	tr.mu.Lock()
	assert.True(t, tr.shutdown, "transport should be drained")
	assert.True(t, tr.closed, "transport should be closed")
	tr.mu.Unlock()
	assert.True(t, sup.wasStopped())
	assert.Equal(t, messaging.StateDisconnected, p.Status().State)
}

func TestBridgeDeathFlipsStatus(t *testing.T) {
	tr := newFakeTransport()
	sup := newFakeSupervisor()
	p := newTestProvider(tr, sup, nil)
	require.NoError(t, p.Start(context.Background()))

	close(sup.done)

	require.Eventually(t, func() bool {
		return p.Status().State == messaging.StateError
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, p.Status().Reason, "exit")
}
