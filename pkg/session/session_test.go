package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartthermostat/gattlink/pkg/gatt"
	"github.com/smartthermostat/gattlink/pkg/link"
	"github.com/smartthermostat/gattlink/pkg/sequencer"
)

// echoTransport answers every request from its own goroutine, like a real
// link would.
type echoTransport struct {
	mu      sync.Mutex
	sink    gatt.EventSink
	bond    gatt.BondState
	value   []byte
	failing int
}

func (e *echoTransport) Bind(sink gatt.EventSink) { e.sink = sink }

func (e *echoTransport) Connect() error {
	go e.sink.OnConnectionEvent(gatt.ConnectionEvent{State: gatt.LinkConnected, Bond: e.bond})
	return nil
}

func (e *echoTransport) Disconnect() error { return nil }

func (e *echoTransport) StartDiscovery() error {
	go e.sink.OnDiscoveryComplete(gatt.StatusSuccess, testCatalog())
	return nil
}

func (e *echoTransport) status() gatt.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failing > 0 {
		e.failing--
		return gatt.StatusFailure
	}
	return gatt.StatusSuccess
}

func (e *echoTransport) IssueRead(tok gatt.Token, id gatt.AttributeID) error {
	st := e.status()
	go e.sink.OnOperationComplete(gatt.OperationResult{Token: tok, Op: gatt.OpRead, Attribute: id, Status: st, Value: e.value})
	return nil
}

func (e *echoTransport) IssueWrite(tok gatt.Token, id gatt.AttributeID, payload []byte, _ gatt.WriteMode) error {
	st := e.status()
	go e.sink.OnOperationComplete(gatt.OperationResult{Token: tok, Op: gatt.OpWrite, Attribute: id, Status: st, Value: payload})
	return nil
}

func (e *echoTransport) IssueDescriptorWrite(tok gatt.Token, id gatt.AttributeID, payload []byte) error {
	st := e.status()
	go e.sink.OnOperationComplete(gatt.OperationResult{Token: tok, Op: gatt.OpDescriptorWrite, Attribute: id, Status: st, Value: payload})
	return nil
}

func startSession(t *testing.T, tr gatt.Transport, mutate func(*Config)) *Session {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Transport = tr
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

func waitReady(t *testing.T, s *Session) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == link.StateReady }, 2*time.Second, 5*time.Millisecond)
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNoTransport)

	cfg := DefaultConfig()
	cfg.Transport = &echoTransport{}
	cfg.OperationTimeout = -time.Second
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestSessionReadEndToEnd(t *testing.T) {
	tr := &echoTransport{value: []byte{0xB8, 0x0B}}
	s := startSession(t, tr, nil)

	_, err := s.RequestRead(tempAttr)
	assert.ErrorIs(t, err, sequencer.ErrNotReady)

	require.NoError(t, s.RequestConnect())
	waitReady(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	val, err := s.Read(ctx, tempAttr)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xB8, 0x0B}, val)

	reading, ok := s.LastValue(tempAttr)
	require.True(t, ok)
	assert.Equal(t, 30.0, reading.Value)
	assert.Equal(t, map[gatt.AttributeID]float64{tempAttr: 30.0}, s.Values())
}

func TestSessionSubscribeWithRetry(t *testing.T) {
	tr := &echoTransport{failing: 1}
	s := startSession(t, tr, nil)
	require.NoError(t, s.RequestConnect())
	waitReady(t, s)

	p, err := s.RequestSetNotify(tempAttr, true)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := p.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.True(t, s.IsSubscribed(tempAttr))
	assert.Equal(t, []gatt.AttributeID{tempAttr}, s.Subscriptions())
}

func TestSessionRejectsUnsupportedWrite(t *testing.T) {
	s := startSession(t, &echoTransport{}, nil)
	require.NoError(t, s.RequestConnect())
	waitReady(t, s)

	_, err := s.RequestWrite(tempAttr, []byte{1}, gatt.WriteDefault)
	assert.ErrorIs(t, err, sequencer.ErrUnsupported)

	p, err := s.RequestWrite(ledAttr, []byte{1}, gatt.WriteDefault)
	require.NoError(t, err)
	res, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, res.Value)
}

func TestSessionStateCallbacksAndDisconnect(t *testing.T) {
	var mu sync.Mutex
	var states []link.State
	s := startSession(t, &echoTransport{}, func(c *Config) {
		c.OnConnectionStateChanged = func(_, to link.State) {
			mu.Lock()
			states = append(states, to)
			mu.Unlock()
		}
	})

	require.NoError(t, s.RequestConnect())
	waitReady(t, s)
	require.NoError(t, s.RequestDisconnect())
	assert.Equal(t, link.StateDisconnected, s.State())

	st, err := s.Status()
	require.NoError(t, err)
	assert.Equal(t, 0, st.Pending)
	assert.Nil(t, s.Catalog())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []link.State{
		link.StateConnecting, link.StateBondCheck, link.StateDiscovering, link.StateReady,
		link.StateDisconnecting, link.StateDisconnected,
	}, states)
}

func TestSessionClosed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Transport = &echoTransport{}
	s, err := New(cfg)
	require.NoError(t, err)

	s.Close()
	assert.ErrorIs(t, s.RequestConnect(), ErrClosed)
	_, err = s.RequestRead(tempAttr)
	assert.ErrorIs(t, err, ErrClosed)

	assert.NoError(t, s.Run(context.Background()))
	assert.ErrorIs(t, s.Run(context.Background()), errAlreadyRunning)
}
