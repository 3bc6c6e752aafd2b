package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/smartthermostat/gattlink/pkg/gatt"
	"github.com/smartthermostat/gattlink/pkg/link"
	"github.com/smartthermostat/gattlink/pkg/sensor"
	"github.com/smartthermostat/gattlink/pkg/sequencer"
)

// eventBuffer is the capacity of the loop's inbound channel.
const eventBuffer = 64

var errAlreadyRunning = errors.New("session already running")

// Status is a snapshot of the session.
type Status struct {
	State           link.State
	Bond            gatt.BondState
	QueueState      sequencer.State
	Pending         int
	Subscriptions   []gatt.AttributeID
	Characteristics int
}

// Session sequences operations against one peripheral. Create it with New
// and start the event loop with Run.
type Session struct {
	id      string
	d       *dispatcher
	events  chan func()
	done    chan struct{}
	once    sync.Once
	running atomic.Bool
}

// New creates a session and binds it to cfg.Transport.
func New(cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		id:     uuid.NewString(),
		events: make(chan func(), eventBuffer),
		done:   make(chan struct{}),
	}
	s.d = newDispatcher(s.id, cfg, s.schedule)
	cfg.Transport.Bind(s)
	return s, nil
}

// ID returns the session id used in traces.
func (s *Session) ID() string {
	return s.id
}

// Run processes events until ctx is done or Close is called. On return the
// link has been released.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}
	defer s.d.shutdown()

	for {
		select {
		case <-ctx.Done():
			s.Close()
			return ctx.Err()
		case <-s.done:
			return nil
		case fn := <-s.events:
			fn()
		}
	}
}

// Close stops the event loop. Pending requests fail with ErrClosed.
func (s *Session) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *Session) post(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- fn:
		return true
	case <-s.done:
		return false
	}
}

// call runs fn on the loop and waits for its result.
func (s *Session) call(fn func() error) error {
	reply := make(chan error, 1)
	if !s.post(func() { reply <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrClosed
	}
}

func (s *Session) schedule(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, func() { s.post(fn) })
	return func() { t.Stop() }
}

// RequestConnect starts connecting. It fails if a connection is already in
// progress or established.
func (s *Session) RequestConnect() error {
	return s.call(func() error {
		s.d.requestedDisconnect = false
		s.d.backoff.Reset()
		return s.d.connect()
	})
}

// RequestDisconnect tears the link down. Queued operations are discarded.
// Disconnecting an idle session is a no-op.
func (s *Session) RequestDisconnect() error {
	return s.call(func() error {
		s.d.requestDisconnect()
		return nil
	})
}

// RequestRead queues a read of attr.
func (s *Session) RequestRead(attr gatt.AttributeID) (*sequencer.Pending, error) {
	return s.submit(sequencer.NewRead(attr))
}

// RequestWrite queues a write of payload to attr.
func (s *Session) RequestWrite(attr gatt.AttributeID, payload []byte, mode gatt.WriteMode) (*sequencer.Pending, error) {
	return s.submit(sequencer.NewWrite(attr, payload, mode))
}

// RequestSetNotify queues a CCC write enabling or disabling notifications
// (or indications, when notifications are not offered) on attr.
func (s *Session) RequestSetNotify(attr gatt.AttributeID, enable bool) (*sequencer.Pending, error) {
	return s.submit(sequencer.NewSubscriptionWrite(attr, enable))
}

func (s *Session) submit(tx *sequencer.Transaction) (*sequencer.Pending, error) {
	if err := s.call(func() error { return s.d.enqueue(tx) }); err != nil {
		return nil, err
	}
	return tx.Pending(), nil
}

// Read queues a read and waits for its value.
func (s *Session) Read(ctx context.Context, attr gatt.AttributeID) ([]byte, error) {
	p, err := s.RequestRead(attr)
	if err != nil {
		return nil, err
	}
	res, err := p.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

// State returns the connection state.
func (s *Session) State() link.State {
	return s.d.machine.State()
}

// IsSubscribed reports whether attr has a confirmed subscription.
func (s *Session) IsSubscribed(attr gatt.AttributeID) bool {
	return s.d.tracker.IsSubscribed(attr)
}

// Subscriptions returns the confirmed subscriptions.
func (s *Session) Subscriptions() []gatt.AttributeID {
	return s.d.tracker.Snapshot()
}

// LastValue returns the latest decoded reading of attr.
func (s *Session) LastValue(attr gatt.AttributeID) (sensor.Reading, bool) {
	return s.d.cache.Last(attr)
}

// Values returns the latest decoded value of every attribute.
func (s *Session) Values() map[gatt.AttributeID]float64 {
	return s.d.cache.Snapshot()
}

// Catalog returns the discovered characteristics, or nil before READY.
func (s *Session) Catalog() *gatt.Catalog {
	return s.d.machine.Catalog()
}

// Status returns a consistent snapshot taken on the event loop.
func (s *Session) Status() (Status, error) {
	var st Status
	err := s.call(func() error {
		st = s.d.status()
		return nil
	})
	return st, err
}

// OnOperationComplete implements gatt.EventSink.
func (s *Session) OnOperationComplete(result gatt.OperationResult) {
	result.Value = clone(result.Value)
	s.post(func() { s.d.handleOperationComplete(result) })
}

// OnConnectionEvent implements gatt.EventSink.
func (s *Session) OnConnectionEvent(event gatt.ConnectionEvent) {
	s.post(func() { s.d.handleConnectionEvent(event) })
}

// OnBondStateChanged implements gatt.EventSink.
func (s *Session) OnBondStateChanged(bond gatt.BondState) {
	s.post(func() { s.d.handleBondChanged(bond) })
}

// OnDiscoveryComplete implements gatt.EventSink.
func (s *Session) OnDiscoveryComplete(status gatt.Status, catalog *gatt.Catalog) {
	s.post(func() { s.d.handleDiscoveryComplete(status, catalog) })
}

// OnNotificationReceived implements gatt.EventSink.
func (s *Session) OnNotificationReceived(id gatt.AttributeID, payload []byte) {
	payload = clone(payload)
	s.post(func() { s.d.handleNotification(id, payload) })
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

var _ gatt.EventSink = (*Session)(nil)
