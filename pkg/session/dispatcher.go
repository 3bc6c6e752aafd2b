package session

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/smartthermostat/gattlink/pkg/bridge"
	"github.com/smartthermostat/gattlink/pkg/gatt"
	"github.com/smartthermostat/gattlink/pkg/link"
	"github.com/smartthermostat/gattlink/pkg/log"
	"github.com/smartthermostat/gattlink/pkg/sensor"
	"github.com/smartthermostat/gattlink/pkg/sequencer"
	"github.com/smartthermostat/gattlink/pkg/subscription"
)

// scheduleFunc runs fn on the event loop after d. The returned func cancels
// the timer if it has not fired yet.
type scheduleFunc func(d time.Duration, fn func()) (cancel func())

// dispatcher is the single-threaded core of a Session. Every method must be
// called from the event loop.
type dispatcher struct {
	id        string
	cfg       Config
	transport gatt.Transport
	machine   *link.Machine
	queue     *sequencer.Queue
	tracker   *subscription.Tracker
	cache     *sensor.Cache
	sensors   *sensor.Registry
	forwarder bridge.Forwarder
	trace     log.Logger
	logger    *slog.Logger
	schedule  scheduleFunc
	backoff   *link.Backoff

	// generation advances on every teardown. Timers armed under an older
	// generation do nothing when they fire.
	generation uint64

	// requestedDisconnect suppresses auto-reconnect until the next
	// caller-initiated connect.
	requestedDisconnect bool

	cancelTimeout func()

	// lastToken is the most recently issued token; inflight is the token of
	// the attempt the queue is waiting on, zero when none. Completions
	// carrying any other token belong to abandoned attempts.
	lastToken gatt.Token
	inflight  gatt.Token
}

func newDispatcher(id string, cfg Config, schedule scheduleFunc) *dispatcher {
	d := &dispatcher{
		id:        id,
		cfg:       cfg,
		transport: cfg.Transport,
		machine:   link.NewMachine(),
		tracker:   subscription.NewTracker(),
		cache:     sensor.NewCache(),
		sensors:   cfg.Sensors,
		forwarder: cfg.Forwarder,
		trace:     cfg.ProtocolLogger,
		logger:    cfg.Logger,
		schedule:  schedule,
		backoff:   link.NewBackoff(cfg.Reconnect),
	}
	if d.sensors == nil {
		d.sensors = sensor.DefaultRegistry()
	}
	if d.forwarder == nil {
		d.forwarder = bridge.NoopForwarder{}
	}
	if d.trace == nil {
		d.trace = log.NoopLogger{}
	}

	d.machine.OnStateChange(d.stateChanged)
	d.queue = sequencer.NewQueue(d.machine, d, sequencer.Config{
		MaxTries: cfg.MaxTries,
		Logger:   cfg.Logger,
		Hooks:    d.queueHooks(),
	})
	return d
}

// connect starts a connection attempt.
func (d *dispatcher) connect() error {
	if _, err := d.machine.Fire(link.InputConnectRequested); err != nil {
		return fmt.Errorf("%w (state %s)", ErrAlreadyConnected, d.machine.State())
	}
	if err := d.transport.Connect(); err != nil {
		if d.logger != nil {
			d.logger.Warn("connect: transport rejected request", "peripheral", d.cfg.Peripheral, "error", err)
		}
		d.traceError("connect", "", err)
		d.teardown(link.InputConnectionError, "connect rejected: "+err.Error())
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

func (d *dispatcher) requestDisconnect() {
	d.requestedDisconnect = true
	if d.machine.State() == link.StateDisconnected {
		return
	}
	d.teardown(link.InputDisconnectRequested, "requested")
}

// teardown moves through DISCONNECTING to DISCONNECTED, dropping all queued
// work and subscriptions and releasing the link.
func (d *dispatcher) teardown(in link.Input, reason string) {
	if _, err := d.machine.Fire(in); err != nil {
		if d.logger != nil {
			d.logger.Debug("teardown: ignored", "input", in, "error", err)
		}
		return
	}

	d.generation++
	d.stopTimeout()
	d.inflight = 0
	dropped := d.queue.Reset(fmt.Errorf("%w: %s", ErrDisconnected, reason))
	d.tracker.Clear()

	if err := d.transport.Disconnect(); err != nil && d.logger != nil {
		d.logger.Debug("teardown: transport disconnect", "error", err)
	}
	_, _ = d.machine.Fire(link.InputTeardownComplete)

	if d.logger != nil {
		d.logger.Info("teardown: link released", "reason", reason, "dropped", dropped)
	}

	if in != link.InputDisconnectRequested && !d.requestedDisconnect {
		d.scheduleReconnect()
	}
}

func (d *dispatcher) scheduleReconnect() {
	if !d.cfg.AutoReconnect {
		return
	}
	delay, ok := d.backoff.Next()
	if !ok {
		if d.logger != nil {
			d.logger.Warn("reconnect: giving up", "attempts", d.backoff.Attempts())
		}
		return
	}
	if d.logger != nil {
		d.logger.Info("reconnect: scheduled", "delay", delay, "attempt", d.backoff.Attempts())
	}

	gen := d.generation
	d.schedule(delay, func() {
		if gen != d.generation || d.requestedDisconnect || d.machine.State() != link.StateDisconnected {
			return
		}
		_ = d.connect()
	})
}

func (d *dispatcher) handleConnectionEvent(ev gatt.ConnectionEvent) {
	state := d.machine.State()

	if !ev.Status.OK() {
		if state == link.StateDisconnected {
			return
		}
		d.traceError("connection", "", fmt.Errorf("link status %s", ev.Status))
		d.teardown(link.InputConnectionError, "link status "+ev.Status.String())
		return
	}

	switch ev.State {
	case gatt.LinkConnected:
		if state != link.StateConnecting {
			if d.logger != nil {
				d.logger.Debug("handleConnectionEvent: unexpected link-up", "state", state)
			}
			return
		}
		d.machine.SetBond(ev.Bond)
		if _, err := d.machine.Fire(link.InputLinkEstablished); err != nil {
			return
		}
		d.checkBond()

	case gatt.LinkDisconnected:
		if state == link.StateDisconnected {
			return
		}
		d.teardown(link.InputLinkDropped, "link lost")
	}
}

func (d *dispatcher) handleBondChanged(bond gatt.BondState) {
	d.machine.SetBond(bond)
	if d.logger != nil {
		d.logger.Debug("handleBondChanged", "bond", bond, "state", d.machine.State())
	}
	if d.machine.State() == link.StateBondCheck {
		d.checkBond()
	}
}

// checkBond applies the bond policy in CONNECTED_BOND_CHECK.
func (d *dispatcher) checkBond() {
	bond := d.machine.Bond()
	dec := d.cfg.BondPolicy.Decide(bond)

	switch {
	case dec.Action == link.ActionWait:
		if d.logger != nil {
			d.logger.Info("checkBond: bonding in progress, waiting", "bond", bond)
		}
	case dec.Delay <= 0:
		d.beginDiscovery()
	default:
		gen := d.generation
		d.schedule(dec.Delay, func() {
			if gen == d.generation && d.machine.State() == link.StateBondCheck {
				d.beginDiscovery()
			}
		})
	}
}

func (d *dispatcher) beginDiscovery() {
	if _, err := d.machine.Fire(link.InputBeginDiscovery); err != nil {
		return
	}
	if err := d.transport.StartDiscovery(); err != nil {
		d.traceError("discovery", "", err)
		d.teardown(link.InputConnectionError, "discovery request failed: "+err.Error())
	}
}

func (d *dispatcher) handleDiscoveryComplete(status gatt.Status, catalog *gatt.Catalog) {
	if d.machine.State() != link.StateDiscovering {
		return
	}
	if !status.OK() {
		d.teardown(link.InputDiscoveryFailed, "discovery status "+status.String())
		return
	}

	d.machine.SetCatalog(catalog)
	if _, err := d.machine.Fire(link.InputDiscoverySucceeded); err != nil {
		return
	}
	d.backoff.Reset()

	if d.logger != nil {
		d.logger.Info("handleDiscoveryComplete: ready", "characteristics", catalog.Len())
	}

	for _, attr := range d.cfg.Resubscribe {
		if err := d.enqueue(sequencer.NewSubscriptionWrite(attr, true)); err != nil && d.logger != nil {
			d.logger.Warn("handleDiscoveryComplete: resubscribe rejected", "attr", attr.Short(), "error", err)
		}
	}
}

func (d *dispatcher) enqueue(tx *sequencer.Transaction) error {
	if err := d.queue.Enqueue(tx); err != nil {
		d.traceTx(tx, log.PhaseRejected, log.DirectionOut, nil)
		return err
	}
	return nil
}

// Issue implements sequencer.Issuer.
func (d *dispatcher) Issue(tx *sequencer.Transaction) error {
	d.inflight = 0
	d.lastToken++
	tok := d.lastToken

	var err error
	switch tx.Kind {
	case sequencer.KindRead:
		err = d.transport.IssueRead(tok, tx.Attribute)
	case sequencer.KindWrite:
		err = d.transport.IssueWrite(tok, tx.Attribute, tx.Payload, tx.Mode)
	case sequencer.KindSubscriptionWrite:
		err = d.transport.IssueDescriptorWrite(tok, tx.Attribute, tx.Payload)
	default:
		err = fmt.Errorf("unknown transaction kind %s", tx.Kind)
	}
	if err != nil {
		return err
	}
	d.inflight = tok
	d.armTimeout(tx)
	return nil
}

func (d *dispatcher) armTimeout(tx *sequencer.Transaction) {
	d.stopTimeout()
	if d.cfg.OperationTimeout <= 0 {
		return
	}
	id, attempt, gen := tx.ID, tx.Attempts(), d.generation
	d.cancelTimeout = d.schedule(d.cfg.OperationTimeout, func() {
		d.expire(id, attempt, gen)
	})
}

func (d *dispatcher) stopTimeout() {
	if d.cancelTimeout != nil {
		d.cancelTimeout()
		d.cancelTimeout = nil
	}
}

// expire fails the in-flight transaction if it is still the attempt the
// timer was armed for. The abandoned attempt may still complete on the link;
// its token no longer matches and the completion is discarded.
func (d *dispatcher) expire(id uint64, attempt int, gen uint64) {
	if gen != d.generation {
		return
	}
	tx := d.queue.InFlight()
	if tx == nil || tx.ID != id || tx.Attempts() != attempt {
		return
	}
	if d.logger != nil {
		d.logger.Warn("expire: operation timed out", "tx", id, "kind", tx.Kind, "attr", tx.Attribute.Short(), "attempt", attempt)
	}
	d.cancelTimeout = nil
	d.inflight = 0
	d.queue.Complete(gatt.StatusTimeout, nil)
}

func opFor(k sequencer.Kind) gatt.Op {
	switch k {
	case sequencer.KindWrite:
		return gatt.OpWrite
	case sequencer.KindSubscriptionWrite:
		return gatt.OpDescriptorWrite
	default:
		return gatt.OpRead
	}
}

func (d *dispatcher) handleOperationComplete(res gatt.OperationResult) {
	tx := d.queue.InFlight()
	if tx == nil {
		if d.logger != nil {
			d.logger.Debug("handleOperationComplete: nothing in flight", "op", res.Op, "attr", res.Attribute.Short())
		}
		return
	}
	if res.Token != d.inflight {
		if d.logger != nil {
			d.logger.Debug("handleOperationComplete: stale completion discarded",
				"token", res.Token, "inflight", d.inflight, "op", res.Op, "attr", res.Attribute.Short())
		}
		return
	}
	if tx.Attribute != res.Attribute || opFor(tx.Kind) != res.Op {
		if d.logger != nil {
			d.logger.Warn("handleOperationComplete: completion does not match in-flight operation",
				"op", res.Op, "attr", res.Attribute.Short(), "inflight_kind", tx.Kind, "inflight_attr", tx.Attribute.Short())
		}
		return
	}

	d.stopTimeout()
	d.inflight = 0
	if res.Status.OK() {
		d.apply(tx, res.Value)
	}
	d.queue.Complete(res.Status, res.Value)
}

// apply runs the side effects of a successful completion before the queue
// advances.
func (d *dispatcher) apply(tx *sequencer.Transaction, value []byte) {
	switch tx.Kind {
	case sequencer.KindRead:
		d.deliver(tx.Attribute, value, SourceRead)
	case sequencer.KindSubscriptionWrite:
		if !d.tracker.Apply(tx.Attribute, tx.Payload) {
			return
		}
		if d.logger != nil {
			d.logger.Info("apply: subscription changed", "attr", tx.Attribute.Short(), "subscribed", gatt.IsEnabling(tx.Payload))
		}
		if d.cfg.OnSubscriptionsChanged != nil {
			d.cfg.OnSubscriptionsChanged(d.tracker.Snapshot())
		}
	}
}

func (d *dispatcher) handleNotification(attr gatt.AttributeID, payload []byte) {
	if !d.machine.Connected() {
		return
	}
	d.deliver(attr, payload, SourceNotification)
}

func (d *dispatcher) deliver(attr gatt.AttributeID, raw []byte, src Source) {
	u := Update{Attribute: attr, Source: src, Raw: raw}

	if ch, ok := d.sensors.Channel(attr); ok {
		v, err := ch.Decode(raw)
		if err != nil {
			if d.logger != nil {
				d.logger.Warn("deliver: decode failed", "attr", attr.Short(), "channel", ch.Name, "error", err)
			}
			d.traceError("decode", attr, err)
		} else {
			u.Decoded = true
			u.Value = v
			u.Changed = d.cache.Update(attr, v)
			if ch.Topic != "" && (src == SourceRead || u.Changed) {
				d.forwarder.Forward(ch.Topic, v)
				u.Forwarded = true
			}
		}
	}

	if src == SourceNotification {
		ev := log.Event{
			Direction: log.DirectionIn,
			Category:  log.CategoryNotification,
			Notification: &log.NotificationEvent{
				Attribute: attr.Short(),
				Payload:   raw,
				Forwarded: u.Forwarded,
			},
		}
		if u.Decoded {
			v := u.Value
			ev.Notification.Value = &v
		}
		d.emit(ev)
	}

	if d.cfg.OnValueUpdated != nil {
		d.cfg.OnValueUpdated(u)
	}
}

func (d *dispatcher) stateChanged(from, to link.State, in link.Input) {
	if d.logger != nil {
		d.logger.Info("state change", "from", from, "to", to, "input", in)
	}
	d.emit(log.Event{
		Category: log.CategoryState,
		StateChange: &log.StateChangeEvent{
			OldState: from.String(),
			NewState: to.String(),
			Reason:   in.String(),
		},
	})
	if d.cfg.OnConnectionStateChanged != nil {
		d.cfg.OnConnectionStateChanged(from, to)
	}
}

func (d *dispatcher) queueHooks() sequencer.Hooks {
	return sequencer.Hooks{
		OnEnqueued: func(tx *sequencer.Transaction, depth int) {
			d.emitTx(tx, log.PhaseEnqueued, log.DirectionOut, nil, depth)
		},
		OnIssued: func(tx *sequencer.Transaction) {
			d.traceTx(tx, log.PhaseIssued, log.DirectionOut, nil)
		},
		OnCompleted: func(tx *sequencer.Transaction, value []byte) {
			ok := gatt.StatusSuccess
			d.traceTx(tx, log.PhaseCompleted, log.DirectionIn, &ok)
		},
		OnRetry: func(tx *sequencer.Transaction, status gatt.Status) {
			d.traceTx(tx, log.PhaseRetried, log.DirectionIn, &status)
		},
		OnDropped: func(tx *sequencer.Transaction, err error) {
			d.traceTx(tx, log.PhaseDropped, log.DirectionIn, nil)
			d.traceError("retries", tx.Attribute, err)
			if d.cfg.OnOperationFailed != nil {
				d.cfg.OnOperationFailed(tx, err)
			}
		},
		OnReset: func(dropped []*sequencer.Transaction, reason error) {
			for _, tx := range dropped {
				d.traceTx(tx, log.PhaseReset, log.DirectionOut, nil)
			}
		},
	}
}

func (d *dispatcher) traceTx(tx *sequencer.Transaction, phase log.Phase, dir log.Direction, status *gatt.Status) {
	d.emitTx(tx, phase, dir, status, d.queue.Len())
}

func (d *dispatcher) emitTx(tx *sequencer.Transaction, phase log.Phase, dir log.Direction, status *gatt.Status, depth int) {
	te := &log.TransactionEvent{
		ID:         tx.ID,
		Kind:       tx.Kind.String(),
		Attribute:  tx.Attribute.Short(),
		Phase:      phase,
		Attempt:    tx.Attempts(),
		Payload:    tx.Payload,
		QueueDepth: depth,
	}
	if status != nil {
		s := uint16(*status)
		te.Status = &s
	}
	d.emit(log.Event{Direction: dir, Category: log.CategoryTransaction, Transaction: te})
}

func (d *dispatcher) traceError(context string, attr gatt.AttributeID, err error) {
	ev := &log.ErrorEventData{Message: err.Error(), Context: context}
	if attr != "" {
		ev.Attribute = attr.Short()
	}
	d.emit(log.Event{Direction: log.DirectionIn, Category: log.CategoryError, Error: ev})
}

func (d *dispatcher) emit(ev log.Event) {
	ev.Timestamp = time.Now()
	ev.SessionID = d.id
	ev.Peripheral = d.cfg.Peripheral
	d.trace.Log(ev)
}

// shutdown releases the link when the event loop stops.
func (d *dispatcher) shutdown() {
	d.requestedDisconnect = true
	d.stopTimeout()
	if d.machine.State() != link.StateDisconnected {
		d.teardown(link.InputDisconnectRequested, "session closed")
	}
}

func (d *dispatcher) status() Status {
	return Status{
		State:           d.machine.State(),
		Bond:            d.machine.Bond(),
		QueueState:      d.queue.State(),
		Pending:         d.queue.Len(),
		Subscriptions:   d.tracker.Snapshot(),
		Characteristics: d.machine.Catalog().Len(),
	}
}
