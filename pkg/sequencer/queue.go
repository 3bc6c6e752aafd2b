package sequencer

import (
	"fmt"
	"log/slog"

	"github.com/smartthermostat/gattlink/pkg/gatt"
)

// MaxTries is the default number of issue attempts per Transaction.
const MaxTries = 10

// State is the in-flight state of the queue.
type State uint8

const (
	StateIdle State = iota
	StateIssuing
	StateRetrying
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateIssuing:
		return "ISSUING"
	case StateRetrying:
		return "RETRYING"
	default:
		return "UNKNOWN"
	}
}

// Outcome is what Complete did with the head.
type Outcome uint8

const (
	// OutcomeIgnored means nothing was in flight.
	OutcomeIgnored Outcome = iota
	OutcomeCompleted
	OutcomeRetried
	OutcomeDropped
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "IGNORED"
	case OutcomeCompleted:
		return "COMPLETED"
	case OutcomeRetried:
		return "RETRIED"
	case OutcomeDropped:
		return "DROPPED"
	default:
		return "UNKNOWN"
	}
}

// Gate reports whether operations are currently legal and which
// characteristics the peripheral offers.
type Gate interface {
	Ready() bool
	Lookup(id gatt.AttributeID) (gatt.Characteristic, bool)
}

// Issuer dispatches a Transaction on the link. A non-nil error is a
// synchronous rejection and is handled like a failed completion.
type Issuer interface {
	Issue(tx *Transaction) error
}

// Hooks observe queue activity. All fields are optional and are called on
// the goroutine that drives the queue.
type Hooks struct {
	OnEnqueued  func(tx *Transaction, depth int)
	OnIssued    func(tx *Transaction)
	OnCompleted func(tx *Transaction, value []byte)
	OnRetry     func(tx *Transaction, status gatt.Status)
	OnDropped   func(tx *Transaction, err error)
	OnReset     func(dropped []*Transaction, reason error)
}

// Config configures a Queue.
type Config struct {
	// MaxTries bounds issue attempts per Transaction. Zero means MaxTries.
	MaxTries int

	// Logger for operational logging. Nil disables logging.
	Logger *slog.Logger

	Hooks Hooks
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() Config {
	return Config{MaxTries: MaxTries}
}

// Queue is a FIFO of Transactions with a single in-flight slot.
type Queue struct {
	config  Config
	gate    Gate
	issuer  Issuer
	pending []*Transaction
	state   State
	nextID  uint64
}

// NewQueue creates an empty queue.
func NewQueue(gate Gate, issuer Issuer, config Config) *Queue {
	if config.MaxTries <= 0 {
		config.MaxTries = MaxTries
	}
	return &Queue{
		config: config,
		gate:   gate,
		issuer: issuer,
	}
}

// State returns the in-flight state.
func (q *Queue) State() State {
	return q.state
}

// Busy reports whether a Transaction is in flight.
func (q *Queue) Busy() bool {
	return q.state != StateIdle
}

// Len returns the number of pending Transactions, including the in-flight one.
func (q *Queue) Len() int {
	return len(q.pending)
}

// Head returns the first pending Transaction, or nil.
func (q *Queue) Head() *Transaction {
	if len(q.pending) == 0 {
		return nil
	}
	return q.pending[0]
}

// InFlight returns the Transaction awaiting completion, or nil.
func (q *Queue) InFlight() *Transaction {
	if q.state == StateIdle {
		return nil
	}
	return q.Head()
}

// Enqueue validates tx against the link state and the characteristic's
// properties and appends it. A rejected Transaction leaves the queue untouched.
// If nothing is in flight the head is issued before Enqueue returns.
func (q *Queue) Enqueue(tx *Transaction) error {
	if err := q.validate(tx); err != nil {
		if q.config.Logger != nil {
			q.config.Logger.Debug("Queue: rejected", "kind", tx.Kind, "attr", tx.Attribute.Short(), "error", err)
		}
		return &RejectError{Kind: tx.Kind, Attribute: tx.Attribute.Short(), Err: err}
	}

	q.nextID++
	tx.ID = q.nextID
	tx.attempts = 0
	tx.pending = newPending()
	q.pending = append(q.pending, tx)

	if q.config.Hooks.OnEnqueued != nil {
		q.config.Hooks.OnEnqueued(tx, len(q.pending))
	}

	q.issueHead()
	return nil
}

func (q *Queue) validate(tx *Transaction) error {
	if !q.gate.Ready() {
		return ErrNotReady
	}
	ch, ok := q.gate.Lookup(tx.Attribute)
	if !ok {
		return ErrUnknownAttribute
	}

	switch tx.Kind {
	case KindRead:
		if !ch.CanRead() {
			return fmt.Errorf("%w: needs READ, has %s", ErrUnsupported, ch.Properties)
		}
	case KindWrite:
		if !ch.CanWrite(tx.Mode) {
			return fmt.Errorf("%w: %s write needs %s, has %s", ErrUnsupported, tx.Mode, tx.Mode.RequiredProperty(), ch.Properties)
		}
	case KindSubscriptionWrite:
		payload, ok := ch.SubscriptionPayload(tx.Enable)
		if !ok {
			return fmt.Errorf("%w: needs NOTIFY or INDICATE with a CCC descriptor, has %s", ErrUnsupported, ch.Properties)
		}
		tx.Payload = payload
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrUnsupported, tx.Kind)
	}
	return nil
}

// issueHead dispatches the head if nothing is in flight. Synchronous issue
// failures run through the retry path without recursion.
func (q *Queue) issueHead() {
	for q.state == StateIdle && len(q.pending) > 0 {
		if !q.gate.Ready() {
			if q.config.Logger != nil {
				q.config.Logger.Warn("Queue: link not ready with work pending, clearing", "pending", len(q.pending))
			}
			q.Reset(ErrDesynchronized)
			return
		}

		head := q.pending[0]
		head.attempts++
		if head.attempts > 1 {
			q.state = StateRetrying
		} else {
			q.state = StateIssuing
		}

		if q.config.Hooks.OnIssued != nil {
			q.config.Hooks.OnIssued(head)
		}

		err := q.issuer.Issue(head)
		if err == nil {
			return
		}

		if q.config.Logger != nil {
			q.config.Logger.Debug("Queue: issue rejected by transport", "tx", head.ID, "attempt", head.attempts, "error", err)
		}
		q.state = StateIdle
		q.handleFailure(head, gatt.StatusRejected)
	}
}

// Complete reports the link outcome of the in-flight Transaction and returns
// it together with what was done. With nothing in flight it returns
// (nil, OutcomeIgnored).
func (q *Queue) Complete(status gatt.Status, value []byte) (*Transaction, Outcome) {
	head := q.InFlight()
	if head == nil {
		if q.config.Logger != nil {
			q.config.Logger.Debug("Queue: completion with nothing in flight", "status", status)
		}
		return nil, OutcomeIgnored
	}
	q.state = StateIdle

	var outcome Outcome
	if status.OK() {
		q.pop()
		result := value
		if head.Kind != KindRead {
			result = head.Payload
		}
		head.pending.resolve(Result{Value: result, Attempts: head.attempts})
		if q.config.Hooks.OnCompleted != nil {
			q.config.Hooks.OnCompleted(head, value)
		}
		outcome = OutcomeCompleted
	} else {
		outcome = q.handleFailure(head, status)
	}

	q.issueHead()
	return head, outcome
}

// handleFailure drops head once it has used all attempts, otherwise leaves it
// at the front for reissue.
func (q *Queue) handleFailure(head *Transaction, status gatt.Status) Outcome {
	if head.attempts >= q.config.MaxTries {
		q.pop()
		err := fmt.Errorf("%s %s after %d attempts (last status %s): %w",
			head.Kind, head.Attribute.Short(), head.attempts, status, ErrRetriesExhausted)
		if q.config.Logger != nil {
			q.config.Logger.Warn("Queue: dropped transaction", "tx", head.ID, "kind", head.Kind, "attr", head.Attribute.Short(), "attempts", head.attempts)
		}
		head.pending.resolve(Result{Attempts: head.attempts, Err: err})
		if q.config.Hooks.OnDropped != nil {
			q.config.Hooks.OnDropped(head, err)
		}
		return OutcomeDropped
	}

	if q.config.Logger != nil {
		q.config.Logger.Debug("Queue: retrying", "tx", head.ID, "attempt", head.attempts, "status", status)
	}
	if q.config.Hooks.OnRetry != nil {
		q.config.Hooks.OnRetry(head, status)
	}
	return OutcomeRetried
}

func (q *Queue) pop() {
	q.pending[0] = nil
	q.pending = q.pending[1:]
}

// Reset discards every pending Transaction, including the one in flight.
// No completion hooks run; each future resolves with reason. It returns the
// number of discarded Transactions.
func (q *Queue) Reset(reason error) int {
	if reason == nil {
		reason = ErrReset
	}
	dropped := q.pending
	q.pending = nil
	q.state = StateIdle

	for _, tx := range dropped {
		tx.pending.resolve(Result{Attempts: tx.attempts, Err: reason})
	}
	if len(dropped) > 0 && q.config.Hooks.OnReset != nil {
		q.config.Hooks.OnReset(dropped, reason)
	}
	return len(dropped)
}
