package sequencer

import (
	"context"
	"sync"

	"github.com/smartthermostat/gattlink/pkg/gatt"
)

// Kind is the kind of link operation a Transaction performs.
type Kind uint8

const (
	KindRead Kind = iota
	KindWrite
	KindSubscriptionWrite
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindRead:
		return "READ"
	case KindWrite:
		return "WRITE"
	case KindSubscriptionWrite:
		return "SUBSCRIPTION_WRITE"
	default:
		return "UNKNOWN"
	}
}

// Transaction is one queued operation.
type Transaction struct {
	// ID is assigned by the queue on acceptance.
	ID uint64

	Kind      Kind
	Attribute gatt.AttributeID

	// Payload is the value to write. For subscription writes it is the CCC
	// value chosen on acceptance.
	Payload []byte

	// Mode applies to KindWrite.
	Mode gatt.WriteMode

	// Enable applies to KindSubscriptionWrite.
	Enable bool

	attempts int
	pending  *Pending
}

// NewRead creates a read of attr.
func NewRead(attr gatt.AttributeID) *Transaction {
	return &Transaction{Kind: KindRead, Attribute: attr}
}

// NewWrite creates a write of payload to attr.
func NewWrite(attr gatt.AttributeID, payload []byte, mode gatt.WriteMode) *Transaction {
	p := make([]byte, len(payload))
	copy(p, payload)
	return &Transaction{Kind: KindWrite, Attribute: attr, Payload: p, Mode: mode}
}

// NewSubscriptionWrite creates a CCC write enabling or disabling
// notifications on attr.
func NewSubscriptionWrite(attr gatt.AttributeID, enable bool) *Transaction {
	return &Transaction{Kind: KindSubscriptionWrite, Attribute: attr, Enable: enable}
}

// Attempts returns the number of times the transaction has been issued.
func (t *Transaction) Attempts() int {
	return t.attempts
}

// Pending returns the future for the transaction's outcome. It is nil until
// the transaction has been accepted by a queue.
func (t *Transaction) Pending() *Pending {
	return t.pending
}

// Result is the terminal outcome of a Transaction.
type Result struct {
	// Value is the read payload for reads and the written payload otherwise.
	Value []byte

	Attempts int

	// Err is nil on success, ErrRetriesExhausted when dropped, or the reason
	// the queue was reset.
	Err error
}

// Pending is a one-shot future for a Transaction's Result.
type Pending struct {
	once   sync.Once
	done   chan struct{}
	result Result
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func (p *Pending) resolve(r Result) {
	p.once.Do(func() {
		p.result = r
		close(p.done)
	})
}

// Done is closed once the result is available.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Result returns the outcome. Only valid after Done is closed.
func (p *Pending) Result() Result {
	<-p.done
	return p.result
}

// Wait blocks until the transaction is resolved or ctx is done.
func (p *Pending) Wait(ctx context.Context) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-p.done:
		return p.result, p.result.Err
	}
}
