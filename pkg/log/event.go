package log

import "time"

// Event is one entry of the link trace. CBOR encoding uses integer keys.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID identifies the session that produced the event (UUID).
	SessionID string `cbor:"2,keyasint"`

	// Direction indicates flow relative to the host.
	Direction Direction `cbor:"3,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"4,keyasint"`

	// Peripheral is the peripheral address, if known.
	Peripheral string `cbor:"5,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Transaction  *TransactionEvent  `cbor:"10,keyasint,omitempty"`
	StateChange  *StateChangeEvent  `cbor:"11,keyasint,omitempty"`
	Notification *NotificationEvent `cbor:"12,keyasint,omitempty"`
	Error        *ErrorEventData    `cbor:"13,keyasint,omitempty"`
}

// Direction indicates the direction of flow.
type Direction uint8

const (
	// DirectionIn is peripheral to host (completions, notifications).
	DirectionIn Direction = 0
	// DirectionOut is host to peripheral (issued operations).
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	CategoryTransaction  Category = 0
	CategoryState        Category = 1
	CategoryNotification Category = 2
	CategoryError        Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransaction:
		return "TRANSACTION"
	case CategoryState:
		return "STATE"
	case CategoryNotification:
		return "NOTIFICATION"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// TransactionEvent captures one step in the life of a queued operation.
type TransactionEvent struct {
	// ID is the session-local transaction number.
	ID uint64 `cbor:"1,keyasint"`

	// Kind is READ, WRITE or SUBSCRIPTION_WRITE.
	Kind string `cbor:"2,keyasint"`

	// Attribute is the target characteristic.
	Attribute string `cbor:"3,keyasint"`

	Phase Phase `cbor:"4,keyasint"`

	// Attempt is the 1-based issue attempt the event belongs to.
	Attempt int `cbor:"5,keyasint,omitempty"`

	// Status is the link status for completions.
	Status *uint16 `cbor:"6,keyasint,omitempty"`

	Payload []byte `cbor:"7,keyasint,omitempty"`

	// QueueDepth is the number of pending transactions after this step.
	QueueDepth int `cbor:"8,keyasint,omitempty"`
}

// Phase is the transaction lifecycle step.
type Phase uint8

const (
	PhaseEnqueued  Phase = 0
	PhaseIssued    Phase = 1
	PhaseCompleted Phase = 2
	PhaseRetried   Phase = 3
	PhaseDropped   Phase = 4
	PhaseRejected  Phase = 5
	PhaseReset     Phase = 6
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseEnqueued:
		return "ENQUEUED"
	case PhaseIssued:
		return "ISSUED"
	case PhaseCompleted:
		return "COMPLETED"
	case PhaseRetried:
		return "RETRIED"
	case PhaseDropped:
		return "DROPPED"
	case PhaseRejected:
		return "REJECTED"
	case PhaseReset:
		return "RESET"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent captures connection lifecycle changes.
type StateChangeEvent struct {
	// OldState is the previous state (may be empty).
	OldState string `cbor:"1,keyasint,omitempty"`

	NewState string `cbor:"2,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"3,keyasint,omitempty"`
}

// NotificationEvent captures an unsolicited value from the peripheral.
type NotificationEvent struct {
	Attribute string `cbor:"1,keyasint"`
	Payload   []byte `cbor:"2,keyasint,omitempty"`

	// Value is the decoded reading, if a decoder is registered.
	Value *float64 `cbor:"3,keyasint,omitempty"`

	// Forwarded is set when the value was sent to the bridge.
	Forwarded bool `cbor:"4,keyasint,omitempty"`
}

// ErrorEventData captures errors.
type ErrorEventData struct {
	Message string `cbor:"1,keyasint"`

	// Context describes what was being performed.
	Context string `cbor:"2,keyasint,omitempty"`

	// Attribute is the related characteristic, if any.
	Attribute string `cbor:"3,keyasint,omitempty"`
}
