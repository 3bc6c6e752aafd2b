package gatt

// Op identifies the kind of link operation a completion belongs to.
type Op uint8

const (
	OpRead Op = iota
	OpWrite
	OpDescriptorWrite
)

// String returns the operation name.
func (o Op) String() string {
	switch o {
	case OpRead:
		return "READ"
	case OpWrite:
		return "WRITE"
	case OpDescriptorWrite:
		return "DESCRIPTOR_WRITE"
	default:
		return "UNKNOWN"
	}
}

// Token identifies one issued operation. The transport echoes it in the
// OperationResult of that operation. Zero is never issued.
type Token uint64

// OperationResult reports the outcome of a previously issued operation.
type OperationResult struct {
	Token     Token
	Op        Op
	Attribute AttributeID
	Status    Status

	// Value is the read payload for OpRead and the written payload otherwise.
	Value []byte
}

// ConnectionEvent reports a change of the physical link.
type ConnectionEvent struct {
	Status Status
	State  LinkState
	Bond   BondState
}

// EventSink receives transport callbacks. Implementations must not block and
// may be called from any goroutine.
type EventSink interface {
	OnOperationComplete(result OperationResult)
	OnConnectionEvent(event ConnectionEvent)
	OnBondStateChanged(bond BondState)
	OnDiscoveryComplete(status Status, catalog *Catalog)
	OnNotificationReceived(id AttributeID, payload []byte)
}

// Transport drives the link to one peripheral.
//
// Every Issue/Start/Connect call returns immediately. A nil error means the
// operation was dispatched and exactly one matching callback will follow on
// the bound sink; a non-nil error is a synchronous rejection and no callback
// follows.
type Transport interface {
	// Bind installs the sink for all subsequent callbacks.
	Bind(sink EventSink)

	Connect() error
	Disconnect() error
	StartDiscovery() error

	// Issue calls tag their completion with tok.
	IssueRead(tok Token, id AttributeID) error
	IssueWrite(tok Token, id AttributeID, payload []byte, mode WriteMode) error

	// IssueDescriptorWrite writes the CCC descriptor of characteristic id.
	IssueDescriptorWrite(tok Token, id AttributeID, payload []byte) error
}
