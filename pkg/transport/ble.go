package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-ble/ble"

	"github.com/smartthermostat/gattlink/pkg/gatt"
)

// BLE errors.
var (
	ErrNoAddress = errors.New("peripheral address not configured")
	ErrBusy      = errors.New("connect already in progress")
	ErrNoProfile = errors.New("services not discovered")
	ErrNoDevice  = errors.New("no BLE host device available")
	ErrNotBound  = errors.New("transport has no event sink")
)

// DefaultDialTimeout bounds a single connection attempt.
const DefaultDialTimeout = 10 * time.Second

// BondProbe reports the host's bond state for a peripheral.
type BondProbe interface {
	// BondState returns the current bond state of address.
	BondState(ctx context.Context, address string) (gatt.BondState, error)

	// Watch calls fn on every bond change of address until ctx is done.
	Watch(ctx context.Context, address string, fn func(gatt.BondState)) error
}

// BLEConfig configures a BLE transport.
type BLEConfig struct {
	// Address is the peripheral's MAC address ("AA:BB:CC:DD:EE:FF").
	Address string

	// DialTimeout bounds a connection attempt (default 10s).
	DialTimeout time.Duration

	// BondProbe is consulted on connect. Nil reports BondNone.
	BondProbe BondProbe

	// Logger for operational logging. Nil disables logging.
	Logger *slog.Logger
}

// peer is the part of ble.Client the transport uses.
type peer interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
	Disconnected() <-chan struct{}
}

type dialFunc func(ctx context.Context, address string) (peer, error)

func dialDefault(ctx context.Context, address string) (peer, error) {
	cln, err := ble.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, err
	}
	return cln, nil
}

// BLE is a gatt.Transport over a go-ble client connection.
type BLE struct {
	cfg  BLEConfig
	dial dialFunc

	mu         sync.Mutex
	sink       gatt.EventSink
	client     peer
	chars      map[gatt.AttributeID]*ble.Characteristic
	dialing    bool
	cancelDial context.CancelFunc
	stopWatch  context.CancelFunc

	// opMu serializes ATT requests; go-ble clients are not safe for
	// concurrent requests.
	opMu sync.Mutex
}

var _ gatt.Transport = (*BLE)(nil)

// NewBLE creates a BLE transport. The default device must already be set
// with ble.SetDefaultDevice (see OpenDefaultDevice).
func NewBLE(cfg BLEConfig) (*BLE, error) {
	if cfg.Address == "" {
		return nil, ErrNoAddress
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	return newBLE(cfg, dialDefault), nil
}

func newBLE(cfg BLEConfig, dial dialFunc) *BLE {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	return &BLE{cfg: cfg, dial: dial}
}

// Bind installs the event sink.
func (b *BLE) Bind(sink gatt.EventSink) {
	b.mu.Lock()
	b.sink = sink
	b.mu.Unlock()
}

// Connect dials the peripheral in the background.
func (b *BLE) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sink == nil {
		return ErrNotBound
	}
	if b.dialing {
		return ErrBusy
	}
	if b.client != nil {
		return fmt.Errorf("already connected to %s", b.cfg.Address)
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.DialTimeout)
	b.dialing = true
	b.cancelDial = cancel
	go b.dialLoop(ctx, cancel)
	return nil
}

func (b *BLE) dialLoop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()

	b.debug("BLE: dialing", "address", b.cfg.Address, "timeout", b.cfg.DialTimeout)
	cln, err := b.dial(ctx, b.cfg.Address)

	b.mu.Lock()
	b.dialing = false
	b.cancelDial = nil
	sink := b.sink
	if errors.Is(ctx.Err(), context.Canceled) {
		// Disconnect was called while dialing.
		b.mu.Unlock()
		if cln != nil {
			_ = cln.CancelConnection()
		}
		return
	}
	if err != nil {
		b.mu.Unlock()
		b.warn("BLE: dial failed", "address", b.cfg.Address, "error", err)
		sink.OnConnectionEvent(gatt.ConnectionEvent{Status: statusOf(err), State: gatt.LinkDisconnected})
		return
	}
	b.client = cln
	b.chars = nil
	b.mu.Unlock()

	go b.watchDisconnect(cln)

	bond := b.probeBond()
	b.debug("BLE: connected", "address", b.cfg.Address, "bond", bond)
	sink.OnConnectionEvent(gatt.ConnectionEvent{Status: gatt.StatusSuccess, State: gatt.LinkConnected, Bond: bond})
}

// probeBond reads the initial bond state and starts watching for changes.
func (b *BLE) probeBond() gatt.BondState {
	probe := b.cfg.BondProbe
	if probe == nil {
		return gatt.BondNone
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.DialTimeout)
	bond, err := probe.BondState(ctx, b.cfg.Address)
	cancel()
	if err != nil {
		b.warn("BLE: bond probe failed", "address", b.cfg.Address, "error", err)
		bond = gatt.BondNone
	}

	watchCtx, stop := context.WithCancel(context.Background())
	b.mu.Lock()
	if b.stopWatch != nil {
		b.stopWatch()
	}
	b.stopWatch = stop
	b.mu.Unlock()

	go func() {
		err := probe.Watch(watchCtx, b.cfg.Address, func(s gatt.BondState) {
			b.mu.Lock()
			sink := b.sink
			b.mu.Unlock()
			sink.OnBondStateChanged(s)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			b.warn("BLE: bond watch ended", "address", b.cfg.Address, "error", err)
		}
	}()
	return bond
}

// watchDisconnect reports link loss unless the client was released through
// Disconnect first.
func (b *BLE) watchDisconnect(cln peer) {
	<-cln.Disconnected()

	b.mu.Lock()
	if b.client != cln {
		b.mu.Unlock()
		return
	}
	b.releaseLocked()
	sink := b.sink
	b.mu.Unlock()

	b.debug("BLE: link lost", "address", b.cfg.Address)
	sink.OnConnectionEvent(gatt.ConnectionEvent{Status: gatt.StatusSuccess, State: gatt.LinkDisconnected})
}

func (b *BLE) releaseLocked() {
	b.client = nil
	b.chars = nil
	if b.stopWatch != nil {
		b.stopWatch()
		b.stopWatch = nil
	}
}

// Disconnect releases the link. It never produces a callback.
func (b *BLE) Disconnect() error {
	b.mu.Lock()
	if b.cancelDial != nil {
		b.cancelDial()
	}
	cln := b.client
	b.releaseLocked()
	b.mu.Unlock()

	if cln == nil {
		return nil
	}
	b.debug("BLE: cancelling connection", "address", b.cfg.Address)
	return cln.CancelConnection()
}

// StartDiscovery discovers the peripheral's profile in the background.
func (b *BLE) StartDiscovery() error {
	cln, sink, err := b.current()
	if err != nil {
		return err
	}

	go func() {
		b.opMu.Lock()
		profile, err := cln.DiscoverProfile(true)
		b.opMu.Unlock()
		if err != nil {
			b.warn("BLE: discovery failed", "address", b.cfg.Address, "error", err)
			sink.OnDiscoveryComplete(statusOf(err), nil)
			return
		}

		catalog, chars := catalogFromProfile(profile)
		b.mu.Lock()
		if b.client == cln {
			b.chars = chars
		}
		b.mu.Unlock()

		b.debug("BLE: discovery complete", "characteristics", catalog.Len())
		sink.OnDiscoveryComplete(gatt.StatusSuccess, catalog)
	}()
	return nil
}

// IssueRead reads a characteristic value.
func (b *BLE) IssueRead(tok gatt.Token, id gatt.AttributeID) error {
	cln, sink, c, err := b.resolve(id)
	if err != nil {
		return err
	}

	go func() {
		b.opMu.Lock()
		value, err := cln.ReadCharacteristic(c)
		b.opMu.Unlock()
		sink.OnOperationComplete(gatt.OperationResult{Token: tok, Op: gatt.OpRead, Attribute: id, Status: statusOf(err), Value: value})
	}()
	return nil
}

// IssueWrite writes a characteristic value. Signed writes are not supported
// by the host stack.
func (b *BLE) IssueWrite(tok gatt.Token, id gatt.AttributeID, payload []byte, mode gatt.WriteMode) error {
	if mode == gatt.WriteSigned {
		return gatt.ErrUnsupportedMode
	}
	cln, sink, c, err := b.resolve(id)
	if err != nil {
		return err
	}

	value := append([]byte(nil), payload...)
	go func() {
		b.opMu.Lock()
		err := cln.WriteCharacteristic(c, value, mode == gatt.WriteNoResponse)
		b.opMu.Unlock()
		sink.OnOperationComplete(gatt.OperationResult{Token: tok, Op: gatt.OpWrite, Attribute: id, Status: statusOf(err), Value: value})
	}()
	return nil
}

// IssueDescriptorWrite writes the CCC descriptor of a characteristic. go-ble
// couples the descriptor write with handler registration, so enabling goes
// through Subscribe and disabling through Unsubscribe.
func (b *BLE) IssueDescriptorWrite(tok gatt.Token, id gatt.AttributeID, payload []byte) error {
	cln, sink, c, err := b.resolve(id)
	if err != nil {
		return err
	}
	if c.CCCD == nil {
		return gatt.ErrNoClientConfig
	}

	value := append([]byte(nil), payload...)
	go func() {
		b.opMu.Lock()
		var err error
		if gatt.IsEnabling(value) {
			ind := value[0]&0x02 != 0
			err = cln.Subscribe(c, ind, func(data []byte) {
				sink.OnNotificationReceived(id, append([]byte(nil), data...))
			})
		} else {
			err = cln.Unsubscribe(c, c.Property&ble.CharNotify == 0)
		}
		b.opMu.Unlock()
		sink.OnOperationComplete(gatt.OperationResult{Token: tok, Op: gatt.OpDescriptorWrite, Attribute: id, Status: statusOf(err), Value: value})
	}()
	return nil
}

func (b *BLE) current() (peer, gatt.EventSink, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sink == nil {
		return nil, nil, ErrNotBound
	}
	if b.client == nil {
		return nil, nil, gatt.ErrNotConnected
	}
	return b.client, b.sink, nil
}

func (b *BLE) resolve(id gatt.AttributeID) (peer, gatt.EventSink, *ble.Characteristic, error) {
	cln, sink, err := b.current()
	if err != nil {
		return nil, nil, nil, err
	}
	b.mu.Lock()
	chars := b.chars
	b.mu.Unlock()
	if chars == nil {
		return nil, nil, nil, ErrNoProfile
	}
	c, ok := chars[id]
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: %s", gatt.ErrUnknownAttribute, id)
	}
	return cln, sink, c, nil
}

// catalogFromProfile converts a discovered profile. Characteristics whose
// UUID cannot be parsed are skipped.
func catalogFromProfile(p *ble.Profile) (*gatt.Catalog, map[gatt.AttributeID]*ble.Characteristic) {
	chars := make(map[gatt.AttributeID]*ble.Characteristic)
	var list []gatt.Characteristic
	if p == nil {
		return gatt.NewCatalog(), chars
	}

	for _, s := range p.Services {
		svc, err := gatt.ParseAttributeID(s.UUID.String())
		if err != nil {
			continue
		}
		for _, c := range s.Characteristics {
			id, err := gatt.ParseAttributeID(c.UUID.String())
			if err != nil {
				continue
			}
			chars[id] = c
			list = append(list, gatt.Characteristic{
				ID:              id,
				Service:         svc,
				Properties:      gatt.Property(c.Property),
				HasClientConfig: c.CCCD != nil,
			})
		}
	}
	return gatt.NewCatalog(list...), chars
}

// statusOf maps a go-ble error to a link status.
func statusOf(err error) gatt.Status {
	if err == nil {
		return gatt.StatusSuccess
	}
	var attErr ble.ATTError
	if errors.As(err, &attErr) {
		return gatt.Status(attErr)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return gatt.StatusTimeout
	}
	return gatt.StatusFailure
}

func (b *BLE) debug(msg string, args ...any) {
	if b.cfg.Logger != nil {
		b.cfg.Logger.Debug(msg, args...)
	}
}

func (b *BLE) warn(msg string, args ...any) {
	if b.cfg.Logger != nil {
		b.cfg.Logger.Warn(msg, args...)
	}
}
