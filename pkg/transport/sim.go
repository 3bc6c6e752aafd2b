package transport

import (
	"encoding/binary"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/smartthermostat/gattlink/pkg/gatt"
)

// Simulated peripheral defaults.
const (
	DefaultSimLatency        = 20 * time.Millisecond
	DefaultSimNotifyInterval = 2 * time.Second
	DefaultSimTemperature    = 21.5
)

// SimConfig configures a simulated peripheral.
type SimConfig struct {
	// Catalog is what discovery returns. Nil uses DefaultSimCatalog.
	Catalog *gatt.Catalog

	// Bond is reported on connect. BondBonding completes to BondBonded after
	// BondDelay.
	Bond      gatt.BondState
	BondDelay time.Duration

	// Latency delays every callback.
	Latency time.Duration

	// NotifyInterval is the period of temperature notifications while the
	// temperature characteristic is subscribed. Zero disables them.
	NotifyInterval time.Duration

	// Temperature is the initial temperature in degrees Celsius.
	Temperature float64

	// Logger for operational logging. Nil disables logging.
	Logger *slog.Logger
}

// DefaultSimConfig returns a bonded thermometer that notifies every 2s.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		Bond:           gatt.BondBonded,
		Latency:        DefaultSimLatency,
		NotifyInterval: DefaultSimNotifyInterval,
		Temperature:    DefaultSimTemperature,
	}
}

// DefaultSimCatalog is an Environmental Sensing service with a readable,
// notifiable temperature characteristic.
func DefaultSimCatalog() *gatt.Catalog {
	return gatt.NewCatalog(gatt.Characteristic{
		ID:              gatt.TemperatureCharacteristic,
		Service:         gatt.EnvironmentalSensingService,
		Properties:      gatt.PropRead | gatt.PropNotify,
		HasClientConfig: true,
	})
}

// EncodeTemperature encodes degrees Celsius the way the temperature
// characteristic carries them: uint16 little-endian hundredths.
func EncodeTemperature(celsius float64) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(math.Round(celsius*100)))
	return b
}

// Sim is an in-process peripheral implementing gatt.Transport.
type Sim struct {
	cfg     SimConfig
	catalog *gatt.Catalog

	mu         sync.Mutex
	sink       gatt.EventSink
	connected  bool
	discovered bool
	values     map[gatt.AttributeID][]byte
	subscribed map[gatt.AttributeID]bool
	failures   map[gatt.AttributeID]int
	temp       float64
	step       float64
	stop       chan struct{}
}

var _ gatt.Transport = (*Sim)(nil)

// NewSim creates a simulated peripheral.
func NewSim(cfg SimConfig) *Sim {
	catalog := cfg.Catalog
	if catalog == nil {
		catalog = DefaultSimCatalog()
	}
	s := &Sim{
		cfg:        cfg,
		catalog:    catalog,
		values:     make(map[gatt.AttributeID][]byte),
		subscribed: make(map[gatt.AttributeID]bool),
		failures:   make(map[gatt.AttributeID]int),
		temp:       cfg.Temperature,
		step:       0.5,
	}
	s.values[gatt.TemperatureCharacteristic] = EncodeTemperature(cfg.Temperature)
	return s
}

// Bind installs the event sink.
func (s *Sim) Bind(sink gatt.EventSink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

// SetValue replaces the stored value of a characteristic.
func (s *Sim) SetValue(id gatt.AttributeID, value []byte) {
	s.mu.Lock()
	s.values[id] = append([]byte(nil), value...)
	s.mu.Unlock()
}

// Value returns the stored value of a characteristic.
func (s *Sim) Value(id gatt.AttributeID) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.values[id]...)
}

// FailNext makes the next n operations on id complete with StatusFailure.
func (s *Sim) FailNext(id gatt.AttributeID, n int) {
	s.mu.Lock()
	s.failures[id] = n
	s.mu.Unlock()
}

// Connected reports whether the simulated link is up.
func (s *Sim) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Subscribed reports whether notifications are enabled for id.
func (s *Sim) Subscribed(id gatt.AttributeID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed[id]
}

// Connect brings the simulated link up.
func (s *Sim) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sink == nil {
		return ErrNotBound
	}
	if s.connected {
		return ErrBusy
	}
	s.connected = true
	s.stop = make(chan struct{})

	bond := s.cfg.Bond
	s.later(func(sink gatt.EventSink) {
		sink.OnConnectionEvent(gatt.ConnectionEvent{Status: gatt.StatusSuccess, State: gatt.LinkConnected, Bond: bond})
	})
	if bond == gatt.BondBonding {
		stop := s.stop
		time.AfterFunc(s.cfg.Latency+s.cfg.BondDelay, func() {
			select {
			case <-stop:
				return
			default:
			}
			s.mu.Lock()
			sink := s.sink
			s.mu.Unlock()
			sink.OnBondStateChanged(gatt.BondBonded)
		})
	}
	if s.cfg.NotifyInterval > 0 {
		go s.notifyLoop(s.stop, s.cfg.NotifyInterval)
	}
	s.debug("Sim: connected", "bond", bond)
	return nil
}

// Disconnect brings the link down without a callback.
func (s *Sim) Disconnect() error {
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
	s.debug("Sim: disconnected")
	return nil
}

// Drop simulates an unrequested link loss.
func (s *Sim) Drop() {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return
	}
	s.resetLocked()
	sink := s.sink
	s.mu.Unlock()

	s.debug("Sim: link dropped")
	go sink.OnConnectionEvent(gatt.ConnectionEvent{Status: gatt.StatusSuccess, State: gatt.LinkDisconnected})
}

func (s *Sim) resetLocked() {
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.connected = false
	s.discovered = false
	clear(s.subscribed)
}

// StartDiscovery reports the configured catalog.
func (s *Sim) StartDiscovery() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return gatt.ErrNotConnected
	}
	s.discovered = true
	catalog := s.catalog
	s.later(func(sink gatt.EventSink) {
		sink.OnDiscoveryComplete(gatt.StatusSuccess, catalog)
	})
	return nil
}

// IssueRead completes with the stored value.
func (s *Sim) IssueRead(tok gatt.Token, id gatt.AttributeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.lookupLocked(id)
	if err != nil {
		return err
	}
	status := gatt.StatusSuccess
	if !c.CanRead() {
		status = gatt.StatusReadNotPermitted
	}
	status = s.injectLocked(id, status)
	value := append([]byte(nil), s.values[id]...)
	s.later(func(sink gatt.EventSink) {
		sink.OnOperationComplete(gatt.OperationResult{Token: tok, Op: gatt.OpRead, Attribute: id, Status: status, Value: value})
	})
	return nil
}

// IssueWrite stores the written value.
func (s *Sim) IssueWrite(tok gatt.Token, id gatt.AttributeID, payload []byte, mode gatt.WriteMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.lookupLocked(id)
	if err != nil {
		return err
	}
	status := gatt.StatusSuccess
	if !c.CanWrite(mode) {
		status = gatt.StatusWriteNotPermitted
	}
	status = s.injectLocked(id, status)
	value := append([]byte(nil), payload...)
	if status.OK() {
		s.values[id] = value
	}
	s.later(func(sink gatt.EventSink) {
		sink.OnOperationComplete(gatt.OperationResult{Token: tok, Op: gatt.OpWrite, Attribute: id, Status: status, Value: value})
	})
	return nil
}

// IssueDescriptorWrite enables or disables notifications for id.
func (s *Sim) IssueDescriptorWrite(tok gatt.Token, id gatt.AttributeID, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.lookupLocked(id)
	if err != nil {
		return err
	}
	if !c.HasClientConfig {
		return gatt.ErrNoClientConfig
	}
	status := s.injectLocked(id, gatt.StatusSuccess)
	value := append([]byte(nil), payload...)
	if status.OK() {
		if gatt.IsEnabling(value) {
			s.subscribed[id] = true
		} else {
			delete(s.subscribed, id)
		}
	}
	s.later(func(sink gatt.EventSink) {
		sink.OnOperationComplete(gatt.OperationResult{Token: tok, Op: gatt.OpDescriptorWrite, Attribute: id, Status: status, Value: value})
	})
	return nil
}

// Notify pushes a notification for id if it is subscribed.
func (s *Sim) Notify(id gatt.AttributeID, payload []byte) bool {
	s.mu.Lock()
	if !s.connected || !s.subscribed[id] {
		s.mu.Unlock()
		return false
	}
	s.values[id] = append([]byte(nil), payload...)
	value := append([]byte(nil), payload...)
	s.later(func(sink gatt.EventSink) {
		sink.OnNotificationReceived(id, value)
	})
	s.mu.Unlock()
	return true
}

// notifyLoop drifts the temperature between 18 and 26 degrees and notifies it.
func (s *Sim) notifyLoop(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.temp += s.step
			if s.temp >= 26 || s.temp <= 18 {
				s.step = -s.step
			}
			temp := s.temp
			s.mu.Unlock()
			s.Notify(gatt.TemperatureCharacteristic, EncodeTemperature(temp))
		}
	}
}

func (s *Sim) lookupLocked(id gatt.AttributeID) (gatt.Characteristic, error) {
	if !s.connected {
		return gatt.Characteristic{}, gatt.ErrNotConnected
	}
	if !s.discovered {
		return gatt.Characteristic{}, ErrNoProfile
	}
	c, ok := s.catalog.Lookup(id)
	if !ok {
		return gatt.Characteristic{}, gatt.ErrUnknownAttribute
	}
	return c, nil
}

func (s *Sim) injectLocked(id gatt.AttributeID, status gatt.Status) gatt.Status {
	if n := s.failures[id]; n > 0 {
		s.failures[id] = n - 1
		return gatt.StatusFailure
	}
	return status
}

// later delivers fn on its own goroutine after the configured latency.
// Callbacks are dropped when the link went down in the meantime.
func (s *Sim) later(fn func(gatt.EventSink)) {
	sink := s.sink
	stop := s.stop
	time.AfterFunc(s.cfg.Latency, func() {
		select {
		case <-stop:
			return
		default:
		}
		fn(sink)
	})
}

func (s *Sim) debug(msg string, args ...any) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Debug(msg, args...)
	}
}
