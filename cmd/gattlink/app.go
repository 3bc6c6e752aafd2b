package main

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smartthermostat/gattlink/pkg/bluez"
	"github.com/smartthermostat/gattlink/pkg/bridge"
	"github.com/smartthermostat/gattlink/pkg/config"
	"github.com/smartthermostat/gattlink/pkg/gatt"
	"github.com/smartthermostat/gattlink/pkg/link"
	gattlog "github.com/smartthermostat/gattlink/pkg/log"
	"github.com/smartthermostat/gattlink/pkg/persistence"
	"github.com/smartthermostat/gattlink/pkg/sequencer"
	"github.com/smartthermostat/gattlink/pkg/session"
	"github.com/smartthermostat/gattlink/pkg/transport"
)

// app owns everything wired around the session.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	session *session.Session

	mqtt     *bridge.MQTTForwarder
	hub      *bridge.Hub
	server   *http.Server
	probe    *bluez.Probe
	trace    *gattlog.FileLogger
	state    *stateRecorder
	shutOnce sync.Once
}

func newApp(ctx context.Context, cfg *config.Config, reset bool, out io.Writer) (*app, error) {
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})),
	}

	if err := a.openState(reset); err != nil {
		a.shutdown()
		return nil, err
	}

	tr, err := a.buildTransport()
	if err != nil {
		a.shutdown()
		return nil, err
	}

	protocolLogger, err := a.buildProtocolLogger(level)
	if err != nil {
		a.shutdown()
		return nil, err
	}

	forwarder := a.buildForwarder(ctx)

	sensors, err := cfg.SensorRegistry()
	if err != nil {
		a.shutdown()
		return nil, err
	}

	scfg := session.DefaultConfig()
	scfg.Transport = tr
	scfg.Peripheral = cfg.Peripheral.Address
	scfg.MaxTries = cfg.Queue.MaxTries
	scfg.OperationTimeout = cfg.Queue.OperationTimeout
	scfg.BondPolicy = link.BondPolicy{BondedSettleDelay: cfg.Peripheral.BondedSettleDelay}
	scfg.Sensors = sensors
	scfg.Forwarder = forwarder
	scfg.AutoReconnect = cfg.Reconnect.Enabled
	scfg.Reconnect = cfg.Backoff()
	scfg.Resubscribe = mergeAttributes(cfg.Subscriptions(), a.state.subscriptions())
	scfg.OnValueUpdated = a.onValue
	scfg.OnConnectionStateChanged = a.onState
	scfg.OnOperationFailed = a.onFailed
	scfg.OnSubscriptionsChanged = a.state.setSubscriptions
	scfg.Logger = a.logger
	scfg.ProtocolLogger = protocolLogger

	a.session, err = session.New(scfg)
	if err != nil {
		a.shutdown()
		return nil, err
	}
	return a, nil
}

func (a *app) openState(reset bool) error {
	a.state = &stateRecorder{}
	if a.cfg.StateFile == "" {
		return nil
	}
	store := persistence.NewStateStore(a.cfg.StateFile)
	if reset {
		log.Println("Resetting persisted state...")
		if err := store.Clear(); err != nil {
			log.Printf("Warning: Failed to clear state: %v", err)
		}
	}
	st, err := store.Load()
	if err != nil {
		log.Printf("Warning: Failed to load state: %v", err)
	}
	if st == nil {
		st = &persistence.BridgeState{}
	}
	if st.Peripheral != "" && st.Peripheral != a.cfg.Peripheral.Address {
		log.Printf("Peripheral changed (%s -> %s), dropping saved subscriptions", st.Peripheral, a.cfg.Peripheral.Address)
		st = &persistence.BridgeState{}
	}
	st.Peripheral = a.cfg.Peripheral.Address
	a.state = &stateRecorder{store: store, state: st}
	log.Printf("Using state file: %s", a.cfg.StateFile)
	return nil
}

func (a *app) buildTransport() (gatt.Transport, error) {
	p := a.cfg.Peripheral
	if p.Transport == config.TransportSim {
		simCfg := transport.DefaultSimConfig()
		simCfg.Logger = a.logger
		return transport.NewSim(simCfg), nil
	}

	if err := transport.OpenDefaultDevice(p.DialTimeout); err != nil {
		return nil, err
	}
	bcfg := transport.BLEConfig{
		Address:     p.Address,
		DialTimeout: p.DialTimeout,
		Logger:      a.logger,
	}
	if p.BondProbe == config.BondProbeBlueZ {
		probe, err := bluez.NewProbe(p.Adapter, a.logger)
		if err != nil {
			log.Printf("Warning: bond probe unavailable: %v", err)
		} else {
			a.probe = probe
			bcfg.BondProbe = probe
		}
	}
	return transport.NewBLE(bcfg)
}

func (a *app) buildProtocolLogger(level slog.Level) (gattlog.Logger, error) {
	var loggers []gattlog.Logger
	if path := a.cfg.Log.ProtocolLog; path != "" {
		fl, err := gattlog.NewFileLogger(path)
		if err != nil {
			return nil, err
		}
		a.trace = fl
		loggers = append(loggers, fl)
		log.Printf("Protocol logging to: %s", path)
	}
	if level <= slog.LevelDebug {
		loggers = append(loggers, gattlog.NewSlogAdapter(a.logger))
	}
	if len(loggers) == 0 {
		return nil, nil
	}
	return gattlog.NewMultiLogger(loggers...), nil
}

// buildForwarder wires MQTT and the WebSocket hub. Failures are logged and
// the affected sink is left out.
func (a *app) buildForwarder(ctx context.Context) bridge.Forwarder {
	var sinks []bridge.Forwarder

	if fwd := a.buildMQTT(ctx); fwd != nil {
		a.mqtt = fwd
		sinks = append(sinks, fwd)
	}

	if listen := a.cfg.WebSocket.Listen; listen != "" {
		a.hub = bridge.NewHub(a.logger)
		mux := http.NewServeMux()
		mux.Handle("/ws", a.hub)
		a.server = &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("WebSocket server stopped: %v", err)
			}
		}()
		log.Printf("WebSocket feed on ws://%s/ws", listen)
		sinks = append(sinks, a.hub)
	}

	if len(sinks) == 0 {
		return bridge.NoopForwarder{}
	}
	return bridge.NewMultiForwarder(sinks...)
}

func (a *app) buildMQTT(ctx context.Context) *bridge.MQTTForwarder {
	mc := a.cfg.MQTT
	if mc.Broker == "" {
		return nil
	}

	broker := mc.Broker
	if broker == config.BrokerAuto {
		log.Println("Browsing for an MQTT broker...")
		url, err := bridge.DiscoverBroker(ctx, bridge.DiscoveryConfig{Timeout: mc.DiscoveryTimeout})
		if err != nil {
			log.Printf("Warning: broker discovery failed: %v", err)
			return nil
		}
		broker = url
	}

	mcfg := bridge.DefaultMQTTConfig()
	mcfg.Broker = broker
	if mc.ClientID != "" {
		mcfg.ClientID = mc.ClientID
	}
	mcfg.Username = mc.Username
	mcfg.Password = mc.Password
	mcfg.QoS = mc.QoS
	mcfg.Retained = mc.Retained
	mcfg.Logger = a.logger

	fwd, err := bridge.NewMQTTForwarder(mcfg)
	if err != nil {
		log.Printf("Warning: MQTT disabled: %v", err)
		return nil
	}
	if err := fwd.Connect(ctx); errors.Is(err, bridge.ErrConnectPending) {
		log.Printf("MQTT broker %s not reachable yet, retrying every %s", broker, mcfg.ConnectRetryInterval)
	} else if err != nil {
		log.Printf("Warning: MQTT broker %s: %v", broker, err)
	} else {
		log.Printf("Publishing to MQTT broker %s", broker)
	}
	return fwd
}

func (a *app) onValue(u session.Update) {
	if !u.Decoded {
		return
	}
	a.state.recordValue(u.Attribute, u.Value)
	if u.Changed || u.Source == session.SourceRead {
		log.Printf("[VALUE] %s = %s (%s)", u.Attribute.Short(), bridge.FormatValue(u.Value), u.Source)
	}
}

func (a *app) onState(from, to link.State) {
	log.Printf("[STATE] %s -> %s", from, to)
	if a.hub != nil {
		a.hub.StateChanged(from.String(), to.String())
	}
}

func (a *app) onFailed(tx *sequencer.Transaction, err error) {
	log.Printf("[FAILED] %s %s after %d attempt(s): %v", tx.Kind, tx.Attribute.Short(), tx.Attempts(), err)
}

// shutdown saves state and releases every resource. Safe to call more than
// once.
func (a *app) shutdown() {
	a.shutOnce.Do(func() {
		if a.session != nil {
			if err := a.state.save(); err != nil {
				log.Printf("Warning: Failed to save state: %v", err)
			}
			_ = a.session.RequestDisconnect()
			a.session.Close()
		}
		if a.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = a.server.Shutdown(ctx)
			cancel()
		}
		if a.hub != nil {
			a.hub.Close()
		}
		if a.mqtt != nil {
			published, failed := a.mqtt.Stats()
			log.Printf("MQTT: %d published, %d failed", published, failed)
			a.mqtt.Close()
		}
		if a.probe != nil {
			_ = a.probe.Close()
		}
		if a.trace != nil {
			log.Printf("Protocol log: %d events", a.trace.Written())
			_ = a.trace.Close()
		}
	})
}

// stateRecorder collects state for the persistence store.
type stateRecorder struct {
	mu    sync.Mutex
	store *persistence.StateStore
	state *persistence.BridgeState
}

func (r *stateRecorder) subscriptions() []gatt.AttributeID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.SubscribedAttributes()
}

func (r *stateRecorder) setSubscriptions(ids []gatt.AttributeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != nil {
		r.state.SetSubscriptions(ids)
	}
}

func (r *stateRecorder) recordValue(id gatt.AttributeID, v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != nil {
		r.state.RecordValue(id, v, time.Now())
	}
}

func (r *stateRecorder) save() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store == nil || r.state == nil {
		return nil
	}
	r.state.SavedAt = time.Time{}
	return r.store.Save(r.state)
}

// mergeAttributes concatenates lists without duplicates, keeping order.
func mergeAttributes(lists ...[]gatt.AttributeID) []gatt.AttributeID {
	seen := make(map[gatt.AttributeID]bool)
	var out []gatt.AttributeID
	for _, l := range lists {
		for _, id := range l {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

// redirectWriter lets log output move to the readline console once it exists.
type redirectWriter struct {
	w atomic.Pointer[io.Writer]
}

func newRedirectWriter(w io.Writer) *redirectWriter {
	r := &redirectWriter{}
	r.Set(w)
	return r
}

func (r *redirectWriter) Set(w io.Writer) {
	r.w.Store(&w)
}

func (r *redirectWriter) Write(p []byte) (int, error) {
	return (*r.w.Load()).Write(p)
}
