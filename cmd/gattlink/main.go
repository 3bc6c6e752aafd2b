// Command gattlink bridges a BLE GATT sensor peripheral to MQTT and a
// WebSocket feed.
//
// It connects to one peripheral, waits for bonding to settle, discovers its
// services, subscribes to the configured characteristics and forwards every
// decoded temperature reading. Link loss triggers a reconnect with backoff.
//
// Usage:
//
//	gattlink [flags]
//
// Flags:
//
//	-config string        Configuration file path (YAML)
//	-address string       Peripheral address, overrides the config file
//	-transport string     Transport: ble, sim (overrides the config file)
//	-log-level string     Log level: debug, info, warn, error
//	-protocol-log string  Write the CBOR link trace to this file
//	-state-file string    Persist subscriptions and values to this file
//	-reset                Clear persisted state before starting
//	-interactive          Enable interactive command mode
//
// Examples:
//
//	# Bridge a thermometer to an MQTT broker found over mDNS
//	gattlink -config /etc/gattlink.yaml
//
//	# Try it without hardware
//	gattlink -transport sim -interactive -log-level debug
//
//	# Record a trace for gattlink-log
//	gattlink -address AA:BB:CC:DD:EE:FF -protocol-log link.glog
//
// Interactive Commands:
//
//	connect / disconnect             - Manage the link
//	read <attr>                      - Read a characteristic
//	write <attr> <hex> [mode]        - Write a characteristic
//	notify <attr> on|off             - Toggle notifications
//	status / subs / values / catalog - Inspect the session
//	quit                             - Exit
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/smartthermostat/gattlink/cmd/gattlink/interactive"
	"github.com/smartthermostat/gattlink/pkg/config"
)

// Flags holds the command-line settings.
type Flags struct {
	ConfigFile  string
	Address     string
	Transport   string
	LogLevel    string
	ProtocolLog string
	StateFile   string
	Reset       bool
	Interactive bool
}

var flags Flags

func init() {
	flag.StringVar(&flags.ConfigFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&flags.Address, "address", "", "Peripheral address, overrides the config file")
	flag.StringVar(&flags.Transport, "transport", "", "Transport: ble, sim (overrides the config file)")
	flag.StringVar(&flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.StringVar(&flags.ProtocolLog, "protocol-log", "", "Write the CBOR link trace to this file")
	flag.StringVar(&flags.StateFile, "state-file", "", "Persist subscriptions and values to this file")
	flag.BoolVar(&flags.Reset, "reset", false, "Clear persisted state before starting")
	flag.BoolVar(&flags.Interactive, "interactive", false, "Enable interactive command mode")
}

func main() {
	flag.Parse()
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	cfg, err := loadConfig(flags)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Println("gattlink BLE Sensor Bridge")
	log.Println("==========================")
	log.Printf("Transport: %s", cfg.Peripheral.Transport)
	if cfg.Peripheral.Address != "" {
		log.Printf("Peripheral: %s", cfg.Peripheral.Address)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := newRedirectWriter(os.Stderr)
	log.SetOutput(out)

	app, err := newApp(ctx, cfg, flags.Reset, out)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	runDone := make(chan error, 1)
	go func() { runDone <- app.session.Run(ctx) }()

	if err := app.session.RequestConnect(); err != nil {
		log.Printf("Connect failed: %v", err)
	}

	if flags.Interactive {
		console, err := interactive.New(app.session)
		if err != nil {
			log.Fatalf("Failed to create interactive console: %v", err)
		}
		// Redirect log output through readline to avoid interfering with input
		out.Set(console.Stdout())
		go console.Run(ctx, cancel)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal: %v", sig)
	case <-ctx.Done():
		// Context was cancelled (e.g., by interactive quit command)
	case err := <-runDone:
		log.Printf("Session stopped: %v", err)
	}

	log.Println("Shutting down...")
	app.shutdown()
	cancel()
	log.Println("Goodbye!")
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(f Flags) (*config.Config, error) {
	cfg := config.Default()
	if f.ConfigFile != "" {
		loaded, err := config.Read(f.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}

	if f.Address != "" {
		cfg.Peripheral.Address = f.Address
	}
	if f.Transport != "" {
		cfg.Peripheral.Transport = f.Transport
	}
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.ProtocolLog != "" {
		cfg.Log.ProtocolLog = f.ProtocolLog
	}
	if f.StateFile != "" {
		cfg.StateFile = f.StateFile
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
