package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// mDNS service type advertised by MQTT brokers.
const (
	MQTTServiceType = "_mqtt._tcp"
	Domain          = "local."
)

// ErrBrokerNotFound is returned when browsing ends without a usable entry.
var ErrBrokerNotFound = errors.New("no mqtt broker found")

type browseFunc func(ctx context.Context, service, domain string, entries, removed chan *zeroconf.ServiceEntry, opts ...zeroconf.ClientOption) error

// DiscoveryConfig configures DiscoverBroker.
type DiscoveryConfig struct {
	// Timeout bounds the browse. Zero means 5s.
	Timeout time.Duration

	// Interface restricts browsing to one network interface.
	Interface string

	browse browseFunc
}

// DiscoverBroker browses for an MQTT broker and returns the URL of the first
// one found, e.g. "tcp://192.168.1.10:1883".
func DiscoverBroker(ctx context.Context, cfg DiscoveryConfig) (string, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	browse := cfg.browse
	if browse == nil {
		browse = func(ctx context.Context, service, domain string, entries, removed chan *zeroconf.ServiceEntry, opts ...zeroconf.ClientOption) error {
			return zeroconf.Browse(ctx, service, domain, entries, removed, opts...)
		}
	}

	var opts []zeroconf.ClientOption
	if cfg.Interface != "" {
		iface, err := net.InterfaceByName(cfg.Interface)
		if err != nil {
			return "", fmt.Errorf("interface %s: %w", cfg.Interface, err)
		}
		opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	errCh := make(chan error, 1)
	go func() {
		errCh <- browse(ctx, MQTTServiceType, Domain, entries, removed, opts...)
	}()

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return "", ErrBrokerNotFound
			}
			if url, ok := brokerURL(entry); ok {
				return url, nil
			}
		case <-removed:
		case err := <-errCh:
			if err != nil {
				return "", fmt.Errorf("browse %s: %w", MQTTServiceType, err)
			}
			errCh = nil
		case <-ctx.Done():
			return "", ErrBrokerNotFound
		}
	}
}

// brokerURL builds a tcp URL from an entry, preferring IPv4.
func brokerURL(entry *zeroconf.ServiceEntry) (string, bool) {
	if entry == nil || entry.Port == 0 {
		return "", false
	}
	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	case entry.HostName != "":
		host = entry.HostName
	default:
		return "", false
	}
	return "tcp://" + net.JoinHostPort(host, strconv.Itoa(int(entry.Port))), true
}
