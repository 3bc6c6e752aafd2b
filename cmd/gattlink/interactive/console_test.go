package interactive

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartthermostat/gattlink/pkg/gatt"
	"github.com/smartthermostat/gattlink/pkg/link"
	"github.com/smartthermostat/gattlink/pkg/session"
	"github.com/smartthermostat/gattlink/pkg/transport"
)

func startConsole(t *testing.T) (*Console, *session.Session, *transport.Sim, *bytes.Buffer) {
	t.Helper()
	simCfg := transport.DefaultSimConfig()
	simCfg.Latency = 0
	simCfg.NotifyInterval = 0
	sim := transport.NewSim(simCfg)

	cfg := session.DefaultConfig()
	cfg.Transport = sim
	sess, err := session.New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sess.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	out := &bytes.Buffer{}
	c := newConsole(sess, out)
	c.timeout = 2 * time.Second
	return c, sess, sim, out
}

func connect(t *testing.T, c *Console, sess *session.Session) {
	t.Helper()
	require.True(t, c.Execute(context.Background(), "connect"))
	require.Eventually(t, func() bool { return sess.State() == link.StateReady }, 2*time.Second, 5*time.Millisecond)
}

func TestConsoleReadAndNotify(t *testing.T) {
	c, sess, _, out := startConsole(t)
	connect(t, c, sess)
	ctx := context.Background()

	c.Execute(ctx, "read 2a6e")
	assert.Contains(t, out.String(), "2a6e = 6608")

	out.Reset()
	c.Execute(ctx, "values")
	assert.Contains(t, out.String(), "2a6e = 21.50")

	out.Reset()
	c.Execute(ctx, "notify 2a6e on")
	assert.Contains(t, out.String(), "Notifications enabled for 2a6e")

	out.Reset()
	c.Execute(ctx, "subs")
	assert.Contains(t, out.String(), "Active subscriptions (1)")

	out.Reset()
	c.Execute(ctx, "catalog")
	assert.Contains(t, out.String(), "2a6e  service 181a")
	assert.Contains(t, out.String(), "[ccc]")
}

func TestConsoleWriteRejectedByCapability(t *testing.T) {
	c, sess, _, out := startConsole(t)
	connect(t, c, sess)

	c.Execute(context.Background(), "write 2a6e 0102")
	// The characteristic is not writable, so the request is refused up front.
	assert.Contains(t, out.String(), "Write rejected")
}

func TestConsoleReadRetriesInjectedFailures(t *testing.T) {
	c, sess, sim, out := startConsole(t)
	connect(t, c, sess)

	sim.FailNext(gatt.TemperatureCharacteristic, 2)
	c.Execute(context.Background(), "read 2a6e")
	assert.Contains(t, out.String(), "3 attempt(s)")
}

func TestConsoleStatusAndDisconnect(t *testing.T) {
	c, sess, _, out := startConsole(t)
	connect(t, c, sess)
	ctx := context.Background()

	c.Execute(ctx, "status")
	assert.Contains(t, out.String(), "State:           READY")
	assert.Contains(t, out.String(), "Bond:            BONDED")

	out.Reset()
	c.Execute(ctx, "disconnect")
	assert.Contains(t, out.String(), "Disconnected")
	assert.Equal(t, link.StateDisconnected, sess.State())

	out.Reset()
	c.Execute(ctx, "read 2a6e")
	assert.Contains(t, out.String(), "Read rejected")
}

func TestConsoleUsageErrors(t *testing.T) {
	c, _, _, out := startConsole(t)
	ctx := context.Background()

	tests := []struct {
		line string
		want string
	}{
		{"read", "Usage: read"},
		{"read zz", "Invalid attribute"},
		{"write 2a6e", "Usage: write"},
		{"write 2a6e xyz", "Invalid hex payload"},
		{"write 2a6e 01 loud", "Invalid write mode"},
		{"notify 2a6e maybe", "Expected on or off"},
		{"frobnicate", "Unknown command: frobnicate"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			out.Reset()
			assert.True(t, c.Execute(ctx, tt.line))
			assert.Contains(t, out.String(), tt.want)
		})
	}

	assert.True(t, c.Execute(ctx, "   "))
	assert.False(t, c.Execute(ctx, "quit"))
}
