package link

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartthermostat/gattlink/pkg/gatt"
)

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "DISCONNECTED"},
		{StateConnecting, "CONNECTING"},
		{StateBondCheck, "CONNECTED_BOND_CHECK"},
		{StateDiscovering, "DISCOVERING_SERVICES"},
		{StateReady, "READY"},
		{StateDisconnecting, "DISCONNECTING"},
		{State(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTransitionTable(t *testing.T) {
	allStates := []State{StateDisconnected, StateConnecting, StateBondCheck, StateDiscovering, StateReady, StateDisconnecting}
	allInputs := []Input{
		InputConnectRequested, InputLinkEstablished, InputBeginDiscovery, InputDiscoverySucceeded,
		InputDiscoveryFailed, InputLinkDropped, InputDisconnectRequested, InputConnectionError, InputTeardownComplete,
	}

	legal := map[State]map[Input]State{
		StateDisconnected: {InputConnectRequested: StateConnecting},
		StateConnecting: {
			InputLinkEstablished: StateBondCheck, InputLinkDropped: StateDisconnecting,
			InputDisconnectRequested: StateDisconnecting, InputConnectionError: StateDisconnecting,
		},
		StateBondCheck: {
			InputBeginDiscovery: StateDiscovering, InputLinkDropped: StateDisconnecting,
			InputDisconnectRequested: StateDisconnecting, InputConnectionError: StateDisconnecting,
		},
		StateDiscovering: {
			InputDiscoverySucceeded: StateReady, InputDiscoveryFailed: StateDisconnecting,
			InputLinkDropped: StateDisconnecting, InputDisconnectRequested: StateDisconnecting,
			InputConnectionError: StateDisconnecting,
		},
		StateReady: {
			InputLinkDropped: StateDisconnecting, InputDisconnectRequested: StateDisconnecting,
			InputConnectionError: StateDisconnecting,
		},
		StateDisconnecting: {InputTeardownComplete: StateDisconnected},
	}

	for _, from := range allStates {
		for _, in := range allInputs {
			want, wantOK := legal[from][in]
			got, ok := Next(from, in)
			assert.Equal(t, wantOK, ok, "%s + %s", from, in)
			if wantOK {
				assert.Equal(t, want, got, "%s + %s", from, in)
			}
		}
	}
}

func TestMachineHappyPath(t *testing.T) {
	m := NewMachine()
	var seen []State
	m.OnStateChange(func(_, to State, _ Input) { seen = append(seen, to) })

	for _, in := range []Input{InputConnectRequested, InputLinkEstablished, InputBeginDiscovery} {
		_, err := m.Fire(in)
		require.NoError(t, err)
	}
	assert.False(t, m.Ready())
	assert.True(t, m.Connected())

	cat := gatt.NewCatalog(gatt.Characteristic{ID: gatt.TemperatureCharacteristic, Properties: gatt.PropRead})
	m.SetCatalog(cat)
	to, err := m.Fire(InputDiscoverySucceeded)
	require.NoError(t, err)
	assert.Equal(t, StateReady, to)
	assert.True(t, m.Ready())

	_, ok := m.Lookup(gatt.TemperatureCharacteristic)
	assert.True(t, ok)

	assert.Equal(t, []State{StateConnecting, StateBondCheck, StateDiscovering, StateReady}, seen)
}

func TestMachineRejectsInvalidInput(t *testing.T) {
	m := NewMachine()

	_, err := m.Fire(InputDiscoverySucceeded)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateDisconnected, m.State())

	_, err = m.Fire(InputLinkDropped)
	assert.ErrorIs(t, err, ErrInvalidTransition, "nothing to drop while disconnected")
}

func TestMachineTeardownClearsCatalog(t *testing.T) {
	m := NewMachine()
	m.Fire(InputConnectRequested)
	m.Fire(InputLinkEstablished)
	m.SetBond(gatt.BondBonded)
	m.Fire(InputBeginDiscovery)
	m.SetCatalog(gatt.NewCatalog(gatt.Characteristic{ID: gatt.TemperatureCharacteristic}))
	m.Fire(InputDiscoverySucceeded)

	_, err := m.Fire(InputLinkDropped)
	require.NoError(t, err)
	assert.Equal(t, StateDisconnecting, m.State())
	assert.False(t, m.Ready())

	_, err = m.Fire(InputTeardownComplete)
	require.NoError(t, err)
	assert.Nil(t, m.Catalog())
	assert.Equal(t, gatt.BondNone, m.Bond())
	assert.False(t, m.Connected())
}

func TestBondPolicy(t *testing.T) {
	p := BondPolicy{BondedSettleDelay: time.Second}

	assert.Equal(t, Decision{Action: ActionDiscover}, p.Decide(gatt.BondNone))
	assert.Equal(t, Decision{Action: ActionDiscover, Delay: time.Second}, p.Decide(gatt.BondBonded))
	assert.Equal(t, Decision{Action: ActionWait}, p.Decide(gatt.BondBonding))

	assert.Equal(t, time.Duration(0), DefaultBondPolicy().Decide(gatt.BondBonded).Delay)
}

func TestBackoff(t *testing.T) {
	t.Run("Sequence", func(t *testing.T) {
		b := NewBackoff(BackoffConfig{
			Initial:    100 * time.Millisecond,
			Max:        500 * time.Millisecond,
			Multiplier: 2.0,
		})

		expected := []time.Duration{
			100 * time.Millisecond,
			200 * time.Millisecond,
			400 * time.Millisecond,
			500 * time.Millisecond,
			500 * time.Millisecond,
		}
		for i, exp := range expected {
			got, ok := b.Next()
			if !ok || got != exp {
				t.Errorf("Attempt %d: got %v (%v), want %v", i, got, ok, exp)
			}
		}
	})

	t.Run("Jitter", func(t *testing.T) {
		cfg := DefaultBackoffConfig()
		for i := 0; i < 20; i++ {
			b := NewBackoff(cfg)
			d, _ := b.Next()
			if d < InitialBackoff || d > time.Duration(float64(InitialBackoff)*(1+JitterFactor)) {
				t.Fatalf("delay %v out of range", d)
			}
		}
	})

	t.Run("MaxAttempts", func(t *testing.T) {
		b := NewBackoff(BackoffConfig{Initial: time.Millisecond, MaxAttempts: 2})
		_, ok := b.Next()
		assert.True(t, ok)
		_, ok = b.Next()
		assert.True(t, ok)
		_, ok = b.Next()
		assert.False(t, ok)
		assert.Equal(t, 2, b.Attempts())

		b.Reset()
		assert.Equal(t, 0, b.Attempts())
		d, ok := b.Next()
		assert.True(t, ok)
		assert.Equal(t, time.Millisecond, d)
	})
}
