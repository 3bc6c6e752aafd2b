package persistence

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartthermostat/gattlink/pkg/gatt"
)

func TestStateStore(t *testing.T) {
	t.Run("LoadNonExistent", func(t *testing.T) {
		store := NewStateStore(filepath.Join(t.TempDir(), "nonexistent.json"))

		got, err := store.Load()
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("SaveAndLoad", func(t *testing.T) {
		store := NewStateStore(filepath.Join(t.TempDir(), "nested", "state.json"))
		at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		state := &BridgeState{Peripheral: "AA:BB:CC:DD:EE:FF"}
		state.SetSubscriptions([]gatt.AttributeID{gatt.TemperatureCharacteristic})
		state.RecordValue(gatt.TemperatureCharacteristic, 30.5, at)
		require.NoError(t, store.Save(state))

		got, err := store.Load()
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, StateVersion, got.Version)
		assert.False(t, got.SavedAt.IsZero())
		assert.Equal(t, "AA:BB:CC:DD:EE:FF", got.Peripheral)
		assert.Equal(t, []gatt.AttributeID{gatt.TemperatureCharacteristic}, got.SubscribedAttributes())

		snap := got.Values[gatt.TemperatureCharacteristic.String()]
		assert.Equal(t, 30.5, snap.Value)
		assert.True(t, snap.At.Equal(at))
	})

	t.Run("SaveLeavesNoTempFiles", func(t *testing.T) {
		dir := t.TempDir()
		store := NewStateStore(filepath.Join(dir, "state.json"))
		require.NoError(t, store.Save(&BridgeState{}))
		require.NoError(t, store.Save(&BridgeState{Peripheral: "x"}))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("Corrupt", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "state.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

		_, err := NewStateStore(path).Load()
		assert.Error(t, err)
	})

	t.Run("Clear", func(t *testing.T) {
		store := NewStateStore(filepath.Join(t.TempDir(), "state.json"))
		require.NoError(t, store.Clear())
		require.NoError(t, store.Save(&BridgeState{}))
		require.NoError(t, store.Clear())

		got, err := store.Load()
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestSubscribedAttributesSkipsInvalid(t *testing.T) {
	state := &BridgeState{Subscriptions: []string{"2a6e", "nope"}}
	assert.Equal(t, []gatt.AttributeID{gatt.TemperatureCharacteristic}, state.SubscribedAttributes())

	var nilState *BridgeState
	assert.Nil(t, nilState.SubscribedAttributes())
}
