package subscription

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/smartthermostat/gattlink/pkg/gatt"
)

func TestTrackerApply(t *testing.T) {
	tr := NewTracker()
	temp := gatt.TemperatureCharacteristic

	assert.False(t, tr.IsSubscribed(temp))

	assert.True(t, tr.Apply(temp, gatt.EnableNotificationValue))
	assert.True(t, tr.IsSubscribed(temp))
	assert.False(t, tr.Apply(temp, gatt.EnableIndicationValue), "already subscribed")

	assert.True(t, tr.Apply(temp, gatt.DisableValue))
	assert.False(t, tr.IsSubscribed(temp))
	assert.False(t, tr.Apply(temp, gatt.DisableValue), "already removed")
}

func TestTrackerEmptyPayloadRemoves(t *testing.T) {
	tr := NewTracker()
	temp := gatt.TemperatureCharacteristic
	tr.Apply(temp, []byte{0x02, 0x00})

	assert.True(t, tr.Apply(temp, nil))
	assert.Equal(t, 0, tr.Len())
}

func TestTrackerSnapshotAndClear(t *testing.T) {
	tr := NewTracker()
	b := gatt.MustParseAttributeID("2a6f")
	a := gatt.TemperatureCharacteristic
	tr.Apply(b, gatt.EnableNotificationValue)
	tr.Apply(a, gatt.EnableNotificationValue)

	assert.Equal(t, []gatt.AttributeID{a, b}, tr.Snapshot())

	tr.Clear()
	assert.Equal(t, 0, tr.Len())
	assert.Empty(t, tr.Snapshot())
}

func TestTrackerConcurrentQueries(t *testing.T) {
	tr := NewTracker()
	temp := gatt.TemperatureCharacteristic

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = tr.IsSubscribed(temp)
			}
		}()
	}
	for j := 0; j < 100; j++ {
		tr.Apply(temp, []byte{byte(j % 2), 0})
	}
	wg.Wait()
}
