package gatt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAttributeID(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want AttributeID
	}{
		{"short", "2a6e", "00002a6e-0000-1000-8000-00805f9b34fb"},
		{"short upper with prefix", "0x2A6E", "00002a6e-0000-1000-8000-00805f9b34fb"},
		{"32-bit", "0000181a", "0000181a-0000-1000-8000-00805f9b34fb"},
		{"full", "00002902-0000-1000-8000-00805F9B34FB", "00002902-0000-1000-8000-00805f9b34fb"},
		{"no dashes", "19b10000e8f2537e4f6cd104768a1214", "19b10000-e8f2-537e-4f6c-d104768a1214"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAttributeID(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseAttributeID("zz")
	assert.Error(t, err)
}

func TestAttributeIDShort(t *testing.T) {
	assert.Equal(t, "2a6e", TemperatureCharacteristic.Short())
	assert.Equal(t, "2902", ClientConfigDescriptor.Short())

	custom := MustParseAttributeID("19b10001-e8f2-537e-4f6c-d104768a1214")
	assert.Equal(t, custom.String(), custom.Short())
}

func TestPropertyString(t *testing.T) {
	assert.Equal(t, "NONE", Property(0).String())
	assert.Equal(t, "READ|NOTIFY", (PropRead | PropNotify).String())
}

func TestCharacteristicCapabilities(t *testing.T) {
	c := Characteristic{ID: TemperatureCharacteristic, Properties: PropRead | PropNotify, HasClientConfig: true}

	assert.True(t, c.CanRead())
	assert.False(t, c.CanWrite(WriteDefault))
	assert.True(t, c.CanSubscribe())

	c.HasClientConfig = false
	assert.False(t, c.CanSubscribe(), "subscription needs a CCC descriptor")
}

func TestWriteModeRequiredProperty(t *testing.T) {
	assert.Equal(t, PropWrite, WriteDefault.RequiredProperty())
	assert.Equal(t, PropWriteNoResponse, WriteNoResponse.RequiredProperty())
	assert.Equal(t, PropSignedWrite, WriteSigned.RequiredProperty())

	m, err := ParseWriteMode("noresp")
	require.NoError(t, err)
	assert.Equal(t, WriteNoResponse, m)

	_, err = ParseWriteMode("bogus")
	assert.Error(t, err)
}

func TestSubscriptionPayload(t *testing.T) {
	t.Run("notify preferred", func(t *testing.T) {
		c := Characteristic{Properties: PropNotify | PropIndicate, HasClientConfig: true}
		p, ok := c.SubscriptionPayload(true)
		require.True(t, ok)
		assert.Equal(t, EnableNotificationValue, p)
	})

	t.Run("indicate only", func(t *testing.T) {
		c := Characteristic{Properties: PropIndicate, HasClientConfig: true}
		p, ok := c.SubscriptionPayload(true)
		require.True(t, ok)
		assert.Equal(t, EnableIndicationValue, p)
	})

	t.Run("disable", func(t *testing.T) {
		c := Characteristic{Properties: PropNotify, HasClientConfig: true}
		p, ok := c.SubscriptionPayload(false)
		require.True(t, ok)
		assert.Equal(t, DisableValue, p)
		assert.False(t, IsEnabling(p))
	})

	t.Run("not subscribable", func(t *testing.T) {
		c := Characteristic{Properties: PropRead}
		_, ok := c.SubscriptionPayload(true)
		assert.False(t, ok)
	})
}

func TestCatalog(t *testing.T) {
	var nilCat *Catalog
	_, ok := nilCat.Lookup(TemperatureCharacteristic)
	assert.False(t, ok)
	assert.Equal(t, 0, nilCat.Len())

	cat := NewCatalog(
		Characteristic{ID: TemperatureCharacteristic, Service: EnvironmentalSensingService, Properties: PropRead},
		Characteristic{ID: MustParseAttributeID("2a6f"), Service: EnvironmentalSensingService, Properties: PropRead},
	)
	assert.Equal(t, 2, cat.Len())

	ch, ok := cat.Lookup(TemperatureCharacteristic)
	require.True(t, ok)
	assert.Equal(t, EnvironmentalSensingService, ch.Service)

	all := cat.Characteristics()
	require.Len(t, all, 2)
	assert.Equal(t, TemperatureCharacteristic, all[0].ID)
}
