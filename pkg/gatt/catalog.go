package gatt

import "sort"

// Characteristic describes a characteristic found during service discovery.
type Characteristic struct {
	ID         AttributeID
	Service    AttributeID
	Properties Property

	// HasClientConfig is set when the characteristic carries a CCC descriptor.
	HasClientConfig bool
}

// CanRead reports whether the characteristic may be read.
func (c Characteristic) CanRead() bool {
	return c.Properties.Has(PropRead)
}

// CanWrite reports whether the characteristic accepts writes in the given mode.
func (c Characteristic) CanWrite(mode WriteMode) bool {
	return c.Properties.Has(mode.RequiredProperty())
}

// CanSubscribe reports whether notifications or indications can be enabled.
func (c Characteristic) CanSubscribe() bool {
	return c.HasClientConfig && (c.Properties.Has(PropNotify) || c.Properties.Has(PropIndicate))
}

// SubscriptionPayload returns the CCC value to write for enabling or disabling
// the subscription. Notification is preferred over indication when both are
// offered. ok is false when the characteristic cannot be subscribed.
func (c Characteristic) SubscriptionPayload(enable bool) (payload []byte, ok bool) {
	if !c.CanSubscribe() {
		return nil, false
	}
	if !enable {
		return DisableValue, true
	}
	if c.Properties.Has(PropNotify) {
		return EnableNotificationValue, true
	}
	return EnableIndicationValue, true
}

// Catalog is the set of characteristics captured on successful discovery.
// A Catalog is immutable once built.
type Catalog struct {
	chars map[AttributeID]Characteristic
}

// NewCatalog builds a catalog from discovered characteristics. Later entries
// with a duplicate ID replace earlier ones.
func NewCatalog(chars ...Characteristic) *Catalog {
	c := &Catalog{chars: make(map[AttributeID]Characteristic, len(chars))}
	for _, ch := range chars {
		c.chars[ch.ID] = ch
	}
	return c
}

// Lookup returns the characteristic with the given ID.
func (c *Catalog) Lookup(id AttributeID) (Characteristic, bool) {
	if c == nil {
		return Characteristic{}, false
	}
	ch, ok := c.chars[id]
	return ch, ok
}

// Len returns the number of characteristics.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.chars)
}

// Characteristics returns all characteristics ordered by service then ID.
func (c *Catalog) Characteristics() []Characteristic {
	if c == nil {
		return nil
	}
	out := make([]Characteristic, 0, len(c.chars))
	for _, ch := range c.chars {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Service != out[j].Service {
			return out[i].Service < out[j].Service
		}
		return out[i].ID < out[j].ID
	})
	return out
}
