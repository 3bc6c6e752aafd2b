package subscription

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/smartthermostat/gattlink/pkg/gatt"
)

// Tracker is the set of subscribed attributes. Queries are safe from any
// goroutine; mutation is expected from the session event loop only.
type Tracker struct {
	set mapset.Set[gatt.AttributeID]
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{set: mapset.NewSet[gatt.AttributeID]()}
}

// Apply records a confirmed CCC write for attr. A payload whose first byte is
// nonzero adds the attribute, anything else removes it. It reports whether the
// set changed.
func (t *Tracker) Apply(attr gatt.AttributeID, payload []byte) bool {
	if gatt.IsEnabling(payload) {
		return t.set.Add(attr)
	}
	if !t.set.Contains(attr) {
		return false
	}
	t.set.Remove(attr)
	return true
}

// IsSubscribed reports whether attr has a confirmed subscription.
func (t *Tracker) IsSubscribed(attr gatt.AttributeID) bool {
	return t.set.Contains(attr)
}

// Len returns the number of subscribed attributes.
func (t *Tracker) Len() int {
	return t.set.Cardinality()
}

// Snapshot returns the subscribed attributes in sorted order.
func (t *Tracker) Snapshot() []gatt.AttributeID {
	out := t.set.ToSlice()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clear empties the tracker. Called when the link is torn down.
func (t *Tracker) Clear() {
	t.set.Clear()
}
