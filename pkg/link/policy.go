package link

import (
	"time"

	"github.com/smartthermostat/gattlink/pkg/gatt"
)

// Action is what the session should do after a bond check.
type Action uint8

const (
	// ActionDiscover starts discovery after Decision.Delay.
	ActionDiscover Action = iota
	// ActionWait keeps waiting for a bond-state change.
	ActionWait
)

// Decision is the outcome of a bond check.
type Decision struct {
	Action Action
	Delay  time.Duration
}

// BondPolicy decides when discovery may start on a fresh link.
type BondPolicy struct {
	// BondedSettleDelay is waited before discovery on a bonded peripheral.
	// Some stacks run their own discovery right after link-up on bonded
	// devices and fail a concurrent request.
	BondedSettleDelay time.Duration
}

// DefaultBondPolicy returns a policy without settle delay.
func DefaultBondPolicy() BondPolicy {
	return BondPolicy{}
}

// Decide evaluates bond.
func (p BondPolicy) Decide(bond gatt.BondState) Decision {
	switch bond {
	case gatt.BondBonding:
		return Decision{Action: ActionWait}
	case gatt.BondBonded:
		return Decision{Action: ActionDiscover, Delay: p.BondedSettleDelay}
	default:
		return Decision{Action: ActionDiscover}
	}
}
