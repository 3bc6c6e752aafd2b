package bridge

import (
	"math"
	"strconv"
)

// Forwarder sends a decoded value downstream.
type Forwarder interface {
	Forward(topic string, value float64)
}

// NoopForwarder discards values.
type NoopForwarder struct{}

// Forward discards the value.
func (NoopForwarder) Forward(string, float64) {}

// MultiForwarder fans values out to several forwarders.
type MultiForwarder struct {
	forwarders []Forwarder
}

// NewMultiForwarder creates a MultiForwarder. Nil entries are skipped.
func NewMultiForwarder(forwarders ...Forwarder) *MultiForwarder {
	m := &MultiForwarder{}
	for _, f := range forwarders {
		if f != nil {
			m.forwarders = append(m.forwarders, f)
		}
	}
	return m
}

// Forward sends the value to every forwarder.
func (m *MultiForwarder) Forward(topic string, value float64) {
	for _, f := range m.forwarders {
		f.Forward(topic, value)
	}
}

// FormatValue renders a value as a decimal string with at least one
// fractional digit: 30 becomes "30.0", 21.25 stays "21.25".
func FormatValue(v float64) string {
	if v == math.Trunc(v) && !math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'f', 1, 64)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var (
	_ Forwarder = NoopForwarder{}
	_ Forwarder = (*MultiForwarder)(nil)
)
