package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/smartthermostat/gattlink/pkg/gatt"
)

// StateVersion is the current version of the state file format.
const StateVersion = 1

// BridgeState is the persisted runtime state.
type BridgeState struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	// Peripheral is the address of the last connected peripheral.
	Peripheral string `json:"peripheral,omitempty"`

	// Subscriptions lists characteristics with notifications enabled.
	Subscriptions []string `json:"subscriptions,omitempty"`

	// Values holds the last decoded value per characteristic.
	Values map[string]ValueSnapshot `json:"values,omitempty"`
}

// ValueSnapshot is a decoded value and when it was observed.
type ValueSnapshot struct {
	Value float64   `json:"value"`
	At    time.Time `json:"at"`
}

// SubscribedAttributes parses Subscriptions, skipping invalid entries.
func (s *BridgeState) SubscribedAttributes() []gatt.AttributeID {
	if s == nil {
		return nil
	}
	out := make([]gatt.AttributeID, 0, len(s.Subscriptions))
	for _, raw := range s.Subscriptions {
		if id, err := gatt.ParseAttributeID(raw); err == nil {
			out = append(out, id)
		}
	}
	return out
}

// SetSubscriptions replaces Subscriptions with ids in sorted order.
func (s *BridgeState) SetSubscriptions(ids []gatt.AttributeID) {
	s.Subscriptions = s.Subscriptions[:0]
	for _, id := range ids {
		s.Subscriptions = append(s.Subscriptions, id.String())
	}
	sort.Strings(s.Subscriptions)
}

// RecordValue stores the last value of id.
func (s *BridgeState) RecordValue(id gatt.AttributeID, value float64, at time.Time) {
	if s.Values == nil {
		s.Values = make(map[string]ValueSnapshot)
	}
	s.Values[id.String()] = ValueSnapshot{Value: value, At: at}
}

// StateStore manages persistence of bridge state to a JSON file.
type StateStore struct {
	mu   sync.Mutex
	path string
}

// NewStateStore creates a new state store.
func NewStateStore(path string) *StateStore {
	return &StateStore{path: path}
}

// Path returns the state file path.
func (s *StateStore) Path() string {
	return s.path
}

// Save persists the state to disk. The file is replaced atomically.
func (s *StateStore) Save(state *BridgeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Ensure parent directory exists
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	state.Version = StateVersion
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now()
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// Load reads the state from disk.
// Returns nil, nil if the file doesn't exist (empty state).
func (s *StateStore) Load() (*BridgeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state := &BridgeState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, err
	}

	return state, nil
}

// Clear removes the state file.
func (s *StateStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
