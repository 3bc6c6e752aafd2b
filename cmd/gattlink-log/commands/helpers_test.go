package commands

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smartthermostat/gattlink/pkg/log"
)

var baseTime = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.glog")

	logger, err := log.NewFileLogger(path)
	require.NoError(t, err)
	for _, e := range events {
		logger.Log(e)
	}
	require.NoError(t, logger.Close())
	return path
}

func statusPtr(s uint16) *uint16 { return &s }

func valuePtr(v float64) *float64 { return &v }

// sampleTrace is one read that needed a retry, a subscription and a
// notification, followed by link loss.
func sampleTrace() []log.Event {
	const sess = "5f0c1d2e-0000-4000-8000-000000000001"
	return []log.Event{
		{
			Timestamp: baseTime, SessionID: sess, Direction: log.DirectionOut, Category: log.CategoryState,
			StateChange: &log.StateChangeEvent{OldState: "CONNECTING", NewState: "READY", Reason: "discovery complete"},
		},
		{
			Timestamp: baseTime.Add(10 * time.Millisecond), SessionID: sess, Direction: log.DirectionOut, Category: log.CategoryTransaction,
			Transaction: &log.TransactionEvent{ID: 1, Kind: "READ", Attribute: "2a6e", Phase: log.PhaseEnqueued, QueueDepth: 1},
		},
		{
			Timestamp: baseTime.Add(11 * time.Millisecond), SessionID: sess, Direction: log.DirectionOut, Category: log.CategoryTransaction,
			Transaction: &log.TransactionEvent{ID: 1, Kind: "READ", Attribute: "2a6e", Phase: log.PhaseIssued, Attempt: 1, QueueDepth: 1},
		},
		{
			Timestamp: baseTime.Add(30 * time.Millisecond), SessionID: sess, Direction: log.DirectionIn, Category: log.CategoryTransaction,
			Transaction: &log.TransactionEvent{ID: 1, Kind: "READ", Attribute: "2a6e", Phase: log.PhaseRetried, Attempt: 1, Status: statusPtr(0x0101), QueueDepth: 1},
		},
		{
			Timestamp: baseTime.Add(50 * time.Millisecond), SessionID: sess, Direction: log.DirectionIn, Category: log.CategoryTransaction,
			Transaction: &log.TransactionEvent{ID: 1, Kind: "READ", Attribute: "2a6e", Phase: log.PhaseCompleted, Attempt: 2, Status: statusPtr(0), Payload: []byte{0xb8, 0x0b}},
		},
		{
			Timestamp: baseTime.Add(2 * time.Second), SessionID: sess, Direction: log.DirectionIn, Category: log.CategoryNotification,
			Notification: &log.NotificationEvent{Attribute: "2a6e", Payload: []byte{0xea, 0x0b}, Value: valuePtr(30.5), Forwarded: true},
		},
		{
			Timestamp: baseTime.Add(3 * time.Second), SessionID: sess, Direction: log.DirectionIn, Category: log.CategoryError,
			Error: &log.ErrorEventData{Message: "link lost", Context: "connection"},
		},
	}
}
