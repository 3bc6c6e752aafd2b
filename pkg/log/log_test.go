package log

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u16(v uint16) *uint16 { return &v }

func txEvent(session, attr string, phase Phase) Event {
	return Event{
		Timestamp: time.Now(),
		SessionID: session,
		Direction: DirectionOut,
		Category:  CategoryTransaction,
		Transaction: &TransactionEvent{
			ID:        1,
			Kind:      "READ",
			Attribute: attr,
			Phase:     phase,
			Attempt:   1,
		},
	}
}

func writeTrace(t *testing.T, events []Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.glog")

	fl, err := NewFileLogger(path)
	require.NoError(t, err)
	for _, e := range events {
		fl.Log(e)
	}
	require.Equal(t, len(events), fl.Written())
	require.NoError(t, fl.Close())
	return path
}

func readAll(t *testing.T, r *Reader) []Event {
	t.Helper()
	var out []Event
	for {
		ev, err := r.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, ev)
	}
}

func TestEncodeDecodeKeepsNanoseconds(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC)
	ev := txEvent("s-1", "2a6e", PhaseCompleted)
	ev.Timestamp = ts
	ev.Transaction.Status = u16(0x0101)
	ev.Transaction.Payload = []byte{0xb8, 0x0b}

	data, err := EncodeEvent(ev)
	require.NoError(t, err)

	got, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.True(t, got.Timestamp.Equal(ts), "timestamp %v != %v", got.Timestamp, ts)
	require.NotNil(t, got.Transaction)
	assert.Equal(t, uint16(0x0101), *got.Transaction.Status)
	assert.Equal(t, []byte{0xb8, 0x0b}, got.Transaction.Payload)
	assert.Nil(t, got.StateChange)
}

func TestFileLoggerAppends(t *testing.T) {
	path := writeTrace(t, []Event{txEvent("s-1", "a", PhaseIssued)})

	fl, err := NewFileLogger(path)
	require.NoError(t, err)
	fl.Log(txEvent("s-1", "a", PhaseCompleted))
	require.NoError(t, fl.Close())
	require.NoError(t, fl.Close(), "second Close must be a no-op")

	fl.Log(txEvent("s-1", "a", PhaseDropped))

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	events := readAll(t, r)
	require.Len(t, events, 2)
	assert.Equal(t, PhaseIssued, events[0].Transaction.Phase)
	assert.Equal(t, PhaseCompleted, events[1].Transaction.Phase)
}

func TestFileLoggerConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.glog")
	fl, err := NewFileLogger(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				fl.Log(txEvent("s", "a", PhaseIssued))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, fl.Close())

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Len(t, readAll(t, r), 200)
}

func TestReaderFilter(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []Event{
		txEvent("s-1", "2a6e", PhaseIssued),
		txEvent("s-2", "2a6e", PhaseIssued),
		{Timestamp: base, SessionID: "s-1", Category: CategoryState, StateChange: &StateChangeEvent{NewState: "READY"}},
		{SessionID: "s-1", Direction: DirectionIn, Category: CategoryNotification, Notification: &NotificationEvent{Attribute: "2a6f"}},
	}
	events[0].Timestamp = base.Add(time.Second)
	events[1].Timestamp = base.Add(2 * time.Second)
	events[3].Timestamp = base.Add(3 * time.Second)
	path := writeTrace(t, events)

	in := DirectionIn
	state := CategoryState

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 4},
		{"session", Filter{SessionID: "s-1"}, 3},
		{"direction", Filter{Direction: &in}, 2},
		{"category", Filter{Category: &state}, 1},
		{"attribute", Filter{Attribute: "2a6e"}, 2},
		{"time window", Filter{TimeStart: ptrTime(base.Add(time.Second)), TimeEnd: ptrTime(base.Add(3 * time.Second))}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewFilteredReader(path, tt.filter)
			require.NoError(t, err)
			defer r.Close()
			assert.Len(t, readAll(t, r), tt.want)
		})
	}
}

func ptrTime(t time.Time) *time.Time { return &t }

func TestReaderMissingFile(t *testing.T) {
	_, err := NewReader(filepath.Join(t.TempDir(), "nope.glog"))
	assert.True(t, os.IsNotExist(err))
}

type captureLogger struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureLogger) Log(e Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func TestMultiLoggerSkipsNil(t *testing.T) {
	a, b := &captureLogger{}, &captureLogger{}
	m := NewMultiLogger(a, nil, b)

	m.Log(txEvent("s", "x", PhaseIssued))

	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}

func TestSlogAdapterWritesAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	a := NewSlogAdapter(logger)

	ev := txEvent("sess-9", "2a6e", PhaseRetried)
	ev.Transaction.Attempt = 3
	a.Log(ev)

	out := buf.String()
	assert.Contains(t, out, "session=sess-9")
	assert.Contains(t, out, "phase=RETRIED")
	assert.Contains(t, out, "attempt=3")

	buf.Reset()
	v := 30.0
	a.Log(Event{SessionID: "s", Category: CategoryNotification, Notification: &NotificationEvent{Attribute: "2a6e", Payload: []byte{0xb8, 0x0b}, Value: &v}})
	assert.Contains(t, buf.String(), "payload=b80b")
	assert.Contains(t, buf.String(), "value=30")
}

func TestStringers(t *testing.T) {
	assert.Equal(t, "OUT", DirectionOut.String())
	assert.Equal(t, "NOTIFICATION", CategoryNotification.String())
	assert.Equal(t, "DROPPED", PhaseDropped.String())
	assert.Equal(t, "UNKNOWN", Phase(99).String())
	assert.Equal(t, "2a6f", EventAttribute(Event{Notification: &NotificationEvent{Attribute: "2a6f"}}))
}
