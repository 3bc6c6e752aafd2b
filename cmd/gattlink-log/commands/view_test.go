package commands

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartthermostat/gattlink/pkg/log"
)

func TestRunView(t *testing.T) {
	path := createTestLogFile(t, sampleTrace())

	var buf bytes.Buffer
	require.NoError(t, RunView(path, ViewFilter{}, &buf))
	out := buf.String()

	assert.Contains(t, out, "2026-03-14T09:30:00.000000Z [session:5f0c1d2e] OUT STATE State")
	assert.Contains(t, out, "CONNECTING -> READY")
	assert.Contains(t, out, "Reason: discovery complete")
	assert.Contains(t, out, "READ RETRIED")
	assert.Contains(t, out, "Status: 0x101")
	assert.Contains(t, out, "Status: 0x00 (success)")
	assert.Contains(t, out, "Payload: b80b")
	assert.Contains(t, out, "Value: 30.50")
	assert.Contains(t, out, "Forwarded: yes")
	assert.Contains(t, out, "Error: link lost")
	assert.Equal(t, 7, strings.Count(out, "[session:"))
}

func TestRunViewFilters(t *testing.T) {
	path := createTestLogFile(t, sampleTrace())

	t.Run("direction", func(t *testing.T) {
		dir := log.DirectionOut
		var buf bytes.Buffer
		require.NoError(t, RunView(path, ViewFilter{Direction: &dir}, &buf))
		assert.Equal(t, 3, strings.Count(buf.String(), "[session:"))
		assert.NotContains(t, buf.String(), " IN ")
	})

	t.Run("category", func(t *testing.T) {
		cat := log.CategoryNotification
		var buf bytes.Buffer
		require.NoError(t, RunView(path, ViewFilter{Category: &cat}, &buf))
		assert.Equal(t, 1, strings.Count(buf.String(), "[session:"))
		assert.Contains(t, buf.String(), "NOTIFICATION Notification")
	})

	t.Run("attribute", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, RunView(path, ViewFilter{Attribute: "2a6e"}, &buf))
		assert.Equal(t, 5, strings.Count(buf.String(), "[session:"))
	})

	t.Run("unknown session", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, RunView(path, ViewFilter{SessionID: "nope"}, &buf))
		assert.Empty(t, buf.String())
	})
}

func TestRunViewMissingFile(t *testing.T) {
	err := RunView("/nonexistent/trace.glog", ViewFilter{}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "failed to open log file")
}

func TestParseFlags(t *testing.T) {
	d, err := ParseDirectionFlag("IN")
	require.NoError(t, err)
	assert.Equal(t, log.DirectionIn, d)

	_, err = ParseDirectionFlag("sideways")
	assert.Error(t, err)

	tests := map[string]log.Category{
		"transaction":  log.CategoryTransaction,
		"tx":           log.CategoryTransaction,
		"state":        log.CategoryState,
		"notify":       log.CategoryNotification,
		"notification": log.CategoryNotification,
		"error":        log.CategoryError,
	}
	for in, want := range tests {
		got, err := ParseCategoryFlag(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err = ParseCategoryFlag("message")
	assert.Error(t, err)
}

func TestShortenSessionID(t *testing.T) {
	assert.Equal(t, "abcdef12", shortenSessionID("abcdef1234567890"))
	assert.Equal(t, "abc", shortenSessionID("abc"))
	assert.Equal(t, "-", shortenSessionID(""))
}
