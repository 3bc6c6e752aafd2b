package commands

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunFilter(t *testing.T) {
	path := createTestLogFile(t, sampleTrace())

	tests := []struct {
		name string
		opts FilterOptions
		want int
	}{
		{"all", FilterOptions{}, 7},
		{"direction", FilterOptions{Direction: "in"}, 4},
		{"category", FilterOptions{Category: "transaction"}, 4},
		{"attribute", FilterOptions{Attribute: "2a6e", Category: "notification"}, 1},
		{"time window", FilterOptions{TimeStart: "2026-03-14T09:30:01Z", TimeEnd: "2026-03-14T09:30:03Z"}, 1},
		{"session", FilterOptions{SessionID: "other"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			opts.Output = filepath.Join(t.TempDir(), "filtered.glog")

			n, err := RunFilter(path, opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)

			stats, err := Collect(opts.Output)
			require.NoError(t, err)
			assert.Equal(t, tt.want, stats.TotalEvents)
		})
	}
}

func TestRunFilterInvalidOptions(t *testing.T) {
	path := createTestLogFile(t, sampleTrace())
	out := filepath.Join(t.TempDir(), "filtered.glog")

	for _, opts := range []FilterOptions{
		{Output: out, TimeStart: "yesterday"},
		{Output: out, TimeEnd: "tomorrow"},
		{Output: out, Direction: "up"},
		{Output: out, Category: "frame"},
	} {
		_, err := RunFilter(path, opts)
		assert.Error(t, err)
	}
}
