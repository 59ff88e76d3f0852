package bittorrent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	var table = []struct {
		data     string
		expected Event
	}{
		{"", None},
		{"NONE", None},
		{"none", None},
		{"started", Started},
		{"STARTED", Started},
		{"stopped", Stopped},
		{"completed", Completed},
		{"paused", None},
		{"notAnEvent", None},
	}

	for _, tt := range table {
		require.Equal(t, tt.expected, NewEvent(tt.data), "event %q", tt.data)
	}
}

func TestEventString(t *testing.T) {
	require.Equal(t, "started", Started.String())
	require.Equal(t, "none", None.String())
	require.Panics(t, func() { _ = Event(42).String() })
}
