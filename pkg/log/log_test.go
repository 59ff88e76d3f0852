package log

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestMergeFielders(t *testing.T) {
	merged := mergeFielders(Fields{"a": 1}, nil, Err(errors.New("boom")))
	require.Equal(t, 1, merged["a"])
	require.Equal(t, "boom", merged["2.error"])
	require.Equal(t, "*errors.errorString", merged["2.type"])
}

func TestDebugGate(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetFormatter(&logrus.JSONFormatter{})
	defer SetDebug(false)

	SetDebug(false)
	Debug("hidden", Fields{"k": "v"})
	require.Zero(t, buf.Len())
	require.False(t, DebugEnabled())

	SetDebug(true)
	Debug("shown", Fields{"k": "v"})
	require.Contains(t, buf.String(), `"k":"v"`)
	require.Contains(t, buf.String(), `"msg":"shown"`)
}
