package bittorrent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewFailure(t *testing.T) {
	f := NewFailure(CodeInvalidInfoHash)
	require.Equal(t, 150, f.Code)
	require.Equal(t, "Invalid infohash: infohash is not 20 bytes long", f.Reason)

	f = NewFailure(CodeRatioTooLow, 0.5)
	require.Equal(t, "Your total ratio is less than 0.50, can not download anything", f.Reason)

	f = NewFailure(CodeMaxLeech, 2)
	require.Equal(t, "You can not open more than 2 downloading processes on the same torrent", f.Reason)

	f = NewFailure(12345)
	require.Equal(t, CodeGeneric, f.Code)
	require.Equal(t, "Generic error", f.Reason)
}

func TestAsFailure(t *testing.T) {
	f := NewFailure(CodeUserBanned)
	require.Equal(t, f, AsFailure(f))

	var err error = f
	require.Equal(t, "170: your account status is banned", err.Error())

	require.Equal(t, CodeGeneric, AsFailure(errors.New("storage down")).Code)
}
