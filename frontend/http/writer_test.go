package http

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pttracker/pttracker/bittorrent"
	"github.com/pttracker/pttracker/bittorrent/bencode"
)

func TestWriteError(t *testing.T) {
	var table = []struct {
		err      error
		expected string
	}{
		{bittorrent.NewFailure(bittorrent.CodeMissingPasskey), "d14:failure reason15:Missing passkey12:failure codei104ee"},
		{bittorrent.NewFailure(bittorrent.CodeMaxLeech, 1), "d14:failure reason70:You can not open more than 1 downloading processes on the same torrent12:failure codei180ee"},
		{errors.New("connection refused"), "d14:failure reason13:Generic error12:failure codei900ee"},
	}

	for _, tt := range table {
		r := httptest.NewRecorder()
		require.Nil(t, WriteError(r, tt.err))
		require.Equal(t, 200, r.Code)
		require.Equal(t, tt.expected, r.Body.String())
	}
}

func decode(t *testing.T, body []byte) bencode.Dict {
	t.Helper()
	v, err := bencode.Unmarshal(body)
	require.Nil(t, err)
	d, ok := v.(bencode.Dict)
	require.True(t, ok)
	return d
}

func TestWriteCompactAnnounce(t *testing.T) {
	resp := &bittorrent.AnnounceResponse{
		Interval:   30 * time.Minute,
		Complete:   2,
		Incomplete: 1,
		Downloaded: 5,
		Compact:    true,
		Peers: []bittorrent.Peer{
			{IP: "10.0.0.1", Port: 6881},
			{IP: "192.168.1.2", Port: 51413},
		},
	}

	r := httptest.NewRecorder()
	require.Nil(t, WriteAnnounceResponse(r, resp))

	expected := "d8:intervali1800e8:completei2e10:incompletei1e10:downloadedi5e5:peers12:" +
		"\x0a\x00\x00\x01\x1a\xe1" + "\xc0\xa8\x01\x02\xc8\xd5" + "e"
	require.Equal(t, expected, r.Body.String())

	peers := decode(t, r.Body.Bytes())["peers"].(string)
	require.Zero(t, len(peers)%compactPeerSize)
}

func TestWriteDictionaryAnnounce(t *testing.T) {
	id := bittorrent.PeerIDFromString("-qB4500-000000000001")
	resp := &bittorrent.AnnounceResponse{
		Interval: time.Minute,
		Compact:  true,
		Peers: []bittorrent.Peer{
			{ID: id, IP: "10.0.0.1", Port: 1},
			{ID: id, IP: "2001:db8::1", Port: 2},
		},
	}

	r := httptest.NewRecorder()
	require.Nil(t, WriteAnnounceResponse(r, resp))
	d := decode(t, r.Body.Bytes())
	peers := d["peers"].(bencode.List)
	require.Len(t, peers, 2, "an IPv6 peer disables the compact blob")

	first := peers[0].(bencode.Dict)
	require.Equal(t, id.RawString(), first["peer id"])
	require.Equal(t, "10.0.0.1", first["ip"])
	require.Equal(t, int64(1), first["port"])

	v, err := bencode.UnmarshalOrdered(r.Body.Bytes())
	require.Nil(t, err)
	reply := v.(*bencode.OrderedDict)
	require.Equal(t, []string{"interval", "complete", "incomplete", "downloaded", "peers"}, reply.Keys())
	ordered, _ := reply.Get("peers")
	require.Equal(t, []string{"peer id", "ip", "port"}, ordered.(bencode.List)[1].(*bencode.OrderedDict).Keys())

	resp.NoPeerID = true
	r = httptest.NewRecorder()
	require.Nil(t, WriteAnnounceResponse(r, resp))
	peers = decode(t, r.Body.Bytes())["peers"].(bencode.List)
	_, ok := peers[1].(bencode.Dict)["peer id"]
	require.False(t, ok)
}

func TestWriteScrape(t *testing.T) {
	ih := bittorrent.InfoHashFromString("reviewed-torrent-000")
	resp := &bittorrent.ScrapeResponse{Files: []bittorrent.Scrape{
		{InfoHash: ih, Snatches: 7, Complete: 2, Incomplete: 3},
	}}

	r := httptest.NewRecorder()
	require.Nil(t, WriteScrapeResponse(r, resp))
	require.Equal(t,
		"d5:filesd20:reviewed-torrent-000d8:completei2e10:downloadedi7e10:incompletei3eeee",
		r.Body.String())
}
