package bittorrent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var peerIDTable = []struct {
	name   string
	peerID [20]byte
	raw    string
	hex    string
}{
	{"empty", [20]byte{}, "\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00", "0000000000000000000000000000000000000000"},
	{"real", [20]byte{0x41, 0x5a, 0x32, 0x35, 0x30, 0x30, 0x42, 0x54, 0x65, 0x59, 0x55, 0x7a, 0x79, 0x61, 0x62, 0x41, 0x66, 0x6f, 0x36, 0x55}, "\x41\x5a\x32\x35\x30\x30\x42\x54\x65\x59\x55\x7a\x79\x61\x62\x41\x66\x6f\x36\x55", "415a3235303042546559557a79616241666f3655"},
}

func TestPeerIDString(t *testing.T) {
	for _, tt := range peerIDTable {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.hex, PeerID(tt.peerID).String())
		})
	}
}

func TestPeerIDFromString(t *testing.T) {
	for _, tt := range peerIDTable {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.peerID, [20]byte(PeerIDFromString(tt.raw)))
			require.Equal(t, tt.raw, PeerID(tt.peerID).RawString())
		})
	}
}

func TestPeerIDFromHexString(t *testing.T) {
	for _, tt := range peerIDTable {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.peerID, [20]byte(PeerIDFromHexString(tt.hex)))
		})
	}
}

func TestInfoHashHexRoundTrip(t *testing.T) {
	ih := InfoHashFromString("AZ2500BTeYUzyabAfo6U")
	require.Equal(t, "415a3235303042546559557a79616241666f3655", ih.String())

	parsed, err := InfoHashFromHexString(ih.String())
	require.Nil(t, err)
	require.Equal(t, ih, parsed)

	_, err = InfoHashFromHexString("abc")
	require.NotNil(t, err)
	_, err = InfoHashFromHexString("zz5a3235303042546559557a79616241666f3655")
	require.NotNil(t, err)
}

func TestSeeding(t *testing.T) {
	require.True(t, (&AnnounceRequest{LeftProvided: true}).Seeding())
	require.False(t, (&AnnounceRequest{}).Seeding())
	require.False(t, (&AnnounceRequest{LeftProvided: true, Left: 1}).Seeding())
}

func TestIPFamilies(t *testing.T) {
	require.True(t, IsIPv4("10.0.0.1"))
	require.False(t, IsIPv4("::ffff:10.0.0.1"))
	require.False(t, IsIPv4("2001:db8::1"))
	require.False(t, IsIPv4(""))

	require.True(t, IsIPv6("2001:db8::1"))
	require.False(t, IsIPv6("10.0.0.1"))
	require.False(t, IsIPv6("not an ip"))
}

func TestClientID(t *testing.T) {
	clientTable := []struct{ peerID, clientID string }{
		{"-AZ3034-6wfG2wk6wWLc", "AZ3034"},
		{"-BS5820-oy4La2MWGEFj", "BS5820"},
		{"-TR0960-6ep6svaa61r4", "TR0960"},
		{"-UT2300-MNu93JKnm930", "UT2300"},
		{"-A~0010-a9mn9DFkj39J", "A~0010"},

		{"T03A0----f089kjsdf6e", "T03A0-"},
		{"S58B-----nKl34GoNb75", "S58B--"},
		{"M4-4-0--9aa757Efd5Bl", "M4-4-0"},

		{"AZ2500BTeYUzyabAfo6U", "AZ2500"}, // BitTyrant
		{"exbc0JdSklm834kj9Udf", "exbc0J"}, // Old BitComet
		{"XBT054d-8602Jn83NnF9", "XBT054"}, // XBT
		{"-ML2.7.2-kgjjfkd9762", "ML2.7."}, // MLDonkey
		{"QVOD0054ABFFEDCCDEDB", "QVOD00"}, // Qvod
	}

	for _, tt := range clientTable {
		t.Run(tt.peerID, func(t *testing.T) {
			require.Equal(t, tt.clientID, PeerIDFromString(tt.peerID).ClientID().String())
		})
	}
}
