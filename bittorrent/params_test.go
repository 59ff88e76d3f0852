package bittorrent

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	testPeerID = "-TEST01-6wfG2wk6wWLc"

	validAnnounceArguments = []url.Values{
		{},
		{"peer_id": {testPeerID}, "port": {"6881"}, "downloaded": {"1234"}, "left": {"4321"}},
		{"peer_id": {testPeerID}, "ipv6": {"2001:db8::1"}, "port": {"6881"}, "downloaded": {"1234"}, "left": {"4321"}},
		{"peer_id": {testPeerID}, "port": {"6881"}, "downloaded": {"1234"}, "left": {"4321"}, "numwant": {"28"}},
		{"peer_id": {testPeerID}, "port": {"6881"}, "downloaded": {"1234"}, "left": {"4321"}, "event": {"stopped"}},
		{"peer_id": {testPeerID}, "port": {"6881"}, "left": {"4321"}, "event": {"started"}, "numwant": {"13"}},
		{"peer_id": {testPeerID}, "port": {"6881"}, "downloaded": {"1234"}, "left": {"4321"}, "no_peer_id": {"1"}},
		{"peer_id": {testPeerID}, "port": {"6881"}, "compact": {"0"}, "no_peer_id": {"1"}, "passkey": {"0123456789abcdef0123456789abcdef"}},
		{"peer_id": {"%3Ckey%3A+0x90%3E"}, "compact": {"1"}},
		{"peer_id": {""}, "compact": {""}},
	}

	invalidQueries = []string{
		"/announce?" + "info_hash=%0%a",
	}

	shouldNotPanicQueries = []string{
		"/annnounce?" + "info_hash=" + testPeerID + "&a",
		"/annnounce?" + "info_hash=" + testPeerID + "&=b?",
	}
)

func mapArrayEqual(boxed map[string][]string, unboxed map[string]string) bool {
	if len(boxed) != len(unboxed) {
		return false
	}

	for mapKey, mapVal := range boxed {
		if len(mapVal) != 1 || mapVal[0] != unboxed[mapKey] {
			return false
		}
	}

	return true
}

func TestParseEmptyURLData(t *testing.T) {
	parsedQuery, err := ParseURLData("")
	require.Nil(t, err)
	require.NotNil(t, parsedQuery)
}

func TestParseValidURLData(t *testing.T) {
	for parseIndex, parseVal := range validAnnounceArguments {
		parsedQueryObj, err := ParseURLData("/announce?" + parseVal.Encode())
		require.Nil(t, err)

		if !mapArrayEqual(parseVal, parsedQueryObj.params) {
			t.Fatalf("Incorrect parse at item %d.\n Expected=%v\n Received=%v\n", parseIndex, parseVal, parsedQueryObj.params)
		}

		require.Equal(t, "/announce", parsedQueryObj.RawPath())
	}
}

func TestParseInvalidURLData(t *testing.T) {
	for parseIndex, parseStr := range invalidQueries {
		parsedQueryObj, err := ParseURLData(parseStr)
		require.NotNil(t, err, "should have produced error at %d", parseIndex)
		require.NotNil(t, parsedQueryObj)
	}
}

func TestParseKeepsPairsAroundMalformedEscape(t *testing.T) {
	q, err := ParseURLData("/announce?info_hash=short&foo=%zz&port=6881&%zz=1")
	require.NotNil(t, err)
	require.Equal(t, []string{"short"}, q.RawInfoHashes())

	port, ok := q.String("port")
	require.True(t, ok)
	require.Equal(t, "6881", port)

	_, ok = q.String("foo")
	require.False(t, ok)
}

func TestParseKeepsMalformedInfoHashRaw(t *testing.T) {
	q, err := ParseURLData("/announce?info_hash=%zzabc")
	require.NotNil(t, err)
	require.Equal(t, []string{"%zzabc"}, q.RawInfoHashes())
}

func TestParseShouldNotPanicURLData(t *testing.T) {
	for _, parseStr := range shouldNotPanicQueries {
		require.NotPanics(t, func() { ParseURLData(parseStr) })
	}
}

func TestRawInfoHashesKeepsEveryLength(t *testing.T) {
	q, err := ParseURLData("/scrape?info_hash=short&info_hash=" + url.QueryEscape(testPeerID))
	require.Nil(t, err)
	require.Equal(t, []string{"short", testPeerID}, q.RawInfoHashes())

	_, ok := q.String("info_hash")
	require.False(t, ok)
}

func TestQueryParamsUint64(t *testing.T) {
	q, err := ParseURLData("/announce?port=6881&left=abc")
	require.Nil(t, err)

	port, err := q.Uint64("port")
	require.Nil(t, err)
	require.Equal(t, uint64(6881), port)

	_, err = q.Uint64("left")
	require.NotNil(t, err)

	_, err = q.Uint64("uploaded")
	require.Equal(t, ErrKeyNotFound, err)
}

func BenchmarkParseQuery(b *testing.B) {
	announceStrings := make([]string, 0)
	for i := range validAnnounceArguments {
		announceStrings = append(announceStrings, validAnnounceArguments[i].Encode())
	}
	b.ResetTimer()
	for bCount := 0; bCount < b.N; bCount++ {
		i := bCount % len(announceStrings)
		parsedQueryObj, err := parseQuery(announceStrings[i])
		if err != nil {
			b.Error(err, i)
			b.Log(parsedQueryObj)
		}
	}
}
