package http

import (
	"context"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pttracker/pttracker/bittorrent"
)

type recordingLogic struct {
	announces []*bittorrent.AnnounceRequest
	scrapes   []*bittorrent.ScrapeRequest
	err       error
}

func (l *recordingLogic) HandleAnnounce(_ context.Context, req *bittorrent.AnnounceRequest) (*bittorrent.AnnounceResponse, error) {
	l.announces = append(l.announces, req)
	if l.err != nil {
		return nil, l.err
	}
	return &bittorrent.AnnounceResponse{Interval: 30 * time.Minute, Compact: req.Compact}, nil
}

func (l *recordingLogic) HandleScrape(_ context.Context, req *bittorrent.ScrapeRequest) (*bittorrent.ScrapeResponse, error) {
	l.scrapes = append(l.scrapes, req)
	return &bittorrent.ScrapeResponse{}, l.err
}

func TestRoutes(t *testing.T) {
	logic := &recordingLogic{}
	h := (&Frontend{logic: logic}).Handler()
	query := "?" + url.Values{
		"info_hash": {testInfoHash},
		"peer_id":   {testPeerID},
		"port":      {"6881"},
		"compact":   {"1"},
	}.Encode()

	for _, path := range []string{
		"/announce/" + testPasskey,
		"/" + testPasskey + "/announce",
	} {
		r := httptest.NewRecorder()
		h.ServeHTTP(r, httptest.NewRequest("GET", path+query, nil))
		require.Equal(t, 200, r.Code)
		require.Equal(t, "d8:intervali1800e8:completei0e10:incompletei0e10:downloadedi0e5:peers0:e", r.Body.String())
	}

	r := httptest.NewRecorder()
	h.ServeHTTP(r, httptest.NewRequest("GET", "/announce"+query+"&passkey="+testPasskey, nil))
	require.Equal(t, 200, r.Code)

	require.Len(t, logic.announces, 3)
	for _, req := range logic.announces {
		require.Equal(t, testPasskey, req.Passkey)
	}

	r = httptest.NewRecorder()
	h.ServeHTTP(r, httptest.NewRequest("GET", "/scrape/"+testPasskey+"?info_hash="+url.QueryEscape(testInfoHash), nil))
	require.Equal(t, "d5:filesdee", r.Body.String())
	require.Len(t, logic.scrapes, 1)
	require.Equal(t, testPasskey, logic.scrapes[0].Passkey)

	r = httptest.NewRecorder()
	h.ServeHTTP(r, httptest.NewRequest("GET", "/favicon.ico", nil))
	require.Equal(t, 404, r.Code)
}

func TestNonGetAnnounce(t *testing.T) {
	h := (&Frontend{logic: &recordingLogic{}}).Handler()

	r := httptest.NewRecorder()
	h.ServeHTTP(r, httptest.NewRequest("POST", "/announce/"+testPasskey, nil))
	require.Equal(t, 200, r.Code)
	require.Contains(t, r.Body.String(), "12:failure codei100e")
}

func TestAnnounceFailuresAreInBand(t *testing.T) {
	logic := &recordingLogic{err: bittorrent.NewFailure(bittorrent.CodeUserBanned)}
	h := (&Frontend{logic: logic}).Handler()

	r := httptest.NewRecorder()
	h.ServeHTTP(r, httptest.NewRequest("GET", "/announce/"+testPasskey+"?info_hash=short&peer_id="+testPeerID+"&port=1", nil))
	require.Equal(t, 200, r.Code)
	require.Contains(t, r.Body.String(), "12:failure codei150e")
	require.Empty(t, logic.announces, "malformed requests never reach the logic")

	r = httptest.NewRecorder()
	h.ServeHTTP(r, httptest.NewRequest("GET", "/announce/"+testPasskey+"?info_hash="+url.QueryEscape(testInfoHash)+"&peer_id="+testPeerID+"&port=1", nil))
	require.Equal(t, "d14:failure reason29:your account status is banned12:failure codei170ee", r.Body.String())
}
