package http

import (
	"net"
	"net/http"

	"github.com/pttracker/pttracker/bittorrent"
	"github.com/pttracker/pttracker/bittorrent/bencode"
	"github.com/pttracker/pttracker/pkg/log"
)

// compactPeerSize is the length of one peer in a compact peer list: four
// bytes of IPv4 address and two bytes of port, big endian.
const compactPeerSize = 6

func writeHeader(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
}

// WriteError communicates an error to a BitTorrent client over HTTP.
//
// Errors that are not a *bittorrent.Failure are logged and reported as the
// generic failure.
func WriteError(w http.ResponseWriter, err error) error {
	if _, ok := err.(*bittorrent.Failure); !ok {
		log.Error("http: internal error", log.Err(err))
	}
	f := bittorrent.AsFailure(err)

	writeHeader(w)
	return bencode.NewEncoder(w).Encode(bencode.NewOrderedDict().
		Set("failure reason", f.Reason).
		Set("failure code", f.Code))
}

// WriteAnnounceResponse communicates the results of an Announce to a
// BitTorrent client over HTTP.
func WriteAnnounceResponse(w http.ResponseWriter, resp *bittorrent.AnnounceResponse) error {
	d := bencode.NewOrderedDict().
		Set("interval", resp.Interval).
		Set("complete", resp.Complete).
		Set("incomplete", resp.Incomplete).
		Set("downloaded", resp.Downloaded)

	if resp.CompactPeers() {
		d.Set("peers", compactPeers(resp.Peers))
	} else {
		peers := make([]*bencode.OrderedDict, 0, len(resp.Peers))
		for _, p := range resp.Peers {
			peers = append(peers, peerDict(p, resp.NoPeerID))
		}
		d.Set("peers", peers)
	}

	writeHeader(w)
	return bencode.NewEncoder(w).Encode(d)
}

// WriteScrapeResponse communicates the results of a Scrape to a BitTorrent
// client over HTTP.
func WriteScrapeResponse(w http.ResponseWriter, resp *bittorrent.ScrapeResponse) error {
	files := bencode.NewDict()
	for _, scrape := range resp.Files {
		files[scrape.InfoHash.RawString()] = bencode.NewOrderedDict().
			Set("complete", scrape.Complete).
			Set("downloaded", scrape.Snatches).
			Set("incomplete", scrape.Incomplete)
	}

	writeHeader(w)
	return bencode.NewEncoder(w).Encode(bencode.NewOrderedDict().Set("files", files))
}

// compactPeers renders IPv4 peers as one contiguous blob. Peers whose
// address cannot be rendered are skipped, so the blob length is always a
// multiple of compactPeerSize.
func compactPeers(peers []bittorrent.Peer) []byte {
	buf := make([]byte, 0, len(peers)*compactPeerSize)
	for _, p := range peers {
		ip := net.ParseIP(p.IP).To4()
		if ip == nil {
			continue
		}
		buf = append(buf, ip...)
		buf = append(buf, byte(p.Port>>8), byte(p.Port&0xff))
	}
	return buf
}

func peerDict(p bittorrent.Peer, noPeerID bool) *bencode.OrderedDict {
	d := bencode.NewOrderedDict()
	if !noPeerID {
		d.Set("peer id", p.ID.RawString())
	}
	return d.Set("ip", p.IP).Set("port", p.Port)
}
