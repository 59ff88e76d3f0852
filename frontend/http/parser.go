package http

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/pttracker/pttracker/bittorrent"
)

// ParseOptions is the configuration used to parse an Announce Request.
//
// If RealIPHeader is not empty string, the value of the first HTTP Header
// with that name is used as the address of the client.
type ParseOptions struct {
	RealIPHeader string
}

// ParseAnnounce parses a bittorrent.AnnounceRequest from an http.Request.
//
// passkey is the passkey found in the route, if any; otherwise the "passkey"
// query parameter is used.
func ParseAnnounce(r *http.Request, passkey string, opts ParseOptions) (*bittorrent.AnnounceRequest, error) {
	if r.Method != http.MethodGet {
		return nil, bittorrent.NewFailure(bittorrent.CodeInvalidRequestType)
	}

	// A malformed escape only fails the request once the required
	// parameters are known to be present and well sized.
	qp, queryErr := bittorrent.ParseURLData(r.RequestURI)

	infoHashes := qp.RawInfoHashes()
	if len(infoHashes) == 0 {
		return nil, bittorrent.NewFailure(bittorrent.CodeMissingInfoHash)
	}
	peerID, ok := qp.String("peer_id")
	if !ok {
		return nil, bittorrent.NewFailure(bittorrent.CodeMissingPeerID)
	}
	if _, ok := qp.String("port"); !ok {
		return nil, bittorrent.NewFailure(bittorrent.CodeMissingPort)
	}
	if len(infoHashes[0]) != 20 {
		return nil, bittorrent.NewFailure(bittorrent.CodeInvalidInfoHash)
	}
	if len(peerID) != 20 {
		return nil, bittorrent.NewFailure(bittorrent.CodeInvalidPeerID)
	}
	if queryErr != nil {
		return nil, bittorrent.NewFailure(bittorrent.CodeGeneric)
	}

	request := &bittorrent.AnnounceRequest{
		InfoHash:  bittorrent.InfoHashFromString(infoHashes[0]),
		PeerID:    bittorrent.PeerIDFromString(peerID),
		Passkey:   passkey,
		UserAgent: r.UserAgent(),
		Params:    qp,
	}
	if request.Passkey == "" {
		request.Passkey, _ = qp.String("passkey")
	}

	eventStr, _ := qp.String("event")
	request.Event = bittorrent.NewEvent(eventStr)

	port, err := strconv.ParseUint(mustString(qp, "port"), 10, 16)
	if err != nil {
		return nil, bittorrent.NewFailure(bittorrent.CodeGeneric)
	}
	request.Port = uint16(port)

	if request.Uploaded, _, err = optionalUint(qp, "uploaded"); err != nil {
		return nil, bittorrent.NewFailure(bittorrent.CodeGeneric)
	}
	if request.Downloaded, _, err = optionalUint(qp, "downloaded"); err != nil {
		return nil, bittorrent.NewFailure(bittorrent.CodeGeneric)
	}
	if request.Left, request.LeftProvided, err = optionalUint(qp, "left"); err != nil {
		return nil, bittorrent.NewFailure(bittorrent.CodeGeneric)
	}

	numWant, provided, err := optionalUint(qp, "numwant")
	if err != nil || numWant > 1<<32-1 {
		return nil, bittorrent.NewFailure(bittorrent.CodeInvalidNumWant)
	}
	request.NumWant, request.NumWantProvided = uint32(numWant), provided

	compact, _ := qp.String("compact")
	request.Compact = compact == "1"
	noPeerID, _ := qp.String("no_peer_id")
	request.NoPeerID = noPeerID == "1"

	if v4, ok := qp.String("ipv4"); ok && bittorrent.IsIPv4(v4) {
		request.IPv4 = v4
	}
	if v6, ok := qp.String("ipv6"); ok && !strings.HasPrefix(strings.ToLower(v6), "fe80") && bittorrent.IsIPv6(v6) {
		request.IPv6 = v6
	}

	// The address the request came from always wins over the one the client
	// claims for the same family.
	request.IP = remoteIP(r, opts.RealIPHeader)
	switch {
	case bittorrent.IsIPv6(request.IP):
		request.IPv6 = request.IP
	case bittorrent.IsIPv4(request.IP):
		request.IPv4 = request.IP
	}

	return request, nil
}

// ParseScrape parses a bittorrent.ScrapeRequest from an http.Request.
func ParseScrape(r *http.Request, passkey string) (*bittorrent.ScrapeRequest, error) {
	if r.Method != http.MethodGet {
		return nil, bittorrent.NewFailure(bittorrent.CodeInvalidRequestType)
	}

	qp, queryErr := bittorrent.ParseURLData(r.RequestURI)

	raw := qp.RawInfoHashes()
	if len(raw) == 0 {
		return nil, bittorrent.NewFailure(bittorrent.CodeMissingInfoHash)
	}

	request := &bittorrent.ScrapeRequest{
		InfoHashes: make([]bittorrent.InfoHash, 0, len(raw)),
		Passkey:    passkey,
		Params:     qp,
	}
	for _, ih := range raw {
		if len(ih) != 20 {
			return nil, bittorrent.NewFailure(bittorrent.CodeInvalidInfoHash)
		}
		request.InfoHashes = append(request.InfoHashes, bittorrent.InfoHashFromString(ih))
	}
	if queryErr != nil {
		return nil, bittorrent.NewFailure(bittorrent.CodeGeneric)
	}
	if request.Passkey == "" {
		request.Passkey, _ = qp.String("passkey")
	}

	return request, nil
}

func mustString(qp *bittorrent.QueryParams, key string) string {
	s, _ := qp.String(key)
	return s
}

// optionalUint parses the unsigned integer named key, reporting whether it
// was present at all. An empty value counts as absent.
func optionalUint(qp *bittorrent.QueryParams, key string) (uint64, bool, error) {
	s, ok := qp.String(key)
	if !ok || s == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// remoteIP determines the address of the client, preferring the configured
// header set by a reverse proxy.
func remoteIP(r *http.Request, realIPHeader string) string {
	if realIPHeader != "" {
		if v := r.Header.Get(realIPHeader); v != "" {
			if i := strings.IndexByte(v, ','); i >= 0 {
				v = v[:i]
			}
			if ip := net.ParseIP(strings.TrimSpace(v)); ip != nil {
				return ip.String()
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4.String()
		}
		return ip.String()
	}
	return ""
}
