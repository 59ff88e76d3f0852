// Package bittorrent implements the abstractions used to decouple the HTTP
// protocol of a private BitTorrent tracker from the logic of handling
// Announces and Scrapes.
package bittorrent

import (
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/pttracker/pttracker/pkg/log"
)

// PeerID represents a peer ID.
type PeerID [20]byte

// PeerIDFromString creates a PeerID from a raw 20 byte string.
//
// It panics if s is not 20 bytes long.
func PeerIDFromString(s string) PeerID {
	if len(s) != 20 {
		panic("peer ID must be 20 bytes")
	}

	var buf [20]byte
	copy(buf[:], s)
	return PeerID(buf)
}

// PeerIDFromHexString creates a PeerID from a hex string.
//
// It panics if s is not 40 bytes long.
func PeerIDFromHexString(s string) PeerID {
	if len(s) != 40 {
		panic("peer ID must be 40 bytes")
	}

	var buf [20]byte
	if _, err := hex.Decode(buf[:], []byte(s)); err != nil {
		panic("peer ID is not valid hex: " + err.Error())
	}

	return PeerID(buf)
}

// String implements fmt.Stringer, returning a string of hex encoded bytes.
func (p PeerID) String() string {
	var b strings.Builder
	b.Grow(40) // 2 chars * 20 bytes

	w := hex.NewEncoder(&b)
	w.Write(p[:])

	return b.String()
}

// RawString returns the bytes of a PeerID interpreted as a string.
func (p PeerID) RawString() string {
	return string(p[:])
}

// InfoHash represents an infohash.
type InfoHash [20]byte

// InfoHashFromString creates an InfoHash from a raw 20 byte string.
//
// It panics if s is not 20 bytes long.
func InfoHashFromString(s string) InfoHash {
	if len(s) != 20 {
		panic("infohash must be 20 bytes")
	}

	var buf [20]byte
	copy(buf[:], s)
	return InfoHash(buf)
}

// InfoHashFromHexString creates an InfoHash from its storage representation.
func InfoHashFromHexString(s string) (InfoHash, error) {
	var ih InfoHash
	if len(s) != 40 {
		return ih, fmt.Errorf("infohash hex must be 40 bytes, got %d", len(s))
	}

	if _, err := hex.Decode(ih[:], []byte(s)); err != nil {
		return ih, err
	}

	return ih, nil
}

// String implements fmt.Stringer, returning the base16 encoded InfoHash.
// This is the form used to key torrents in storage.
func (i InfoHash) String() string {
	return fmt.Sprintf("%x", i[:])
}

// RawString returns a 20-byte string of the raw bytes of the InfoHash.
func (i InfoHash) RawString() string {
	return string(i[:])
}

// AnnounceRequest represents the parsed, validated parameters of an announce.
//
// It is constructed once by a frontend and never modified afterwards.
type AnnounceRequest struct {
	Event           Event
	InfoHash        InfoHash
	PeerID          PeerID
	Port            uint16
	Uploaded        uint64
	Downloaded      uint64
	Left            uint64
	LeftProvided    bool
	Compact         bool
	NoPeerID        bool
	NumWant         uint32
	NumWantProvided bool

	// IP is the address the request arrived from; IPv4 and IPv6 hold the
	// per-family addresses the peer can be reached on.
	IP   string
	IPv4 string
	IPv6 string

	Passkey   string
	UserAgent string

	Params Params
}

// Seeding reports whether the client claims to have nothing left to
// download.
func (r *AnnounceRequest) Seeding() bool {
	return r.LeftProvided && r.Left == 0
}

// LogFields renders the current request as a set of log fields.
func (r *AnnounceRequest) LogFields() log.Fields {
	return log.Fields{
		"event":      r.Event,
		"infoHash":   r.InfoHash,
		"peerID":     r.PeerID,
		"port":       r.Port,
		"uploaded":   r.Uploaded,
		"downloaded": r.Downloaded,
		"left":       r.Left,
		"compact":    r.Compact,
		"numWant":    r.NumWant,
		"client":     r.PeerID.ClientID(),
		"ip":         r.IP,
		"ipv4":       r.IPv4,
		"ipv6":       r.IPv6,
		"userAgent":  r.UserAgent,
	}
}

// Peer is a swarm member as listed in an announce response.
type Peer struct {
	ID   PeerID
	IP   string
	Port uint16
}

// IsIPv6 reports whether the peer is listed with an IPv6 address.
func (p Peer) IsIPv6() bool {
	return IsIPv6(p.IP)
}

// AnnounceResponse represents the parameters used to create an announce
// response.
type AnnounceResponse struct {
	Interval   time.Duration
	Complete   int64
	Incomplete int64
	Downloaded int64

	// Compact and NoPeerID echo the preferences of the request.
	Compact  bool
	NoPeerID bool

	Peers []Peer
}

// CompactPeers reports whether the peers can be rendered as a compact blob,
// which only holds IPv4 addresses.
func (r *AnnounceResponse) CompactPeers() bool {
	if !r.Compact {
		return false
	}
	for _, p := range r.Peers {
		if p.IsIPv6() {
			return false
		}
	}
	return true
}

// LogFields renders the current response as a set of log fields.
func (r *AnnounceResponse) LogFields() log.Fields {
	return log.Fields{
		"interval":   r.Interval,
		"complete":   r.Complete,
		"incomplete": r.Incomplete,
		"downloaded": r.Downloaded,
		"compact":    r.CompactPeers(),
		"peers":      len(r.Peers),
	}
}

// ScrapeRequest represents the parsed parameters from a scrape request.
type ScrapeRequest struct {
	InfoHashes []InfoHash
	Passkey    string
	Params     Params
}

// LogFields renders the current request as a set of log fields.
func (r *ScrapeRequest) LogFields() log.Fields {
	return log.Fields{
		"infoHashes": r.InfoHashes,
	}
}

// ScrapeResponse represents the parameters used to create a scrape response.
//
// The Files are in the same order as the InfoHashes of the request, with
// unknown infohashes omitted.
type ScrapeResponse struct {
	Files []Scrape
}

// LogFields renders the current response as a set of log fields.
func (sr ScrapeResponse) LogFields() log.Fields {
	return log.Fields{
		"files": sr.Files,
	}
}

// Scrape represents the state of a swarm that is returned in a scrape response.
type Scrape struct {
	InfoHash   InfoHash
	Snatches   uint32
	Complete   uint32
	Incomplete uint32
}

// IsIPv6 reports whether s is a textual IPv6 address.
func IsIPv6(s string) bool {
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() == nil
}

// IsIPv4 reports whether s is a textual IPv4 address.
func IsIPv4(s string) bool {
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil && !strings.Contains(s, ":")
}
