package bittorrent

// ClientID represents the part of a PeerID that identifies a Peer's client
// software.
type ClientID [6]byte

// ClientID parses the client software identifier out of the PeerID.
//
// Both the Azureus style ("-AZ2060-...") and the Shadow style ("S58B-...")
// conventions are understood.
func (p PeerID) ClientID() ClientID {
	var cid ClientID
	if p[0] == '-' {
		copy(cid[:], p[1:7])
	} else {
		copy(cid[:], p[:6])
	}

	return cid
}

// String returns the printable client identifier.
func (c ClientID) String() string {
	return string(c[:])
}
