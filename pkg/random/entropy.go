package random

import (
	"encoding/binary"

	"github.com/pttracker/pttracker/bittorrent"
)

// DeriveEntropyFromRequest generates 2*64 bits of pseudo random state from an
// AnnounceRequest and a caller supplied salt.
//
// Calling DeriveEntropyFromRequest multiple times with the same salt yields the
// same values.
func DeriveEntropyFromRequest(req *bittorrent.AnnounceRequest, salt uint64) (uint64, uint64) {
	v0 := binary.BigEndian.Uint64(req.InfoHash[:8]) + binary.BigEndian.Uint64(req.InfoHash[8:16])
	v1 := binary.BigEndian.Uint64(req.PeerID[:8]) + binary.BigEndian.Uint64(req.PeerID[8:16])
	v0 ^= salt
	v1 ^= req.Uploaded + req.Downloaded
	if v0 == 0 && v1 == 0 {
		// An all-zero state never leaves zero.
		v1 = 1
	}
	return v0, v1
}
