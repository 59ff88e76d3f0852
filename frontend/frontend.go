// Package frontend defines the contract between a transport serving
// BitTorrent clients and the logic deciding on their requests.
package frontend

import (
	"context"

	"github.com/pttracker/pttracker/bittorrent"
)

// TrackerLogic is the interface used by a frontend in order to generate a
// response from a parsed request.
//
// Every error returned is reported to the client in-band; errors that are
// not a *bittorrent.Failure are reported as the generic failure.
type TrackerLogic interface {
	// HandleAnnounce generates a response for an Announce.
	HandleAnnounce(context.Context, *bittorrent.AnnounceRequest) (*bittorrent.AnnounceResponse, error)

	// HandleScrape generates a response for a Scrape.
	HandleScrape(context.Context, *bittorrent.ScrapeRequest) (*bittorrent.ScrapeResponse, error)
}
