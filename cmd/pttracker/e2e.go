package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/anacrolix/torrent/tracker"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/pttracker/pttracker/bittorrent"
	"github.com/pttracker/pttracker/pkg/log"
)

// EndToEndRunCmdFunc implements a Cobra command that runs the end-to-end test
// suite against a running tracker.
//
// The tracker must know two users and a reviewed torrent; the seed file of
// the tracker is the usual way to provide them.
func EndToEndRunCmdFunc(cmd *cobra.Command, args []string) error {
	delay, err := cmd.Flags().GetDuration("delay")
	if err != nil {
		return err
	}

	httpAddr, err := cmd.Flags().GetString("httpaddr")
	if err != nil {
		return err
	}

	passkeys, err := cmd.Flags().GetStringSlice("passkeys")
	if err != nil {
		return err
	}
	if len(passkeys) != 2 {
		return errors.New("exactly two passkeys are required")
	}

	ihHex, err := cmd.Flags().GetString("infohash")
	if err != nil {
		return err
	}
	ih, err := bittorrent.InfoHashFromHexString(ihHex)
	if err != nil {
		return errors.Wrap(err, "invalid infohash")
	}

	log.Info("testing HTTP...", log.Fields{"addr": httpAddr})
	if err := test(strings.TrimRight(httpAddr, "/"), passkeys, ih, delay); err != nil {
		return err
	}
	log.Info("success")

	return nil
}

func announce(url, passkey string, req tracker.AnnounceRequest) (tracker.AnnounceResponse, error) {
	resp, err := tracker.Announce{
		TrackerUrl: url + "/announce/" + passkey,
		Request:    req,
		UserAgent:  "pttracker-e2e",
	}.Do()
	if err != nil {
		return resp, errors.Wrap(err, "announce failed")
	}
	return resp, nil
}

func test(url string, passkeys []string, infoHash bittorrent.InfoHash, delay time.Duration) error {
	first := tracker.AnnounceRequest{
		InfoHash:   infoHash,
		PeerId:     [20]byte{'-', 'P', 'T', '0', '0', '0', '1', '-', 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
		Downloaded: 50,
		Left:       100,
		Uploaded:   50,
		Event:      tracker.Started,
		NumWant:    50,
		Port:       10001,
	}

	if _, err := announce(url, passkeys[0], first); err != nil {
		return err
	}

	time.Sleep(delay)

	second := first
	second.PeerId[19] = 13
	second.Port = 10002

	resp, err := announce(url, passkeys[1], second)
	if err != nil {
		return err
	}

	if len(resp.Peers) != 1 {
		return fmt.Errorf("expected 1 peer, got %d", len(resp.Peers))
	}

	if resp.Peers[0].Port != 10001 {
		return fmt.Errorf("expected port 10001, got %d", resp.Peers[0].Port)
	}

	// Leave the swarm as it was found.
	first.Event, second.Event = tracker.Stopped, tracker.Stopped
	if _, err := announce(url, passkeys[0], first); err != nil {
		return err
	}
	if _, err := announce(url, passkeys[1], second); err != nil {
		return err
	}

	return nil
}
