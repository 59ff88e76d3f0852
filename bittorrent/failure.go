package bittorrent

import (
	"fmt"
)

// Failure codes reported in-band to BitTorrent clients.
const (
	CodeInvalidRequestType = 100
	CodeMissingInfoHash    = 101
	CodeMissingPeerID      = 102
	CodeMissingPort        = 103
	CodeMissingPasskey     = 104

	CodeInvalidInfoHash  = 150
	CodeInvalidPeerID    = 151
	CodeInvalidNumWant   = 152
	CodePasskeyLength    = 153
	CodeInvalidPasskey   = 154
	CodeTorrentLookup    = 160
	CodeTorrentNotFound  = 161
	CodeUserBanned       = 170
	CodeUserInactive     = 171
	CodeClientBlacklist  = 172
	CodeTorrentNotReview = 173
	CodeVIPOnly          = 174
	CodeUserIdle         = 175
	CodeSeedNotFinished  = 176

	CodeMaxLeech          = 180
	CodeMaxSeed           = 181
	CodeSavePeer          = 182
	CodeSaveTorrent       = 183
	CodeSavePasskeyUser   = 184
	CodeGetComplete       = 185
	CodeCreateComplete    = 186
	CodeIllegalCompleted  = 187
	CodeHnRWarningBlock   = 190
	CodeHnRCompleteAbsent = 191
	CodeRatioTooLow       = 200

	CodeCompactOnly = 600
	CodeGeneric     = 900
)

// failureReasons holds the human readable reason of every failure code.
//
// Reasons containing verbs are formatted with the arguments given to
// NewFailure.
var failureReasons = map[int]string{
	CodeInvalidRequestType: "Invalid request type: client request was not a HTTP GET",
	CodeMissingInfoHash:    "Missing info_hash",
	CodeMissingPeerID:      "Missing peer_id",
	CodeMissingPort:        "Missing port",
	CodeMissingPasskey:     "Missing passkey",

	CodeInvalidInfoHash: "Invalid infohash: infohash is not 20 bytes long",
	CodeInvalidPeerID:   "Invalid peerid: peerid is not 20 bytes long",
	CodeInvalidNumWant:  "Invalid numwant. Client requested more peers than allowed by tracker",
	CodePasskeyLength:   "Passkey length error (length=32)",
	CodeInvalidPasskey:  "Invalid passkey, if you changed you passkey, please redownload the torrent file from %s",

	CodeTorrentLookup:   "Invalid torrent info_hash",
	CodeTorrentNotFound: "No torrent with that info_hash has been found",

	CodeUserBanned:       "your account status is banned",
	CodeUserInactive:     "your account status is inactive",
	CodeClientBlacklist:  "your client is not allowed, here is the blacklist: %s",
	CodeTorrentNotReview: "this torrent status is not reviewed by administrators, try again later",
	CodeVIPOnly:          "this torrent is only for VIP members",
	CodeUserIdle:         "your account status is idle",
	CodeSeedNotFinished:  "you can not seeding an un-download finished torrent",

	CodeMaxLeech:         "You can not open more than %d downloading processes on the same torrent",
	CodeMaxSeed:          "You can not open more than %d seeding processes on the same torrent",
	CodeSavePeer:         "save peer failed",
	CodeSaveTorrent:      "save torrent failed",
	CodeSavePasskeyUser:  "save passkeyuser failed",
	CodeGetComplete:      "get H&R completeTorrent failed",
	CodeCreateComplete:   "create H&R completeTorrent failed",
	CodeIllegalCompleted: "Illegal completed event",

	CodeHnRWarningBlock:   "You have more H&R warning, can not download any torrent now!",
	CodeHnRCompleteAbsent: "not find this torrent H&R complete data",

	CodeRatioTooLow: "Your total ratio is less than %.2f, can not download anything",

	CodeCompactOnly: "This tracker only supports compact mode",
	CodeGeneric:     "Generic error",
}

// Failure is an error that is reported to the BitTorrent client in the body
// of an otherwise successful HTTP response.
type Failure struct {
	Code   int
	Reason string
}

// NewFailure creates the Failure registered for code.
// Unknown codes become the generic failure.
func NewFailure(code int, args ...interface{}) *Failure {
	reason, ok := failureReasons[code]
	if !ok {
		return &Failure{Code: CodeGeneric, Reason: failureReasons[CodeGeneric]}
	}

	if len(args) > 0 {
		reason = fmt.Sprintf(reason, args...)
	}

	return &Failure{Code: code, Reason: reason}
}

// Error implements the error interface for a Failure.
func (f *Failure) Error() string {
	return fmt.Sprintf("%d: %s", f.Code, f.Reason)
}

// AsFailure returns err as a Failure, mapping anything that is not one to the
// generic failure.
func AsFailure(err error) *Failure {
	if f, ok := err.(*Failure); ok {
		return f
	}

	return NewFailure(CodeGeneric)
}
