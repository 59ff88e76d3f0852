package bittorrent

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
)

// Params is used to fetch (optional) request parameters from an Announce.
// For HTTP Announces this includes the request path and parsed query.
type Params interface {
	// String returns a string parsed from a query. Every key can be
	// returned as a string because they are encoded in the URL as strings.
	String(key string) (string, bool)

	// RawPath returns the raw path from the request URL.
	// The path returned can contain URL encoded data.
	// For a request of the form "/announce?port=1234" this would return
	// "/announce".
	RawPath() string

	// RawQuery returns the raw query from the request URL, excluding the
	// delimiter '?'.
	// For a request of the form "/announce?port=1234" this would return
	// "port=1234"
	RawQuery() string
}

// ErrKeyNotFound is returned when a provided key has no value associated with
// it.
var ErrKeyNotFound = errors.New("query: value for the provided key does not exist")

// QueryParams parses a URL Query and implements the Params interface with some
// additional helpers.
type QueryParams struct {
	path       string
	query      string
	params     map[string]string
	infoHashes []string
}

// ParseURLData parses a request URL.
// It expects a concatenated string of the request's path and query parts as
// defined in RFC 3986, for example "/announce?port=1234&uploaded=0".
// HTTP servers should pass (*http.Request).RequestURI.
//
// Note that, in the case of a key occurring multiple times in the query, only
// the last value for that key is kept.
// The only exception to this rule is the key "info_hash": every value is
// collected unvalidated and can later be retrieved by calling the
// RawInfoHashes method, so that a length mismatch can be reported by the
// caller with the proper failure code.
//
// A malformed escape does not stop the parse. The returned QueryParams holds
// every pair that could be decoded, an info_hash that could not is kept
// as-is, and the error is the first unescape failure met.
func ParseURLData(urlData string) (*QueryParams, error) {
	var path, query string

	queryDelim := strings.IndexAny(urlData, "?")
	if queryDelim == -1 {
		path = urlData
	} else {
		path = urlData[:queryDelim]
		query = urlData[queryDelim+1:]
	}

	q, err := parseQuery(query)
	q.path = path
	return q, err
}

// parseQuery parses a URL query into QueryParams.
// The query is expected to exclude the delimiting '?'.
func parseQuery(rawQuery string) (*QueryParams, error) {
	var (
		keyStart, keyEnd int
		valStart, valEnd int

		onKey    = true
		firstErr error

		q = &QueryParams{
			query:  rawQuery,
			params: make(map[string]string),
		}
	)

	for i, length := 0, len(rawQuery); i < length; i++ {
		separator := rawQuery[i] == '&' || rawQuery[i] == ';'
		last := i == length-1

		if separator || last {
			if onKey && !last {
				keyStart = i + 1
				continue
			}

			if last && !separator && !onKey {
				valEnd = i
			}

			if keyEnd < keyStart {
				// Empty key, e.g. "&=b".
				valEnd = 0
				onKey = true
				keyStart = i + 1
				continue
			}

			keyStr, keyErr := url.QueryUnescape(rawQuery[keyStart : keyEnd+1])

			var (
				valStr string
				valErr error
			)
			if valEnd > 0 && valEnd >= valStart {
				rawVal := rawQuery[valStart : valEnd+1]
				if valStr, valErr = url.QueryUnescape(rawVal); valErr != nil {
					valStr = rawVal
				}
			}

			switch {
			case keyErr != nil:
				if firstErr == nil {
					firstErr = keyErr
				}
			case keyStr == "info_hash":
				q.infoHashes = append(q.infoHashes, valStr)
			case valErr == nil:
				q.params[strings.ToLower(keyStr)] = valStr
			}
			if valErr != nil && firstErr == nil {
				firstErr = valErr
			}

			valEnd = 0
			onKey = true
			keyStart = i + 1

		} else if rawQuery[i] == '=' {
			onKey = false
			valStart = i + 1
			valEnd = 0
		} else if onKey {
			keyEnd = i
		} else {
			valEnd = i
		}
	}

	return q, firstErr
}

// String returns a string parsed from a query. Every key can be returned as a
// string because they are encoded in the URL as strings.
func (qp *QueryParams) String(key string) (string, bool) {
	value, ok := qp.params[key]
	return value, ok
}

// Uint64 returns a uint parsed from a query. After being called, it is safe to
// cast the uint64 to your desired length.
func (qp *QueryParams) Uint64(key string) (uint64, error) {
	str, exists := qp.params[key]
	if !exists {
		return 0, ErrKeyNotFound
	}

	val, err := strconv.ParseUint(str, 10, 64)
	if err != nil {
		return 0, err
	}

	return val, nil
}

// RawInfoHashes returns every info_hash value of the query, in order, without
// any validation of their length.
func (qp *QueryParams) RawInfoHashes() []string {
	return qp.infoHashes
}

// RawPath returns the raw path from the parsed URL.
func (qp *QueryParams) RawPath() string {
	return qp.path
}

// RawQuery returns the raw query from the parsed URL.
func (qp *QueryParams) RawQuery() string {
	return qp.query
}
