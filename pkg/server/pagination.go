package server

import (
	"encoding/base64"
	"net/http"
	"strconv"
)

const (
	// defaultPageSize is used when pageSize is not specified.
	defaultPageSize = 20
	// maxPageSize is the upper bound for pageSize.
	maxPageSize = 200
)

// pageParams holds parsed pagination parameters from an HTTP request query
// string. The pageToken is an opaque base64-encoded offset.
type pageParams struct {
	PageSize int
	Offset   int
}

// parsePageParams extracts pageSize and pageToken from the request URL
// query string. Invalid values fall back to defaults.
func parsePageParams(r *http.Request) pageParams {
	q := r.URL.Query()

	pageSize := defaultPageSize
	if v := q.Get("pageSize"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			pageSize = n
		}
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	offset := 0
	if token := q.Get("pageToken"); token != "" {
		if decoded, err := base64.StdEncoding.DecodeString(token); err == nil {
			if n, err := strconv.Atoi(string(decoded)); err == nil && n > 0 {
				offset = n
			}
		}
	}

	return pageParams{PageSize: pageSize, Offset: offset}
}

// nextPageToken encodes the next offset, or returns "" when the page
// reached the end of the result set.
func nextPageToken(p pageParams, returned int, total int64) string {
	next := p.Offset + returned
	if int64(next) >= total || returned == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(next)))
}
