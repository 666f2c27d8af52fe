// Package fetcher is the HTTP transport to the map backend.
package fetcher

import (
	"context"
	"io"
)

// Fetcher defines the transport operations the backend client needs.
type Fetcher interface {
	// GetJSON fetches the URL and decodes a JSON body into out.
	GetJSON(ctx context.Context, url string, out any) error

	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

var _ Fetcher = (*HTTPFetcher)(nil)
