// Package fetcher downloads source data over HTTP, FTP or the local
// filesystem and reads CSV and XLSX rows from it.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"

	"github.com/rotisserie/eris"
)

// Fetcher downloads a URL.
type Fetcher interface {
	// Download fetches the URL and returns the body. The caller closes it.
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// Router dispatches downloads by URL scheme: http and https, ftp, and
// file or bare paths.
type Router struct {
	HTTP Fetcher
	FTP  Fetcher
}

// NewRouter returns a Router over the given fetchers.
func NewRouter(h *HTTPFetcher, f *FTPFetcher) *Router {
	return &Router{HTTP: h, FTP: f}
}

func (r *Router) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse url %q", rawURL)
	}
	switch u.Scheme {
	case "http", "https":
		return r.HTTP.Download(ctx, rawURL)
	case "ftp":
		return r.FTP.Download(ctx, rawURL)
	case "file":
		return openFile(u.Path)
	case "":
		return openFile(rawURL)
	default:
		return nil, eris.Errorf("fetcher: unsupported scheme %q", u.Scheme)
	}
}

func openFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open %s", path)
	}
	return f, nil
}
