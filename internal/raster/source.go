package raster

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
)

const headerCacheSize = 64 << 10

// rangeReader implements io.ReaderAt over HTTP range requests. The first
// 64KB are cached since the TIFF header and directory are read repeatedly.
type rangeReader struct {
	ctx    context.Context
	client *http.Client
	url    string

	mu     sync.Mutex
	header []byte
	full   []byte
}

func (r *rangeReader) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	r.mu.Lock()
	if r.full != nil {
		r.mu.Unlock()
		return readFrom(r.full, p, off)
	}
	if r.header == nil {
		r.mu.Unlock()
		data, err := r.fetch(0, headerCacheSize)
		if err != nil {
			return 0, err
		}
		r.mu.Lock()
		if r.full == nil && r.header == nil {
			r.header = data
		}
	}
	cached := r.header
	if r.full != nil {
		cached = r.full
	}
	r.mu.Unlock()

	if off+int64(len(p)) <= int64(len(cached)) || r.full != nil || int64(len(cached)) < headerCacheSize {
		return readFrom(cached, p, off)
	}

	data, err := r.fetch(off, len(p))
	if err != nil {
		return 0, err
	}
	n := copy(p, data)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// fetch requests [off, off+n). Servers that ignore Range return the whole
// object, which is then kept for all later reads.
func (r *rangeReader) fetch(off int64, n int) ([]byte, error) {
	req, err := http.NewRequestWithContext(r.ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+int64(n)-1))

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch raster: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		return io.ReadAll(resp.Body)
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.full = body
		r.mu.Unlock()
		if off >= int64(len(body)) {
			return nil, nil
		}
		end := min(off+int64(n), int64(len(body)))
		return body[off:end], nil
	case http.StatusRequestedRangeNotSatisfiable:
		return nil, nil
	default:
		return nil, fmt.Errorf("raster request returned status %d", resp.StatusCode)
	}
}

func readFrom(data []byte, p []byte, off int64) (int, error) {
	if off >= int64(len(data)) {
		return 0, io.EOF
	}
	n := copy(p, data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Opener opens raster assets by URI: http(s) URLs via range requests,
// everything else as a local path or file:// URL.
type Opener struct {
	Client *http.Client
}

// NewOpener returns an opener using client, or http.DefaultClient when nil.
func NewOpener(client *http.Client) *Opener {
	if client == nil {
		client = http.DefaultClient
	}
	return &Opener{Client: client}
}

// Open returns the parsed dataset plus a closer for any underlying file.
func (o *Opener) Open(ctx context.Context, uri string) (*Dataset, io.Closer, error) {
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		ds, err := Open(&rangeReader{ctx: ctx, client: o.Client, url: uri})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open %s: %w", redact(uri), err)
		}
		return ds, nopCloser{}, nil
	}

	path := uri
	if strings.HasPrefix(uri, "file://") {
		u, err := url.Parse(uri)
		if err != nil {
			return nil, nil, err
		}
		path = u.Path
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open raster: %w", err)
	}
	ds, err := Open(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return ds, f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenBytes parses an in-memory GeoTIFF.
func OpenBytes(data []byte) (*Dataset, error) {
	return Open(bytes.NewReader(data))
}

// redact drops query strings, which carry signing tokens.
func redact(uri string) string {
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		return uri[:i]
	}
	return uri
}
