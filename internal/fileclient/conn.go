package fileclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Conn is a single connection to the remote file server. Connections are
// pooled by the Client and must not be shared between in-flight fetches.
type Conn interface {
	// Fetch downloads one file by its relative path.
	Fetch(ctx context.Context, path string) ([]byte, error)
	// Close tears the connection down. A conn that returned a
	// connection-level error is closed and replaced, never reused.
	Close() error
}

// Dialer produces new connections, letting tests substitute fakes and
// letting the pool replace faulty connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// HTTPDialerConfig configures the production HTTP dialer.
type HTTPDialerConfig struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// HTTPDialer dials HTTP connections to the file server. Each Conn owns a
// dedicated transport with a single keep-alive connection, so discarding a
// faulty Conn really does discard its socket.
type HTTPDialer struct {
	cfg HTTPDialerConfig
}

// NewHTTPDialer creates an HTTPDialer.
func NewHTTPDialer(cfg HTTPDialerConfig) *HTTPDialer {
	return &HTTPDialer{cfg: cfg}
}

// Dial implements Dialer.
func (d *HTTPDialer) Dial(context.Context) (Conn, error) {
	transport := &http.Transport{
		MaxIdleConns:        1,
		MaxIdleConnsPerHost: 1,
		MaxConnsPerHost:     1,
		IdleConnTimeout:     90 * time.Second,
		// The gzip handling below uses the payload's own magic bytes, so
		// transparent transport decompression stays disabled to keep the
		// two paths from mixing.
		DisableCompression: true,
	}

	return &httpConn{
		client: &http.Client{
			Transport: transport,
			Timeout:   d.cfg.Timeout,
		},
		transport: transport,
		baseURL:   strings.TrimRight(d.cfg.BaseURL, "/"),
		username:  d.cfg.Username,
		password:  d.cfg.Password,
	}, nil
}

// httpConn is one pooled HTTP connection.
type httpConn struct {
	client    *http.Client
	transport *http.Transport
	baseURL   string
	username  string
	password  string
}

// Fetch implements Conn. Non-2xx statuses are returned as *statusError so
// the retry loop can distinguish retryable server failures from terminal
// client errors; transport failures come back as-is and are treated as
// connection-level.
func (c *httpConn) Fetch(ctx context.Context, path string) ([]byte, error) {
	fileURL := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if _, err := url.Parse(fileURL); err != nil {
		return nil, fmt.Errorf("invalid file URL %q: %w", fileURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, err
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the keep-alive connection stays reusable for statuses
		// that do not kill the conn.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &statusError{status: resp.StatusCode, path: path}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return maybeGunzip(body)
}

// Close implements Conn.
func (c *httpConn) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

// statusError is a non-2xx response from the file server.
type statusError struct {
	status int
	path   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("file server returned %d for %s", e.status, e.path)
}

// retryable reports whether the status is worth another attempt. Server
// errors and rate limits are transient; 4xx means the file is simply not
// there and retrying cannot help.
func (e *statusError) retryable() bool {
	return e.status >= 500 || e.status == http.StatusTooManyRequests
}

// maybeGunzip transparently decompresses gzip payloads. The file server
// stores some archives compressed; the magic bytes are authoritative
// because Content-Encoding is not reliably set.
func maybeGunzip(body []byte) ([]byte, error) {
	if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
		return body, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gzip payload: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("gzip payload: %w", err)
	}
	return out, nil
}
