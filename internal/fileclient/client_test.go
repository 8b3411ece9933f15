package fileclient

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"zipsea/internal/types"
)

// --- Fakes ---

// fakeConn scripts one response per Fetch call, in order.
type fakeConn struct {
	mu      sync.Mutex
	scripts []fetchResult
	fetches int
	closed  bool
}

type fetchResult struct {
	data []byte
	err  error
}

func (c *fakeConn) Fetch(_ context.Context, _ string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fetches >= len(c.scripts) {
		return nil, errors.New("fakeConn: script exhausted")
	}
	r := c.scripts[c.fetches]
	c.fetches++
	return r.data, r.err
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// fakeDialer hands out pre-built conns, recording how many dials happened.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
	err   error
}

func (d *fakeDialer) Dial(context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	if d.dials >= len(d.conns) {
		return nil, errors.New("fakeDialer: out of conns")
	}
	c := d.conns[d.dials]
	d.dials++
	return c, nil
}

func newTestClient(t *testing.T, dialer Dialer, waits *[]time.Duration) *Client {
	t.Helper()
	c := New(Config{
		PoolSize:        1,
		Retry:           RetryPolicy{MaxAttempts: 3, BaseWait: 500 * time.Millisecond, MaxWait: 5 * time.Second},
		DownloadTimeout: time.Second,
	}, dialer, WithSleepFunc(func(d time.Duration) {
		if waits != nil {
			*waits = append(*waits, d)
		}
	}))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// --- Tests ---

func TestFetchSuccess(t *testing.T) {
	conn := &fakeConn{scripts: []fetchResult{{data: []byte(`{"ok":true}`)}}}
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	c := newTestClient(t, dialer, nil)

	data, err := c.Fetch(context.Background(), "2026/03/22/410/1.json")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Errorf("data = %q", data)
	}
	if dialer.dials != 1 {
		t.Errorf("dials = %d, want 1", dialer.dials)
	}
}

func TestFetchRetriesTransportErrorOnFreshConn(t *testing.T) {
	// First conn dies at the transport level; the pool must discard it and
	// dial a replacement for the retry.
	bad := &fakeConn{scripts: []fetchResult{{err: errors.New("connection reset by peer")}}}
	good := &fakeConn{scripts: []fetchResult{{data: []byte("ok")}}}
	dialer := &fakeDialer{conns: []*fakeConn{bad, good}}
	var waits []time.Duration
	c := newTestClient(t, dialer, &waits)

	data, err := c.Fetch(context.Background(), "p.json")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(data) != "ok" {
		t.Errorf("data = %q", data)
	}
	if !bad.closed {
		t.Error("faulty conn was not closed")
	}
	if dialer.dials != 2 {
		t.Errorf("dials = %d, want 2 (replacement dialed)", dialer.dials)
	}
	if len(waits) != 1 || waits[0] != 500*time.Millisecond {
		t.Errorf("waits = %v, want [500ms]", waits)
	}
}

func TestFetchRetryableStatusKeepsConn(t *testing.T) {
	// A 500 is retried on the same connection; the socket is healthy.
	conn := &fakeConn{scripts: []fetchResult{
		{err: &statusError{status: http.StatusInternalServerError, path: "p.json"}},
		{data: []byte("ok")},
	}}
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	c := newTestClient(t, dialer, nil)

	data, err := c.Fetch(context.Background(), "p.json")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(data) != "ok" {
		t.Errorf("data = %q", data)
	}
	if dialer.dials != 1 {
		t.Errorf("dials = %d, want 1 (conn kept across retry)", dialer.dials)
	}
	if conn.closed {
		t.Error("healthy conn was closed")
	}
}

func TestFetchNotFoundIsTerminalImmediately(t *testing.T) {
	conn := &fakeConn{scripts: []fetchResult{
		{err: &statusError{status: http.StatusNotFound, path: "p.json"}},
	}}
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	var waits []time.Duration
	c := newTestClient(t, dialer, &waits)

	_, err := c.Fetch(context.Background(), "p.json")
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeFetchExhausted {
		t.Fatalf("err = %v, want AppError %s", err, types.ErrCodeFetchExhausted)
	}
	if conn.fetches != 1 {
		t.Errorf("fetches = %d, want 1 (404 must not burn retries)", conn.fetches)
	}
	if len(waits) != 0 {
		t.Errorf("waits = %v, want none", waits)
	}
}

func TestFetchExhaustsRetries(t *testing.T) {
	conns := []*fakeConn{
		{scripts: []fetchResult{{err: errors.New("broken pipe")}}},
		{scripts: []fetchResult{{err: errors.New("broken pipe")}}},
		{scripts: []fetchResult{{err: errors.New("broken pipe")}}},
	}
	dialer := &fakeDialer{conns: conns}
	var waits []time.Duration
	c := newTestClient(t, dialer, &waits)

	_, err := c.Fetch(context.Background(), "p.json")
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("err = %v, want *types.AppError", err)
	}
	if appErr.Code != types.ErrCodeFetchExhausted {
		t.Errorf("code = %s, want %s", appErr.Code, types.ErrCodeFetchExhausted)
	}
	if appErr.Details["attempts"] != 3 {
		t.Errorf("details attempts = %v, want 3", appErr.Details["attempts"])
	}
	want := []time.Duration{500 * time.Millisecond, time.Second}
	if len(waits) != len(want) || waits[0] != want[0] || waits[1] != want[1] {
		t.Errorf("waits = %v, want %v", waits, want)
	}
	if dialer.dials != 3 {
		t.Errorf("dials = %d, want 3", dialer.dials)
	}
}

func TestFetchCancelledWhilePoolSaturated(t *testing.T) {
	// Pool of one slot, occupied; a second fetch must give up when its
	// context ends instead of waiting forever.
	dialer := &fakeDialer{}
	c := newTestClient(t, dialer, nil)

	held := <-c.slots // saturate the pool
	defer func() { c.slots <- held }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Fetch(ctx, "p.json")
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeFetchTimeout {
		t.Fatalf("err = %v, want AppError %s", err, types.ErrCodeFetchTimeout)
	}
}

func TestBackoffDoublingClampsAtMax(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 6, BaseWait: 500 * time.Millisecond, MaxWait: 3 * time.Second}
	want := []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		3 * time.Second,
		3 * time.Second,
	}
	for i, w := range want {
		if got := p.backoff(i); got != w {
			t.Errorf("backoff(%d) = %v, want %v", i, got, w)
		}
	}
}

func TestMaybeGunzip(t *testing.T) {
	plain, err := maybeGunzip([]byte(`{"a":1}`))
	if err != nil || string(plain) != `{"a":1}` {
		t.Errorf("plain passthrough = %q, %v", plain, err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte(`{"a":1}`))
	_ = zw.Close()

	out, err := maybeGunzip(buf.Bytes())
	if err != nil {
		t.Fatalf("gunzip failed: %v", err)
	}
	if string(out) != `{"a":1}` {
		t.Errorf("gunzipped = %q", out)
	}

	// Gzip magic with garbage behind it is an error, not silent passthrough.
	if _, err := maybeGunzip([]byte{0x1f, 0x8b, 0x00}); err == nil {
		t.Error("corrupt gzip payload should fail")
	}
}
