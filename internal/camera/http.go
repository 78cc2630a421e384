package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
)

// maxFrameBytes caps a single image read from the network.
const maxFrameBytes = 16 << 20

// SnapshotGrabber fetches a still image per frame, e.g. an IP camera's /snapshot.jpg.
type SnapshotGrabber struct {
	URL    string
	Client *http.Client
}

func (g *SnapshotGrabber) Name() string { return redact(g.URL) }

func (g *SnapshotGrabber) client() *http.Client {
	if g.Client != nil {
		return g.Client
	}
	return http.DefaultClient
}

func (g *SnapshotGrabber) Open(ctx context.Context) error {
	// Snapshot endpoints are stateless; a first grab proves reachability.
	_, err := g.Grab(ctx)
	return err
}

func (g *SnapshotGrabber) Grab(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := g.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameBytes))
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	return data, nil
}

func (g *SnapshotGrabber) Close() error { return nil }

// MJPEGGrabber reads a multipart/x-mixed-replace stream, one JPEG per part.
type MJPEGGrabber struct {
	URL    string
	Client *http.Client

	mu     sync.Mutex
	body   io.ReadCloser
	reader *multipart.Reader
}

func (g *MJPEGGrabber) Name() string { return redact(g.URL) }

func (g *MJPEGGrabber) Open(ctx context.Context) error {
	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}
	// The stream outlives the open timeout, so only the dial and headers are bounded by ctx.
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodGet, g.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	type result struct {
		resp *http.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := client.Do(req)
		done <- result{resp, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		go func() {
			if r := <-done; r.resp != nil {
				r.resp.Body.Close()
			}
		}()
		return ctx.Err()
	}
	if res.err != nil {
		return fmt.Errorf("stream request failed: %w", res.err)
	}
	resp := res.resp
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("stream status %d", resp.StatusCode)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		resp.Body.Close()
		return fmt.Errorf("not an MJPEG stream: %q", resp.Header.Get("Content-Type"))
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.body = resp.Body
	g.reader = multipart.NewReader(resp.Body, strings.Trim(params["boundary"], "-"))
	return nil
}

func (g *MJPEGGrabber) Grab(ctx context.Context) ([]byte, error) {
	g.mu.Lock()
	reader, body := g.reader, g.body
	g.mu.Unlock()
	if reader == nil {
		return nil, errors.New("stream not open")
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		part, err := reader.NextPart()
		if err != nil {
			done <- result{nil, fmt.Errorf("next part: %w", err)}
			return
		}
		data, err := io.ReadAll(io.LimitReader(part, maxFrameBytes))
		done <- result{data, err}
	}()

	select {
	case r := <-done:
		return r.data, r.err
	case <-ctx.Done():
		// Unblock the reader; the stream is reopened on the next attempt.
		body.Close()
		return nil, ctx.Err()
	}
}

func (g *MJPEGGrabber) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reader = nil
	if g.body == nil {
		return nil
	}
	err := g.body.Close()
	g.body = nil
	return err
}

// redact hides credentials embedded in stream URLs.
func redact(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}
	if at := strings.Index(rest, "@"); at >= 0 && at < strings.IndexAny(rest+"/", "/") {
		rest = "***@" + rest[at+1:]
	}
	return scheme + "://" + rest
}
