// Package httpx is the single-request HTTP layer shared by the model catalog
// and the provider chat clients. One call is exactly one attempt: no retries,
// no backoff. Failures are mapped to the apperr taxonomy so callers can
// distinguish transport, status and decode problems.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chathub/internal/apperr"
)

const maxResponseBytes = 4 << 20

type Endpoint struct {
	Path   string
	Method string
	Header map[string]string
	Query  url.Values
	Body   []byte
}

type Client struct {
	http *http.Client
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{http: &http.Client{Timeout: timeout}}
}

// NewClientWith wraps an existing http.Client, mainly for tests.
func NewClientWith(hc *http.Client) *Client {
	if hc == nil {
		return NewClient(0)
	}
	return &Client{http: hc}
}

// Do performs one request against baseURL+ep.Path and decodes the JSON
// response into out when out is non-nil. Explicitly-set headers always reach
// the wire; Content-Type defaults to application/json when a body is present.
func (c *Client) Do(ctx context.Context, baseURL string, ep Endpoint, out any) error {
	u, err := buildURL(baseURL, ep)
	if err != nil {
		return err
	}

	method := ep.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(ep.Body) > 0 {
		body = bytes.NewReader(ep.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return apperr.InvalidURL(u)
	}
	if len(ep.Body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range ep.Header {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return apperr.RequestTimeout(err)
		}
		return apperr.ConnectionFailed(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return apperr.ConnectionFailed(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperr.ServerError(resp.StatusCode, string(raw))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.DecodingFailed(err)
	}
	return nil
}

func buildURL(baseURL string, ep Endpoint) (string, error) {
	base := strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return "", apperr.InvalidURL(baseURL)
	}
	u, err := url.Parse(base + "/" + strings.TrimPrefix(ep.Path, "/"))
	if err != nil {
		return "", apperr.InvalidURL(baseURL + ep.Path)
	}
	if len(ep.Query) > 0 {
		u.RawQuery = ep.Query.Encode()
	}
	return u.String(), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Chunk is one fragment of a streamed assistant reply.
type Chunk struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	IsComplete bool   `json:"is_complete"`
}

// ChunkStream delivers chunks in emission order. Recv returns io.EOF after
// the final chunk; any other error terminates the stream. A stream is not
// restartable.
type ChunkStream interface {
	Recv() (Chunk, error)
	Close()
}
