package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Upstream inference calls get one minute before the gateway gives up.
const UpstreamTimeout = 60 * time.Second

var (
	ErrUpstreamTimeout     = errors.New("upstream service timeout")
	ErrUpstreamUnreachable = errors.New("upstream service unreachable")
)

// Client talks to the inference services. It never interprets payloads
// beyond the envelope it relays.
type Client struct {
	baseURL    string
	pdfBaseURL string
	httpClient *http.Client
}

func NewClient(baseURL, pdfBaseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient()
	}
	return &Client{
		baseURL:    baseURL,
		pdfBaseURL: pdfBaseURL,
		httpClient: httpClient,
	}
}

func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout:   UpstreamTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// PostJSON forwards a JSON payload to the main inference service.
func (c *Client) PostJSON(ctx context.Context, path string, payload any) (*http.Response, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal upstream payload: %w", err)
	}
	return c.post(ctx, c.baseURL+path, "application/json", bytes.NewReader(payloadBytes))
}

// PostBody streams a request body (e.g. a multipart upload) to the main
// inference service unchanged.
func (c *Client) PostBody(ctx context.Context, path, contentType string, body io.Reader) (*http.Response, error) {
	return c.post(ctx, c.baseURL+path, contentType, body)
}

// PostPdfBody streams a request body to the document processing service.
func (c *Client) PostPdfBody(ctx context.Context, path, contentType string, body io.Reader) (*http.Response, error) {
	return c.post(ctx, c.pdfBaseURL+path, contentType, body)
}

func (c *Client) post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyUpstreamErr(err)
	}

	return resp, nil
}

func classifyUpstreamErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrUpstreamTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrUpstreamTimeout
	}
	return fmt.Errorf("%w: %s", ErrUpstreamUnreachable, err)
}
