package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// ErrUnsupported marks a sender that cannot run in the current environment.
// The chain treats it differently from a real failure: an unsupported sender
// is skipped without counting as a delivery attempt.
var ErrUnsupported = errors.New("transport unsupported")

// Doer is the subset of http.Client the senders need.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Sender ships one payload to the endpoint. Implementations are
// fire-and-forget: success means the request was accepted, not that the
// event was processed.
type Sender interface {
	Name() string
	Send(ctx context.Context, endpoint string, p Payload) error
}

// Beacon is the preferred sender: a plain POST that ignores the response
// body, mirroring the unload-safe beacon mechanism.
type Beacon struct {
	client Doer
}

func NewBeacon(client Doer) *Beacon { return &Beacon{client: client} }

func (b *Beacon) Name() string { return "beacon" }

func (b *Beacon) Send(ctx context.Context, endpoint string, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build beacon request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("beacon send: %w", err)
	}
	drainAndClose(resp)
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("beacon send: endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Fetch is the request-style sender used when the beacon path reports
// failure. The connection is kept alive so retries near teardown still go
// out.
type Fetch struct {
	client Doer
}

func NewFetch(client Doer) *Fetch { return &Fetch{client: client} }

func (f *Fetch) Name() string { return "fetch" }

func (f *Fetch) Send(ctx context.Context, endpoint string, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build fetch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Connection", "keep-alive")
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch send: %w", err)
	}
	drainAndClose(resp)
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("fetch send: endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Pixel is the last-resort sender: the payload rides base64-encoded in a
// query parameter of a GET, the way an image tag would carry it.
type Pixel struct {
	client Doer
}

func NewPixel(client Doer) *Pixel { return &Pixel{client: client} }

func (px *Pixel) Name() string { return "pixel" }

func (px *Pixel) Send(ctx context.Context, endpoint string, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("data", base64.StdEncoding.EncodeToString(body))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build pixel request: %w", err)
	}
	resp, err := px.client.Do(req)
	if err != nil {
		return fmt.Errorf("pixel send: %w", err)
	}
	drainAndClose(resp)
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("pixel send: endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
