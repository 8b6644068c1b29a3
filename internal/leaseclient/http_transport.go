package leaseclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"leased/internal/admission"
	"leased/pkg/types"
)

// HTTPTransport talks to a leased daemon over its JSON API.
type HTTPTransport struct {
	baseURL    string
	httpClient *http.Client
	reqTimeout time.Duration
}

// NewHTTPTransport constructs a transport for baseURL (e.g. http://127.0.0.1:8080).
func NewHTTPTransport(baseURL string, reqTimeout, connectTimeout time.Duration) *HTTPTransport {
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:    16,
		IdleConnTimeout: 90 * time.Second,
	}
	// Timeout stays 0: unary calls carry reqTimeout via context and the
	// preemption stream is long-lived.
	return &HTTPTransport{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Transport: tr},
		reqTimeout: reqTimeout,
	}
}

// Acquire implements Transport.
func (t *HTTPTransport) Acquire(ctx context.Context, req types.AcquireRequest) (types.AcquireReply, error) {
	var out types.AcquireReply
	err := t.post(ctx, "/v1/leases/acquire", req, &out)
	return out, err
}

// Release implements Transport.
func (t *HTTPTransport) Release(ctx context.Context, req types.ReleaseRequest) (types.ReleaseReply, error) {
	var out types.ReleaseReply
	err := t.post(ctx, "/v1/leases/release", req, &out)
	return out, err
}

// Status fetches GET /status.
func (t *HTTPTransport) Status(ctx context.Context) (types.StatusResponse, error) {
	var out types.StatusResponse
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/status", nil)
	if err != nil {
		return out, err
	}
	resp, err := t.httpClient.Do(hreq)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return out, decodeError(resp)
	}
	return out, json.NewDecoder(resp.Body).Decode(&out)
}

// StreamPreemptions subscribes to preemption notices for client. The
// returned channel is closed when ctx ends or the stream breaks.
func (t *HTTPTransport) StreamPreemptions(ctx context.Context, client string) (<-chan types.PreemptionNotice, error) {
	u := t.baseURL + "/v1/preemptions?client=" + url.QueryEscape(client)
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Accept", "application/x-ndjson")
	resp, err := t.httpClient.Do(hreq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	out := make(chan types.PreemptionNotice)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			var n types.PreemptionNotice
			if err := json.Unmarshal(line, &n); err != nil {
				continue
			}
			select {
			case out <- n:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (t *HTTPTransport) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.reqTimeout > 0 {
		return context.WithTimeout(ctx, t.reqTimeout)
	}
	return context.WithCancel(ctx)
}

func (t *HTTPTransport) post(ctx context.Context, path string, in, out any) error {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	hreq.Header.Set("Content-Type", "application/json")
	resp, err := t.httpClient.Do(hreq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeError maps the {error, code} payload; 400 becomes a validation error.
func decodeError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var er types.ErrorResponse
	msg := strings.TrimSpace(string(b))
	if json.Unmarshal(b, &er) == nil && er.Error != "" {
		msg = er.Error
	}
	if resp.StatusCode == http.StatusBadRequest {
		return admission.ErrValidation(strings.TrimPrefix(msg, "invalid request: "))
	}
	return fmt.Errorf("leased: %s: %s", resp.Status, msg)
}
