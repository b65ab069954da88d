package webhook

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/innovatingdev/mail2hooks/internal/hook"
)

// DefaultTimeout bounds a single delivery when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// defaultContentType is sent when a hook does not configure Content-Type.
const defaultContentType = "text/plain;charset=UTF-8"

// maxDrain is how much of a response body is read before closing it so the
// connection can be reused.
const maxDrain = 64 << 10

// HTTPConfig holds the configuration for creating an HTTPDeliverer.
type HTTPConfig struct {
	// Timeout bounds one request, including reading the response headers.
	Timeout time.Duration

	// Client overrides the HTTP client. Timeout is ignored when set.
	Client *http.Client
}

// HTTPDeliverer sends one HTTP request per delivery.
type HTTPDeliverer struct {
	client  *http.Client
	signers map[*hook.Hook]*sigV4Signer
}

// NewHTTP creates an HTTPDeliverer for hooks. AWS credentials for hooks that
// request SigV4 signing are resolved here, once.
func NewHTTP(ctx context.Context, hooks hook.Set, cfg HTTPConfig) (*HTTPDeliverer, error) {
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	signers := make(map[*hook.Hook]*sigV4Signer)
	for _, h := range hooks {
		if h.AWS == nil {
			continue
		}
		s, err := newSigV4Signer(ctx, h.AWS)
		if err != nil {
			return nil, fmt.Errorf("hook %s: %w", h.Name, err)
		}
		signers[h] = s
	}

	return &HTTPDeliverer{client: client, signers: signers}, nil
}

// Deliver sends body to h's target using h's method and headers. Any status
// outside 2xx is a failure.
func (d *HTTPDeliverer) Deliver(ctx context.Context, h *hook.Hook, body string) error {
	req, err := http.NewRequestWithContext(ctx, h.Method, h.Target, strings.NewReader(body))
	if err != nil {
		return &DeliveryError{Hook: h.Name, Target: h.Target, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	for k, v := range h.Headers {
		if strings.EqualFold(k, "Host") {
			req.Host = v
			continue
		}
		req.Header.Set(k, v)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", defaultContentType)
	}

	if s := d.signers[h]; s != nil {
		if err := s.sign(ctx, req, body); err != nil {
			return &DeliveryError{Hook: h.Name, Target: h.Target, Err: err}
		}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return &DeliveryError{Hook: h.Name, Target: h.Target, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DeliveryError{
			Hook:       h.Name,
			Target:     h.Target,
			StatusCode: resp.StatusCode,
			Status:     statusText(resp),
		}
	}
	return nil
}

// Name returns the deliverer name.
func (d *HTTPDeliverer) Name() string {
	return "http"
}

// statusText returns the reason phrase of resp, e.g. "Not Found".
func statusText(resp *http.Response) string {
	if text, ok := strings.CutPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" "); ok && text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
