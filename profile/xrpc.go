package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/skystream/errors"
)

// DefaultServiceURL is the public AppView.
const DefaultServiceURL = "https://public.api.bsky.app"

// XRPC methods.
const (
	methodGetProfiles   = "app.bsky.actor.getProfiles"
	methodResolveHandle = "com.atproto.identity.resolveHandle"
)

// XRPCClient calls the AppView over HTTP. It implements Fetcher and HandleResolver.
type XRPCClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// XRPCOption configures an XRPCClient.
type XRPCOption func(*XRPCClient)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(c *http.Client) XRPCOption {
	return func(x *XRPCClient) {
		if c != nil {
			x.http = c
		}
	}
}

// WithRateLimit caps requests per second. Zero or less removes the limit.
func WithRateLimit(perSecond float64, burst int) XRPCOption {
	return func(x *XRPCClient) {
		if perSecond <= 0 {
			x.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		x.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithClientLogger sets the logger.
func WithClientLogger(logger *slog.Logger) XRPCOption {
	return func(x *XRPCClient) {
		if logger != nil {
			x.logger = logger
		}
	}
}

// NewXRPCClient creates a client for the service at serviceURL.
func NewXRPCClient(serviceURL string, opts ...XRPCOption) (*XRPCClient, error) {
	if serviceURL == "" {
		serviceURL = DefaultServiceURL
	}
	u, err := url.Parse(serviceURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: service url %q", errors.ErrInvalidConfig, serviceURL),
			"XRPCClient", "New", "parse service url")
	}

	x := &XRPCClient{
		baseURL: strings.TrimSuffix(serviceURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(10), 5),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x, nil
}

// xrpcError is the error body XRPC services return.
type xrpcError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (x *XRPCClient) get(ctx context.Context, method string, query url.Values, out any) error {
	if err := x.limiter.Wait(ctx); err != nil {
		return errors.WrapTransient(err, "XRPCClient", method, "wait for rate limiter")
	}

	endpoint := x.baseURL + "/xrpc/" + method + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errors.WrapInvalid(err, "XRPCClient", method, "build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := x.http.Do(req)
	if err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrConnectionLost, err), "XRPCClient", method, "send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return errors.WrapTransient(err, "XRPCClient", method, "read response")
	}

	if resp.StatusCode != http.StatusOK {
		var xe xrpcError
		_ = json.Unmarshal(body, &xe)
		err := &StatusError{Method: method, StatusCode: resp.StatusCode, Name: xe.Error, Message: xe.Message}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return errors.WrapTransient(err, "XRPCClient", method, "call")
		}
		return errors.WrapInvalid(err, "XRPCClient", method, "call")
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err), "XRPCClient", method, "decode response")
	}
	return nil
}

// StatusError is a non-200 XRPC response.
type StatusError struct {
	Method     string
	StatusCode int
	Name       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s: status %d", e.Method, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s: %s", e.Method, e.StatusCode, e.Name, e.Message)
}

// Unwrap reports ErrRateLimited for 429 responses.
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusTooManyRequests {
		return errors.ErrRateLimited
	}
	return nil
}

type profileView struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar"`
}

// GetProfiles implements Fetcher.
func (x *XRPCClient) GetProfiles(ctx context.Context, dids []string) ([]Profile, error) {
	if len(dids) == 0 {
		return nil, nil
	}
	query := url.Values{}
	for _, did := range dids {
		query.Add("actors", did)
	}

	var resp struct {
		Profiles []profileView `json:"profiles"`
	}
	if err := x.get(ctx, methodGetProfiles, query, &resp); err != nil {
		return nil, err
	}

	out := make([]Profile, 0, len(resp.Profiles))
	for _, p := range resp.Profiles {
		out = append(out, Profile{DID: p.DID, Handle: p.Handle, DisplayName: p.DisplayName, Avatar: p.Avatar})
	}
	x.logger.Debug("Fetched profiles", "requested", len(dids), "returned", len(out))
	return out, nil
}

// ResolveHandle implements HandleResolver. An unknown handle yields ErrHandleNotFound.
func (x *XRPCClient) ResolveHandle(ctx context.Context, handle string) (string, error) {
	var resp struct {
		DID string `json:"did"`
	}
	err := x.get(ctx, methodResolveHandle, url.Values{"handle": {handle}}, &resp)
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusBadRequest {
		return "", errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrHandleNotFound, handle),
			"XRPCClient", "ResolveHandle", "resolve")
	}
	if err != nil {
		return "", err
	}
	if resp.DID == "" {
		return "", errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrHandleNotFound, handle),
			"XRPCClient", "ResolveHandle", "resolve")
	}
	return resp.DID, nil
}
