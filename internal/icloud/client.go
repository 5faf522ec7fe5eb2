package icloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Retry and backoff constants.
const (
	maxRetries     = 3
	baseBackoff    = 1 * time.Second
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	userAgent      = "icloud-go/0.1"

	// DefaultTimeout bounds each HTTP exchange unless overridden.
	DefaultTimeout = 30 * time.Second
)

// widgetKey identifies the first-party web client to the auth service.
const widgetKey = "d39ba9916b7251055b22c7f910e2ea796ee65e98b2ddecea8f5dde8d9d1a815d"

// endpoints per service domain.
type endpoints struct {
	auth  string
	home  string
	setup string
}

var domainEndpoints = map[string]endpoints{
	"com": {
		auth:  "https://idmsa.apple.com/appleauth/auth",
		home:  "https://www.icloud.com",
		setup: "https://setup.icloud.com/setup/ws/1",
	},
	"cn": {
		auth:  "https://idmsa.apple.com.cn/appleauth/auth",
		home:  "https://www.icloud.com.cn",
		setup: "https://setup.icloud.com.cn/setup/ws/1",
	},
}

// Options configures a Client.
type Options struct {
	// Domain selects the service region, "com" (default) or "cn".
	Domain string

	// Username is the account Apple ID.
	Username string

	// Store persists cookies and session data. Required.
	Store SessionStore

	// HTTPClient overrides the transport. Its Jar is replaced with the
	// session store. Defaults to a client with DefaultTimeout.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Client is an HTTP client for the iCloud web API. It handles request
// construction, session header propagation, retry of transient network
// failures, error classification, and session persistence.
type Client struct {
	domain     string
	endpoints  endpoints
	username   string
	httpClient *http.Client
	store      SessionStore
	session    *SessionData
	logger     *slog.Logger

	// downloadClient streams rendition bodies. It carries no aggregate
	// timeout; http.Client.Timeout includes reading the body, which
	// would cut off large originals on slow links.
	downloadClient *http.Client

	// sleepFunc is called to wait between retries. Tests override this
	// to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error

	// accountLogin response state.
	data        map[string]any
	dsid        string
	webservices map[string]webservice

	// overridden in tests to point at a fake service.
	endpointOverride string
}

type webservice struct {
	URL    string `json:"url"`
	Status string `json:"status"`
}

// NewClient creates a client bound to one account. Session data is
// loaded from the store; a fresh client ID is minted when none exists.
func NewClient(opts Options) (*Client, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("icloud: session store is required")
	}

	domain := opts.Domain
	if domain == "" {
		domain = "com"
	}

	eps, ok := domainEndpoints[domain]
	if !ok {
		return nil, fmt.Errorf("icloud: unknown domain %q", domain)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}

	httpClient.Jar = opts.Store

	session, err := opts.Store.LoadSession()
	if err != nil {
		return nil, fmt.Errorf("icloud: loading session: %w", err)
	}

	if session == nil || session.ClientID == "" {
		session = NewSessionData()
	}

	return &Client{
		domain:         domain,
		endpoints:      eps,
		username:       opts.Username,
		httpClient:     httpClient,
		downloadClient: newDownloadClient(httpClient),
		store:          opts.Store,
		session:        session,
		logger:         logger,
		sleepFunc:      timeSleep,
	}, nil
}

// newDownloadClient derives a streaming client from the API client:
// same cookie jar, no aggregate timeout, hung connections bounded at
// the response header phase instead.
func newDownloadClient(apiClient *http.Client) *http.Client {
	transport := apiClient.Transport
	if transport == nil {
		if t, ok := http.DefaultTransport.(*http.Transport); ok {
			clone := t.Clone()
			clone.ResponseHeaderTimeout = DefaultTimeout
			transport = clone
		}
	}

	return &http.Client{Jar: apiClient.Jar, Transport: transport}
}

// Username returns the account this client is bound to.
func (c *Client) Username() string { return c.username }

// Session exposes the live session data (for status reporting).
func (c *Client) Session() *SessionData { return c.session }

func (c *Client) authURL(path string) string {
	if c.endpointOverride != "" {
		return c.endpointOverride + "/appleauth/auth" + path
	}

	return c.endpoints.auth + path
}

func (c *Client) setupURL(path string) string {
	if c.endpointOverride != "" {
		return c.endpointOverride + "/setup/ws/1" + path
	}

	return c.endpoints.setup + path
}

// authHeaders returns the OAuth envelope headers the auth host expects.
func (c *Client) authHeaders() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json, text/javascript")
	h.Set("Content-Type", "application/json")
	h.Set("X-Apple-OAuth-Client-Id", widgetKey)
	h.Set("X-Apple-OAuth-Client-Type", "firstPartyAuth")
	h.Set("X-Apple-OAuth-Redirect-URI", c.endpoints.home)
	h.Set("X-Apple-OAuth-Require-Grant-Code", "true")
	h.Set("X-Apple-OAuth-Response-Mode", "web_message")
	h.Set("X-Apple-OAuth-Response-Type", "code")
	h.Set("X-Apple-OAuth-State", c.session.ClientID)
	h.Set("X-Apple-Widget-Key", widgetKey)

	if c.session.Scnt != "" {
		h.Set("scnt", c.session.Scnt)
	}

	if c.session.SessionID != "" {
		h.Set("X-Apple-ID-Session-Id", c.session.SessionID)
	}

	return h
}

// postJSON executes a POST with a JSON body; see request.
func (c *Client) postJSON(ctx context.Context, rawURL string, params url.Values, body any, extra http.Header, okStatuses ...int) (int, []byte, error) {
	return c.request(ctx, http.MethodPost, rawURL, params, body, extra, okStatuses...)
}

// request executes an HTTP exchange and returns the response body.
// Transient network errors and gateway hiccups retry with exponential
// backoff; everything else classifies into the error taxonomy. Status
// codes listed in okStatuses are returned to the caller instead of
// being treated as errors (sign-in flow states).
func (c *Client) request(ctx context.Context, method, rawURL string, params url.Values, body any, extra http.Header, okStatuses ...int) (int, []byte, error) {
	var payload []byte

	switch b := body.(type) {
	case nil:
	case string:
		payload = []byte(b)
	default:
		var err error

		payload, err = json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("icloud: encoding request: %w", err)
		}
	}

	if len(params) > 0 {
		rawURL += "?" + params.Encode()
	}

	var attempt int
	for {
		resp, respBody, err := c.doOnce(ctx, method, rawURL, payload, extra)
		if err != nil {
			if ctx.Err() != nil {
				return 0, nil, fmt.Errorf("icloud: request canceled: %w", ctx.Err())
			}

			if attempt < maxRetries {
				backoff := calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("url", redactURL(rawURL)),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return 0, nil, fmt.Errorf("icloud: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return 0, nil, fmt.Errorf("icloud: %s %s failed after %d retries: %w", method, redactURL(rawURL), maxRetries, err)
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := calcBackoff(attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("url", redactURL(rawURL)),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return 0, nil, fmt.Errorf("icloud: request canceled: %w", err)
			}

			attempt++

			continue
		}

		for _, ok := range okStatuses {
			if resp.StatusCode == ok {
				return resp.StatusCode, respBody, nil
			}
		}

		if err := c.evaluate(resp, respBody); err != nil {
			return resp.StatusCode, respBody, err
		}

		return resp.StatusCode, respBody, nil
	}
}

// doOnce executes a single HTTP exchange, harvests session headers, and
// persists session state when it changed.
func (c *Client) doOnce(ctx context.Context, method, rawURL string, payload []byte, extra http.Header) (*http.Response, []byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
	if err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Origin", c.endpoints.home)
	req.Header.Set("Referer", c.endpoints.home+"/")

	if payload != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	for name, values := range extra {
		for _, v := range values {
			req.Header.Set(name, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	respBody, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()

	if readErr != nil {
		return nil, nil, fmt.Errorf("reading response: %w", readErr)
	}

	if c.session.harvest(resp.Header) {
		if err := c.store.SaveSession(c.session); err != nil {
			c.logger.Warn("persisting session failed", slog.String("error", err.Error()))
		}
	}

	return resp, respBody, nil
}

// evaluate classifies a response into the error taxonomy. Responses the
// service marks as failed in the JSON body are errors even with a 2xx
// status.
func (c *Client) evaluate(resp *http.Response, body []byte) error {
	isJSON := strings.Contains(resp.Header.Get("Content-Type"), "json")

	if resp.StatusCode >= http.StatusBadRequest && !isJSON {
		sentinel := classifyStatus(resp.StatusCode)
		if sentinel == nil {
			sentinel = ErrBadRequest
		}

		return &ServiceError{
			StatusCode: resp.StatusCode,
			Reason:     http.StatusText(resp.StatusCode),
			Err:        sentinel,
		}
	}

	var parsed map[string]any
	if isJSON && len(body) > 0 {
		// Some endpoints return JSON arrays or "null"; only object
		// bodies carry error envelopes.
		_ = json.Unmarshal(body, &parsed)
	}

	code, reason := serviceErrorInfo(parsed)

	if resp.StatusCode >= http.StatusBadRequest {
		sentinel := classifyStatus(resp.StatusCode)
		if s := classifyServiceCode(code); s != nil {
			sentinel = s
		}

		if sentinel == nil {
			sentinel = ErrBadRequest
		}

		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}

		return &ServiceError{StatusCode: resp.StatusCode, Code: code, Reason: reason, Err: sentinel}
	}

	if reason != "" {
		sentinel := classifyServiceCode(code)
		if sentinel == nil {
			sentinel = ErrBadRequest
		}

		return &ServiceError{StatusCode: resp.StatusCode, Code: code, Reason: reason, Err: sentinel}
	}

	return nil
}

// serviceErrorInfo extracts the error code and reason from a response
// body, trying the envelope key spellings the service uses.
func serviceErrorInfo(parsed map[string]any) (code, reason string) {
	if parsed == nil {
		return "", ""
	}

	for _, key := range []string{"errorMessage", "reason", "errorReason"} {
		if v, ok := parsed[key].(string); ok && v != "" {
			reason = v

			break
		}
	}

	if reason == "" {
		switch v := parsed["error"].(type) {
		case string:
			reason = v
		case float64, bool:
			reason = "unknown reason"
		}
	}

	switch v := parsed["errorCode"].(type) {
	case string:
		code = v
	case float64:
		code = fmt.Sprintf("%d", int64(v))
	}

	if code == "" {
		switch v := parsed["serverErrorCode"].(type) {
		case string:
			code = v
		case float64:
			code = fmt.Sprintf("%d", int64(v))
		}
	}

	if success, ok := parsed["success"].(bool); ok && !success && reason == "" {
		reason = "unknown reason"
	}

	return code, reason
}

// redactURL strips query parameters from a URL for logging.
func redactURL(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}

	return rawURL
}

// calcBackoff computes exponential backoff with ±25% jitter.
func calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is
// canceled. It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
