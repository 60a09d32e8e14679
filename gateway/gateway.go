package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jrsteele09/mailsentry-console/guard"
	"github.com/jrsteele09/mailsentry-console/internal/config"
	"github.com/jrsteele09/mailsentry-console/notify"
	"github.com/rs/zerolog/log"
)

const (
	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
	headerRequestID     = "X-Request-ID"
	headerUserAgent     = "User-Agent"
	contentTypeJSON     = "application/json"

	maxResponseBytes = 8 << 20
)

// Session is the part of the session manager the gateway depends on.
type Session interface {
	// AuthHeader returns the formatted bearer credential, or "" when unauthenticated
	AuthHeader() string
	// Logout clears the session. It must tolerate being called on an empty session.
	Logout(ctx context.Context)
}

// Navigator moves the user between views. Only the 401 path uses it.
type Navigator interface {
	CurrentPath() string
	Navigate(path string)
}

// Client is the request gateway. Every backend call goes through Do, which attaches the
// session credential on the way out and classifies failures on the way back.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	notifier  notify.Notifier
	navigator Navigator

	mu      sync.RWMutex
	session Session
}

// Option defines a function type to modify the Client instance.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its timeout is left untouched.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// New creates a gateway for the API rooted at baseURL.
func New(baseURL string, cfg config.GatewayConfig, notifier notify.Notifier, navigator Navigator, options ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("[gateway.New] baseURL is required")
	}
	if cfg == nil {
		return nil, errors.New("[gateway.New] config is required")
	}
	if notifier == nil {
		return nil, errors.New("[gateway.New] notifier is required")
	}
	if navigator == nil {
		return nil, errors.New("[gateway.New] navigator is required")
	}

	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: cfg.GetUserAgent(),
		http:      &http.Client{Timeout: cfg.GetRequestTimeout()},
		notifier:  notifier,
		navigator: navigator,
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// UseSession binds the session manager. The gateway and the session manager refer to each
// other, so the binding happens after both are constructed.
func (c *Client) UseSession(s Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
}

func (c *Client) currentSession() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

type requestOptions struct {
	authorization *string
	skipTeardown  bool
}

// RequestOption adjusts a single call.
type RequestOption func(*requestOptions)

// WithAuthorization sends header as the Authorization value instead of the session's credential.
func WithAuthorization(header string) RequestOption {
	return func(o *requestOptions) {
		o.authorization = &header
	}
}

// WithoutSessionTeardown suppresses the 401 side effects (logout, notice, redirect) for one call.
// The call still fails with KindUnauthorized.
func WithoutSessionTeardown() RequestOption {
	return func(o *requestOptions) {
		o.skipTeardown = true
	}
}

func (c *Client) Get(ctx context.Context, path string, opts ...RequestOption) (*Envelope, error) {
	return c.Do(ctx, http.MethodGet, path, nil, opts...)
}

func (c *Client) Post(ctx context.Context, path string, body any, opts ...RequestOption) (*Envelope, error) {
	return c.Do(ctx, http.MethodPost, path, body, opts...)
}

func (c *Client) Put(ctx context.Context, path string, body any, opts ...RequestOption) (*Envelope, error) {
	return c.Do(ctx, http.MethodPut, path, body, opts...)
}

func (c *Client) Delete(ctx context.Context, path string, opts ...RequestOption) (*Envelope, error) {
	return c.Do(ctx, http.MethodDelete, path, nil, opts...)
}

// Do performs a request and returns the decoded body of a successful response. Any failure is
// returned as an *Error.
func (c *Client) Do(ctx context.Context, method, path string, body any, opts ...RequestOption) (*Envelope, error) {
	var ro requestOptions
	for _, opt := range opts {
		opt(&ro)
	}

	req, err := c.newRequest(ctx, method, path, body, ro)
	if err != nil {
		log.Err(err).Str("method", method).Str("path", path).Msg("request not sent")
		return nil, clientFault(err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn().Str("method", method).Str("path", path).Msg("request abandoned by caller")
			return nil, clientFault(err)
		}
		log.Err(err).Str("method", method).Str("path", path).Msg("no response received")
		c.notifier.Notify(notify.Error(msgNetworkUnavailable))
		return nil, networkUnavailable(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		log.Err(err).Str("method", method).Str("path", path).Msg("response body unreadable")
		c.notifier.Notify(notify.Error(msgNetworkUnavailable))
		return nil, networkUnavailable(err)
	}

	env := &Envelope{}
	decodeErr := decodeEnvelope(raw, env)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if decodeErr != nil {
			return nil, &Error{Kind: KindUnknown, Status: resp.StatusCode, Message: "malformed response body", Err: decodeErr}
		}
		return env, nil
	}

	log.Warn().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Str("message", env.Message).
		Msg("request failed")
	return nil, c.classify(ctx, resp.StatusCode, env, ro)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any, ro requestOptions) (*http.Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set(headerContentType, contentTypeJSON)
	req.Header.Set(headerRequestID, uuid.New().String())
	if c.userAgent != "" {
		req.Header.Set(headerUserAgent, c.userAgent)
	}

	// An absent credential is legal; login itself is unauthenticated.
	authorization := ""
	if ro.authorization != nil {
		authorization = *ro.authorization
	} else if s := c.currentSession(); s != nil {
		authorization = s.AuthHeader()
	}
	if authorization != "" {
		req.Header.Set(headerAuthorization, authorization)
	}
	return req, nil
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// classify maps a failed status to the error taxonomy. 401 is the only status that tears the
// session down.
func (c *Client) classify(ctx context.Context, status int, env *Envelope, ro requestOptions) *Error {
	switch status {
	case http.StatusBadRequest:
		return &Error{Kind: KindBadRequest, Status: status, Message: orDefault(env.Message, msgBadRequest)}
	case http.StatusUnauthorized:
		if !ro.skipTeardown {
			c.teardown(ctx)
		}
		return &Error{Kind: KindUnauthorized, Status: status, Message: msgUnauthorized}
	case http.StatusForbidden:
		c.notifier.Notify(notify.Error(noticeForbidden))
		return &Error{Kind: KindForbidden, Status: status, Message: msgForbidden}
	case http.StatusNotFound:
		return &Error{Kind: KindNotFound, Status: status, Message: msgNotFound}
	case http.StatusConflict:
		return &Error{Kind: KindConflict, Status: status, Message: orDefault(env.Message, msgConflict)}
	case http.StatusUnprocessableEntity:
		return &Error{Kind: KindValidationFailed, Status: status, Message: orDefault(env.Message, msgValidationFailed)}
	case http.StatusInternalServerError:
		c.notifier.Notify(notify.Error(noticeServerError))
		return &Error{Kind: KindServerError, Status: status, Message: msgServerError}
	default:
		return &Error{Kind: KindUnknown, Status: status, Message: orDefault(env.Message, fmt.Sprintf("request failed (%d)", status))}
	}
}

func (c *Client) teardown(ctx context.Context) {
	if s := c.currentSession(); s != nil {
		s.Logout(ctx)
	}
	c.notifier.Notify(notify.Warning(noticeSessionExpired))
	c.navigator.Navigate(guard.LoginRedirect(c.navigator.CurrentPath()))
}

// decodeEnvelope tolerates an empty body; error responses frequently have none.
func decodeEnvelope(raw []byte, env *Envelope) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	return json.Unmarshal(raw, env)
}
