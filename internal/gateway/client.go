package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MacJediWizard/seatbroker/internal/config"
	"github.com/MacJediWizard/seatbroker/internal/httpclient"
	"github.com/MacJediWizard/seatbroker/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// maxErrorBody bounds how much of an error response is kept for classification.
const maxErrorBody = 4 << 10

const defaultUserAgent = "Mozilla/5.0 (compatible; seatbroker)"

// Sealer encrypts credentials at rest.
type Sealer interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// SessionStore persists an account's sealed session state.
type SessionStore interface {
	SaveAccountSession(ctx context.Context, accountID uuid.UUID, sealed []byte) error
}

// ClientConfig configures the HTTP gateway.
type ClientConfig struct {
	BaseURL   string
	Timeout   time.Duration
	Proxy     *config.ProxyConfig
	UserAgent string
}

// Client is the HTTP implementation of Gateway. Each Acquire gets its own
// cookie jar; all sessions share one transport.
type Client struct {
	baseURL   *url.URL
	transport http.RoundTripper
	timeout   time.Duration
	userAgent string
	sealer    Sealer
	sessions  SessionStore
	logger    zerolog.Logger
}

// NewClient creates a new HTTP gateway client.
func NewClient(cfg ClientConfig, sealer Sealer, sessions SessionStore, logger zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("gateway base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse gateway base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported gateway scheme %q", base.Scheme)
	}

	transport, err := httpclient.NewTransport(cfg.Proxy)
	if err != nil {
		return nil, err
	}

	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	c := &Client{
		baseURL:   base,
		transport: transport,
		timeout:   cfg.Timeout,
		userAgent: cfg.UserAgent,
		sealer:    sealer,
		sessions:  sessions,
		logger:    logger.With().Str("component", "gateway").Logger(),
	}

	c.logger.Info().
		Str("base_url", base.String()).
		Str("proxy", httpclient.ProxyInfo(cfg.Proxy)).
		Msg("gateway client configured")

	return c, nil
}

// Acquire opens a session for the account, reusing persisted cookies when
// they are still accepted and logging in otherwise.
func (c *Client) Acquire(ctx context.Context, account *models.Account) (Session, error) {
	password, err := c.sealer.Decrypt(account.PasswordEncrypted)
	if err != nil {
		return nil, NewRemoteError(KindAuth, "acquire", 0, fmt.Errorf("decrypt account password: %w", err))
	}

	sess, err := newHTTPSession(c, account, string(password))
	if err != nil {
		return nil, NewRemoteError(KindTransient, "acquire", 0, err)
	}

	if account.HasSession() {
		if err := sess.restore(account.SessionEncrypted); err != nil {
			c.logger.Warn().Err(err).Str("account", account.Email).Msg("discarding unreadable stored session")
		} else if err := sess.refresh(ctx); err == nil {
			return sess, nil
		} else if KindOf(err) != KindAuth {
			return nil, err
		}
		c.logger.Debug().Str("account", account.Email).Msg("stored session rejected, logging in")
	}

	if err := sess.login(ctx); err != nil {
		return nil, err
	}
	if err := sess.refresh(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}

// Ping checks that the remote login page answers. Any non-5xx status
// counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("login"), nil)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	hc := &http.Client{
		Transport: c.transport,
		Timeout:   c.timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("ping remote: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("ping remote: status %d", resp.StatusCode)
	}
	return nil
}

// endpoint resolves a path below the base URL.
func (c *Client) endpoint(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Join(escaped, "/")
	return u.String()
}

// classify maps an unsuccessful response to a RemoteError.
func classify(op string, status int, body []byte) error {
	text := strings.ToLower(string(body))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	err := errors.New(msg)

	switch {
	case status == http.StatusNotFound:
		return NewRemoteError(KindNotFound, op, status, err)
	case (status == http.StatusForbidden || status == http.StatusUnprocessableEntity || status == http.StatusBadRequest) &&
		(strings.Contains(text, "full") || strings.Contains(text, "limit")):
		return NewRemoteError(KindGroupFull, op, status, err)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewRemoteError(KindAuth, op, status, err)
	default:
		return NewRemoteError(KindTransient, op, status, err)
	}
}

// alreadyDone reports whether a failed invite means the subject is already in the group.
func alreadyDone(status int, body []byte) bool {
	return status == http.StatusConflict || strings.Contains(strings.ToLower(string(body)), "already")
}

func readBody(resp *http.Response, limit int64) []byte {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, limit))
	return data
}

func jsonBody(v any) (io.Reader, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return bytes.NewReader(data), nil
}
