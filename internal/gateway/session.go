package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/MacJediWizard/seatbroker/internal/httpclient"
	"github.com/MacJediWizard/seatbroker/internal/models"
	"golang.org/x/net/publicsuffix"
)

// storedSession is the sealed form of a session kept on the account row.
type storedSession struct {
	Cookies []storedCookie `json:"cookies"`
	CSRF    string         `json:"csrf,omitempty"`
	SavedAt time.Time      `json:"saved_at"`
}

type storedCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type httpSession struct {
	client   *Client
	account  *models.Account
	password string
	http     *http.Client

	mu       sync.Mutex
	csrf     string
	released bool
}

func newHTTPSession(c *Client, account *models.Account, password string) (*httpSession, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return &httpSession{
		client:   c,
		account:  account,
		password: password,
		http:     httpclient.NewWithTransport(c.transport, httpclient.Options{Timeout: c.timeout, Jar: jar}),
	}, nil
}

func (s *httpSession) restore(sealed []byte) error {
	plain, err := s.client.sealer.Decrypt(sealed)
	if err != nil {
		return fmt.Errorf("decrypt session: %w", err)
	}
	var stored storedSession
	if err := json.Unmarshal(plain, &stored); err != nil {
		return fmt.Errorf("decode session: %w", err)
	}

	cookies := make([]*http.Cookie, 0, len(stored.Cookies))
	for _, c := range stored.Cookies {
		cookies = append(cookies, &http.Cookie{Name: c.Name, Value: c.Value, Path: "/"})
	}
	s.http.Jar.SetCookies(s.client.baseURL, cookies)
	s.csrf = stored.CSRF
	return nil
}

// login posts the account credentials with the login form's CSRF token.
func (s *httpSession) login(ctx context.Context) error {
	const op = "login"

	p, err := s.getPage(ctx, op, s.client.endpoint("login"))
	if err != nil {
		return err
	}

	body := map[string]string{
		"_csrf":    p.csrf(),
		"email":    s.account.Email,
		"password": s.password,
	}
	status, respBody, err := s.send(ctx, http.MethodPost, s.client.endpoint("login"), body, "")
	if err != nil {
		return NewRemoteError(KindTransient, op, 0, err)
	}
	if status >= 500 {
		return classify(op, status, respBody)
	}
	if status >= 300 {
		return NewRemoteError(KindAuth, op, status, fmt.Errorf("credentials rejected: %s", strings.TrimSpace(string(respBody))))
	}

	s.client.logger.Info().Str("account", s.account.Email).Msg("logged in to remote group service")
	return nil
}

// refresh loads the members page to confirm the session and pick up a fresh CSRF token.
func (s *httpSession) refresh(ctx context.Context) error {
	p, err := s.membersPage(ctx)
	if err != nil {
		return err
	}
	token := p.csrf()
	if token == "" {
		return NewRemoteError(KindAuth, "refresh", 0, errors.New("members page has no CSRF token"))
	}
	s.mu.Lock()
	s.csrf = token
	s.mu.Unlock()
	return nil
}

func (s *httpSession) membersPage(ctx context.Context) (*page, error) {
	return s.getPage(ctx, "members", s.client.endpoint("manage", "groups", s.account.GroupID, "members"))
}

// getPage fetches and parses an HTML page. A redirect to the login page
// means the session is no longer valid.
func (s *httpSession) getPage(ctx context.Context, op, target string) (*page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, NewRemoteError(KindTransient, op, 0, err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("User-Agent", s.client.userAgent)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, NewRemoteError(KindTransient, op, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, classify(op, resp.StatusCode, readBody(resp, maxErrorBody))
	}
	if op != "login" && strings.HasSuffix(resp.Request.URL.Path, "/login") {
		return nil, NewRemoteError(KindAuth, op, resp.StatusCode, errors.New("redirected to login"))
	}

	p, err := parsePage(resp.Body)
	if err != nil {
		return nil, NewRemoteError(KindTransient, op, resp.StatusCode, err)
	}
	return p, nil
}

// send issues a JSON request and returns the status and a bounded body.
func (s *httpSession) send(ctx context.Context, method, target string, payload any, csrf string) (int, []byte, error) {
	body, err := jsonBody(payload)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", s.client.userAgent)
	req.Header.Set("Referer", s.client.endpoint("manage", "groups", s.account.GroupID, "members"))
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if csrf != "" {
		req.Header.Set("X-Csrf-Token", csrf)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, readBody(resp, 1<<20), nil
}

// call issues an authenticated group request. An auth failure triggers
// one login and retry.
func (s *httpSession) call(ctx context.Context, op, method, target string, payload any) (int, []byte, error) {
	for attempt := 0; ; attempt++ {
		s.mu.Lock()
		csrf := s.csrf
		s.mu.Unlock()

		status, body, err := s.send(ctx, method, target, payload, csrf)
		if err != nil {
			return 0, nil, NewRemoteError(KindTransient, op, 0, err)
		}
		if status == http.StatusUnauthorized && attempt == 0 {
			s.client.logger.Debug().Str("account", s.account.Email).Str("op", op).Msg("session expired, logging in again")
			if err := s.login(ctx); err != nil {
				return 0, nil, err
			}
			if err := s.refresh(ctx); err != nil {
				return 0, nil, err
			}
			continue
		}
		return status, body, nil
	}
}

func (s *httpSession) Invite(ctx context.Context, subject string, expiresAt *time.Time) (*InviteResult, error) {
	const op = "invite"

	payload := map[string]any{"email": subject}
	if expiresAt != nil {
		payload["expiresAt"] = expiresAt.UTC().Format(time.RFC3339)
	}

	status, body, err := s.call(ctx, op, http.MethodPost, s.client.endpoint("manage", "groups", s.account.GroupID, "invites"), payload)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		if alreadyDone(status, body) {
			return &InviteResult{AlreadyMember: true, Raw: decodeRaw(body)}, nil
		}
		return nil, classify(op, status, body)
	}

	raw := decodeRaw(body)
	return &InviteResult{MemberID: memberIDFrom(raw), Raw: raw}, nil
}

func (s *httpSession) RemoveMember(ctx context.Context, memberID string) error {
	return s.delete(ctx, "remove_member", s.client.endpoint("manage", "groups", s.account.GroupID, "user", memberID))
}

func (s *httpSession) RevokeInvite(ctx context.Context, subject string) error {
	return s.delete(ctx, "revoke_invite", s.client.endpoint("manage", "groups", s.account.GroupID, "invites", subject))
}

func (s *httpSession) delete(ctx context.Context, op, target string) error {
	status, body, err := s.call(ctx, op, http.MethodDelete, target, nil)
	if err != nil {
		return err
	}
	if status >= 300 {
		return classify(op, status, body)
	}
	return nil
}

func (s *httpSession) ListMembers(ctx context.Context) ([]Member, error) {
	p, err := s.membersPage(ctx)
	if err != nil && KindOf(err) == KindAuth {
		if err := s.login(ctx); err != nil {
			return nil, err
		}
		p, err = s.membersPage(ctx)
	}
	if err != nil {
		return nil, err
	}

	members, err := p.members()
	if err != nil {
		return nil, NewRemoteError(KindTransient, "members", 0, err)
	}
	if token := p.csrf(); token != "" {
		s.mu.Lock()
		s.csrf = token
		s.mu.Unlock()
	}
	return members, nil
}

// Release seals the session cookies back onto the account. Later calls are no-ops.
func (s *httpSession) Release(ctx context.Context) error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	csrf := s.csrf
	s.mu.Unlock()

	if s.client.sessions == nil {
		return nil
	}

	stored := storedSession{CSRF: csrf, SavedAt: time.Now().UTC()}
	for _, c := range s.http.Jar.Cookies(s.client.baseURL) {
		stored.Cookies = append(stored.Cookies, storedCookie{Name: c.Name, Value: c.Value})
	}
	if len(stored.Cookies) == 0 {
		return nil
	}

	plain, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	sealed, err := s.client.sealer.Encrypt(plain)
	if err != nil {
		return fmt.Errorf("encrypt session: %w", err)
	}
	if err := s.client.sessions.SaveAccountSession(ctx, s.account.ID, sealed); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	s.account.SessionEncrypted = sealed
	return nil
}

func decodeRaw(body []byte) map[string]any {
	var raw map[string]any
	if len(body) == 0 || json.Unmarshal(body, &raw) != nil {
		return nil
	}
	return raw
}

// memberIDFrom picks the member id out of an invite response, if any.
func memberIDFrom(raw map[string]any) *string {
	if raw == nil {
		return nil
	}
	candidates := []any{raw["_id"], raw["user_id"]}
	if user, ok := raw["user"].(map[string]any); ok {
		candidates = append(candidates, user["_id"])
	}
	for _, c := range candidates {
		if id, ok := c.(string); ok && id != "" {
			return &id
		}
	}
	return nil
}
