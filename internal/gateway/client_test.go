package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MacJediWizard/seatbroker/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// plainSealer stores values with a fixed prefix so tests can inspect them.
type plainSealer struct{}

func (plainSealer) Encrypt(p []byte) ([]byte, error) { return append([]byte("sealed:"), p...), nil }

func (plainSealer) Decrypt(c []byte) ([]byte, error) {
	if !strings.HasPrefix(string(c), "sealed:") {
		return nil, fmt.Errorf("not sealed")
	}
	return c[len("sealed:"):], nil
}

type memSessions struct {
	mu    sync.Mutex
	saved map[uuid.UUID][]byte
}

func (m *memSessions) SaveAccountSession(_ context.Context, id uuid.UUID, sealed []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = make(map[uuid.UUID][]byte)
	}
	m.saved[id] = sealed
	return nil
}

func (m *memSessions) get(id uuid.UUID) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved[id]
}

// fakeRemote emulates the remote group management site.
type fakeRemote struct {
	mu       sync.Mutex
	sessions map[string]bool
	users    []remoteUser
	full     bool
	logins   int
	nextID   int
}

func newFakeRemote(users ...remoteUser) *fakeRemote {
	return &fakeRemote{sessions: map[string]bool{}, users: users}
}

func (f *fakeRemote) authed(r *http.Request) bool {
	c, err := r.Cookie("sid")
	return err == nil && f.sessions[c.Value]
}

func (f *fakeRemote) expireSessions() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = map[string]bool{}
}

func (f *fakeRemote) loginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}

func (f *fakeRemote) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /login", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><form><input type="hidden" name="_csrf" value="login-csrf"></form></body></html>`)
	})

	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		defer f.mu.Unlock()
		if body["_csrf"] != "login-csrf" || body["password"] != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"message":"invalid credentials"}`)
			return
		}
		f.logins++
		sid := fmt.Sprintf("s%d", f.logins)
		f.sessions[sid] = true
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: sid, Path: "/"})
		fmt.Fprint(w, `{"redir":"/project"}`)
	})

	mux.HandleFunc("GET /manage/groups/{group}/members", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.authed(r) {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		users, _ := json.Marshal(f.users)
		fmt.Fprintf(w, `<html><head><meta name="ol-csrfToken" content="tok-1"><meta name="ol-users" data-type="json" content="%s"></head></html>`,
			html.EscapeString(string(users)))
	})

	mux.HandleFunc("POST /manage/groups/{group}/invites", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.authed(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("X-Csrf-Token") != "tok-1" {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, "invalid csrf token")
			return
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if f.full {
			w.WriteHeader(http.StatusUnprocessableEntity)
			fmt.Fprint(w, `{"error":"group is full"}`)
			return
		}
		for _, u := range f.users {
			if u.Email == body["email"] {
				w.WriteHeader(http.StatusConflict)
				fmt.Fprint(w, `{"error":"user already a member"}`)
				return
			}
		}
		f.users = append(f.users, remoteUser{Email: body["email"], Invite: true})
		fmt.Fprintf(w, `{"success":true,"expiresAt":%q}`, body["expiresAt"])
	})

	mux.HandleFunc("DELETE /manage/groups/{group}/user/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.authed(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		for i, u := range f.users {
			if u.ID != "" && u.ID == r.PathValue("id") {
				f.users = append(f.users[:i], f.users[i+1:]...)
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		http.NotFound(w, r)
	})

	mux.HandleFunc("DELETE /manage/groups/{group}/invites/{email}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.authed(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		for i, u := range f.users {
			if u.Invite && u.Email == r.PathValue("email") {
				f.users = append(f.users[:i], f.users[i+1:]...)
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		http.NotFound(w, r)
	})

	return mux
}

func newTestClient(t *testing.T, remote *fakeRemote) (*Client, *memSessions) {
	t.Helper()
	srv := httptest.NewServer(remote.handler())
	t.Cleanup(srv.Close)

	sessions := &memSessions{}
	c, err := NewClient(ClientConfig{BaseURL: srv.URL + "/", Timeout: 5 * time.Second}, plainSealer{}, sessions, zerolog.Nop())
	require.NoError(t, err)
	return c, sessions
}

func testAccount(password string) *models.Account {
	a := models.NewAccount("owner@example.com", "g1", 10)
	a.PasswordEncrypted = []byte("sealed:" + password)
	return a
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	_, err := NewClient(ClientConfig{}, plainSealer{}, nil, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewClient(ClientConfig{BaseURL: "ftp://remote"}, plainSealer{}, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestClient_Ping(t *testing.T) {
	c, _ := newTestClient(t, newFakeRemote())
	assert.NoError(t, c.Ping(context.Background()))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(down.Close)
	dc, err := NewClient(ClientConfig{BaseURL: down.URL, Timeout: time.Second}, plainSealer{}, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Error(t, dc.Ping(context.Background()))
}

func TestClient_AcquireLogsInAndPersistsSession(t *testing.T) {
	remote := newFakeRemote()
	c, sessions := newTestClient(t, remote)
	account := testAccount("pw")

	sess, err := c.Acquire(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, 1, remote.loginCount())

	require.NoError(t, sess.Release(context.Background()))
	require.NoError(t, sess.Release(context.Background()))

	saved := sessions.get(account.ID)
	require.NotEmpty(t, saved)
	assert.Equal(t, saved, account.SessionEncrypted)

	// A second acquire reuses the stored cookie without logging in.
	sess, err = c.Acquire(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, 1, remote.loginCount())
	require.NoError(t, sess.Release(context.Background()))
}

func TestClient_AcquireStaleSessionLogsInAgain(t *testing.T) {
	remote := newFakeRemote()
	c, _ := newTestClient(t, remote)
	account := testAccount("pw")

	sess, err := c.Acquire(context.Background(), account)
	require.NoError(t, err)
	require.NoError(t, sess.Release(context.Background()))

	remote.expireSessions()

	_, err = c.Acquire(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, 2, remote.loginCount())
}

func TestClient_AcquireBadCredentials(t *testing.T) {
	c, _ := newTestClient(t, newFakeRemote())

	_, err := c.Acquire(context.Background(), testAccount("wrong"))
	require.Error(t, err)
	assert.Equal(t, KindAuth, KindOf(err))
}

func TestClient_AcquireUndecryptablePassword(t *testing.T) {
	c, _ := newTestClient(t, newFakeRemote())
	account := testAccount("pw")
	account.PasswordEncrypted = []byte("garbage")

	_, err := c.Acquire(context.Background(), account)
	assert.Equal(t, KindAuth, KindOf(err))
}

func TestSession_Invite(t *testing.T) {
	remote := newFakeRemote(remoteUser{ID: "u1", Email: "member@example.com"})
	c, _ := newTestClient(t, remote)

	sess, err := c.Acquire(context.Background(), testAccount("pw"))
	require.NoError(t, err)

	exp := time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC)
	res, err := sess.Invite(context.Background(), "new@example.com", &exp)
	require.NoError(t, err)
	assert.False(t, res.AlreadyMember)
	assert.Equal(t, "2026-01-08T00:00:00Z", res.Raw["expiresAt"])

	res, err = sess.Invite(context.Background(), "member@example.com", nil)
	require.NoError(t, err)
	assert.True(t, res.AlreadyMember)
}

func TestSession_InviteGroupFull(t *testing.T) {
	remote := newFakeRemote()
	remote.full = true
	c, _ := newTestClient(t, remote)

	sess, err := c.Acquire(context.Background(), testAccount("pw"))
	require.NoError(t, err)

	_, err = sess.Invite(context.Background(), "new@example.com", nil)
	require.Error(t, err)
	assert.Equal(t, KindGroupFull, KindOf(err))
}

func TestSession_InviteReauthenticatesOnce(t *testing.T) {
	remote := newFakeRemote()
	c, _ := newTestClient(t, remote)

	sess, err := c.Acquire(context.Background(), testAccount("pw"))
	require.NoError(t, err)

	remote.expireSessions()

	_, err = sess.Invite(context.Background(), "new@example.com", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, remote.loginCount())
}

func TestSession_RemoveAndRevoke(t *testing.T) {
	remote := newFakeRemote(
		remoteUser{ID: "u1", Email: "member@example.com"},
		remoteUser{Email: "pending@example.com", Invite: true},
	)
	c, _ := newTestClient(t, remote)

	sess, err := c.Acquire(context.Background(), testAccount("pw"))
	require.NoError(t, err)

	require.NoError(t, sess.RemoveMember(context.Background(), "u1"))
	err = sess.RemoveMember(context.Background(), "u1")
	assert.True(t, IsNotFound(err))

	require.NoError(t, sess.RevokeInvite(context.Background(), "pending@example.com"))
	err = sess.RevokeInvite(context.Background(), "pending@example.com")
	assert.True(t, IsNotFound(err))
}

func TestSession_ListMembers(t *testing.T) {
	remote := newFakeRemote(
		remoteUser{ID: "u1", Email: "member@example.com"},
		remoteUser{Email: "pending@example.com", Invite: true},
		remoteUser{ID: "u3"},
	)
	c, _ := newTestClient(t, remote)

	sess, err := c.Acquire(context.Background(), testAccount("pw"))
	require.NoError(t, err)

	members, err := sess.ListMembers(context.Background())
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, Member{ID: "u1", Subject: "member@example.com"}, members[0])
	assert.True(t, members[1].Pending)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   ErrorKind
	}{
		{http.StatusNotFound, "", KindNotFound},
		{http.StatusUnauthorized, "", KindAuth},
		{http.StatusForbidden, "forbidden", KindAuth},
		{http.StatusForbidden, "Group member limit reached", KindGroupFull},
		{http.StatusUnprocessableEntity, "group is full", KindGroupFull},
		{http.StatusBadGateway, "", KindTransient},
		{http.StatusTooManyRequests, "", KindTransient},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d %s", tt.status, tt.body), func(t *testing.T) {
			err := classify("op", tt.status, []byte(tt.body))
			assert.Equal(t, tt.want, KindOf(err))
		})
	}
}

func TestParsePage(t *testing.T) {
	p, err := parsePage(strings.NewReader(`<html><head>
<meta name="ol-csrfToken" content="abc">
<meta name="ol-users" content="[{&quot;_id&quot;:&quot;u1&quot;,&quot;email&quot;:&quot;a@example.com&quot;}]">
</head><body><input name="_csrf" value="form"></body></html>`))
	require.NoError(t, err)
	assert.Equal(t, "abc", p.csrf())

	members, err := p.members()
	require.NoError(t, err)
	assert.Equal(t, []Member{{ID: "u1", Subject: "a@example.com"}}, members)

	p, err = parsePage(strings.NewReader(`<input name="_csrf" value="form">`))
	require.NoError(t, err)
	assert.Equal(t, "form", p.csrf())
	_, err = p.members()
	assert.Error(t, err)
}

func TestMemberIDFrom(t *testing.T) {
	assert.Nil(t, memberIDFrom(nil))
	assert.Equal(t, "u1", *memberIDFrom(map[string]any{"_id": "u1"}))
	assert.Equal(t, "u2", *memberIDFrom(map[string]any{"user": map[string]any{"_id": "u2"}}))
	assert.Nil(t, memberIDFrom(map[string]any{"success": true}))
}
