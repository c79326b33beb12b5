package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

const (
	metaCSRFToken = "ol-csrfToken"
	metaUsers     = "ol-users"
	inputCSRF     = "_csrf"
)

// page holds the values scraped from a remote HTML page.
type page struct {
	meta   map[string]string
	inputs map[string]string
}

// parsePage collects <meta name content> pairs and named <input> values.
func parsePage(r io.Reader) (*page, error) {
	p := &page{meta: make(map[string]string), inputs: make(map[string]string)}
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return p, nil
			}
			return nil, fmt.Errorf("parse page: %w", z.Err())
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "meta":
				if name := attr(tok, "name"); name != "" {
					p.meta[name] = attr(tok, "content")
				}
			case "input":
				if name := attr(tok, "name"); name != "" {
					p.inputs[name] = attr(tok, "value")
				}
			}
		}
	}
}

func attr(tok html.Token, key string) string {
	for _, a := range tok.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

// csrf returns the page's CSRF token from the meta tag or the login form.
func (p *page) csrf() string {
	if v := p.meta[metaCSRFToken]; v != "" {
		return v
	}
	return p.inputs[inputCSRF]
}

type remoteUser struct {
	ID     string `json:"_id"`
	Email  string `json:"email"`
	Invite bool   `json:"invite"`
}

// members decodes the roster embedded in the members page.
func (p *page) members() ([]Member, error) {
	raw, ok := p.meta[metaUsers]
	if !ok {
		return nil, fmt.Errorf("members page has no %s meta tag", metaUsers)
	}

	var users []remoteUser
	if err := json.Unmarshal([]byte(raw), &users); err != nil {
		return nil, fmt.Errorf("decode %s: %w", metaUsers, err)
	}

	members := make([]Member, 0, len(users))
	for _, u := range users {
		if u.Email == "" {
			continue
		}
		members = append(members, Member{
			ID:      u.ID,
			Subject: u.Email,
			Pending: u.ID == "" || u.Invite,
		})
	}
	return members, nil
}
