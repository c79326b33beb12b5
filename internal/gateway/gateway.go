// Package gateway talks to the remote group service that owns the seats.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MacJediWizard/seatbroker/internal/models"
)

// Gateway opens authenticated sessions against an account's remote group.
type Gateway interface {
	Acquire(ctx context.Context, account *models.Account) (Session, error)
}

// Session is a scoped, authenticated handle to one account's group.
// Callers must Release it when done; Release persists refreshed
// credentials and is safe to call more than once.
type Session interface {
	Invite(ctx context.Context, subject string, expiresAt *time.Time) (*InviteResult, error)
	RemoveMember(ctx context.Context, memberID string) error
	RevokeInvite(ctx context.Context, subject string) error
	ListMembers(ctx context.Context) ([]Member, error)
	Release(ctx context.Context) error
}

// InviteResult is the remote response to an invitation.
type InviteResult struct {
	// MemberID is set when the remote side reports the subject as an
	// existing member.
	MemberID      *string        `json:"member_id,omitempty"`
	AlreadyMember bool           `json:"already_member"`
	Raw           map[string]any `json:"raw,omitempty"`
}

// Member is an entry in the remote group roster.
type Member struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	// Pending is true for outstanding invitations.
	Pending bool `json:"pending"`
}

// ErrorKind classifies remote failures for the failover loop.
type ErrorKind int

const (
	// KindTransient covers network failures, timeouts and 5xx responses.
	KindTransient ErrorKind = iota
	// KindGroupFull means the remote group has no room left.
	KindGroupFull
	// KindNotFound means the member or invitation does not exist.
	KindNotFound
	// KindAuth means the credentials were rejected.
	KindAuth
)

func (k ErrorKind) String() string {
	switch k {
	case KindGroupFull:
		return "group_full"
	case KindNotFound:
		return "not_found"
	case KindAuth:
		return "auth"
	default:
		return "transient"
	}
}

// RemoteError is a classified remote failure.
type RemoteError struct {
	Kind   ErrorKind
	Op     string
	Status int
	Err    error
}

func (e *RemoteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote %s: %s (status %d): %v", e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("remote %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a remote error. Unclassified errors are transient.
func KindOf(err error) ErrorKind {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindTransient
}

// IsNotFound reports whether err is a remote not-found error.
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}

// NewRemoteError builds a RemoteError.
func NewRemoteError(kind ErrorKind, op string, status int, err error) *RemoteError {
	return &RemoteError{Kind: kind, Op: op, Status: status, Err: err}
}
