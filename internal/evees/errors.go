package evees

import (
	"errors"
	"fmt"

	"github.com/javanhut/evees/internal/cas"
)

// Kind classifies failures surfaced by the merge engine, workspaces,
// remotes and proposal providers.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindIdentityMismatch
	KindAuthorizationDenied
	KindMultiAuthority
	KindGovernanceUnmet
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindIdentityMismatch:
		return "identity mismatch"
	case KindAuthorizationDenied:
		return "authorization denied"
	case KindMultiAuthority:
		return "multiple authorities"
	case KindGovernanceUnmet:
		return "governance unmet"
	default:
		return "unknown"
	}
}

// Error carries the kind of failure and the offending id.
type Error struct {
	Kind Kind
	ID   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.ID)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.ID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, id string, err error) error {
	return &Error{Kind: kind, ID: id, Err: err}
}

// NotFound reports an absent entity, perspective or commit.
func NotFound(id string, err error) error { return newError(KindNotFound, id, err) }

// IdentityMismatch reports a persisted id that differs from the expected one.
func IdentityMismatch(id string, err error) error {
	return newError(KindIdentityMismatch, id, err)
}

// AuthorizationDenied reports a failed write or ownership check.
func AuthorizationDenied(id string, err error) error {
	return newError(KindAuthorizationDenied, id, err)
}

// MultiAuthority reports an operation that spans more than one remote.
func MultiAuthority(id string, err error) error {
	return newError(KindMultiAuthority, id, err)
}

// GovernanceUnmet reports acting on a proposal that was not accepted.
func GovernanceUnmet(id string, err error) error {
	return newError(KindGovernanceUnmet, id, err)
}

// KindOf returns the kind of err. Store sentinels map onto their kinds.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, cas.ErrNotFound):
		return KindNotFound
	case errors.Is(err, cas.ErrIdentityMismatch):
		return KindIdentityMismatch
	}
	return KindUnknown
}

func IsNotFound(err error) bool            { return KindOf(err) == KindNotFound }
func IsIdentityMismatch(err error) bool    { return KindOf(err) == KindIdentityMismatch }
func IsAuthorizationDenied(err error) bool { return KindOf(err) == KindAuthorizationDenied }
func IsMultiAuthority(err error) bool      { return KindOf(err) == KindMultiAuthority }
func IsGovernanceUnmet(err error) bool     { return KindOf(err) == KindGovernanceUnmet }
