// Package remote provides evees.Remote backends: an in-memory remote, a local
// bbolt remote and a Redis remote. They share the perspective logic in Base
// and differ only in where details, owners and context indexes live.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/javanhut/evees/internal/cas"
	"github.com/javanhut/evees/internal/evees"
)

// errNoEntry is returned by backends for absent details or owners.
var errNoEntry = errors.New("no entry")

// backend persists the mutable state of a remote.
type backend interface {
	ping(ctx context.Context) error
	getDetails(ctx context.Context, id string) (evees.PerspectiveDetails, error)
	putDetails(ctx context.Context, id string, d evees.PerspectiveDetails) error
	getOwner(ctx context.Context, id string) (string, error)
	setOwner(ctx context.Context, id, owner string) error
	addToContext(ctx context.Context, tag, id string) error
	removeFromContext(ctx context.Context, tag, id string) error
	contextMembers(ctx context.Context, tag string) ([]string, error)
}

// Base implements evees.Remote on top of a backend.
type Base struct {
	id     string
	userID string
	store  cas.ContentStore
	data   backend
	logger *slog.Logger

	mu     sync.Mutex
	logged bool
}

func newBase(id, userID string, store cas.ContentStore, data backend) *Base {
	return &Base{
		id:     id,
		userID: userID,
		store:  store,
		data:   data,
		logger: slog.Default().With("remote", id),
	}
}

// SetLogger replaces the logger used for debug output.
func (r *Base) SetLogger(l *slog.Logger) { r.logger = l.With("remote", r.id) }

func (r *Base) ID() string                         { return r.id }
func (r *Base) UserID() string                     { return r.userID }
func (r *Base) Store() cas.ContentStore            { return r.store }
func (r *Base) AccessControl() evees.AccessControl { return ownerAccess{data: r.data} }

// Ready waits for the content store and the details backend.
func (r *Base) Ready(ctx context.Context) error {
	if err := r.store.Ready(ctx); err != nil {
		return fmt.Errorf("content store: %w", err)
	}
	return r.data.ping(ctx)
}

// Connect checks the backend is reachable.
func (r *Base) Connect(ctx context.Context) error { return r.data.ping(ctx) }

// Disconnect is a no-op; backends with resources expose Close.
func (r *Base) Disconnect(ctx context.Context) error { return nil }

func (r *Base) IsLogged(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logged, nil
}

// Login starts a session for the configured user.
func (r *Base) Login(ctx context.Context) error {
	if r.userID == "" {
		return evees.AuthorizationDenied(r.id, errors.New("no user configured"))
	}
	r.mu.Lock()
	r.logged = true
	r.mu.Unlock()
	return nil
}

func (r *Base) Logout(ctx context.Context) error {
	r.mu.Lock()
	r.logged = false
	r.mu.Unlock()
	return nil
}

func (r *Base) requireLogin(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.logged {
		return evees.AuthorizationDenied(id, errors.New("remote "+r.id+" is not logged in"))
	}
	return nil
}

func (r *Base) requireWrite(ctx context.Context, id string) error {
	if err := r.requireLogin(id); err != nil {
		return err
	}
	ok, err := r.CanWrite(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return evees.AuthorizationDenied(id, fmt.Errorf("user %s cannot write", r.userID))
	}
	return nil
}

// CreatePerspective persists the perspective record and registers its details.
// Re-creating an existing perspective leaves its details untouched.
func (r *Base) CreatePerspective(ctx context.Context, p evees.NewPerspectiveData) error {
	expected := p.Perspective.ID
	if err := r.requireLogin(expected); err != nil {
		return err
	}
	if owner := p.Perspective.Object.Payload.Remote; owner != r.id {
		return evees.MultiAuthority(expected, fmt.Errorf("perspective belongs to %s, not %s", owner, r.id))
	}

	id, err := r.store.Create(ctx, p.Perspective.Object)
	if err != nil {
		if evees.IsIdentityMismatch(err) {
			return evees.IdentityMismatch(expected, err)
		}
		return fmt.Errorf("store perspective: %w", err)
	}
	if id != expected {
		return evees.IdentityMismatch(expected, fmt.Errorf("store computed %s", id))
	}

	if _, err := r.data.getDetails(ctx, id); err == nil {
		return nil
	} else if !errors.Is(err, errNoEntry) {
		return err
	}

	owner, err := r.initialOwner(ctx, p)
	if err != nil {
		return err
	}

	details := p.Details
	tag := p.InitialContext()
	if tag != "" {
		details.Context = evees.Str(tag)
	}
	if err := r.data.putDetails(ctx, id, details); err != nil {
		return fmt.Errorf("put details: %w", err)
	}
	if err := r.data.setOwner(ctx, id, owner); err != nil {
		return fmt.Errorf("set owner: %w", err)
	}
	if tag != "" {
		if err := r.data.addToContext(ctx, tag, id); err != nil {
			return fmt.Errorf("index context: %w", err)
		}
	}

	r.logger.Debug("perspective registered", "id", id, "owner", owner, "context", tag)
	return nil
}

// initialOwner is the parent's owner, else the explicit CanWrite, else the user.
func (r *Base) initialOwner(ctx context.Context, p evees.NewPerspectiveData) (string, error) {
	if p.ParentID != "" {
		owner, err := r.data.getOwner(ctx, p.ParentID)
		if err == nil {
			return owner, nil
		}
		if !errors.Is(err, errNoEntry) {
			return "", err
		}
	}
	if p.CanWrite != "" {
		return p.CanWrite, nil
	}
	return r.userID, nil
}

// CreatePerspectiveBatch creates every perspective in order.
func (r *Base) CreatePerspectiveBatch(ctx context.Context, ps []evees.NewPerspectiveData) error {
	for _, p := range ps {
		if err := r.CreatePerspective(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// UpdatePerspective applies a details patch and keeps the context index in sync.
func (r *Base) UpdatePerspective(ctx context.Context, id string, patch evees.PerspectiveDetails) error {
	if err := r.requireWrite(ctx, id); err != nil {
		return err
	}
	return r.applyPatch(ctx, id, patch)
}

// ApplyGoverned creates perspectives and applies patches without checking the
// owner of each target. A session is still required.
func (r *Base) ApplyGoverned(ctx context.Context, newPerspectives []evees.NewPerspectiveData, updates []evees.UpdateRequest) error {
	if err := r.requireLogin(r.id); err != nil {
		return err
	}
	if err := r.CreatePerspectiveBatch(ctx, newPerspectives); err != nil {
		return err
	}
	for _, u := range updates {
		if err := r.applyPatch(ctx, u.PerspectiveID, u.Details); err != nil {
			return fmt.Errorf("apply %s: %w", u.PerspectiveID, err)
		}
	}
	return nil
}

func (r *Base) applyPatch(ctx context.Context, id string, patch evees.PerspectiveDetails) error {
	current, err := r.GetPerspective(ctx, id)
	if err != nil {
		return err
	}
	next := current.Apply(patch)
	if err := r.data.putDetails(ctx, id, next); err != nil {
		return fmt.Errorf("put details: %w", err)
	}

	oldTag, newTag := current.ContextValue(), next.ContextValue()
	if oldTag != newTag {
		if oldTag != "" {
			if err := r.data.removeFromContext(ctx, oldTag, id); err != nil {
				return err
			}
		}
		if newTag != "" {
			if err := r.data.addToContext(ctx, newTag, id); err != nil {
				return err
			}
		}
	}

	r.logger.Debug("perspective updated", "id", id, "head", next.Head())
	return nil
}

// GetPerspective returns the details of id.
func (r *Base) GetPerspective(ctx context.Context, id string) (evees.PerspectiveDetails, error) {
	d, err := r.data.getDetails(ctx, id)
	if errors.Is(err, errNoEntry) {
		return evees.PerspectiveDetails{}, evees.NotFound(id, cas.ErrNotFound)
	}
	return d, err
}

// GetContextPerspectives lists the perspectives indexed under tag.
func (r *Base) GetContextPerspectives(ctx context.Context, tag string) ([]string, error) {
	return r.data.contextMembers(ctx, tag)
}

// DeletePerspective soft-deletes id: owner and context are cleared and the
// head is kept.
func (r *Base) DeletePerspective(ctx context.Context, id string) error {
	if err := r.requireWrite(ctx, id); err != nil {
		return err
	}
	current, err := r.GetPerspective(ctx, id)
	if err != nil {
		return err
	}
	if tag := current.ContextValue(); tag != "" {
		if err := r.data.removeFromContext(ctx, tag, id); err != nil {
			return err
		}
	}
	current.Context = nil
	if err := r.data.putDetails(ctx, id, current); err != nil {
		return err
	}
	return r.data.setOwner(ctx, id, "")
}

// CanWrite reports whether the logged user owns id.
func (r *Base) CanWrite(ctx context.Context, id string) (bool, error) {
	return r.AccessControl().CanWrite(ctx, id, r.userID)
}

// ownerAccess grants write access to the single owner of a perspective.
type ownerAccess struct {
	data backend
}

func (a ownerAccess) CanWrite(ctx context.Context, perspectiveID, userID string) (bool, error) {
	owner, err := a.data.getOwner(ctx, perspectiveID)
	if errors.Is(err, errNoEntry) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return owner != "" && owner == userID, nil
}

func (a ownerAccess) GetOwner(ctx context.Context, perspectiveID string) (string, error) {
	owner, err := a.data.getOwner(ctx, perspectiveID)
	if errors.Is(err, errNoEntry) {
		return "", evees.NotFound(perspectiveID, cas.ErrNotFound)
	}
	return owner, err
}

var (
	_ evees.Remote = (*MemoryRemote)(nil)
	_ evees.Remote = (*BoltRemote)(nil)
	_ evees.Remote = (*RedisRemote)(nil)

	_ evees.GovernedRemote = (*Base)(nil)
	_ cas.ContentStore     = (*RedisStore)(nil)
)
