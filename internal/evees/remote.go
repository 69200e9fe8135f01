package evees

import (
	"context"
	"errors"
	"fmt"

	"github.com/javanhut/evees/internal/cas"
)

// Remote is a storage or consensus backend holding perspective details.
// UpdatePerspective is last-writer-wins per field present in the patch.
// CreatePerspective fails with IdentityMismatch when the id computed by the
// store differs from the precomputed one.
type Remote interface {
	ID() string
	UserID() string
	Store() cas.ContentStore
	AccessControl() AccessControl
	Ready(ctx context.Context) error

	CreatePerspective(ctx context.Context, p NewPerspectiveData) error
	CreatePerspectiveBatch(ctx context.Context, ps []NewPerspectiveData) error
	UpdatePerspective(ctx context.Context, id string, details PerspectiveDetails) error
	GetPerspective(ctx context.Context, id string) (PerspectiveDetails, error)
	// GetContextPerspectives may lag behind recent writes.
	GetContextPerspectives(ctx context.Context, contextTag string) ([]string, error)
	DeletePerspective(ctx context.Context, id string) error
	CanWrite(ctx context.Context, id string) (bool, error)

	IsLogged(ctx context.Context) (bool, error)
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// AccessControl answers ownership questions for one remote.
type AccessControl interface {
	CanWrite(ctx context.Context, perspectiveID, userID string) (bool, error)
	GetOwner(ctx context.Context, perspectiveID string) (string, error)
}

// GovernedRemote is implemented by remotes that can apply a change set whose
// authority comes from governance, such as an accepted council proposal,
// rather than from the acting user's write access. Callers must establish
// that authority before calling ApplyGoverned.
type GovernedRemote interface {
	ApplyGoverned(ctx context.Context, newPerspectives []NewPerspectiveData, updates []UpdateRequest) error
}

// RemoteRegistry looks up remotes by id. The first registered remote is the
// default one.
type RemoteRegistry struct {
	remotes map[string]Remote
	order   []string
}

// NewRemoteRegistry builds a registry from the given remotes.
func NewRemoteRegistry(remotes ...Remote) *RemoteRegistry {
	r := &RemoteRegistry{remotes: make(map[string]Remote)}
	for _, remote := range remotes {
		r.Register(remote)
	}
	return r
}

// Register adds remote, replacing any remote with the same id.
func (r *RemoteRegistry) Register(remote Remote) {
	if _, ok := r.remotes[remote.ID()]; !ok {
		r.order = append(r.order, remote.ID())
	}
	r.remotes[remote.ID()] = remote
}

// Get returns the remote with the given id.
func (r *RemoteRegistry) Get(id string) (Remote, error) {
	remote, ok := r.remotes[id]
	if !ok {
		return nil, NotFound(id, errors.New("remote not registered"))
	}
	return remote, nil
}

// Default returns the first registered remote, or nil.
func (r *RemoteRegistry) Default() Remote {
	if len(r.order) == 0 {
		return nil
	}
	return r.remotes[r.order[0]]
}

// All returns the remotes in registration order.
func (r *RemoteRegistry) All() []Remote {
	out := make([]Remote, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.remotes[id])
	}
	return out
}

// Ready waits for every registered remote.
func (r *RemoteRegistry) Ready(ctx context.Context) error {
	for _, remote := range r.All() {
		if err := remote.Ready(ctx); err != nil {
			return fmt.Errorf("remote %s: %w", remote.ID(), err)
		}
	}
	return nil
}
