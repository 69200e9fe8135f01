// Package workspace batches the entities, new perspectives and head updates
// discovered during a merge and applies them as one unit of work.
//
// A Workspace is owned by a single merge or import operation. Its
// accumulation methods are safe for concurrent use so recursive sub-merges
// may run in parallel, and it reads through to the remotes so pending writes
// are visible to later steps of the same operation.
package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/javanhut/evees/internal/cas"
	"github.com/javanhut/evees/internal/evees"
)

// Entity is an object that still has to be persisted in Remote's store.
type Entity struct {
	ID     string
	Object any
	Remote string
}

// Workspace accumulates pending writes.
type Workspace struct {
	ID     uuid.UUID
	client *evees.Client
	logger *slog.Logger

	mu sync.Mutex

	entities []Entity
	objects  map[string][]byte // id -> canonical bytes of pending entities
	seen     map[string]struct{}

	newPerspectives []evees.NewPerspectiveData
	newIndex        map[string]int

	updates map[string]evees.PerspectiveDetails
	order   []string

	// stored memoizes details read from remotes for HasUpdates and overlays.
	stored map[string]evees.PerspectiveDetails
	flight singleflight.Group
}

// New creates an empty workspace resolving entities through client.
func New(client *evees.Client) *Workspace {
	id := uuid.New()
	logger := client.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Workspace{
		ID:       id,
		client:   client,
		logger:   logger.With("workspace", id.String()),
		objects:  make(map[string][]byte),
		seen:     make(map[string]struct{}),
		newIndex: make(map[string]int),
		updates:  make(map[string]evees.PerspectiveDetails),
		stored:   make(map[string]evees.PerspectiveDetails),
	}
}

// Client returns the client the workspace resolves through.
func (w *Workspace) Client() *evees.Client { return w.client }

// AddEntity records an entity to create. Duplicates are ignored.
func (w *Workspace) AddEntity(e Entity) error {
	data, err := cas.CanonicalJSON(e.Object)
	if err != nil {
		return fmt.Errorf("canonicalize %s: %w", e.ID, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	key := e.Remote + "/" + e.ID
	if _, ok := w.seen[key]; ok {
		return nil
	}
	w.seen[key] = struct{}{}
	w.entities = append(w.entities, e)
	w.objects[e.ID] = data
	return nil
}

// AddNewPerspective records a perspective to create. Adding the same
// perspective twice keeps the first record.
func (w *Workspace) AddNewPerspective(p evees.NewPerspectiveData) error {
	if err := w.AddEntity(Entity{
		ID:     p.Perspective.ID,
		Object: p.Perspective.Object,
		Remote: p.Perspective.Object.Payload.Remote,
	}); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.newIndex[p.Perspective.ID]; ok {
		return nil
	}
	w.newIndex[p.Perspective.ID] = len(w.newPerspectives)
	w.newPerspectives = append(w.newPerspectives, p)
	return nil
}

// AddPerspectiveUpdate records a details patch. Patches to the same
// perspective are combined, later fields winning.
func (w *Workspace) AddPerspectiveUpdate(id string, details evees.PerspectiveDetails) {
	w.mu.Lock()
	defer w.mu.Unlock()

	current, ok := w.updates[id]
	if !ok {
		w.order = append(w.order, id)
	}
	w.updates[id] = current.Apply(details)
}

// GetEntities returns the pending entities in insertion order.
func (w *Workspace) GetEntities() []Entity {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Entity(nil), w.entities...)
}

// GetNewPerspectives returns the pending perspectives in insertion order.
func (w *Workspace) GetNewPerspectives() []evees.NewPerspectiveData {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]evees.NewPerspectiveData(nil), w.newPerspectives...)
}

// GetUpdates returns the pending patches in insertion order.
func (w *Workspace) GetUpdates() []evees.UpdateRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]evees.UpdateRequest, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, evees.UpdateRequest{PerspectiveID: id, Details: w.updates[id]})
	}
	return out
}

// IsEmpty reports whether nothing has been recorded.
func (w *Workspace) IsEmpty() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entities) == 0 && len(w.newPerspectives) == 0 && len(w.updates) == 0
}

// Fetch returns the bytes of id, looking at pending entities first.
func (w *Workspace) Fetch(ctx context.Context, id string) (json.RawMessage, error) {
	w.mu.Lock()
	data, ok := w.objects[id]
	w.mu.Unlock()
	if ok {
		return append(json.RawMessage(nil), data...), nil
	}
	return w.client.Fetch(ctx, id)
}

func fetchAs[T any](ctx context.Context, w *Workspace, id string) (T, error) {
	var object T
	data, err := w.Fetch(ctx, id)
	if err != nil {
		return object, err
	}
	if err := json.Unmarshal(data, &object); err != nil {
		return object, fmt.Errorf("decode %s: %w", id, err)
	}
	return object, nil
}

// GetPerspective returns the perspective record of id.
func (w *Workspace) GetPerspective(ctx context.Context, id string) (evees.SecuredPerspective, error) {
	object, err := fetchAs[cas.Signed[evees.Perspective]](ctx, w, id)
	if err != nil {
		return evees.SecuredPerspective{}, err
	}
	return evees.SecuredPerspective{ID: id, Object: object}, nil
}

// GetCommit returns the commit with the given id.
func (w *Workspace) GetCommit(ctx context.Context, id string) (evees.SecuredCommit, error) {
	object, err := fetchAs[cas.Signed[evees.Commit]](ctx, w, id)
	if err != nil {
		return evees.SecuredCommit{}, err
	}
	return evees.SecuredCommit{ID: id, Object: object}, nil
}

// GetCommitData returns the data entity referenced by commitID.
func (w *Workspace) GetCommitData(ctx context.Context, commitID string) (cas.Entity[json.RawMessage], error) {
	commit, err := w.GetCommit(ctx, commitID)
	if err != nil {
		return cas.Entity[json.RawMessage]{}, err
	}
	dataID := commit.Object.Payload.DataID
	data, err := w.Fetch(ctx, dataID)
	if err != nil {
		return cas.Entity[json.RawMessage]{}, err
	}
	return cas.Entity[json.RawMessage]{ID: dataID, Object: data}, nil
}

// RemoteOf returns the remote holding the details of perspectiveID.
func (w *Workspace) RemoteOf(ctx context.Context, perspectiveID string) (evees.Remote, error) {
	p, err := w.GetPerspective(ctx, perspectiveID)
	if err != nil {
		return nil, err
	}
	return w.client.Remotes.Get(p.Object.Payload.Remote)
}

// storedDetails reads details from the remote once per workspace. Concurrent
// first reads of the same id share one remote call.
func (w *Workspace) storedDetails(ctx context.Context, id string) (evees.PerspectiveDetails, error) {
	w.mu.Lock()
	d, ok := w.stored[id]
	w.mu.Unlock()
	if ok {
		return d, nil
	}

	v, err, _ := w.flight.Do(id, func() (any, error) {
		w.mu.Lock()
		d, ok := w.stored[id]
		w.mu.Unlock()
		if ok {
			return d, nil
		}

		remote, err := w.RemoteOf(ctx, id)
		if err != nil {
			return nil, err
		}
		d, err = remote.GetPerspective(ctx, id)
		if err != nil {
			return nil, err
		}

		w.mu.Lock()
		w.stored[id] = d
		w.mu.Unlock()
		return d, nil
	})
	if err != nil {
		return evees.PerspectiveDetails{}, err
	}
	return v.(evees.PerspectiveDetails), nil
}

// GetPerspectiveDetails returns the details of id with pending patches applied.
func (w *Workspace) GetPerspectiveDetails(ctx context.Context, id string) (evees.PerspectiveDetails, error) {
	w.mu.Lock()
	idx, isNew := w.newIndex[id]
	var base evees.PerspectiveDetails
	if isNew {
		np := w.newPerspectives[idx]
		base = np.Details
		if tag := np.InitialContext(); tag != "" {
			base.Context = evees.Str(tag)
		}
	}
	patch := w.updates[id]
	w.mu.Unlock()

	if !isNew {
		stored, err := w.storedDetails(ctx, id)
		if err != nil {
			return evees.PerspectiveDetails{}, err
		}
		base = stored
	}
	return base.Apply(patch), nil
}

// GetContextPerspectives lists perspectives of remote indexed under tag,
// including pending ones.
func (w *Workspace) GetContextPerspectives(ctx context.Context, remote evees.Remote, tag string) ([]string, error) {
	ids, err := remote.GetContextPerspectives(ctx, tag)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, np := range w.newPerspectives {
		id := np.Perspective.ID
		if _, ok := seen[id]; ok {
			continue
		}
		if np.Perspective.Object.Payload.Remote == remote.ID() && np.InitialContext() == tag {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// HasUpdates reports whether any pending patch differs from the details
// currently stored by its remote.
func (w *Workspace) HasUpdates(ctx context.Context) (bool, error) {
	for _, u := range w.GetUpdates() {
		w.mu.Lock()
		_, isNew := w.newIndex[u.PerspectiveID]
		w.mu.Unlock()
		if isNew {
			return true, nil
		}

		stored, err := w.storedDetails(ctx, u.PerspectiveID)
		if err != nil {
			return false, err
		}
		if !stored.Covers(u.Details) {
			return true, nil
		}
	}
	return false, nil
}

// IsSingleAuthority reports whether every touched perspective belongs to remoteID.
func (w *Workspace) IsSingleAuthority(ctx context.Context, remoteID string) (bool, error) {
	for _, np := range w.GetNewPerspectives() {
		if np.Perspective.Object.Payload.Remote != remoteID {
			return false, nil
		}
	}
	for _, u := range w.GetUpdates() {
		p, err := w.GetPerspective(ctx, u.PerspectiveID)
		if err != nil {
			return false, err
		}
		if p.Object.Payload.Remote != remoteID {
			return false, nil
		}
	}
	return true, nil
}
