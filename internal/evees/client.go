package evees

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/javanhut/evees/internal/cas"
)

// Client resolves perspectives, commits and data across a set of remotes and
// performs direct (non-batched) writes.
type Client struct {
	Remotes *RemoteRegistry
	Logger  *slog.Logger
	// Now returns the timestamp stamped on new perspectives and commits.
	Now func() uint64
}

// NewClient returns a client over remotes.
func NewClient(remotes *RemoteRegistry) *Client {
	return &Client{
		Remotes: remotes,
		Logger:  slog.Default(),
		Now:     func() uint64 { return uint64(time.Now().UnixMilli()) },
	}
}

// Fetch returns the raw bytes of id from the first store that holds it.
func (c *Client) Fetch(ctx context.Context, id string) (json.RawMessage, error) {
	for _, remote := range c.Remotes.All() {
		data, err := remote.Store().Get(ctx, id)
		if err == nil {
			return data, nil
		}
		if !IsNotFound(err) {
			return nil, fmt.Errorf("remote %s: %w", remote.ID(), err)
		}
	}
	return nil, NotFound(id, cas.ErrNotFound)
}

// GetEntity fetches id through c and decodes it as T.
func GetEntity[T any](ctx context.Context, c *Client, id string) (cas.Entity[T], error) {
	data, err := c.Fetch(ctx, id)
	if err != nil {
		return cas.Entity[T]{}, err
	}
	var object T
	if err := json.Unmarshal(data, &object); err != nil {
		return cas.Entity[T]{}, fmt.Errorf("decode %s: %w", id, err)
	}
	return cas.Entity[T]{ID: id, Object: object}, nil
}

// GetPerspective returns the signed perspective record.
func (c *Client) GetPerspective(ctx context.Context, id string) (SecuredPerspective, error) {
	return GetEntity[cas.Signed[Perspective]](ctx, c, id)
}

// RemoteOf returns the remote that holds the details of perspectiveID.
func (c *Client) RemoteOf(ctx context.Context, perspectiveID string) (Remote, error) {
	p, err := c.GetPerspective(ctx, perspectiveID)
	if err != nil {
		return nil, err
	}
	return c.Remotes.Get(p.Object.Payload.Remote)
}

// GetPerspectiveDetails reads the details of perspectiveID from its remote.
func (c *Client) GetPerspectiveDetails(ctx context.Context, perspectiveID string) (PerspectiveDetails, error) {
	remote, err := c.RemoteOf(ctx, perspectiveID)
	if err != nil {
		return PerspectiveDetails{}, err
	}
	return remote.GetPerspective(ctx, perspectiveID)
}

// GetCommit returns the signed commit with the given id.
func (c *Client) GetCommit(ctx context.Context, id string) (SecuredCommit, error) {
	return GetEntity[cas.Signed[Commit]](ctx, c, id)
}

// GetCommitData returns the data entity referenced by commitID.
func (c *Client) GetCommitData(ctx context.Context, commitID string) (cas.Entity[json.RawMessage], error) {
	commit, err := c.GetCommit(ctx, commitID)
	if err != nil {
		return cas.Entity[json.RawMessage]{}, err
	}
	dataID := commit.Object.Payload.DataID
	data, err := c.Fetch(ctx, dataID)
	if err != nil {
		return cas.Entity[json.RawMessage]{}, err
	}
	return cas.Entity[json.RawMessage]{ID: dataID, Object: data}, nil
}

// NewPerspective builds a signed perspective for remote. The id is derived
// with the remote's CID configuration.
func (c *Client) NewPerspective(remote Remote, path, contextTag string) (SecuredPerspective, error) {
	p := Perspective{
		Remote:    remote.ID(),
		Path:      path,
		CreatorID: remote.UserID(),
		Timestamp: c.Now(),
		Context:   contextTag,
	}
	return cas.DeriveSecured(p, remote.Store().Config())
}

// NewCommit builds a signed commit derived with cfg.
func (c *Client) NewCommit(cfg cas.CidConfig, dataID string, parents []string, message, creator string) (SecuredCommit, error) {
	if parents == nil {
		parents = []string{}
	}
	commit := Commit{
		DataID:     dataID,
		ParentsIDs: parents,
		Message:    message,
		Timestamp:  c.Now(),
		CreatorID:  creator,
	}
	return cas.DeriveSecured(commit, cfg)
}

// CreateOptions configures a perspective created with CreatePerspective.
type CreateOptions struct {
	Path     string
	Context  string
	Name     string
	HeadID   string
	ParentID string
	CanWrite string
}

// CreatePerspective registers a new perspective with remote and returns its id.
func (c *Client) CreatePerspective(ctx context.Context, remote Remote, opts CreateOptions) (string, error) {
	p, err := c.NewPerspective(remote, opts.Path, opts.Context)
	if err != nil {
		return "", err
	}
	data := NewPerspectiveData{
		Perspective: p,
		ParentID:    opts.ParentID,
		CanWrite:    opts.CanWrite,
	}
	if opts.Context != "" {
		data.Details.Context = Str(opts.Context)
	}
	if opts.Name != "" {
		data.Details.Name = Str(opts.Name)
	}
	if opts.HeadID != "" {
		data.Details.HeadID = Str(opts.HeadID)
	}
	if err := remote.CreatePerspective(ctx, data); err != nil {
		return "", err
	}
	c.Logger.Debug("perspective created", "id", p.ID, "remote", remote.ID())
	return p.ID, nil
}

// PrepareFork builds, without persisting, a perspective on remote that starts
// at the head of sourceID and shares its context.
func (c *Client) PrepareFork(ctx context.Context, sourceID string, remote Remote, parentID, canWrite string) (NewPerspectiveData, error) {
	source, err := c.GetPerspective(ctx, sourceID)
	if err != nil {
		return NewPerspectiveData{}, err
	}
	details, err := c.GetPerspectiveDetails(ctx, sourceID)
	if err != nil {
		return NewPerspectiveData{}, err
	}

	contextTag := source.Object.Payload.Context
	if details.Context != nil {
		contextTag = *details.Context
	}

	p, err := c.NewPerspective(remote, source.Object.Payload.Path, contextTag)
	if err != nil {
		return NewPerspectiveData{}, err
	}

	fork := NewPerspectiveData{
		Perspective: p,
		ParentID:    parentID,
		CanWrite:    canWrite,
	}
	if contextTag != "" {
		fork.Details.Context = Str(contextTag)
	}
	if details.HeadID != nil {
		fork.Details.HeadID = Str(*details.HeadID)
	}
	return fork, nil
}

// ForkPerspective creates a fork of sourceID on remote and returns its id.
func (c *Client) ForkPerspective(ctx context.Context, sourceID string, remote Remote, parentID string) (string, error) {
	fork, err := c.PrepareFork(ctx, sourceID, remote, parentID, "")
	if err != nil {
		return "", err
	}
	if err := remote.CreatePerspective(ctx, fork); err != nil {
		return "", err
	}
	c.Logger.Debug("perspective forked", "source", sourceID, "fork", fork.Perspective.ID)
	return fork.Perspective.ID, nil
}

// CreateCommit stores data and a commit on top of the current head of
// perspectiveID, then advances the head. It returns the new commit id.
func (c *Client) CreateCommit(ctx context.Context, perspectiveID string, data any, message string) (string, error) {
	remote, err := c.RemoteOf(ctx, perspectiveID)
	if err != nil {
		return "", err
	}
	details, err := remote.GetPerspective(ctx, perspectiveID)
	if err != nil {
		return "", err
	}

	store := remote.Store()
	dataID, err := store.Create(ctx, data)
	if err != nil {
		return "", fmt.Errorf("store data: %w", err)
	}

	var parents []string
	if head := details.Head(); head != "" {
		parents = []string{head}
	}
	commit, err := c.NewCommit(store.Config(), dataID, parents, message, remote.UserID())
	if err != nil {
		return "", err
	}
	commitID, err := store.Create(ctx, commit.Object)
	if err != nil {
		return "", fmt.Errorf("store commit: %w", err)
	}
	if commitID != commit.ID {
		return "", IdentityMismatch(commit.ID, fmt.Errorf("store returned %s", commitID))
	}

	if err := remote.UpdatePerspective(ctx, perspectiveID, PerspectiveDetails{HeadID: Str(commitID)}); err != nil {
		return "", err
	}
	return commitID, nil
}
