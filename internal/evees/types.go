// Package evees defines the perspective/commit/proposal data model, the
// contract every storage backend implements, and client helpers that resolve
// entities across a set of remotes.
package evees

import (
	"github.com/javanhut/evees/internal/cas"
)

// Perspective identifies a mutable line of history. The record never changes
// after creation; its details are held by the remote.
type Perspective struct {
	Remote    string `json:"remote"`
	Path      string `json:"path"`
	CreatorID string `json:"creatorId"`
	Timestamp uint64 `json:"timestamp"`
	Context   string `json:"context,omitempty"`
}

// SecuredPerspective is a signed perspective together with its id.
type SecuredPerspective = cas.Entity[cas.Signed[Perspective]]

// Commit is an immutable snapshot of a data entity.
type Commit struct {
	DataID     string   `json:"dataId"`
	ParentsIDs []string `json:"parentsIds"`
	Message    string   `json:"message,omitempty"`
	Timestamp  uint64   `json:"timestamp"`
	CreatorID  string   `json:"creatorId"`
}

// SecuredCommit is a signed commit together with its id.
type SecuredCommit = cas.Entity[cas.Signed[Commit]]

// PerspectiveDetails is the mutable state a remote holds for a perspective.
// It doubles as a patch: nil fields are left untouched by an update.
type PerspectiveDetails struct {
	HeadID  *string `json:"headId,omitempty"`
	Context *string `json:"context,omitempty"`
	Name    *string `json:"name,omitempty"`
}

// Str returns a pointer to s, for building details patches.
func Str(s string) *string { return &s }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Head returns the head commit id or "" when the perspective has none.
func (d PerspectiveDetails) Head() string { return deref(d.HeadID) }

// ContextValue returns the context or "".
func (d PerspectiveDetails) ContextValue() string { return deref(d.Context) }

// NameValue returns the name or "".
func (d PerspectiveDetails) NameValue() string { return deref(d.Name) }

// Apply returns d with every field present in patch replaced.
func (d PerspectiveDetails) Apply(patch PerspectiveDetails) PerspectiveDetails {
	out := d
	if patch.HeadID != nil {
		out.HeadID = Str(*patch.HeadID)
	}
	if patch.Context != nil {
		out.Context = Str(*patch.Context)
	}
	if patch.Name != nil {
		out.Name = Str(*patch.Name)
	}
	return out
}

// Covers reports whether applying patch to d would change nothing.
func (d PerspectiveDetails) Covers(patch PerspectiveDetails) bool {
	if patch.HeadID != nil && *patch.HeadID != d.Head() {
		return false
	}
	if patch.Context != nil && *patch.Context != d.ContextValue() {
		return false
	}
	if patch.Name != nil && *patch.Name != d.NameValue() {
		return false
	}
	return true
}

// IsEmpty reports whether the patch carries no field.
func (d PerspectiveDetails) IsEmpty() bool {
	return d.HeadID == nil && d.Context == nil && d.Name == nil
}

// NewPerspectiveData is an unsaved perspective with its initial details.
// ParentID makes the new perspective inherit the parent's owner; CanWrite
// names the owner explicitly.
type NewPerspectiveData struct {
	Perspective SecuredPerspective `json:"perspective"`
	Details     PerspectiveDetails `json:"details"`
	ParentID    string             `json:"parentId,omitempty"`
	CanWrite    string             `json:"canWrite,omitempty"`
}

// InitialContext returns the context the perspective is indexed under.
func (n NewPerspectiveData) InitialContext() string {
	if n.Details.Context != nil {
		return *n.Details.Context
	}
	return n.Perspective.Object.Payload.Context
}

// UpdateRequest is a pending details patch for one perspective.
type UpdateRequest struct {
	PerspectiveID string             `json:"perspectiveId"`
	Details       PerspectiveDetails `json:"details"`
}

// ProposalStatus is the governance state of a proposal.
type ProposalStatus string

const (
	StatusPending  ProposalStatus = "pending"
	StatusAccepted ProposalStatus = "accepted"
	StatusRejected ProposalStatus = "rejected"
)

// IsTerminal reports whether no further transition can happen.
func (s ProposalStatus) IsTerminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// Proposal records everything needed to replay a merge into ToPerspectiveID.
// Only Status changes after creation.
type Proposal struct {
	ID                string               `json:"id"`
	ToPerspectiveID   string               `json:"toPerspectiveId"`
	FromPerspectiveID string               `json:"fromPerspectiveId"`
	ToHeadID          string               `json:"toHeadId"`
	FromHeadID        string               `json:"fromHeadId"`
	NewPerspectives   []NewPerspectiveData `json:"newPerspectives"`
	Updates           []UpdateRequest      `json:"updates"`
	Status            ProposalStatus       `json:"status"`
}
