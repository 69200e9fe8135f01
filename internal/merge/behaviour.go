// Package merge reconciles two perspective histories. Merges never write to a
// remote: every entity and head change they decide on is recorded into a
// workspace.Workspace that the caller executes or wraps in a proposal.
package merge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/javanhut/evees/internal/workspace"
)

// Config tunes a merge and is propagated to recursive sub-merges.
type Config struct {
	// ForceOwner makes perspectives forked during sub-merges owned by the
	// acting user instead of keeping third-party links.
	ForceOwner bool
	// Remote is where forks are created. Defaults to the target's remote.
	Remote string
	// CanWrite names the owner of forks. Defaults to the acting user.
	CanWrite string
	// ParentID is the perspective that links to the one being merged.
	ParentID string
	// Message is stored on merge commits.
	Message string
}

// Strategy is the recursive entry point handed to behaviours.
type Strategy interface {
	// MergePerspectives merges fromID into toID and returns the id of the
	// perspective that holds the result.
	MergePerspectives(ctx context.Context, toID, fromID string, ws *workspace.Workspace, cfg Config) (string, error)
	// MergeLinks reconciles ordered lists of perspective ids. modifications[0]
	// is the recipient's list.
	MergeLinks(ctx context.Context, original []string, modifications [][]string, ws *workspace.Workspace, cfg Config) ([]string, error)
}

// Behaviour merges one payload type.
type Behaviour interface {
	// Type is the tag the behaviour is registered under.
	Type() string
	// Recognize reports whether data is a payload of this type.
	Recognize(data json.RawMessage) bool
	// Merge reconciles ancestor with modifications, recipient first, and
	// returns the merged payload.
	Merge(ctx context.Context, ancestor json.RawMessage, modifications []json.RawMessage, strategy Strategy, ws *workspace.Workspace, cfg Config, parentID string) (any, error)
}

// Registry holds behaviours. Recognition tries them in registration order.
type Registry struct {
	mu         sync.RWMutex
	behaviours []Behaviour
	byType     map[string]Behaviour
}

// NewRegistry returns a registry with the given behaviours.
func NewRegistry(behaviours ...Behaviour) *Registry {
	r := &Registry{byType: make(map[string]Behaviour)}
	for _, b := range behaviours {
		if err := r.Register(b); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds b. Registering two behaviours for one tag is an error.
func (r *Registry) Register(b Behaviour) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byType[b.Type()]; ok {
		return fmt.Errorf("behaviour %q already registered", b.Type())
	}
	r.byType[b.Type()] = b
	r.behaviours = append(r.behaviours, b)
	return nil
}

// Lookup returns the behaviour registered under tag.
func (r *Registry) Lookup(tag string) (Behaviour, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byType[tag]
	return b, ok
}

// Recognize returns the first behaviour that recognizes data.
func (r *Registry) Recognize(data json.RawMessage) (Behaviour, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.behaviours {
		if b.Recognize(data) {
			return b, true
		}
	}
	return nil, false
}

// Types lists the registered tags in registration order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.behaviours))
	for _, b := range r.behaviours {
		out = append(out, b.Type())
	}
	return out
}

// MergeResult returns the first modification that differs from original, or
// original when none does. Modifications are ordered recipient first, so the
// recipient wins concurrent changes.
func MergeResult[T comparable](original T, modifications ...T) T {
	for _, m := range modifications {
		if m != original {
			return m
		}
	}
	return original
}

// DecodeAll decodes ancestor and modifications as T.
func DecodeAll[T any](ancestor json.RawMessage, modifications []json.RawMessage) (T, []T, error) {
	var anc T
	if err := json.Unmarshal(ancestor, &anc); err != nil {
		return anc, nil, fmt.Errorf("decode ancestor: %w", err)
	}
	mods := make([]T, len(modifications))
	for i, raw := range modifications {
		if err := json.Unmarshal(raw, &mods[i]); err != nil {
			return anc, nil, fmt.Errorf("decode modification %d: %w", i, err)
		}
	}
	return anc, mods, nil
}
