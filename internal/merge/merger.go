package merge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/javanhut/evees/internal/cas"
	"github.com/javanhut/evees/internal/evees"
	"github.com/javanhut/evees/internal/metrics"
	"github.com/javanhut/evees/internal/workspace"
)

// Merger runs recursive three-way merges dispatched over a behaviour registry.
type Merger struct {
	registry *Registry
	logger   *slog.Logger
}

// NewMerger returns a merger using registry for payload-specific merges.
// A nil registry falls back to the default three-way merge for every payload.
func NewMerger(registry *Registry) *Merger {
	return &Merger{registry: registry, logger: slog.Default()}
}

// SetLogger replaces the logger used for merge decisions.
func (m *Merger) SetLogger(l *slog.Logger) { m.logger = l }

// MergePerspectives records into ws the writes that reconcile fromID into toID.
func (m *Merger) MergePerspectives(ctx context.Context, toID, fromID string, ws *workspace.Workspace, cfg Config) error {
	start := time.Now()
	r := m.newRun()
	_, err := r.MergePerspectives(ctx, toID, fromID, ws, cfg)
	metrics.ObserveMergeDuration(time.Since(start).Seconds())
	if err != nil {
		metrics.RecordMerge("error")
		return err
	}
	return nil
}

// HasPendingChanges reports whether merging fromID into toID would change
// anything. Nothing is written.
func (m *Merger) HasPendingChanges(ctx context.Context, client *evees.Client, toID, fromID string) (bool, error) {
	ws := workspace.New(client)
	if err := m.MergePerspectives(ctx, toID, fromID, ws, Config{}); err != nil {
		return false, err
	}
	return ws.HasUpdates(ctx)
}

func (m *Merger) newRun() *run {
	return &run{Merger: m, visited: make(map[string]struct{})}
}

// run is one top-level merge. It tracks visited (to, from) pairs so cyclic
// link graphs terminate.
type run struct {
	*Merger

	mu      sync.Mutex
	visited map[string]struct{}
}

func (r *run) visit(toID, fromID string) bool {
	key := toID + "|" + fromID
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.visited[key]; ok {
		return false
	}
	r.visited[key] = struct{}{}
	return true
}

// MergePerspectives implements Strategy.
func (r *run) MergePerspectives(ctx context.Context, toID, fromID string, ws *workspace.Workspace, cfg Config) (string, error) {
	log := r.logger.With("to", toID, "from", fromID)

	if toID == fromID {
		log.Debug("merge skipped: same perspective")
		metrics.RecordMerge("noop")
		return toID, nil
	}
	if !r.visit(toID, fromID) {
		log.Debug("merge skipped: already visited")
		return toID, nil
	}

	toDetails, err := ws.GetPerspectiveDetails(ctx, toID)
	if err != nil {
		return "", err
	}
	fromDetails, err := ws.GetPerspectiveDetails(ctx, fromID)
	if err != nil {
		return "", err
	}
	toHead, fromHead := toDetails.Head(), fromDetails.Head()

	if fromHead == "" || fromHead == toHead {
		log.Debug("merge skipped: nothing to bring in", "head", fromHead)
		metrics.RecordMerge("noop")
		return toID, nil
	}

	target, err := ws.RemoteOf(ctx, toID)
	if err != nil {
		return "", err
	}

	var ancestorID string
	if toHead != "" {
		ancestorID, err = findAncestor(ctx, ws, toHead, fromHead)
		if err != nil {
			return "", err
		}
		if ancestorID == fromHead {
			log.Debug("merge skipped: from is already in history", "head", fromHead)
			metrics.RecordMerge("noop")
			return toID, nil
		}
	}

	fromData, err := ws.GetCommitData(ctx, fromHead)
	if err != nil {
		return "", err
	}

	var toDataID string
	var merged any
	outcome := "merged"
	if toHead != "" {
		toData, err := ws.GetCommitData(ctx, toHead)
		if err != nil {
			return "", err
		}
		toDataID = toData.ID

		if ancestorID == "" {
			merged, outcome = fromData.Object, "adopted"
		} else {
			ancestor, err := ws.GetCommitData(ctx, ancestorID)
			if err != nil {
				return "", err
			}
			sub := cfg
			sub.ParentID = toID
			if sub.Remote == "" {
				sub.Remote = target.ID()
			}
			merged, err = r.mergeData(ctx, ancestor.Object, []json.RawMessage{toData.Object, fromData.Object}, ws, sub, toID)
			if err != nil {
				return "", err
			}
		}
	} else {
		merged, outcome = fromData.Object, "adopted"
	}

	store := target.Store()
	data, err := cas.Derive(merged, store.Config())
	if err != nil {
		return "", fmt.Errorf("derive merged data: %w", err)
	}
	if toDataID != "" && data.ID == toDataID {
		log.Debug("merge skipped: content unchanged", "data", data.ID)
		metrics.RecordMerge("noop")
		return toID, nil
	}

	parents := []string{fromHead}
	if toHead != "" {
		parents = []string{toHead, fromHead}
	}
	commit, err := ws.Client().NewCommit(store.Config(), data.ID, parents, cfg.Message, target.UserID())
	if err != nil {
		return "", err
	}

	if err := ws.AddEntity(workspace.Entity{ID: data.ID, Object: data.Object, Remote: target.ID()}); err != nil {
		return "", err
	}
	if err := ws.AddEntity(workspace.Entity{ID: commit.ID, Object: commit.Object, Remote: target.ID()}); err != nil {
		return "", err
	}
	ws.AddPerspectiveUpdate(toID, evees.PerspectiveDetails{HeadID: evees.Str(commit.ID)})

	log.Debug("merge recorded", "outcome", outcome, "ancestor", ancestorID, "commit", commit.ID, "data", data.ID)
	metrics.RecordMerge(outcome)
	return toID, nil
}

// mergeData dispatches to the behaviour recognizing the recipient's payload,
// else applies the default three-way rule on whole payloads.
func (r *run) mergeData(ctx context.Context, ancestor json.RawMessage, modifications []json.RawMessage, ws *workspace.Workspace, cfg Config, parentID string) (any, error) {
	if b, ok := r.registry.Recognize(modifications[0]); ok {
		merged, err := b.Merge(ctx, ancestor, modifications, r, ws, cfg, parentID)
		if err != nil {
			return nil, fmt.Errorf("%s merge: %w", b.Type(), err)
		}
		return merged, nil
	}

	canon := func(raw json.RawMessage) (string, error) {
		data, err := cas.CanonicalJSON(raw)
		return string(data), err
	}
	original, err := canon(ancestor)
	if err != nil {
		return nil, err
	}
	mods := make([]string, len(modifications))
	for i, m := range modifications {
		if mods[i], err = canon(m); err != nil {
			return nil, err
		}
	}
	return json.RawMessage(MergeResult(original, mods...)), nil
}

// findAncestor walks both histories breadth first, one level at a time, and
// returns the first commit reached from both sides, or "" when they share none.
func findAncestor(ctx context.Context, ws *workspace.Workspace, a, b string) (string, error) {
	if a == b {
		return a, nil
	}
	seenA := map[string]struct{}{a: {}}
	seenB := map[string]struct{}{b: {}}
	frontierA, frontierB := []string{a}, []string{b}

	expand := func(frontier []string, seen, other map[string]struct{}) ([]string, string, error) {
		var next []string
		for _, id := range frontier {
			commit, err := ws.GetCommit(ctx, id)
			if err != nil {
				return nil, "", err
			}
			for _, parent := range commit.Object.Payload.ParentsIDs {
				if _, ok := other[parent]; ok {
					return nil, parent, nil
				}
				if _, ok := seen[parent]; ok {
					continue
				}
				seen[parent] = struct{}{}
				next = append(next, parent)
			}
		}
		return next, "", nil
	}

	for len(frontierA) > 0 || len(frontierB) > 0 {
		var found string
		var err error
		if frontierA, found, err = expand(frontierA, seenA, seenB); err != nil || found != "" {
			return found, err
		}
		if frontierB, found, err = expand(frontierB, seenB, seenA); err != nil || found != "" {
			return found, err
		}
	}
	return "", nil
}
