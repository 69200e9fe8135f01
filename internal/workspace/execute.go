package workspace

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/javanhut/evees/internal/evees"
	"github.com/javanhut/evees/internal/metrics"
)

// maxParallelCreates bounds concurrent store writes in ExecuteCreate.
const maxParallelCreates = 8

// ExecuteCreate persists pending entities and perspectives. Creation is
// ensure-present, so running it again against existing ids succeeds.
// Entities already written are not rolled back on failure.
func (w *Workspace) ExecuteCreate(ctx context.Context) (err error) {
	defer func() { metrics.RecordWorkspaceExecution("create", err) }()

	entities := w.GetEntities()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelCreates)
	for _, e := range entities {
		g.Go(func() error {
			remote, err := w.client.Remotes.Get(e.Remote)
			if err != nil {
				return err
			}
			id, err := remote.Store().Create(gctx, e.Object)
			if err != nil {
				if evees.IsIdentityMismatch(err) {
					return evees.IdentityMismatch(e.ID, err)
				}
				return fmt.Errorf("create %s: %w", e.ID, err)
			}
			if id != e.ID {
				return evees.IdentityMismatch(e.ID, fmt.Errorf("store computed %s", id))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	metrics.AddWorkspaceWrites("entity", len(entities))

	// Batches keep insertion order so parents exist before their children.
	var remoteOrder []string
	created := 0
	batches := make(map[string][]evees.NewPerspectiveData)
	for _, np := range w.GetNewPerspectives() {
		rid := np.Perspective.Object.Payload.Remote
		if _, ok := batches[rid]; !ok {
			remoteOrder = append(remoteOrder, rid)
		}
		batches[rid] = append(batches[rid], np)
	}
	for _, rid := range remoteOrder {
		remote, err := w.client.Remotes.Get(rid)
		if err != nil {
			return err
		}
		if err := remote.CreatePerspectiveBatch(ctx, batches[rid]); err != nil {
			return fmt.Errorf("create perspectives on %s: %w", rid, err)
		}
		created += len(batches[rid])
	}
	metrics.AddWorkspaceWrites("perspective", created)

	w.logger.Debug("workspace created", "entities", len(entities), "perspectives", created)
	return nil
}

// Execute runs ExecuteCreate and then applies every pending patch. Patches
// target distinct perspectives and are applied in parallel.
func (w *Workspace) Execute(ctx context.Context) (err error) {
	if err := w.ExecuteCreate(ctx); err != nil {
		return err
	}
	defer func() { metrics.RecordWorkspaceExecution("execute", err) }()

	updates := w.GetUpdates()
	g, gctx := errgroup.WithContext(ctx)
	for _, u := range updates {
		g.Go(func() error {
			remote, err := w.RemoteOf(gctx, u.PerspectiveID)
			if err != nil {
				return err
			}
			return remote.UpdatePerspective(gctx, u.PerspectiveID, u.Details)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	metrics.AddWorkspaceWrites("update", len(updates))

	// Stored details changed underneath the memo.
	w.mu.Lock()
	clear(w.stored)
	w.mu.Unlock()

	w.logger.Debug("workspace executed", "updates", len(updates))
	return nil
}
