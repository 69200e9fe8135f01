package merge

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/javanhut/evees/internal/evees"
	"github.com/javanhut/evees/internal/workspace"
)

// MergeLinks implements Strategy. Links of incoming modifications are first
// mapped onto the recipient: a link whose context has a counterpart on the
// target remote is merged into that counterpart, and with ForceOwner a link
// the acting user cannot write is forked. The mapped lists are then merged as
// ordered lists against original.
func (r *run) MergeLinks(ctx context.Context, original []string, modifications [][]string, ws *workspace.Workspace, cfg Config) ([]string, error) {
	if len(modifications) == 0 {
		return original, nil
	}
	mapped := make([][]string, len(modifications))
	mapped[0] = modifications[0]

	for i := 1; i < len(modifications); i++ {
		links := modifications[i]
		out := make([]string, len(links))

		g, gctx := errgroup.WithContext(ctx)
		for j, link := range links {
			g.Go(func() error {
				id, err := r.resolveLink(gctx, link, modifications[0], ws, cfg)
				if err != nil {
					return err
				}
				out[j] = id
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		mapped[i] = out
	}

	return mergeOrderedLists(original, mapped), nil
}

// resolveLink returns the id the recipient should reference for link.
func (r *run) resolveLink(ctx context.Context, link string, toLinks []string, ws *workspace.Workspace, cfg Config) (string, error) {
	for _, id := range toLinks {
		if id == link {
			return link, nil
		}
	}

	source, err := ws.GetPerspective(ctx, link)
	if err != nil {
		return "", err
	}
	details, err := ws.GetPerspectiveDetails(ctx, link)
	if err != nil {
		return "", err
	}
	tag := source.Object.Payload.Context
	if details.Context != nil {
		tag = *details.Context
	}

	target, err := r.targetRemote(ctx, ws, cfg)
	if err != nil {
		return "", err
	}

	if tag != "" {
		counterpart, err := r.findCounterpart(ctx, ws, target, tag, link, toLinks)
		if err != nil {
			return "", err
		}
		if counterpart != "" {
			r.logger.Debug("merging link into counterpart", "link", link, "counterpart", counterpart)
			sub := cfg
			sub.ParentID = counterpart
			return r.MergePerspectives(ctx, counterpart, link, ws, sub)
		}
	}

	if !cfg.ForceOwner {
		return link, nil
	}

	if source.Object.Payload.Remote == target.ID() {
		ok, err := target.AccessControl().CanWrite(ctx, link, r.owner(target, cfg))
		if err != nil {
			return "", err
		}
		if ok {
			return link, nil
		}
	}
	return r.fork(ctx, ws, source, details, tag, target, cfg)
}

func (r *run) targetRemote(ctx context.Context, ws *workspace.Workspace, cfg Config) (evees.Remote, error) {
	if cfg.Remote != "" {
		return ws.Client().Remotes.Get(cfg.Remote)
	}
	if cfg.ParentID != "" {
		return ws.RemoteOf(ctx, cfg.ParentID)
	}
	return ws.Client().Remotes.Default(), nil
}

func (r *run) owner(target evees.Remote, cfg Config) string {
	if cfg.CanWrite != "" {
		return cfg.CanWrite
	}
	return target.UserID()
}

// findCounterpart looks for a perspective on target sharing tag. Perspectives
// already linked by the recipient are preferred, then perspectives the acting
// user can write.
func (r *run) findCounterpart(ctx context.Context, ws *workspace.Workspace, target evees.Remote, tag, link string, toLinks []string) (string, error) {
	ids, err := ws.GetContextPerspectives(ctx, target, tag)
	if err != nil {
		return "", err
	}

	linked := make(map[string]struct{}, len(toLinks))
	for _, id := range toLinks {
		linked[id] = struct{}{}
	}

	var writable string
	for _, id := range ids {
		if id == link {
			continue
		}
		if _, ok := linked[id]; ok {
			return id, nil
		}
		if writable != "" {
			continue
		}
		ok, err := target.AccessControl().CanWrite(ctx, id, target.UserID())
		if err != nil {
			return "", err
		}
		if ok {
			writable = id
		}
	}
	return writable, nil
}

// fork records a new perspective on target starting at the head of source.
func (r *run) fork(ctx context.Context, ws *workspace.Workspace, source evees.SecuredPerspective, details evees.PerspectiveDetails, tag string, target evees.Remote, cfg Config) (string, error) {
	p, err := ws.Client().NewPerspective(target, source.Object.Payload.Path, tag)
	if err != nil {
		return "", err
	}
	np := evees.NewPerspectiveData{
		Perspective: p,
		ParentID:    cfg.ParentID,
		CanWrite:    r.owner(target, cfg),
	}
	if tag != "" {
		np.Details.Context = evees.Str(tag)
	}
	if details.HeadID != nil {
		np.Details.HeadID = evees.Str(*details.HeadID)
	}
	if err := ws.AddNewPerspective(np); err != nil {
		return "", err
	}
	r.logger.Debug("link forked", "source", source.ID, "fork", p.ID, "owner", np.CanWrite)
	return p.ID, nil
}

// mergeOrderedLists applies every modification's removals and insertions,
// relative to original, onto modifications[0].
func mergeOrderedLists(original []string, modifications [][]string) []string {
	result := append([]string(nil), modifications[0]...)

	inOriginal := make(map[string]struct{}, len(original))
	for _, id := range original {
		inOriginal[id] = struct{}{}
	}

	for _, mod := range modifications[1:] {
		inMod := make(map[string]struct{}, len(mod))
		for _, id := range mod {
			inMod[id] = struct{}{}
		}

		// removals
		kept := result[:0]
		for _, id := range result {
			_, wasOriginal := inOriginal[id]
			_, stillThere := inMod[id]
			if wasOriginal && !stillThere {
				continue
			}
			kept = append(kept, id)
		}
		result = kept

		// insertions, each after the closest preceding item already present
		for i, id := range mod {
			if _, ok := inOriginal[id]; ok {
				continue
			}
			if indexOf(result, id) >= 0 {
				continue
			}
			pos := 0
			for k := i - 1; k >= 0; k-- {
				if at := indexOf(result, mod[k]); at >= 0 {
					pos = at + 1
					break
				}
			}
			result = append(result, "")
			copy(result[pos+1:], result[pos:])
			result[pos] = id
		}
	}
	return result
}

func indexOf(list []string, id string) int {
	for i, v := range list {
		if v == id {
			return i
		}
	}
	return -1
}
