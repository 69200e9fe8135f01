package proposals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/javanhut/evees/internal/cas"
	"github.com/javanhut/evees/internal/evees"
	"github.com/javanhut/evees/internal/metrics"
	"github.com/javanhut/evees/internal/workspace"
)

// Provider is the surface shared by council and owner governed remotes.
type Provider interface {
	CreateProposal(ctx context.Context, p evees.Proposal) (string, error)
	GetProposal(ctx context.Context, id string) (evees.Proposal, error)
	ListProposals(ctx context.Context, perspectiveID string) ([]evees.Proposal, error)
	Status(ctx context.Context, id string) (evees.ProposalStatus, error)
	Execute(ctx context.Context, id string) error
}

// FromWorkspace builds an unsaved proposal that replays ws into toID. Every
// perspective touched by ws must live on the remote of toID.
func FromWorkspace(ctx context.Context, ws *workspace.Workspace, toID, fromID string) (evees.Proposal, error) {
	target, err := ws.RemoteOf(ctx, toID)
	if err != nil {
		return evees.Proposal{}, err
	}
	single, err := ws.IsSingleAuthority(ctx, target.ID())
	if err != nil {
		return evees.Proposal{}, err
	}
	if !single {
		return evees.Proposal{}, evees.MultiAuthority(toID, fmt.Errorf("workspace touches remotes other than %s", target.ID()))
	}

	client := ws.Client()
	toDetails, err := client.GetPerspectiveDetails(ctx, toID)
	if err != nil {
		return evees.Proposal{}, err
	}
	fromDetails, err := client.GetPerspectiveDetails(ctx, fromID)
	if err != nil {
		return evees.Proposal{}, err
	}

	return evees.Proposal{
		ToPerspectiveID:   toID,
		FromPerspectiveID: fromID,
		ToHeadID:          toDetails.Head(),
		FromHeadID:        fromDetails.Head(),
		NewPerspectives:   ws.GetNewPerspectives(),
		Updates:           ws.GetUpdates(),
		Status:            evees.StatusPending,
	}, nil
}

// Propose persists the entities of ws, then stores a proposal replaying its
// perspectives and updates into toID. The entities are inert until the
// proposal is executed.
func Propose(ctx context.Context, provider Provider, ws *workspace.Workspace, toID, fromID string) (string, error) {
	p, err := FromWorkspace(ctx, ws, toID, fromID)
	if err != nil {
		return "", err
	}
	if err := ws.ExecuteCreate(ctx); err != nil {
		return "", err
	}
	return provider.CreateProposal(ctx, p)
}

// base holds what both providers share: persistence, id derivation and replay.
type base struct {
	client *evees.Client
	store  *Store
	kind   Kind
	logger *slog.Logger
	// Now returns the current time in the unit of Config.Duration.
	Now func() uint64
}

func newBase(client *evees.Client, s *Store, kind Kind) base {
	return base{
		client: client,
		store:  s,
		kind:   kind,
		logger: slog.Default().With("provider", string(kind)),
		Now:    func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// create validates p, derives its id and stores it with manifest.
func (b *base) create(ctx context.Context, p evees.Proposal, manifest Manifest) (string, error) {
	target, err := b.client.RemoteOf(ctx, p.ToPerspectiveID)
	if err != nil {
		return "", err
	}
	for _, np := range p.NewPerspectives {
		if np.Perspective.Object.Payload.Remote != target.ID() {
			return "", evees.MultiAuthority(np.Perspective.ID, fmt.Errorf("new perspective outside %s", target.ID()))
		}
	}

	p.ID = ""
	p.Status = evees.StatusPending
	entity, err := cas.Derive(Record{Kind: b.kind, Proposal: p, Manifest: manifest}, target.Store().Config())
	if err != nil {
		return "", fmt.Errorf("derive proposal id: %w", err)
	}
	p.ID = entity.ID

	if _, err := b.store.Get(p.ID); err == nil {
		return p.ID, nil
	} else if !evees.IsNotFound(err) {
		return "", err
	}
	if err := b.store.Save(Record{Kind: b.kind, Proposal: p, Manifest: manifest}); err != nil {
		return "", err
	}
	b.logger.Debug("proposal created", "id", p.ID, "to", p.ToPerspectiveID, "updates", len(p.Updates))
	return p.ID, nil
}

func (b *base) get(id string) (Record, error) {
	rec, err := b.store.Get(id)
	if err != nil {
		return rec, err
	}
	if rec.Kind != b.kind {
		return rec, evees.NotFound(id, fmt.Errorf("proposal is governed by %s", rec.Kind))
	}
	return rec, nil
}

func (b *base) list(perspectiveID string, status func(Record) (evees.ProposalStatus, error)) ([]evees.Proposal, error) {
	ids, err := b.store.ListTo(perspectiveID)
	if err != nil {
		return nil, err
	}
	var out []evees.Proposal
	for _, id := range ids {
		rec, err := b.store.Get(id)
		if err != nil {
			return nil, err
		}
		if rec.Kind != b.kind {
			continue
		}
		if rec.Proposal.Status, err = status(rec); err != nil {
			return nil, err
		}
		out = append(out, rec.Proposal)
	}
	return out, nil
}

// replay applies the recorded workspace to the target remote. Re-running it
// converges to the same state. A governed replay draws its authority from the
// proposal verdict and skips the per-perspective owner check.
func (b *base) replay(ctx context.Context, rec Record, governed bool) error {
	p := rec.Proposal
	target, err := b.client.RemoteOf(ctx, p.ToPerspectiveID)
	if err != nil {
		return err
	}

	if governed {
		g, ok := target.(evees.GovernedRemote)
		if !ok {
			return evees.AuthorizationDenied(p.ID, fmt.Errorf("remote %s cannot apply governed changes", target.ID()))
		}
		if err := g.ApplyGoverned(ctx, p.NewPerspectives, p.Updates); err != nil {
			return fmt.Errorf("replay: %w", err)
		}
	} else {
		if len(p.NewPerspectives) > 0 {
			if err := target.CreatePerspectiveBatch(ctx, p.NewPerspectives); err != nil {
				return fmt.Errorf("replay perspectives: %w", err)
			}
		}
		for _, u := range p.Updates {
			if err := target.UpdatePerspective(ctx, u.PerspectiveID, u.Details); err != nil {
				return fmt.Errorf("replay update %s: %w", u.PerspectiveID, err)
			}
		}
	}

	rec.Executed = true
	if err := b.store.Save(rec); err != nil {
		return err
	}
	b.logger.Info("proposal executed", "id", p.ID, "to", p.ToPerspectiveID, "by", target.UserID())
	return nil
}

func recordVerdict(s evees.ProposalStatus) evees.ProposalStatus {
	metrics.RecordProposalVerdict(string(s))
	return s
}

var errVotingClosed = errors.New("voting is closed")
