package proposals

import (
	"context"
	"fmt"

	"github.com/javanhut/evees/internal/evees"
)

// OwnerProvider lets the owner of the target perspective accept or reject.
// The decision is stored on the proposal.
type OwnerProvider struct {
	base
}

// NewOwnerProvider returns an owner governed provider persisting to s.
func NewOwnerProvider(client *evees.Client, s *Store) *OwnerProvider {
	return &OwnerProvider{base: newBase(client, s, KindOwner)}
}

// CreateProposal stores p. The manifest names the owner at creation time.
func (o *OwnerProvider) CreateProposal(ctx context.Context, p evees.Proposal) (string, error) {
	target, err := o.client.RemoteOf(ctx, p.ToPerspectiveID)
	if err != nil {
		return "", err
	}
	owner, err := target.AccessControl().GetOwner(ctx, p.ToPerspectiveID)
	if err != nil {
		return "", err
	}
	return o.create(ctx, p, Manifest{Block: o.Now(), Members: []string{owner}})
}

func (o *OwnerProvider) status(rec Record) (evees.ProposalStatus, error) {
	if rec.Proposal.Status == "" {
		return recordVerdict(evees.StatusPending), nil
	}
	return recordVerdict(rec.Proposal.Status), nil
}

func (o *OwnerProvider) decide(ctx context.Context, id string, status evees.ProposalStatus) (Record, error) {
	rec, err := o.get(id)
	if err != nil {
		return rec, err
	}
	target, err := o.client.RemoteOf(ctx, rec.Proposal.ToPerspectiveID)
	if err != nil {
		return rec, err
	}
	ok, err := target.CanWrite(ctx, rec.Proposal.ToPerspectiveID)
	if err != nil {
		return rec, err
	}
	if !ok {
		return rec, evees.AuthorizationDenied(id, fmt.Errorf("%s does not own %s", target.UserID(), rec.Proposal.ToPerspectiveID))
	}
	if rec.Proposal.Status.IsTerminal() && rec.Proposal.Status != status {
		return rec, fmt.Errorf("proposal %s is already %s", id, rec.Proposal.Status)
	}
	rec.Proposal.Status = status
	return rec, o.store.Save(rec)
}

// Accept marks the proposal accepted and replays it.
func (o *OwnerProvider) Accept(ctx context.Context, id string) error {
	rec, err := o.decide(ctx, id, evees.StatusAccepted)
	if err != nil {
		return err
	}
	return o.replay(ctx, rec, false)
}

// Reject marks the proposal rejected.
func (o *OwnerProvider) Reject(ctx context.Context, id string) error {
	_, err := o.decide(ctx, id, evees.StatusRejected)
	return err
}

func (o *OwnerProvider) GetProposal(ctx context.Context, id string) (evees.Proposal, error) {
	rec, err := o.get(id)
	if err != nil {
		return evees.Proposal{}, err
	}
	if rec.Proposal.Status, err = o.status(rec); err != nil {
		return evees.Proposal{}, err
	}
	return rec.Proposal, nil
}

func (o *OwnerProvider) ListProposals(ctx context.Context, perspectiveID string) ([]evees.Proposal, error) {
	return o.list(perspectiveID, o.status)
}

func (o *OwnerProvider) Status(ctx context.Context, id string) (evees.ProposalStatus, error) {
	rec, err := o.get(id)
	if err != nil {
		return "", err
	}
	return o.status(rec)
}

// Execute replays a proposal the owner accepted.
func (o *OwnerProvider) Execute(ctx context.Context, id string) error {
	rec, err := o.get(id)
	if err != nil {
		return err
	}
	if rec.Proposal.Status != evees.StatusAccepted {
		return evees.GovernanceUnmet(id, fmt.Errorf("proposal is %s", rec.Proposal.Status))
	}
	return o.replay(ctx, rec, false)
}

var (
	_ Provider = (*CouncilProvider)(nil)
	_ Provider = (*OwnerProvider)(nil)
)
