package proposals

import (
	"context"
	"fmt"

	"github.com/javanhut/evees/internal/evees"
)

// Council is the membership and rules a CouncilProvider stamps on new proposals.
type Council struct {
	Members []string
	Config  Config
}

// CouncilProvider accepts proposals by quorum vote of a fixed member set.
// Status is recomputed on every read and never stored.
type CouncilProvider struct {
	base
	council Council
}

// NewCouncilProvider returns a provider whose proposals are decided by council.
func NewCouncilProvider(client *evees.Client, s *Store, council Council) *CouncilProvider {
	return &CouncilProvider{base: newBase(client, s, KindCouncil), council: council}
}

// CreateProposal stores p under the current council rules.
func (c *CouncilProvider) CreateProposal(ctx context.Context, p evees.Proposal) (string, error) {
	manifest := Manifest{
		Block:   c.Now(),
		Config:  c.council.Config,
		Members: append([]string(nil), c.council.Members...),
	}
	return c.create(ctx, p, manifest)
}

func (c *CouncilProvider) logic(rec Record) (*QuorumLogic, error) {
	cast, err := c.store.Votes(rec.Proposal.ID)
	if err != nil {
		return nil, err
	}
	votes := make([]VoteValue, len(rec.Manifest.Members))
	for i, member := range rec.Manifest.Members {
		votes[i] = cast[member]
	}
	return NewQuorumLogic(rec.Manifest, votes, c.Now()), nil
}

func (c *CouncilProvider) status(rec Record) (evees.ProposalStatus, error) {
	l, err := c.logic(rec)
	if err != nil {
		return "", err
	}
	return recordVerdict(l.Status()), nil
}

// Vote records member's vote while the proposal is pending.
func (c *CouncilProvider) Vote(ctx context.Context, id, member string, v VoteValue) error {
	rec, err := c.get(id)
	if err != nil {
		return err
	}
	if !rec.Manifest.IsMember(member) {
		return evees.AuthorizationDenied(id, fmt.Errorf("%s is not a council member", member))
	}
	if v != VoteYes && v != VoteNo {
		return fmt.Errorf("invalid vote %q", v)
	}
	l, err := c.logic(rec)
	if err != nil {
		return err
	}
	if !l.IsPending() {
		return fmt.Errorf("proposal %s: %w", id, errVotingClosed)
	}
	if err := c.store.SetVote(id, member, v); err != nil {
		return err
	}
	c.logger.Debug("vote recorded", "id", id, "member", member, "vote", string(v))
	return nil
}

// GetProposal returns the proposal with its current status.
func (c *CouncilProvider) GetProposal(ctx context.Context, id string) (evees.Proposal, error) {
	rec, err := c.get(id)
	if err != nil {
		return evees.Proposal{}, err
	}
	if rec.Proposal.Status, err = c.status(rec); err != nil {
		return evees.Proposal{}, err
	}
	return rec.Proposal, nil
}

// ListProposals returns the council proposals targeting perspectiveID.
func (c *CouncilProvider) ListProposals(ctx context.Context, perspectiveID string) ([]evees.Proposal, error) {
	return c.list(perspectiveID, c.status)
}

// Status evaluates the quorum rules at the current time.
func (c *CouncilProvider) Status(ctx context.Context, id string) (evees.ProposalStatus, error) {
	rec, err := c.get(id)
	if err != nil {
		return "", err
	}
	return c.status(rec)
}

// Execute replays an accepted proposal. Any council member may execute it,
// whoever owns the target perspectives.
func (c *CouncilProvider) Execute(ctx context.Context, id string) error {
	rec, err := c.get(id)
	if err != nil {
		return err
	}
	status, err := c.status(rec)
	if err != nil {
		return err
	}
	if status != evees.StatusAccepted {
		return evees.GovernanceUnmet(id, fmt.Errorf("proposal is %s", status))
	}
	target, err := c.client.RemoteOf(ctx, rec.Proposal.ToPerspectiveID)
	if err != nil {
		return err
	}
	if !rec.Manifest.IsMember(target.UserID()) {
		return evees.AuthorizationDenied(id, fmt.Errorf("%q is not a council member", target.UserID()))
	}
	return c.replay(ctx, rec, true)
}
