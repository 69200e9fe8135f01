package cli

import (
	"context"
	"fmt"

	"github.com/javanhut/evees/internal/colors"
	"github.com/javanhut/evees/internal/evees"
	"github.com/javanhut/evees/internal/proposals"
	"github.com/spf13/cobra"
)

var proposalCmd = &cobra.Command{
	Use:   "proposal",
	Short: "Review and execute merge proposals",
	Long: `Proposals are opened with 'evees merge --propose'. Council governed
proposals are decided by quorum vote; owner governed ones by the owner of the
target perspective.`,
}

var proposalListCmd = &cobra.Command{
	Use:   "list <perspective>",
	Short: "List proposals targeting a perspective",
	Args:  cobra.ExactArgs(1),
	RunE:  runProposalList,
}

var proposalShowCmd = &cobra.Command{
	Use:   "show <proposal>",
	Short: "Show a proposal and its votes",
	Args:  cobra.ExactArgs(1),
	RunE:  runProposalShow,
}

var proposalVoteCmd = &cobra.Command{
	Use:   "vote <proposal> <yes|no>",
	Short: "Vote on a council proposal as the current user",
	Args:  cobra.ExactArgs(2),
	RunE:  runProposalVote,
}

var proposalStatusCmd = &cobra.Command{
	Use:   "status <proposal>",
	Short: "Print the status of a proposal",
	Args:  cobra.ExactArgs(1),
	RunE:  runProposalStatus,
}

var proposalExecuteCmd = &cobra.Command{
	Use:   "execute <proposal>",
	Short: "Apply an accepted proposal",
	Args:  cobra.ExactArgs(1),
	RunE:  runProposalExecute,
}

var proposalAcceptCmd = &cobra.Command{
	Use:   "accept <proposal>",
	Short: "Accept and apply an owner governed proposal",
	Args:  cobra.ExactArgs(1),
	RunE:  runProposalAccept,
}

var proposalRejectCmd = &cobra.Command{
	Use:   "reject <proposal>",
	Short: "Reject an owner governed proposal",
	Args:  cobra.ExactArgs(1),
	RunE:  runProposalReject,
}

func runProposalList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	// Both kinds may target the same perspective.
	list, err := s.owner.ListProposals(ctx, args[0])
	if err != nil {
		return err
	}
	if s.council != nil {
		more, err := s.council.ListProposals(ctx, args[0])
		if err != nil {
			return err
		}
		list = append(list, more...)
	}

	if len(list) == 0 {
		fmt.Printf("No proposals on %s\n", colors.ID(args[0]))
		return nil
	}
	fmt.Println(colors.SectionHeader(fmt.Sprintf("Proposals on %s:", args[0])))
	for _, p := range list {
		fmt.Printf("  %s  %-8s  from %s  %d update(s)\n",
			colors.ID(p.ID), colors.Status(string(p.Status)), colors.ShortID(p.FromPerspectiveID, 8), len(p.Updates))
	}
	return nil
}

func runProposalShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	rec, err := s.store.Get(args[0])
	if err != nil {
		return err
	}
	status, err := s.status(ctx, args[0])
	if err != nil {
		return err
	}

	p := rec.Proposal
	fmt.Printf("%s %s (%s)\n", colors.SectionHeader("proposal"), colors.ID(p.ID), rec.Kind)
	fmt.Printf("  status:   %s\n", colors.Status(string(status)))
	fmt.Printf("  to:       %s at %s\n", colors.ID(p.ToPerspectiveID), colors.ShortID(p.ToHeadID, 8))
	fmt.Printf("  from:     %s at %s\n", colors.ID(p.FromPerspectiveID), colors.ShortID(p.FromHeadID, 8))
	fmt.Printf("  executed: %t\n", rec.Executed)
	for _, np := range p.NewPerspectives {
		fmt.Printf("  %s %s\n", colors.SuccessText("new"), colors.ID(np.Perspective.ID))
	}
	for _, u := range p.Updates {
		fmt.Printf("  %s %s -> %s\n", colors.InfoText("update"), colors.ID(u.PerspectiveID), colors.ShortID(u.Details.Head(), 8))
	}

	if rec.Kind != proposals.KindCouncil {
		return nil
	}
	votes, err := s.store.Votes(p.ID)
	if err != nil {
		return err
	}
	cfg := rec.Manifest.Config
	fmt.Println()
	fmt.Println(colors.SectionHeader("council"))
	fmt.Printf("  deadline: %d  quorum: %.2f  threshold: %.2f\n", rec.Manifest.Deadline(), cfg.Quorum, cfg.Threshold)
	for _, member := range rec.Manifest.Members {
		fmt.Printf("  %-16s %s\n", member, colors.Vote(string(votes[member])))
	}
	return nil
}

func runProposalVote(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.requireUser(); err != nil {
		return err
	}

	vote, ok := proposals.ParseVote(args[1])
	if !ok {
		return fmt.Errorf("invalid vote %q: expected yes or no", args[1])
	}
	provider, err := s.providerFor(args[0])
	if err != nil {
		return err
	}
	council, ok := provider.(*proposals.CouncilProvider)
	if !ok {
		return fmt.Errorf("proposal %s is owner governed: use accept or reject", args[0])
	}
	if err := council.Vote(ctx, args[0], s.userID, vote); err != nil {
		return err
	}

	status, err := council.Status(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s %s on %s (now %s)\n", colors.SuccessText("Voted"), colors.Vote(string(vote)), colors.ID(args[0]), colors.Status(string(status)))
	return nil
}

func runProposalStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	status, err := s.status(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Println(colors.Status(string(status)))
	return nil
}

func runProposalExecute(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.requireUser(); err != nil {
		return err
	}

	provider, err := s.providerFor(args[0])
	if err != nil {
		return err
	}
	if err := provider.Execute(ctx, args[0]); err != nil {
		if evees.IsGovernanceUnmet(err) {
			return fmt.Errorf("cannot execute: %w", err)
		}
		return err
	}
	fmt.Printf("%s proposal %s\n", colors.SuccessText("Executed"), colors.ID(args[0]))
	return nil
}

func runProposalAccept(cmd *cobra.Command, args []string) error {
	return decide(cmd, args[0], true)
}

func runProposalReject(cmd *cobra.Command, args []string) error {
	return decide(cmd, args[0], false)
}

func decide(cmd *cobra.Command, id string, accept bool) error {
	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.requireUser(); err != nil {
		return err
	}

	provider, err := s.providerFor(id)
	if err != nil {
		return err
	}
	owner, ok := provider.(*proposals.OwnerProvider)
	if !ok {
		return fmt.Errorf("proposal %s is council governed: use vote", id)
	}

	if accept {
		if err := owner.Accept(ctx, id); err != nil {
			return err
		}
		fmt.Printf("%s and executed proposal %s\n", colors.SuccessText("Accepted"), colors.ID(id))
		return nil
	}
	if err := owner.Reject(ctx, id); err != nil {
		return err
	}
	fmt.Printf("%s proposal %s\n", colors.ErrorText("Rejected"), colors.ID(id))
	return nil
}

func (s *session) status(ctx context.Context, id string) (evees.ProposalStatus, error) {
	provider, err := s.providerFor(id)
	if err != nil {
		return "", err
	}
	return provider.Status(ctx, id)
}
