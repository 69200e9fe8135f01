package cli

import (
	"fmt"

	"github.com/javanhut/evees/internal/colors"
	"github.com/javanhut/evees/internal/merge"
	"github.com/javanhut/evees/internal/proposals"
	"github.com/spf13/cobra"
)

var mergeCmd = &cobra.Command{
	Use:   "merge <from> <to>",
	Short: "Merge one perspective into another",
	Long: `Merge the changes of <from> into <to>, recursing into linked perspectives.

Without --propose the merge is applied directly and requires write access to
every perspective it updates. With --propose the new entities are stored and a
proposal is opened on <to> instead.

Examples:
  evees merge <from> <to>
  evees merge <from> <to> --propose -m "import chapter 2"
  evees merge <from> <to> --check`,
	Args: cobra.ExactArgs(2),
	RunE: runMerge,
}

var (
	mergePropose    bool
	mergeForceOwner bool
	mergeCheck      bool
	mergeMessage    string
)

func init() {
	mergeCmd.Flags().BoolVar(&mergePropose, "propose", false, "Open a proposal instead of applying the merge")
	mergeCmd.Flags().BoolVar(&mergeForceOwner, "force-owner", false, "Fork linked perspectives so the current user owns them")
	mergeCmd.Flags().BoolVar(&mergeCheck, "check", false, "Only report whether the merge would change anything")
	mergeCmd.Flags().StringVarP(&mergeMessage, "message", "m", "", "Message stored on merge commits")
}

func runMerge(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	fromID, toID := args[0], args[1]

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if mergeCheck {
		pending, err := s.merger.HasPendingChanges(ctx, s.client, toID, fromID)
		if err != nil {
			return err
		}
		if pending {
			fmt.Printf("%s has changes to merge into %s\n", colors.ID(fromID), colors.ID(toID))
		} else {
			fmt.Println(colors.Gray("Already up to date"))
		}
		return nil
	}

	if err := s.requireUser(); err != nil {
		return err
	}

	ws := s.newWorkspace()
	cfg := merge.Config{ForceOwner: mergeForceOwner, Message: mergeMessage}
	if err := s.merger.MergePerspectives(ctx, toID, fromID, ws, cfg); err != nil {
		return fmt.Errorf("merge: %w", err)
	}
	if ws.IsEmpty() {
		fmt.Println(colors.Gray("Already up to date"))
		return nil
	}

	if mergePropose {
		id, err := proposals.Propose(ctx, s.provider(), ws, toID, fromID)
		if err != nil {
			return fmt.Errorf("propose: %w", err)
		}
		fmt.Printf("%s proposal %s\n", colors.SuccessText("Opened"), colors.ID(id))
		fmt.Printf("  %d new perspective(s), %d update(s)\n", len(ws.GetNewPerspectives()), len(ws.GetUpdates()))
		return nil
	}

	if err := ws.Execute(ctx); err != nil {
		return fmt.Errorf("apply merge: %w", err)
	}
	fmt.Printf("%s %s into %s\n", colors.SuccessText("Merged"), colors.ID(fromID), colors.ID(toID))
	fmt.Printf("  %d entities, %d new perspective(s), %d update(s)\n",
		len(ws.GetEntities()), len(ws.GetNewPerspectives()), len(ws.GetUpdates()))
	return nil
}
