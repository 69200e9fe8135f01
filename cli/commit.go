package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/javanhut/evees/internal/colors"
	"github.com/javanhut/evees/internal/documents"
	"github.com/javanhut/evees/internal/wikis"
	"github.com/spf13/cobra"
)

var commitCmd = &cobra.Command{
	Use:   "commit <perspective>",
	Short: "Commit a document to a perspective",
	Long: `Write a text node (or a wiki) and commit it on top of the perspective head.

Links default to those of the current head, so editing the text of a node
keeps its children.

Examples:
  evees commit <perspective> --text "Hello" -m "first draft"
  evees commit <perspective> --text "Chapter 1" --title --link <child>
  evees commit <perspective> --wiki --text "Handbook" --link <page>`,
	Args: cobra.ExactArgs(1),
	RunE: runCommit,
}

var (
	commitText    string
	commitTitle   bool
	commitWiki    bool
	commitLinks   []string
	commitNoLinks bool
	commitMessage string
)

func init() {
	commitCmd.Flags().StringVar(&commitText, "text", "", "Node text, or the wiki title with --wiki")
	commitCmd.Flags().BoolVar(&commitTitle, "title", false, "Commit a title node instead of a paragraph")
	commitCmd.Flags().BoolVar(&commitWiki, "wiki", false, "Commit a wiki whose pages are the links")
	commitCmd.Flags().StringArrayVar(&commitLinks, "link", nil, "Child perspective id (repeatable)")
	commitCmd.Flags().BoolVar(&commitNoLinks, "no-links", false, "Drop the links of the current head")
	commitCmd.Flags().StringVarP(&commitMessage, "message", "m", "", "Commit message")
	commitCmd.MarkFlagRequired("text")
}

func runCommit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.requireUser(); err != nil {
		return err
	}

	perspectiveID := args[0]
	links := commitLinks
	if len(links) == 0 && !commitNoLinks {
		if links, err = s.headLinks(ctx, perspectiveID); err != nil {
			return err
		}
	}

	var data any
	switch {
	case commitWiki:
		data = wikis.New(commitText, links...)
	case commitTitle:
		data = documents.NewTitle(commitText, links...)
	default:
		data = documents.NewParagraph(commitText, links...)
	}

	commitID, err := s.client.CreateCommit(ctx, perspectiveID, data, commitMessage)
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	fmt.Printf("%s %s on %s\n", colors.SuccessText("Committed"), colors.ID(commitID), colors.ID(perspectiveID))
	if len(links) > 0 {
		fmt.Printf("  %d link(s)\n", len(links))
	}
	return nil
}

// headLinks returns the links of the document at the head of perspectiveID,
// or nil when the perspective is empty or holds another kind of data.
func (s *session) headLinks(ctx context.Context, perspectiveID string) ([]string, error) {
	details, err := s.client.GetPerspectiveDetails(ctx, perspectiveID)
	if err != nil {
		return nil, err
	}
	if details.Head() == "" {
		return nil, nil
	}
	data, err := s.client.GetCommitData(ctx, details.Head())
	if err != nil {
		return nil, err
	}

	switch {
	case (documents.Behaviour{}).Recognize(data.Object):
		var node documents.TextNode
		if err := json.Unmarshal(data.Object, &node); err != nil {
			return nil, err
		}
		return node.Links, nil
	case (wikis.Behaviour{}).Recognize(data.Object):
		var wiki wikis.Wiki
		if err := json.Unmarshal(data.Object, &wiki); err != nil {
			return nil, err
		}
		return wiki.Pages, nil
	}
	return nil, nil
}
