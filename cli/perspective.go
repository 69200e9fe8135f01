package cli

import (
	"fmt"
	"time"

	"github.com/javanhut/evees/internal/colors"
	"github.com/javanhut/evees/internal/evees"
	"github.com/spf13/cobra"
)

var perspectiveCmd = &cobra.Command{
	Use:     "perspective",
	Aliases: []string{"p"},
	Short:   "Manage perspectives",
	Long:    `Create, inspect, fork and delete perspectives on the configured remote`,
}

var perspectiveCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new perspective",
	Long: `Create a new, empty perspective on the configured remote.

Examples:
  evees perspective create --context wiki-1 --name draft
  evees perspective create --parent <perspective>`,
	Args: cobra.NoArgs,
	RunE: runPerspectiveCreate,
}

var perspectiveShowCmd = &cobra.Command{
	Use:   "show <perspective>",
	Short: "Show a perspective, its details and its head",
	Args:  cobra.ExactArgs(1),
	RunE:  runPerspectiveShow,
}

var perspectiveListCmd = &cobra.Command{
	Use:   "list --context <tag>",
	Short: "List the perspectives sharing a context",
	Args:  cobra.NoArgs,
	RunE:  runPerspectiveList,
}

var perspectiveDeleteCmd = &cobra.Command{
	Use:   "delete <perspective>",
	Short: "Delete a perspective",
	Args:  cobra.ExactArgs(1),
	RunE:  runPerspectiveDelete,
}

var perspectiveForkCmd = &cobra.Command{
	Use:   "fork <perspective>",
	Short: "Fork a perspective onto the configured remote",
	Long: `Create a new perspective in the same context as the source, starting at
the source's head and owned by the current user.`,
	Args: cobra.ExactArgs(1),
	RunE: runPerspectiveFork,
}

var (
	createPath    string
	createContext string
	createName    string
	createParent  string
	listContext   string
	forkParent    string
)

func init() {
	perspectiveCreateCmd.Flags().StringVar(&createPath, "path", "", "Path of the perspective on its remote")
	perspectiveCreateCmd.Flags().StringVar(&createContext, "context", "", "Context tag shared by counterpart perspectives")
	perspectiveCreateCmd.Flags().StringVar(&createName, "name", "", "Human readable name")
	perspectiveCreateCmd.Flags().StringVar(&createParent, "parent", "", "Perspective whose owner the new one inherits")

	perspectiveListCmd.Flags().StringVar(&listContext, "context", "", "Context tag to list")
	perspectiveListCmd.MarkFlagRequired("context")

	perspectiveForkCmd.Flags().StringVar(&forkParent, "parent", "", "Perspective whose owner the fork inherits")
}

func runPerspectiveCreate(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.requireUser(); err != nil {
		return err
	}

	id, err := s.client.CreatePerspective(cmd.Context(), s.remote, evees.CreateOptions{
		Path:     createPath,
		Context:  createContext,
		Name:     createName,
		ParentID: createParent,
	})
	if err != nil {
		return fmt.Errorf("create perspective: %w", err)
	}

	fmt.Printf("%s perspective %s\n", colors.SuccessText("Created"), colors.ID(id))
	return nil
}

func runPerspectiveShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	id := args[0]
	p, err := s.client.GetPerspective(ctx, id)
	if err != nil {
		return err
	}
	details, err := s.client.GetPerspectiveDetails(ctx, id)
	if err != nil {
		return err
	}
	remote, err := s.client.RemoteOf(ctx, id)
	if err != nil {
		return err
	}
	owner, err := remote.AccessControl().GetOwner(ctx, id)
	if err != nil && !evees.IsNotFound(err) {
		return err
	}

	payload := p.Object.Payload
	fmt.Printf("%s %s\n", colors.SectionHeader("perspective"), colors.ID(p.ID))
	fmt.Printf("  remote:  %s\n", payload.Remote)
	if payload.Path != "" {
		fmt.Printf("  path:    %s\n", payload.Path)
	}
	fmt.Printf("  creator: %s\n", payload.CreatorID)
	fmt.Printf("  created: %s\n", time.UnixMilli(int64(payload.Timestamp)).Format(time.RFC3339))
	fmt.Printf("  owner:   %s\n", valueOrUnset(owner))
	fmt.Printf("  name:    %s\n", valueOrUnset(details.NameValue()))
	fmt.Printf("  context: %s\n", valueOrUnset(details.ContextValue()))

	head := details.Head()
	if head == "" {
		fmt.Printf("  head:    %s\n", colors.Gray("(empty)"))
		return nil
	}
	fmt.Printf("  head:    %s\n", colors.ID(head))

	commit, err := s.client.GetCommit(ctx, head)
	if err != nil {
		return err
	}
	c := commit.Object.Payload
	fmt.Println()
	fmt.Println(colors.SectionHeader("head commit"))
	if c.Message != "" {
		fmt.Printf("  message: %s\n", c.Message)
	}
	fmt.Printf("  author:  %s\n", c.CreatorID)
	for _, parent := range c.ParentsIDs {
		fmt.Printf("  parent:  %s\n", colors.ID(parent))
	}
	data, err := s.client.GetCommitData(ctx, head)
	if err != nil {
		return err
	}
	fmt.Printf("  data:    %s\n", colors.ID(data.ID))
	fmt.Printf("  %s\n", string(data.Object))
	return nil
}

func runPerspectiveList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	ids, err := s.remote.GetContextPerspectives(ctx, listContext)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Printf("No perspectives in context %s\n", colors.InfoText(listContext))
		return nil
	}

	fmt.Println(colors.SectionHeader(fmt.Sprintf("Perspectives in %s:", listContext)))
	for _, id := range ids {
		details, err := s.client.GetPerspectiveDetails(ctx, id)
		if err != nil {
			return err
		}
		head := colors.Gray("(empty)")
		if h := details.Head(); h != "" {
			head = colors.ShortID(h, 8)
		}
		fmt.Printf("  %s  %s  %s\n", colors.ID(id), head, details.NameValue())
	}
	return nil
}

func runPerspectiveDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.requireUser(); err != nil {
		return err
	}

	if err := s.remote.DeletePerspective(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("%s perspective %s\n", colors.WarningText("Deleted"), colors.ID(args[0]))
	return nil
}

func runPerspectiveFork(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.requireUser(); err != nil {
		return err
	}

	id, err := s.client.ForkPerspective(ctx, args[0], s.remote, forkParent)
	if err != nil {
		return fmt.Errorf("fork %s: %w", args[0], err)
	}
	fmt.Printf("%s %s into %s\n", colors.SuccessText("Forked"), colors.ID(args[0]), colors.ID(id))
	return nil
}

func valueOrUnset(v string) string {
	if v == "" {
		return colors.Gray("(not set)")
	}
	return colors.InfoText(v)
}
