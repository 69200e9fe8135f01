package cli

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/javanhut/evees/internal/colors"
	"github.com/javanhut/evees/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "evees",
	Short: "Evees manages content-addressed perspectives",
	Long: `Evees stores documents as content-addressed commits on mutable perspectives,
merges perspectives recursively and governs updates through proposals.`,
	PersistentPreRun: setupLogging,
	SilenceUsage:     true,
}

var initialCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize",
	Long:  "Initializes a new evees directory in the working directory",
	Args:  cobra.NoArgs,
	Run:   initCommand,
}

var (
	userFlag    string
	verboseFlag bool
	noColorFlag bool
)

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&userFlag, "user", "", "Act as this user instead of user.name")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Log debug output")
	rootCmd.PersistentFlags().BoolVar(&noColorFlag, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(initialCmd)

	rootCmd.AddCommand(perspectiveCmd)
	perspectiveCmd.AddCommand(perspectiveCreateCmd, perspectiveShowCmd, perspectiveListCmd,
		perspectiveDeleteCmd, perspectiveForkCmd)

	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(mergeCmd)

	rootCmd.AddCommand(proposalCmd)
	proposalCmd.AddCommand(proposalListCmd, proposalShowCmd, proposalVoteCmd, proposalStatusCmd,
		proposalExecuteCmd, proposalAcceptCmd, proposalRejectCmd)

	rootCmd.AddCommand(configCmd)
}

func setupLogging(cmd *cobra.Command, args []string) {
	if noColorFlag {
		colors.SetColorEnabled(false)
	}
	level := slog.LevelWarn
	if verboseFlag {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func initCommand(cmd *cobra.Command, args []string) {
	workDir, err := os.Getwd()
	if err != nil {
		log.Fatalf("Get working directory: %v", err)
	}

	eveesDir := filepath.Join(workDir, config.Dir)
	if err := os.Mkdir(eveesDir, os.ModePerm); err != nil && !os.IsExist(err) {
		log.Fatal(err)
	}

	cfg, err := config.LoadConfig(workDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := config.SaveRepoConfig(workDir, cfg); err != nil {
		log.Fatalf("Failed to write config: %v", err)
	}

	// Opening a session creates the database and the object store.
	s, err := openSession(cmd.Context())
	if err != nil {
		log.Fatalf("Failed to open evees directory: %v", err)
	}
	defer s.Close()

	fmt.Printf("%s evees directory in %s\n", colors.SuccessText("Initialized"), eveesDir)
	fmt.Printf("  backend: %s  remote: %s\n", colors.InfoText(cfg.Core.Backend), colors.InfoText(cfg.Core.Remote))
	if s.userID == "" {
		fmt.Println()
		fmt.Println(colors.Dim("Hint: set a user before writing:"))
		fmt.Printf("  %s\n", colors.InfoText(`evees config user.name "alice"`))
	}
}
