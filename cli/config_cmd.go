package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/javanhut/evees/internal/colors"
	"github.com/javanhut/evees/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Get and set configuration options",
	Long: `Get and set evees configuration options.

Configuration can be set at two levels:
- Global (~/.eveesconfig) - applies to every evees directory
- Repository (.evees/config) - applies to the current directory only

Examples:
  evees config user.name "alice"
  evees config core.backend redis
  evees config core.redis_url redis://localhost:6379/0
  evees config council.enabled true
  evees config council.members alice,bob,carol
  evees config --global user.name "alice"
  evees config --list`,
	Args: cobra.MaximumNArgs(2),
	RunE: runConfig,
}

var (
	configGlobal bool
	configList   bool
)

func init() {
	configCmd.Flags().BoolVar(&configGlobal, "global", false, "Use global config file")
	configCmd.Flags().BoolVar(&configList, "list", false, "List all configuration")
}

func runConfig(cmd *cobra.Command, args []string) error {
	root, err := configRoot()
	if err != nil {
		return err
	}

	if configList {
		return listConfig(root)
	}

	switch len(args) {
	case 1:
		return getConfigValue(root, args[0])
	case 2:
		return setConfigValue(root, args[0], args[1], configGlobal)
	}
	return fmt.Errorf("invalid usage. See: evees config --help")
}

// configRoot is the evees root when there is one. Outside of one only
// global settings make sense, so the working directory stands in.
func configRoot() (string, error) {
	root, err := findRoot()
	if err == errNoEveesDir {
		if !configGlobal && !configList {
			return "", err
		}
		return os.Getwd()
	}
	return root, err
}

func listConfig(root string) error {
	cfg, err := config.LoadConfig(root)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	section := ""
	for _, key := range config.Keys() {
		name, _, _ := strings.Cut(key, ".")
		if name != section {
			if section != "" {
				fmt.Println()
			}
			section = name
			fmt.Println(colors.SectionHeader(strings.ToUpper(name[:1]) + name[1:] + " Configuration:"))
		}
		value, err := config.GetValue(root, key)
		if err != nil {
			return err
		}
		fmt.Printf("  %s = %s\n", key, valueOrUnset(value))
	}

	if err := cfg.Validate(); err != nil {
		fmt.Println()
		fmt.Println(colors.WarningText("Warning: " + err.Error()))
	}
	return nil
}

func getConfigValue(root, key string) error {
	value, err := config.GetValue(root, key)
	if err != nil {
		return err
	}

	if value == "" {
		fmt.Printf("%s is %s\n", key, colors.Gray("(not set)"))
	} else {
		fmt.Println(value)
	}
	return nil
}

func setConfigValue(root, key, value string, global bool) error {
	if err := config.SetValue(root, key, value, global); err != nil {
		return err
	}

	scope := "repository"
	if global {
		scope = "global"
	}
	fmt.Printf("%s %s config: %s = %s\n",
		colors.SuccessText("Set"),
		scope,
		colors.Bold(key),
		colors.InfoText(value))

	if strings.HasPrefix(key, "council.") {
		cfg, err := config.LoadConfig(root)
		if err == nil && cfg.Council.Enabled && cfg.Council.Manifest == "" && len(cfg.Council.Members) == 0 {
			fmt.Println()
			fmt.Println(colors.Dim("Hint: the council has no members yet:"))
			fmt.Printf("  %s\n", colors.InfoText("evees config council.members alice,bob,carol"))
		}
	}
	return nil
}
