package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/caspian/internal/config"
	"github.com/Iron-Ham/caspian/internal/errors"
)

var rootCmd = &cobra.Command{
	Use:   "caspian",
	Short: "Isolated git worktrees for parallel work",
	Long: `Caspian creates nodes: branches checked out into their own git
worktrees, so several pieces of work can proceed side by side in one
repository. Worktree creation runs in the background and is serialized
per repository.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and prints any error it returns.
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		printError(rootCmd.ErrOrStderr(), err)
	}
	return err
}

var (
	errorLabelStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F87171"))
	warningLabelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F59E0B"))
	hintStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

// printError writes err labelled by its severity. Node and git failures also
// point at the log.
func printError(w io.Writer, err error) {
	var label string
	switch sev := errors.GetSeverity(err); {
	case sev >= errors.SeverityCritical:
		label = errorLabelStyle.Render("Critical:")
	case sev >= errors.SeverityError:
		label = errorLabelStyle.Render("Error:")
	default:
		label = warningLabelStyle.Render("Warning:")
	}
	fmt.Fprintln(w, label, err)
	if errors.IsDomainError(err) {
		fmt.Fprintln(w, hintStyle.Render("Run 'caspian logs' for details."))
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/caspian/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("CASPIAN")
	// Replace dots with underscores for nested keys in env vars
	// e.g., CASPIAN_WORKTREE_MAX_RETRIES for worktree.max_retries
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
