package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/caspian/internal/errors"
)

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage registered repositories",
}

var repoAddCmd = &cobra.Command{
	Use:   "add [path]",
	Short: "Register a git repository",
	Long: `Register the git repository containing path (default: the current
directory) so nodes can be created from it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRepoAdd,
}

var repoListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered repositories",
	Args:  cobra.NoArgs,
	RunE:  runRepoList,
}

func init() {
	rootCmd.AddCommand(repoCmd)
	repoCmd.AddCommand(repoAddCmd)
	repoCmd.AddCommand(repoListCmd)
}

func runRepoAdd(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	path := "."
	if len(args) == 1 {
		path = args[0]
	}

	repo, err := a.nodes.AddRepository(path)
	var exists *errors.AlreadyExistsError
	if errors.As(err, &exists) {
		fmt.Fprintf(cmd.OutOrStdout(), "Repository already registered: %s (%s)\n", repo.Name, repo.ID)
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (%s)\n", repo.Name, repo.ID)
	fmt.Fprintf(cmd.OutOrStdout(), "Path: %s\n", repo.Path)
	return nil
}

func runRepoList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	repos, err := a.store.ListRepositories()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(repos) == 0 {
		fmt.Fprintln(out, "No repositories registered. Run 'caspian repo add' in a git repository.")
		return nil
	}

	fmt.Fprintf(out, "%-10s %-20s %s\n", "ID", "NAME", "PATH")
	for _, r := range repos {
		fmt.Fprintf(out, "%-10s %-20s %s\n", shortID(r.ID), r.Name, r.Path)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
