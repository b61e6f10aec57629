package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/caspian/internal/errors"
	"github.com/Iron-Ham/caspian/internal/event"
	"github.com/Iron-Ham/caspian/internal/node"
	"github.com/Iron-Ham/caspian/internal/nodeinit"
	"github.com/Iron-Ham/caspian/internal/tui/progress"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Create, inspect, and remove nodes",
}

var nodeCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create nodes branching from a parent branch",
	Long: `Create one or more nodes. Each node gets a generated branch name and its
own worktree. Worktrees in the same repository are created one at a time;
progress is shown until every node is ready or failed.

A parent like origin/main is fetched first.`,
	Args: cobra.NoArgs,
	RunE: runNodeCreate,
}

var nodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List nodes",
	Args:  cobra.NoArgs,
	RunE:  runNodeList,
}

var nodeRetryCmd = &cobra.Command{
	Use:   "retry <node-id>",
	Short: "Retry worktree creation for a failed node",
	Args:  cobra.ExactArgs(1),
	RunE:  runNodeRetry,
}

var nodeDeleteCmd = &cobra.Command{
	Use:   "delete <node-id>",
	Short: "Delete a node, its worktree, and its branch",
	Args:  cobra.ExactArgs(1),
	RunE:  runNodeDelete,
}

var nodePathCmd = &cobra.Command{
	Use:   "path <node-id>",
	Short: "Print the worktree path of a ready node",
	Long: `Print the worktree path of a node. Fails if the node is still being
initialized, failed to initialize, or its worktree is missing on disk.`,
	Args: cobra.ExactArgs(1),
	RunE: runNodePath,
}

var nodePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove stale worktrees and reset interrupted nodes",
	Long: `Reconcile a repository's nodes with what is on disk.

Worktrees in the node worktree directory that no node owns are removed.
Nodes left pending or creating by a caspian process that exited have their
partial worktree and branch removed and are marked failed, so they can be
retried with 'caspian node retry'.`,
	Args: cobra.NoArgs,
	RunE: runNodePrune,
}

var nodeRenameCmd = &cobra.Command{
	Use:   "rename <node-id> <name>",
	Short: "Rename a node",
	Long: `Change a node's display name. With --branch the git branch is renamed to
match and the worktree moved to the new branch's path. Commits are never
rewritten. Waits for other worktree operations in the repository to finish.`,
	Args: cobra.ExactArgs(2),
	RunE: runNodeRename,
}

var nodeSetParentCmd = &cobra.Command{
	Use:   "set-parent <node-id> <branch>",
	Short: "Change the branch a node was created from",
	Long: `Record a different parent branch for a node. The existing worktree is not
touched; a later 'caspian node retry' builds from the new parent.`,
	Args: cobra.ExactArgs(2),
	RunE: runNodeSetParent,
}

var (
	nodeRepo         string
	nodeParent       string
	nodeCount        int
	nodeNoTUI        bool
	nodeYes          bool
	nodeDryRun       bool
	nodeRenameBranch bool
)

func init() {
	rootCmd.AddCommand(nodeCmd)
	nodeCmd.AddCommand(nodeCreateCmd)
	nodeCmd.AddCommand(nodeListCmd)
	nodeCmd.AddCommand(nodeRetryCmd)
	nodeCmd.AddCommand(nodeDeleteCmd)
	nodeCmd.AddCommand(nodePathCmd)
	nodeCmd.AddCommand(nodePruneCmd)
	nodeCmd.AddCommand(nodeRenameCmd)
	nodeCmd.AddCommand(nodeSetParentCmd)

	nodeCreateCmd.Flags().StringVarP(&nodeRepo, "repo", "r", "", "repository ID, name, or path (default: current directory)")
	nodeCreateCmd.Flags().StringVarP(&nodeParent, "parent", "p", "main", "branch to create the node from")
	nodeCreateCmd.Flags().IntVarP(&nodeCount, "count", "n", 1, "number of nodes to create")
	nodeListCmd.Flags().StringVarP(&nodeRepo, "repo", "r", "", "only list nodes of this repository")
	for _, c := range []*cobra.Command{nodeCreateCmd, nodeRetryCmd} {
		c.Flags().BoolVar(&nodeNoTUI, "no-tui", false, "print plain progress lines instead of the interactive view")
	}
	nodeDeleteCmd.Flags().BoolVarP(&nodeYes, "yes", "y", false, "delete without asking for confirmation")
	nodePruneCmd.Flags().StringVarP(&nodeRepo, "repo", "r", "", "repository ID, name, or path (default: current directory)")
	nodePruneCmd.Flags().BoolVar(&nodeDryRun, "dry-run", false, "show what would be pruned without changing anything")
	nodeRenameCmd.Flags().BoolVar(&nodeRenameBranch, "branch", false, "also rename the git branch and move the worktree")
}

func runNodeCreate(cmd *cobra.Command, args []string) error {
	if nodeCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	repo, err := a.resolveRepository(nodeRepo)
	if err != nil {
		return err
	}

	var ids []string
	names := make(map[string]string)
	for range nodeCount {
		n, err := a.nodes.Create(cmd.Context(), repo.ID, nodeParent)
		if err != nil {
			cancelUnfinished(a, ids)
			return err
		}
		ids = append(ids, n.ID)
		names[n.ID] = n.Name
	}

	title := fmt.Sprintf("Creating %d node(s) in %s from %s", len(ids), repo.Name, nodeParent)
	res, err := waitForJobs(cmd, a, ids, names, title)
	if err != nil || res.Interrupted {
		cancelUnfinished(a, ids)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("interrupted; unfinished nodes were cancelled and can be retried")
	}
	return reportJobs(cmd, a, res)
}

func runNodeRetry(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.store.GetNode(args[0])
	if err != nil {
		return err
	}
	if err := a.nodes.Retry(cmd.Context(), n.ID); err != nil {
		return err
	}

	res, err := waitForJobs(cmd, a, []string{n.ID}, map[string]string{n.ID: n.Name}, "Retrying "+n.Name)
	if err != nil || res.Interrupted {
		cancelUnfinished(a, []string{n.ID})
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("interrupted; node %s was cancelled", n.Name)
	}
	return reportJobs(cmd, a, res)
}

// waitForJobs follows ids until every job is ready or failed.
func waitForJobs(cmd *cobra.Command, a *app, ids []string, names map[string]string, title string) (progress.Result, error) {
	opts := []progress.Option{
		progress.WithTitle(title),
		progress.WithNames(names),
		progress.WithResolver(a.nodes.Outcome),
	}
	if f, ok := cmd.OutOrStdout().(*os.File); ok && !nodeNoTUI {
		return progress.Run(cmd.Context(), a.coord, ids, f, opts...)
	}
	return progress.RunPlain(cmd.Context(), cmd.OutOrStdout(), a.coord, ids, opts...)
}

// cancelUnfinished requests cancellation of every job that has not finished
// and waits for the workers to stop.
func cancelUnfinished(a *app, ids []string) {
	for _, id := range ids {
		if a.coord.IsInitializing(id) {
			a.coord.Cancel(id)
		}
	}
	a.nodes.Wait()
}

func reportJobs(cmd *cobra.Command, a *app, res progress.Result) error {
	out := cmd.OutOrStdout()
	for _, p := range res.Jobs {
		if p.Step != nodeinit.StepReady {
			continue
		}
		if n, err := a.store.GetNode(p.NodeID); err == nil {
			fmt.Fprintf(out, "%s %s\n", n.Name, n.WorktreePath)
		}
	}
	if failed := res.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d node(s) failed to initialize; run 'caspian node retry <id>'", len(failed))
	}
	return nil
}

var (
	statusReadyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	statusFailedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F87171"))
	statusPendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
)

func renderStatus(s node.WorktreeStatus) string {
	padded := fmt.Sprintf("%-9s", s)
	switch s {
	case node.StatusReady:
		return statusReadyStyle.Render(padded)
	case node.StatusFailed:
		return statusFailedStyle.Render(padded)
	default:
		return statusPendingStyle.Render(padded)
	}
}

func runNodeList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	repoID := ""
	if nodeRepo != "" {
		repo, err := a.resolveRepository(nodeRepo)
		if err != nil {
			return err
		}
		repoID = repo.ID
	}

	nodes, err := a.nodes.List(repoID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(nodes) == 0 {
		fmt.Fprintln(out, "No nodes. Create one with 'caspian node create'.")
		return nil
	}

	fmt.Fprintf(out, "%-10s %-26s %-9s %-16s %s\n", "ID", "NAME", "STATUS", "PARENT", "PATH")
	for _, n := range nodes {
		fmt.Fprintf(out, "%-10s %-26s %s %-16s %s\n", shortID(n.ID), n.Name, renderStatus(n.WorktreeStatus), progress.Truncate(n.ParentBranch, 16), n.WorktreePath)
	}
	return nil
}

func runNodeDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.store.GetNode(args[0])
	if err != nil {
		return err
	}

	if !nodeYes {
		if !progress.IsTerminal(os.Stdin) {
			return fmt.Errorf("refusing to delete %s without confirmation; pass --yes", n.Name)
		}
		ok, err := confirm(fmt.Sprintf("Delete node %s?", n.Name),
			fmt.Sprintf("Removes the worktree and deletes branch %s.", n.Branch))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}
	}

	out := cmd.OutOrStdout()
	subID := a.bus.Subscribe(event.TypeNodeRemoval, func(e event.Event) {
		if r, ok := e.(event.NodeRemovalEvent); ok && r.NodeID == n.ID {
			fmt.Fprintf(out, "%s: %s\n", n.Name, r.Message)
		}
	})
	defer a.bus.Unsubscribe(subID)

	if err := a.nodes.Delete(cmd.Context(), n.ID); err != nil {
		return err
	}
	fmt.Fprintf(out, "Deleted %s\n", n.Name)
	return nil
}

func runNodePath(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	path, err := a.nodes.UsablePath(args[0])
	if err != nil {
		if errors.Is(err, errors.ErrNodeInitFailed) {
			return fmt.Errorf("%w\nrun 'caspian node retry %s'", err, strings.TrimSpace(args[0]))
		}
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func runNodePrune(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	repo, err := a.resolveRepository(nodeRepo)
	if err != nil {
		return err
	}

	res, err := a.nodes.Prune(cmd.Context(), repo.ID, nodeDryRun)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	removed, reset := "Removed", "Reset"
	if nodeDryRun {
		removed, reset = "Would remove", "Would reset"
	}
	for _, p := range res.StaleWorktrees {
		fmt.Fprintf(out, "%s stale worktree %s\n", removed, p)
	}
	for _, n := range res.Interrupted {
		fmt.Fprintf(out, "%s interrupted node %s (%s)\n", reset, n.Name, shortID(n.ID))
	}
	for _, e := range res.Errors {
		fmt.Fprintln(out, statusFailedStyle.Render(e))
	}
	if len(res.StaleWorktrees) == 0 && len(res.Interrupted) == 0 {
		fmt.Fprintln(out, "Nothing to prune.")
	}
	if len(res.Errors) > 0 {
		return fmt.Errorf("%d item(s) could not be pruned", len(res.Errors))
	}
	return nil
}

func runNodeRename(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	before, err := a.store.GetNode(args[0])
	if err != nil {
		return err
	}
	n, err := a.nodes.Rename(cmd.Context(), before.ID, args[1], nodeRenameBranch)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Renamed %s to %s\n", before.Name, n.Name)
	if n.Branch != before.Branch {
		fmt.Fprintf(out, "Branch %s is now %s\n", before.Branch, n.Branch)
	}
	if n.WorktreePath != before.WorktreePath {
		fmt.Fprintf(out, "Worktree moved to %s\n", n.WorktreePath)
	}
	return nil
}

func runNodeSetParent(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.store.GetNode(args[0])
	if err != nil {
		return err
	}
	if err := a.nodes.SetParentBranch(cmd.Context(), n.ID, args[1]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s now branches from %s\n", n.Name, strings.TrimSpace(args[1]))
	return nil
}
