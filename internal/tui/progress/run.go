package progress

import (
	"context"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/Iron-Ham/caspian/internal/nodeinit"
)

// Result is the outcome of watching a set of jobs.
type Result struct {
	Jobs        []nodeinit.Progress
	Interrupted bool
}

// Failed returns the jobs that ended in failure.
func (r Result) Failed() []nodeinit.Progress {
	var failed []nodeinit.Progress
	for _, p := range r.Jobs {
		if p.Step == nodeinit.StepFailed {
			failed = append(failed, p)
		}
	}
	return failed
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Run follows nodeIDs until they are all ready or failed. It shows the
// interactive view when out is a terminal and plain lines otherwise. Followed
// jobs must already have been started.
func Run(ctx context.Context, src Source, nodeIDs []string, out *os.File, opts ...Option) (Result, error) {
	if !IsTerminal(out) {
		return RunPlain(ctx, out, src, nodeIDs, opts...)
	}

	bridge := NewBridge(src)
	defer bridge.Close()

	program := tea.NewProgram(NewModel(bridge, nodeIDs, opts...), tea.WithContext(ctx), tea.WithOutput(out))
	final, err := program.Run()
	m, ok := final.(Model)
	if !ok {
		return Result{}, err
	}
	res := Result{Jobs: m.Results(), Interrupted: m.Interrupted()}
	if err != nil {
		if ctx.Err() != nil {
			res.Interrupted = true
			return res, ctx.Err()
		}
		return res, fmt.Errorf("progress view: %w", err)
	}
	return res, nil
}

// RunPlain writes one line per visible change until every followed job is
// ready or failed, or ctx ends. Followed jobs must already have been started.
func RunPlain(ctx context.Context, w io.Writer, src Source, nodeIDs []string, opts ...Option) (Result, error) {
	cfg := buildConfig(opts)
	t := newTracker(nodeIDs, cfg.names)
	t.resolve = cfg.resolve

	bridge := NewBridge(src)
	defer bridge.Close()

	printLine := func(p nodeinit.Progress) {
		fmt.Fprintf(w, "%s: %s %s\n", t.name(p.NodeID), p.Step, describe(p))
		if p.Step == nodeinit.StepFailed && p.Error != "" {
			fmt.Fprintf(w, "%s: error: %s\n", t.name(p.NodeID), p.Error)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return Result{Jobs: t.results(), Interrupted: true}, ctx.Err()
		case <-bridge.Ready():
			for _, p := range bridge.Drain() {
				if t.apply(p) {
					printLine(p)
				}
			}
			for _, p := range t.settle() {
				printLine(p)
			}
			if t.finished() {
				return Result{Jobs: t.results()}, nil
			}
		}
	}
}
