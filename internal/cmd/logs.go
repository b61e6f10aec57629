package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/caspian/internal/config"
	"github.com/Iron-Ham/caspian/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View caspian logs",
	Long: `View and filter caspian.log.

Examples:
  # Show the last 50 entries
  caspian logs

  # Everything one node did
  caspian logs --node 3f2a -n 0

  # Follow warnings and errors
  caspian logs -f --level warn

  # Search the last hour
  caspian logs --since 1h --grep "index.lock|timed out"`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

var (
	logsTail   int
	logsFollow bool
	logsLevel  string
	logsSince  string
	logsGrep   string
	logsNode   string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of lines to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Filter logs matching pattern (regex)")
	logsCmd.Flags().StringVar(&logsNode, "node", "", "Only show entries for this node ID (prefix)")
}

// logEntry is one parsed JSON log line
type logEntry struct {
	Time         time.Time      `json:"time"`
	Level        string         `json:"level"`
	Msg          string         `json:"msg"`
	NodeID       string         `json:"node_id,omitempty"`
	RepositoryID string         `json:"repository_id,omitempty"`
	Component    string         `json:"component,omitempty"`
	Extra        map[string]any `json:"-"`
}

// UnmarshalJSON keeps fields other than the known ones in Extra
func (e *logEntry) UnmarshalJSON(data []byte) error {
	type alias logEntry
	if err := json.Unmarshal(data, (*alias)(e)); err != nil {
		return err
	}

	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, known := range []string{"time", "level", "msg", "node_id", "repository_id", "component"} {
		delete(all, known)
	}
	if len(all) > 0 {
		e.Extra = all
	}
	return nil
}

// logFilter selects entries for display
type logFilter struct {
	minLevel int
	since    time.Time
	grep     *regexp.Regexp
	node     string
}

func newLogFilter(level, since, grep, node string) (logFilter, error) {
	f := logFilter{minLevel: -1, node: node}
	if level != "" {
		f.minLevel = levelPriority(logging.ParseLevel(level))
	}
	if since != "" {
		d, err := time.ParseDuration(since)
		if err != nil {
			return f, fmt.Errorf("invalid duration format: %w", err)
		}
		f.since = time.Now().Add(-d)
	}
	if grep != "" {
		re, err := regexp.Compile(grep)
		if err != nil {
			return f, fmt.Errorf("invalid grep pattern: %w", err)
		}
		f.grep = re
	}
	return f, nil
}

func (f logFilter) match(e *logEntry) bool {
	if f.minLevel >= 0 && levelPriority(e.Level) < f.minLevel {
		return false
	}
	if !f.since.IsZero() && e.Time.Before(f.since) {
		return false
	}
	if f.node != "" && !strings.HasPrefix(e.NodeID, f.node) {
		return false
	}
	if f.grep != nil {
		text := e.Msg
		for _, v := range e.Extra {
			text += " " + fmt.Sprint(v)
		}
		if !f.grep.MatchString(text) {
			return false
		}
	}
	return true
}

// levelPriority orders levels for filtering; unknown levels sort lowest.
func levelPriority(level string) int {
	return slices.Index(logging.ValidLevels(), strings.ToUpper(level))
}

var (
	logTimeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	logFieldStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#60A5FA"))
	logLevelStyle = map[string]lipgloss.Style{
		logging.LevelDebug: lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF")),
		logging.LevelInfo:  lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")),
		logging.LevelWarn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B")),
		logging.LevelError: lipgloss.NewStyle().Foreground(lipgloss.Color("#F87171")),
	}
)

// formatLogEntry renders an entry as one terminal line
func formatLogEntry(e *logEntry) string {
	var sb strings.Builder
	sb.WriteString(logTimeStyle.Render("[" + e.Time.Format("15:04:05.000") + "]"))
	sb.WriteString(" ")
	level := strings.ToUpper(e.Level)
	sb.WriteString(logLevelStyle[level].Render("[" + level + "]"))
	sb.WriteString(" ")
	sb.WriteString(e.Msg)

	field := func(k, v string) {
		sb.WriteString(" ")
		sb.WriteString(logFieldStyle.Render(k + "="))
		sb.WriteString(v)
	}
	if e.NodeID != "" {
		field("node", shortID(e.NodeID))
	}
	if e.Component != "" {
		field("component", e.Component)
	}
	keys := make([]string, 0, len(e.Extra))
	for k := range e.Extra {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		field(k, fmt.Sprint(e.Extra[k]))
	}
	return sb.String()
}

// renderLogLine parses and filters one line. ok is false if it is filtered out.
func renderLogLine(line string, f logFilter) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}
	var e logEntry
	if err := json.Unmarshal([]byte(line), &e); err != nil {
		return line, true
	}
	if !f.match(&e) {
		return "", false
	}
	return formatLogEntry(&e), true
}

func runLogs(cmd *cobra.Command, args []string) error {
	filter, err := newLogFilter(logsLevel, logsSince, logsGrep, logsNode)
	if err != nil {
		return err
	}

	cfg := config.Get()
	logPath := filepath.Join(cfg.Paths.ResolveLogDir(), logging.LogFileName)
	out := cmd.OutOrStdout()
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		fmt.Fprintf(out, "No logs found at %s\n", logPath)
		return nil
	}

	if logsFollow {
		return followLogs(cmd.Context(), out, logPath, filter)
	}
	return displayLogs(out, logPath, logsTail, filter)
}

func displayLogs(out io.Writer, logPath string, tail int, f logFilter) error {
	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if s, ok := renderLogLine(scanner.Text(), f); ok {
			lines = append(lines, s)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading log file: %w", err)
	}

	if tail > 0 && len(lines) > tail {
		lines = lines[len(lines)-tail:]
	}
	if len(lines) == 0 {
		fmt.Fprintln(out, "No matching log entries found.")
		return nil
	}
	for _, s := range lines {
		fmt.Fprintln(out, s)
	}
	return nil
}

// followLogs prints entries appended to the log until ctx ends. The log
// directory is watched rather than the file so a rotation, which renames
// caspian.log and creates a fresh one, is picked up.
func followLogs(ctx context.Context, out io.Writer, logPath string, f logFilter) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(logPath)); err != nil {
		return fmt.Errorf("failed to watch log directory: %w", err)
	}

	tail, err := openLogTail(logPath, io.SeekEnd)
	if err != nil {
		return err
	}
	defer func() { tail.Close() }()
	fmt.Fprintf(out, "Following %s... (Ctrl+C to stop)\n\n", logPath)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(logPath) {
				continue
			}
			switch {
			case event.Has(fsnotify.Create):
				// Finish the rotated file before switching to the new one.
				if err := tail.drain(out, f); err != nil {
					return err
				}
				tail.Close()
				if tail, err = openLogTail(logPath, io.SeekStart); err != nil {
					return err
				}
				if err := tail.drain(out, f); err != nil {
					return err
				}
			case event.Has(fsnotify.Write):
				if err := tail.drain(out, f); err != nil {
					return err
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("log watcher: %w", err)
		}
	}
}

// logTail reads complete lines appended to an open log file. A line still
// being written is held back until its newline arrives.
type logTail struct {
	file    *os.File
	reader  *bufio.Reader
	partial string
}

func openLogTail(path string, whence int) (*logTail, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	if _, err := file.Seek(0, whence); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to seek log file: %w", err)
	}
	return &logTail{file: file, reader: bufio.NewReader(file)}, nil
}

func (t *logTail) drain(out io.Writer, f logFilter) error {
	for {
		chunk, err := t.reader.ReadString('\n')
		t.partial += chunk
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("error reading log file: %w", err)
		}
		if s, ok := renderLogLine(t.partial, f); ok {
			fmt.Fprintln(out, s)
		}
		t.partial = ""
	}
}

func (t *logTail) Close() error {
	return t.file.Close()
}
