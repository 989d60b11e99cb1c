package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/reposcope/reposcope/engine"
	"github.com/reposcope/reposcope/indexer"
	"github.com/reposcope/reposcope/registry"
)

var (
	indexJSON  bool
	indexTOON  bool
	indexPlain bool
)

var indexCmd = &cobra.Command{
	Use:   "index [dir...]",
	Short: "Index or re-index repositories",
	Long: `Index one or more repository directories. Without arguments the current
directory is indexed.

Each directory is built independently: a failure is reported for that
directory only. Re-indexing a repository replaces its index atomically;
searches running meanwhile keep using the previous index.`,
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().BoolVarP(&indexJSON, "json", "j", false, "Output results in JSON format")
	indexCmd.Flags().BoolVarP(&indexTOON, "toon", "t", false, "Output results in TOON format")
	indexCmd.Flags().BoolVar(&indexPlain, "plain", false, "Disable the interactive progress display")
	indexCmd.MarkFlagsMutuallyExclusive("json", "toon")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	format := outputFormat(indexJSON, indexTOON)
	dirs, err := targetsOrCwd(args)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	interactive := format == formatText && !indexPlain && isTerminal(os.Stdout)

	var program atomic.Pointer[tea.Program]
	opts := engine.Options{}
	if interactive {
		opts.Progress = func(repoDir string, info indexer.ProgressInfo) {
			if p := program.Load(); p != nil {
				p.Send(progressMsg{repoDir: repoDir, info: info})
			}
		}
	}

	eng, err := openEngine(ctx, opts)
	if err != nil {
		return err
	}
	defer eng.Close()

	var results []engine.IndexResult
	if interactive {
		m := newIndexModel(ctx, cancel, dirs, func(ctx context.Context) ([]engine.IndexResult, error) {
			return eng.IndexRepositories(ctx, dirs)
		})
		p := tea.NewProgram(m)
		program.Store(p)
		final, err := p.Run()
		program.Store(nil)
		if err != nil {
			return fmt.Errorf("progress display failed: %w", err)
		}
		fm := final.(*indexModel)
		if fm.err != nil {
			return fm.err
		}
		results = fm.results
	} else {
		results, err = eng.IndexRepositories(ctx, dirs)
		if err != nil {
			return err
		}
	}

	if format != formatText {
		return writeEncoded(cmd.OutOrStdout(), results, format)
	}
	printIndexResults(cmd.OutOrStdout(), results)
	if failed := countFailed(results); failed > 0 {
		return fmt.Errorf("%d of %d repositories failed to index", failed, len(results))
	}
	return nil
}

func countFailed(results []engine.IndexResult) int {
	n := 0
	for _, r := range results {
		if r.Status != engine.StatusOK {
			n++
		}
	}
	return n
}

func printIndexResults(w io.Writer, results []engine.IndexResult) {
	for _, r := range results {
		if r.Status == engine.StatusOK {
			fmt.Fprintf(w, "%s %s %s\n",
				okStyle.Render("✓"),
				pathStyle.Render(r.RepoID),
				dimStyle.Render(fmt.Sprintf("%s: %d files, %d chunks, generation %d", r.RepoDir, r.FileCount, r.ChunkCount, r.Generation)),
			)
			continue
		}
		fmt.Fprintf(w, "%s %s %s\n",
			errorStyle.Render("✗"),
			r.RepoDir,
			errorStyle.Render(fmt.Sprintf("%s: %s", r.ErrorKind, r.Error)),
		)
	}
}

func printRefreshResults(w io.Writer, results []registry.RefreshResult) {
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintln(w, errorStyle.Render(fmt.Sprintf("✗ %s: %v", r.RepoID, r.Err)))
			continue
		}
		fmt.Fprintf(w, "%s %s %s\n",
			okStyle.Render("↻"),
			pathStyle.Render(r.RepoID),
			dimStyle.Render(fmt.Sprintf("generation %d, %d chunks", r.Repository.Generation, r.Repository.ChunkCount)),
		)
	}
}

type progressMsg struct {
	repoDir string
	info    indexer.ProgressInfo
}

type indexDoneMsg struct {
	results []engine.IndexResult
	err     error
}

type indexFunc func(ctx context.Context) ([]engine.IndexResult, error)

// indexModel shows per-repository build progress while indexing runs.
type indexModel struct {
	ctx      context.Context
	cancel   context.CancelFunc
	index    indexFunc
	dirs     []string
	progress map[string]indexer.ProgressInfo
	results  []engine.IndexResult
	err      error
	done     bool
}

func newIndexModel(ctx context.Context, cancel context.CancelFunc, dirs []string, index indexFunc) *indexModel {
	return &indexModel{
		ctx:      ctx,
		cancel:   cancel,
		index:    index,
		dirs:     dirs,
		progress: make(map[string]indexer.ProgressInfo),
	}
}

func (m *indexModel) Init() tea.Cmd {
	return func() tea.Msg {
		results, err := m.index(m.ctx)
		return indexDoneMsg{results: results, err: err}
	}
}

func (m *indexModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.cancel()
		}
	case progressMsg:
		m.progress[msg.repoDir] = msg.info
	case indexDoneMsg:
		m.results = msg.results
		m.err = msg.err
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *indexModel) View() string {
	if m.done {
		return ""
	}

	keys := make([]string, 0, len(m.progress))
	for dir := range m.progress {
		keys = append(keys, dir)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("Indexing %d repositories", len(m.dirs))))
	b.WriteString("\n")
	for _, dir := range keys {
		info := m.progress[dir]
		b.WriteString(fmt.Sprintf("  %s %s %s\n", pathStyle.Render(dir), info.Stage, progressBar(info.Current, info.Total, 24)))
	}
	if len(keys) == 0 {
		b.WriteString(dimStyle.Render("  scanning..."))
		b.WriteString("\n")
	}
	b.WriteString(dimStyle.Render("press q to cancel"))
	b.WriteString("\n")
	return b.String()
}

func progressBar(current, total, width int) string {
	if total <= 0 {
		return strings.Repeat("░", width)
	}
	filled := min(width, current*width/total)
	return fmt.Sprintf("%s%s %d/%d", strings.Repeat("█", filled), strings.Repeat("░", width-filled), current, total)
}
