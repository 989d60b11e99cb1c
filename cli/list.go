package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/reposcope/reposcope/domain"
	"github.com/reposcope/reposcope/engine"
)

var (
	listJSON bool
	listTOON bool
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List indexed repositories",
	Args:    cobra.NoArgs,
	RunE:    runList,
}

var removeCmd = &cobra.Command{
	Use:     "remove <repo>",
	Aliases: []string{"rm"},
	Short:   "Remove a repository from the index",
	Long: `Remove a repository, given by id or directory, from the index. Searches
already running keep their results; later searches report it as not
indexed.`,
	Args: cobra.ExactArgs(1),
	RunE: runRemove,
}

func init() {
	listCmd.Flags().BoolVarP(&listJSON, "json", "j", false, "Output in JSON format")
	listCmd.Flags().BoolVarP(&listTOON, "toon", "t", false, "Output in TOON format")
	listCmd.MarkFlagsMutuallyExclusive("json", "toon")
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(removeCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	eng, err := openEngine(ctx, engine.Options{})
	if err != nil {
		return err
	}
	defer eng.Close()

	repos := eng.ListRepositories()
	if repos == nil {
		repos = []domain.Repository{}
	}
	if format := outputFormat(listJSON, listTOON); format != formatText {
		return writeEncoded(cmd.OutOrStdout(), repos, format)
	}
	printRepositories(cmd.OutOrStdout(), repos)
	return nil
}

func printRepositories(w io.Writer, repos []domain.Repository) {
	if len(repos) == 0 {
		fmt.Fprintln(w, "No repositories indexed. Run 'reposcope index <dir>' to add one.")
		return
	}
	for _, r := range repos {
		state := okStyle.Render("fresh")
		if r.Stale {
			state = warningStyle.Render("stale")
		}
		fmt.Fprintf(w, "%s  %s\n", headerStyle.Render(r.RepoID), r.RepoDir)
		details := fmt.Sprintf("    %d files, %d chunks, generation %d, %s, indexed %s",
			r.FileCount, r.ChunkCount, r.Generation, r.Embedder, r.IndexedAt.Local().Format(time.DateTime))
		if r.GitCommit != "" {
			details += ", commit " + shortCommit(r.GitCommit)
		}
		fmt.Fprintf(w, "%s %s\n", dimStyle.Render(details), state)
	}
}

func shortCommit(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}

func runRemove(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	eng, err := openEngine(ctx, engine.Options{})
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.RemoveRepository(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to remove %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
	return nil
}
