package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reposcope/reposcope/domain"
	"github.com/reposcope/reposcope/engine"
)

var (
	searchRepos   []string
	searchLimit   int
	searchJSON    bool
	searchTOON    bool
	searchCompact bool
)

// maxPreviewLines bounds the content shown per result in text mode.
const maxPreviewLines = 15

// SearchResultCompactJSON is a minimal search hit for compact output (no content field).
type SearchResultCompactJSON struct {
	RepoID    string  `json:"repo_id"`
	FilePath  string  `json:"file_path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float32 `json:"score"`
	Rank      int     `json:"rank"`
}

type compactSearchOutput struct {
	Mode          string                    `json:"mode"`
	ReposSearched int                       `json:"repos_searched"`
	RepoIDs       []string                  `json:"repo_ids"`
	Results       []SearchResultCompactJSON `json:"results"`
	Reason        string                    `json:"reason,omitempty"`
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search one or more repositories with natural language",
	Long: `Search indexed repositories using a natural language query.

The search will:
- Embed the query once with the configured embedding provider
- Search every selected repository concurrently
- Normalize scores per repository and merge them into one ranking

Select repositories with --repo (id or directory, repeatable). Without
--repo the current directory is searched.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringArrayVarP(&searchRepos, "repo", "r", nil, "Repository id or directory to search (repeatable)")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "Maximum number of results to return (default: configured k)")
	searchCmd.Flags().BoolVarP(&searchJSON, "json", "j", false, "Output results in JSON format (for AI agents)")
	searchCmd.Flags().BoolVarP(&searchTOON, "toon", "t", false, "Output results in TOON format (token-efficient for AI agents)")
	searchCmd.Flags().BoolVarP(&searchCompact, "compact", "c", false, "Output minimal format without content (requires --json or --toon)")
	searchCmd.MarkFlagsMutuallyExclusive("json", "toon")
	rootCmd.AddCommand(searchCmd)
}

// targetsOrCwd defaults an empty repository selection to the working directory.
func targetsOrCwd(targets []string) ([]string, error) {
	if len(targets) > 0 {
		return targets, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	return []string{cwd}, nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	if searchCompact && !searchJSON && !searchTOON {
		return fmt.Errorf("--compact flag requires --json or --toon flag")
	}
	format := outputFormat(searchJSON, searchTOON)

	targets, err := targetsOrCwd(searchRepos)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	eng, err := openEngine(ctx, engine.Options{})
	if err != nil {
		return err
	}
	defer eng.Close()

	resp, err := eng.Search(ctx, targets, args[0], searchLimit)
	if err != nil {
		if format != formatText {
			return writeEncodedError(cmd.OutOrStdout(), err, domain.Kind(err), format)
		}
		return fmt.Errorf("search failed: %w", err)
	}

	out := cmd.OutOrStdout()
	switch {
	case format == formatText:
		printSearchText(out, args[0], resp)
		return nil
	case searchCompact:
		return writeEncoded(out, compactSearch(resp), format)
	default:
		return writeEncoded(out, resp, format)
	}
}

func compactSearch(resp *engine.SearchResponse) compactSearchOutput {
	out := compactSearchOutput{
		Mode:          resp.Mode,
		ReposSearched: resp.ReposSearched,
		RepoIDs:       resp.RepoIDs,
		Results:       make([]SearchResultCompactJSON, len(resp.Results)),
		Reason:        resp.Reason,
	}
	for i, r := range resp.Results {
		out.Results[i] = SearchResultCompactJSON{
			RepoID:    r.RepoID,
			FilePath:  r.FilePath,
			StartLine: r.StartLine,
			EndLine:   r.EndLine,
			Score:     r.Score,
			Rank:      r.Rank,
		}
	}
	return out
}

func printSearchText(w io.Writer, query string, resp *engine.SearchResponse) {
	for _, f := range resp.Failures {
		fmt.Fprintln(w, warningStyle.Render(fmt.Sprintf("Warning: %s skipped (%s): %s", f.RepoID, f.Kind, f.Error)))
	}

	if len(resp.Results) == 0 {
		msg := "No results found."
		if resp.Reason != "" {
			msg = fmt.Sprintf("No results found: %s.", resp.Reason)
		}
		fmt.Fprintln(w, msg)
		return
	}

	fmt.Fprintf(w, "Found %d results for %q in %d repositories (%s)\n\n", len(resp.Results), query, resp.ReposSearched, resp.Mode)

	for _, r := range resp.Results {
		fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("─── Result %d (score: %.4f, raw: %.4f) ───", r.Rank, r.Score, r.RawScore)))
		fmt.Fprintf(w, "Repo: %s\n", r.RepoID)
		fmt.Fprintf(w, "File: %s\n\n", pathStyle.Render(fmt.Sprintf("%s:%d-%d", r.FilePath, r.StartLine, r.EndLine)))

		lines := strings.Split(strings.TrimRight(r.Content, "\n"), "\n")
		lineNum := r.StartLine
		for j := 0; j < len(lines) && j < maxPreviewLines; j++ {
			fmt.Fprintf(w, "%4d │ %s\n", lineNum, lines[j])
			lineNum++
		}
		if len(lines) > maxPreviewLines {
			fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("     │ ... (%d more lines)", len(lines)-maxPreviewLines)))
		}
		fmt.Fprintln(w)
	}
}
