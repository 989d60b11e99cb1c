package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reposcope/reposcope/chat"
	"github.com/reposcope/reposcope/domain"
	"github.com/reposcope/reposcope/engine"
)

var (
	chatRepos    []string
	chatAnalysis string
	chatJSON     bool
	chatTOON     bool
)

var chatCmd = &cobra.Command{
	Use:   "chat <question>",
	Short: "Ask a question about one or more repositories",
	Long: `Answer a question from code found in the selected repositories.

The answer cites excerpts as [n]; every citation refers to a code location
listed under the answer. When nothing relevant is found the answer says so
instead of guessing.

Analysis types: ` + strings.Join(chat.AnalysisTypes(), ", "),
	Args: cobra.ExactArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringArrayVarP(&chatRepos, "repo", "r", nil, "Repository id or directory to ask about (repeatable)")
	chatCmd.Flags().StringVarP(&chatAnalysis, "analysis", "a", "", "Analysis focus (default: general)")
	chatCmd.Flags().BoolVarP(&chatJSON, "json", "j", false, "Output the answer in JSON format")
	chatCmd.Flags().BoolVarP(&chatTOON, "toon", "t", false, "Output the answer in TOON format")
	chatCmd.MarkFlagsMutuallyExclusive("json", "toon")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	format := outputFormat(chatJSON, chatTOON)
	targets, err := targetsOrCwd(chatRepos)
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

	resp, err := eng.Chat(ctx, targets, args[0], chatAnalysis)
	if err != nil {
		if format != formatText {
			return writeEncodedError(cmd.OutOrStdout(), err, domain.Kind(err), format)
		}
		return fmt.Errorf("chat failed: %w", err)
	}

	if format != formatText {
		return writeEncoded(cmd.OutOrStdout(), resp, format)
	}
	printChatText(cmd.OutOrStdout(), resp)
	return nil
}

func printChatText(w io.Writer, resp *engine.ChatResponse) {
	for _, f := range resp.Failures {
		fmt.Fprintln(w, warningStyle.Render(fmt.Sprintf("Warning: %s skipped (%s): %s", f.RepoID, f.Kind, f.Error)))
	}

	fmt.Fprintln(w, resp.Answer)
	if resp.InsufficientEvidence || len(resp.Evidence) == 0 {
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, headerStyle.Render("Evidence"))
	for _, ev := range resp.Evidence {
		fmt.Fprintf(w, "[%d] %s %s\n",
			ev.Index,
			pathStyle.Render(ev.Location()),
			dimStyle.Render(fmt.Sprintf("(%.2f)", ev.Score)),
		)
	}
	if resp.Generator != "" {
		fmt.Fprintln(w, dimStyle.Render("answered by "+resp.Generator))
	}
}
