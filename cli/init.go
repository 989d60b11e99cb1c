package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reposcope/reposcope/config"
)

var (
	initProvider       string
	initModel          string
	initBackend        string
	initChat           string
	initNonInteractive bool
	initForce          bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the reposcope configuration",
	Long: `Create config.yaml in the reposcope home directory.

This command will:
- Prompt for the embedding provider (hash, ollama, openai or openrouter)
- Prompt for the storage backend (memory, postgres or qdrant)
- Prompt for the chat provider (extractive, openai, openrouter or ollama)`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVarP(&initProvider, "provider", "p", "", "Embedding provider (hash, ollama, openai or openrouter)")
	initCmd.Flags().StringVarP(&initModel, "model", "m", "", "Embedding model (provider default when empty)")
	initCmd.Flags().StringVarP(&initBackend, "backend", "b", "", "Storage backend (memory, postgres or qdrant)")
	initCmd.Flags().StringVar(&initChat, "chat", "", "Chat provider (extractive, openai, openrouter or ollama)")
	initCmd.Flags().BoolVar(&initNonInteractive, "yes", false, "Use defaults without prompting")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing configuration")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	home, err := resolveHome()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if config.Exists(home) && !initForce {
		fmt.Fprintln(out, "reposcope is already initialized.")
		fmt.Fprintf(out, "Configuration: %s\n", config.GetConfigPath(home))
		return nil
	}

	cfg := config.DefaultConfig()
	var reader *bufio.Reader
	if !initNonInteractive {
		reader = bufio.NewReader(cmd.InOrStdin())
	}

	provider := initProvider
	if provider == "" && reader != nil {
		provider = choose(out, reader, "Select embedding provider:", []option{
			{"hash", "hash (offline, no model, lexical quality)"},
			{"ollama", "ollama (local, requires Ollama running)"},
			{"openai", "openai (cloud, requires OPENAI_API_KEY)"},
			{"openrouter", "openrouter (cloud, requires OPENROUTER_API_KEY)"},
		})
	}
	if err := applyEmbedder(cfg, provider, initModel); err != nil {
		return err
	}

	backend := initBackend
	if backend == "" && reader != nil {
		backend = choose(out, reader, "Select storage backend:", []option{
			{"memory", "memory (in-process, snapshots under the home directory)"},
			{"postgres", "postgres (pgvector)"},
			{"qdrant", "qdrant (gRPC)"},
		})
	}
	if err := applyBackend(cfg, backend, reader, out); err != nil {
		return err
	}

	chatProvider := initChat
	if chatProvider == "" && reader != nil {
		chatProvider = choose(out, reader, "Select chat provider:", []option{
			{"extractive", "extractive (offline, lists cited excerpts)"},
			{"openai", "openai"},
			{"openrouter", "openrouter"},
			{"ollama", "ollama"},
		})
	}
	if chatProvider != "" {
		cfg.Chat.Provider = chatProvider
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.Save(home); err != nil {
		return err
	}

	fmt.Fprintf(out, "\nreposcope initialized.\n")
	fmt.Fprintf(out, "  Config:   %s\n", config.GetConfigPath(home))
	fmt.Fprintf(out, "  Embedder: %s\n", cfg.Embedder.Provider)
	fmt.Fprintf(out, "  Backend:  %s\n", cfg.Store.Backend)
	fmt.Fprintf(out, "  Chat:     %s\n", cfg.Chat.Provider)
	fmt.Fprintln(out, "\nNext: reposcope index <dir>...")
	return nil
}

type option struct {
	value string
	label string
}

// choose prints a numbered menu and returns the chosen value; an empty
// answer picks the first option.
func choose(out io.Writer, reader *bufio.Reader, title string, options []option) string {
	fmt.Fprintln(out, "\n"+title)
	for i, o := range options {
		fmt.Fprintf(out, "  %d) %s\n", i+1, o.label)
	}
	fmt.Fprint(out, "Choice [1]: ")

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	for i, o := range options {
		if input == fmt.Sprint(i+1) || input == o.value {
			return o.value
		}
	}
	return options[0].value
}

func prompt(out io.Writer, reader *bufio.Reader, label, def string) string {
	if reader == nil {
		return def
	}
	fmt.Fprintf(out, "%s [%s]: ", label, def)
	input, _ := reader.ReadString('\n')
	if input = strings.TrimSpace(input); input != "" {
		return input
	}
	return def
}

func applyEmbedder(cfg *config.Config, provider, model string) error {
	switch provider {
	case "", "hash":
		return nil
	case "ollama", "openai", "openrouter":
		cfg.Embedder.Provider = provider
		cfg.Embedder.Model = model
		return nil
	default:
		return fmt.Errorf("unknown embedding provider: %s", provider)
	}
}

func applyBackend(cfg *config.Config, backend string, reader *bufio.Reader, out io.Writer) error {
	switch backend {
	case "", "memory":
		return nil
	case "postgres":
		cfg.Store.Backend = backend
		dsn := os.Getenv("REPOSCOPE_POSTGRES_DSN")
		if dsn == "" {
			dsn = "postgres://localhost:5432/reposcope"
		}
		cfg.Store.Postgres.DSN = prompt(out, reader, "PostgreSQL DSN", dsn)
		return nil
	case "qdrant":
		cfg.Store.Backend = backend
		cfg.Store.Qdrant.Endpoint = prompt(out, reader, "Qdrant host", "localhost")
		cfg.Store.Qdrant.Port = 6334
		return nil
	default:
		return fmt.Errorf("unknown storage backend: %s", backend)
	}
}
