package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/alpkeskin/gotoon"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatTOON = "toon"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	pathStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// outputFormat resolves the mutually exclusive --json and --toon flags.
func outputFormat(jsonFlag, toonFlag bool) string {
	switch {
	case jsonFlag:
		return formatJSON
	case toonFlag:
		return formatTOON
	default:
		return formatText
	}
}

// writeEncoded writes data as indented JSON or TOON.
func writeEncoded(w io.Writer, data any, format string) error {
	if format == formatTOON {
		output, err := gotoon.Encode(data)
		if err != nil {
			return fmt.Errorf("failed to encode TOON: %w", err)
		}
		_, err = fmt.Fprintln(w, output)
		return err
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// writeEncodedError reports err in the machine-readable format instead of
// failing the command.
func writeEncodedError(w io.Writer, err error, kind, format string) error {
	return writeEncoded(w, map[string]string{"error": err.Error(), "kind": kind}, format)
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
