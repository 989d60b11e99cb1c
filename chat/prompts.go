package chat

import (
	"fmt"
	"strings"

	"github.com/reposcope/reposcope/domain"
)

// AnalysisType selects the angle a chat answer takes on the evidence.
type AnalysisType string

const (
	AnalysisGeneral      AnalysisType = "general"
	AnalysisExplain      AnalysisType = "explain"
	AnalysisArchitecture AnalysisType = "architecture"
	AnalysisSecurity     AnalysisType = "security"
	AnalysisPerformance  AnalysisType = "performance"
	AnalysisBugs         AnalysisType = "bugs"
)

// InsufficientEvidenceAnswer is returned when no indexed code is relevant
// enough to ground an answer.
const InsufficientEvidenceAnswer = "Insufficient evidence: no indexed code in the selected repositories is relevant enough to answer this question."

var analysisFocus = map[AnalysisType]string{
	AnalysisGeneral:      "Answer the question directly.",
	AnalysisExplain:      "Explain what the code does and how control and data flow through it, step by step.",
	AnalysisArchitecture: "Describe the components involved, their responsibilities and how they depend on each other, including across repositories.",
	AnalysisSecurity:     "Review the code for security problems such as injection, unsafe input handling, secrets in code and missing authorization checks. Rate each finding.",
	AnalysisPerformance:  "Look for performance problems such as unnecessary allocations, repeated work, blocking calls and poor algorithmic complexity.",
	AnalysisBugs:         "Look for likely bugs such as unchecked errors, nil dereferences, races, off-by-one mistakes and unhandled edge cases.",
}

// AnalysisTypes lists the accepted analysis types.
func AnalysisTypes() []string {
	return []string{
		string(AnalysisGeneral),
		string(AnalysisExplain),
		string(AnalysisArchitecture),
		string(AnalysisSecurity),
		string(AnalysisPerformance),
		string(AnalysisBugs),
	}
}

// ParseAnalysisType validates s. An empty string selects AnalysisGeneral.
func ParseAnalysisType(s string) (AnalysisType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return AnalysisGeneral, nil
	}
	at := AnalysisType(s)
	if _, ok := analysisFocus[at]; !ok {
		return "", domain.InvalidQueryf("unknown analysis type %q (expected one of %s)", s, strings.Join(AnalysisTypes(), ", "))
	}
	return at, nil
}

const systemPromptBase = `You are a code analysis assistant answering questions about one or more source repositories.
Use ONLY the numbered code excerpts provided in the context. Do not rely on outside knowledge of these projects.
Cite every claim with the excerpt number in square brackets, for example [2].
If the excerpts do not contain enough information, say so instead of guessing.`

func systemPrompt(at AnalysisType) string {
	return systemPromptBase + "\n\n" + analysisFocus[at]
}

func userPrompt(question, contextText string) string {
	return fmt.Sprintf("Context:\n\n%s\nQuestion: %s", contextText, question)
}
