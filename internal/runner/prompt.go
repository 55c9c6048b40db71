package runner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/specflow/specflow/prompts"
)

var answersTmpl = template.Must(template.New("answers").Parse(prompts.AnswersTemplate))

// BuildPrompt assembles the agent prompt: the CLI-mode preamble (when
// cliMode is set), an optional phase argument, the skill text and, when
// resuming, the accumulated answers.
func BuildPrompt(skillText string, opts Options, cliMode bool) (string, error) {
	var b strings.Builder
	if cliMode {
		b.WriteString(prompts.CLIMode)
	}
	if opts.Phase != "" {
		fmt.Fprintf(&b, "Arguments: --%s\n\n", opts.Phase)
	}
	b.WriteString(skillText)

	if len(opts.Answers) > 0 {
		// encoding/json sorts map keys, so the block is stable across runs.
		answers, err := json.MarshalIndent(opts.Answers, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encoding answers: %w", err)
		}
		var buf bytes.Buffer
		if err := answersTmpl.Execute(&buf, struct{ Answers string }{string(answers)}); err != nil {
			return "", fmt.Errorf("rendering answers: %w", err)
		}
		b.WriteString(strings.TrimRight(buf.String(), "\n"))
	}
	return b.String(), nil
}

// Schema returns the structured-output schema as compact JSON.
func Schema() string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(prompts.WorkflowSchema)); err != nil {
		panic(fmt.Sprintf("embedded workflow schema is invalid: %v", err))
	}
	return buf.String()
}
