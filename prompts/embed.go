// Package prompts embeds the fixed text wrapped around every skill prompt
// and the structured-output schema handed to the agent.
package prompts

import _ "embed"

//go:embed cli_mode.md
var CLIMode string

//go:embed answers.md.tmpl
var AnswersTemplate string

//go:embed workflow_schema.json
var WorkflowSchema string
