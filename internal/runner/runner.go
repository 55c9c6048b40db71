// Package runner drives the external agent binary for one workflow step:
// it builds the prompt, spawns the process, interprets its result and
// reports what happened as workflow events.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/specflow/specflow/internal/config"
	"github.com/specflow/specflow/internal/errs"
	"github.com/specflow/specflow/internal/event"
	"github.com/specflow/specflow/internal/process"
	"github.com/specflow/specflow/internal/questions"
	"github.com/specflow/specflow/internal/stream"
)

// diagnosticLimit bounds each of stdout and stderr in a parse-failure message.
const diagnosticLimit = 200

// Options describes one invocation.
type Options struct {
	Dir     string            // working directory (the project root)
	Skill   string            // skill template name, e.g. "flow.design"
	Phase   string            // optional "--<phase>" argument for the skill
	Args    []string          // extra CLI arguments appended after the prompt
	Answers map[string]string // accumulated answers when resuming

	// RunDir, when set, holds the agent's pid file while it runs so other
	// processes can check on or kill it.
	RunDir string
}

// Result is the terminal outcome of one invocation. ExitCode is nil when the
// process never started or was killed by a signal.
type Result struct {
	ExitCode      *int    `json:"exitCode"`
	Success       bool    `json:"success"`
	Error         string  `json:"error,omitempty"`
	Output        *Output `json:"output,omitempty"`
	SessionID     string  `json:"sessionId,omitempty"`
	CostUSD       float64 `json:"costUsd,omitempty"`
	EventsEmitted int     `json:"eventsEmitted"`
}

// Runner spawns the agent binary.
type Runner struct {
	Binary    string
	Model     string
	ExtraArgs []string
	Loader    TemplateLoader

	lookPath func(string) (string, error)
}

// New returns a Runner configured from cfg.
func New(cfg *config.Config, loader TemplateLoader) *Runner {
	if loader == nil {
		loader = DirLoader{Dirs: cfg.SkillDirs()}
	}
	return &Runner{
		Binary:    cfg.Claude.Binary,
		Model:     cfg.Claude.Model,
		ExtraArgs: cfg.Claude.ExtraArgs,
		Loader:    loader,
		lookPath:  exec.LookPath,
	}
}

// Resolve returns the absolute path of the agent binary or an
// errs.ErrConfig error.
func (r *Runner) Resolve() (string, error) {
	binary := r.Binary
	if binary == "" {
		binary = "claude"
	}
	lookPath := r.lookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	path, err := lookPath(binary)
	if err != nil {
		return "", errs.Config(fmt.Sprintf("agent binary %q not found in PATH", binary), err).
			WithHint("install the Claude CLI or set claude.binary in config.yaml")
	}
	return path, nil
}

// Prompt loads the skill and builds the prompt for opts.
func (r *Runner) Prompt(opts Options, cliMode bool) (string, error) {
	text, err := r.Loader.Load(opts.Skill)
	if err != nil {
		return "", err
	}
	return BuildPrompt(text, opts, cliMode)
}

// Args returns the one-shot invocation arguments, prompt excluded.
func (r *Runner) Args() []string {
	args := []string{
		"-p",
		"--output-format", "json",
		"--dangerously-skip-permissions",
		"--disallowedTools", stream.QuestionTool,
		"--json-schema", Schema(),
	}
	if r.Model != "" {
		args = append(args, "--model", r.Model)
	}
	return args
}

func (r *Runner) streamingArgs() []string {
	args := []string{
		"-p",
		"--output-format", "stream-json",
		"--verbose",
		"--dangerously-skip-permissions",
	}
	if r.Model != "" {
		args = append(args, "--model", r.Model)
	}
	return args
}

// Env is added to the agent's environment.
var Env = []string{"NO_COLOR=1", "FORCE_COLOR=0"}

// Run executes the skill once and waits for the agent to exit. Events go to
// handler as they are produced; the last one is always complete, except when
// the binary cannot be resolved or the skill cannot be loaded, which return
// an error before anything is spawned or emitted.
func (r *Runner) Run(ctx context.Context, opts Options, handler event.Handler) (*Result, error) {
	path, err := r.Resolve()
	if err != nil {
		return nil, err
	}
	prompt, err := r.Prompt(opts, true)
	if err != nil {
		return nil, err
	}

	em := newEmitter(handler)
	em.emit(event.PhaseStartedData{Phase: "workflow", Skill: opts.Skill})

	args := append(r.Args(), prompt)
	args = append(args, r.ExtraArgs...)
	args = append(args, opts.Args...)

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), Env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if res, failed := runCmd(cmd, opts.RunDir, em); failed {
		return res, nil
	}
	return interpret(stdout.Bytes(), stderr.Bytes(), exitCode(cmd), em), nil
}

// runCmd runs cmd, recording its pid in runDir until it exits. A process
// that could not be started is reported as an error event and a failed
// result.
func runCmd(cmd *exec.Cmd, runDir string, em *emitter) (*Result, bool) {
	err := cmd.Start()
	if err == nil {
		if runDir != "" {
			_ = process.WritePIDFile(runDir, process.PIDFile{ClaudePID: cmd.Process.Pid})
			defer process.RemovePIDFile(runDir)
		}
		err = cmd.Wait()
	}
	if err == nil {
		return nil, false
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil, false
	}
	em.emit(event.ErrorData{Message: err.Error(), Source: "process"})
	return &Result{Success: false, Error: err.Error(), EventsEmitted: em.count}, true
}

func exitCode(cmd *exec.Cmd) *int {
	if cmd.ProcessState == nil {
		return nil
	}
	code := cmd.ProcessState.ExitCode()
	if code < 0 {
		return nil
	}
	return &code
}

// interpret turns the captured output of a finished one-shot run into a
// Result, emitting the events the structured output implies and a final
// complete event. It is shared by Run and the detached mode.
func interpret(stdout, stderr []byte, code *int, em *emitter) *Result {
	res := &Result{ExitCode: code, Success: code != nil && *code == 0}

	env, err := ParseEnvelope(stdout)
	if err != nil {
		res.Success = false
		res.Error = "Failed to parse Claude output: " + truncate(string(stdout), diagnosticLimit)
		if len(stderr) > 0 {
			res.Error += "\nStderr: " + truncate(string(stderr), diagnosticLimit)
		}
	} else {
		res.SessionID = env.SessionID
		res.CostUSD = env.Cost()

		if out := env.StructuredOutput; out != nil {
			res.Output = out
			if out.Phase != "" {
				em.emit(event.PhaseStartedData{Phase: out.Phase})
			}
			headers := make([]string, len(out.Questions))
			for i, q := range out.Questions {
				headers[i] = q.Header
			}
			ids := questions.AssignIDs(headers)
			for i, q := range out.Questions {
				options := q.Options
				if options == nil {
					options = []event.Option{}
				}
				em.emit(event.QuestionQueuedData{
					ID:          ids[i],
					Content:     q.Question,
					Header:      q.Header,
					Options:     options,
					MultiSelect: q.MultiSelect,
				})
			}
			for _, a := range out.Artifacts {
				em.emit(event.ArtifactCreatedData{
					Path:     a.Path,
					Artifact: filepath.Base(a.Path),
					Action:   a.Action,
				})
			}
		}

		if env.IsError {
			res.Success = false
			res.Error = env.Result
			if res.Error == "" {
				res.Error = "Unknown error"
			}
		}
	}

	status := ""
	if res.Output != nil {
		status = res.Output.Status
	}
	em.emit(event.CompleteData{
		ExitCode:      code,
		Success:       res.Success,
		Status:        status,
		EventsEmitted: em.count,
	})
	res.EventsEmitted = em.count
	return res
}

// InterpretDetached interprets the output file of a detached run.
func InterpretDetached(output []byte, stderr []byte, handler event.Handler) *Result {
	em := newEmitter(handler)
	var code *int
	if len(bytes.TrimSpace(output)) > 0 {
		zero := 0
		code = &zero
	}
	return interpret(output, stderr, code, em)
}

// RunStreaming executes the skill with the agent's stream-json output and
// feeds stdout through a stream.Parser, so events arrive while the agent
// works. Questions the agent tried to ask are collected into the result.
func (r *Runner) RunStreaming(ctx context.Context, opts Options, handler event.Handler) (*Result, error) {
	path, err := r.Resolve()
	if err != nil {
		return nil, err
	}
	prompt, err := r.Prompt(opts, false)
	if err != nil {
		return nil, err
	}

	em := newEmitter(handler)
	em.emit(event.PhaseStartedData{Phase: "workflow", Skill: opts.Skill})

	out := &Output{}
	parser := stream.NewParser(func(e event.Event) {
		switch d := e.Data.(type) {
		case event.QuestionQueuedData:
			out.Questions = append(out.Questions, Question{
				Question: d.Content, Header: d.Header, Options: d.Options, MultiSelect: d.MultiSelect,
			})
		case event.ArtifactCreatedData:
			out.Artifacts = append(out.Artifacts, Artifact{Path: d.Path, Action: d.Action})
		}
		em.forward(e)
	})

	args := append(r.streamingArgs(), prompt)
	args = append(args, r.ExtraArgs...)
	args = append(args, opts.Args...)

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), Env...)

	var stderr bytes.Buffer
	cmd.Stdout = parser
	cmd.Stderr = &stderr

	if res, failed := runCmd(cmd, opts.RunDir, em); failed {
		return res, nil
	}
	parser.Flush()

	code := exitCode(cmd)
	res := &Result{
		ExitCode:  code,
		Success:   code != nil && *code == 0,
		SessionID: parser.SessionID(),
		Output:    out,
	}
	if phase := parser.Phase(); phase != stream.UnknownPhase {
		out.Phase = phase
	}
	switch {
	case !res.Success:
		out.Status = OutputError
		res.Error = fmt.Sprintf("claude exited with code %s", formatCode(code))
		if stderr.Len() > 0 {
			res.Error += "\nStderr: " + truncate(stderr.String(), diagnosticLimit)
		}
	case len(out.Questions) > 0:
		out.Status = OutputNeedsInput
	default:
		out.Status = OutputCompleted
	}

	em.emit(event.CompleteData{ExitCode: code, Success: res.Success, Status: out.Status, EventsEmitted: em.count})
	res.EventsEmitted = em.count
	return res, nil
}

func formatCode(code *int) string {
	if code == nil {
		return "null"
	}
	return fmt.Sprint(*code)
}

// emitter counts events as it forwards them.
type emitter struct {
	handler event.Handler
	count   int
}

func newEmitter(h event.Handler) *emitter {
	return &emitter{handler: h}
}

func (e *emitter) emit(p event.Payload) {
	e.forward(event.New(p))
}

func (e *emitter) forward(ev event.Event) {
	e.count++
	if e.handler != nil {
		e.handler(ev)
	}
}
